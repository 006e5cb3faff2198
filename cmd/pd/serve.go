package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/zulandar/pedidos/internal/config"
	"github.com/zulandar/pedidos/internal/courier"
	discordadapter "github.com/zulandar/pedidos/internal/courier/discord"
	slackadapter "github.com/zulandar/pedidos/internal/courier/slack"
	"github.com/zulandar/pedidos/internal/dashboard"
	"github.com/zulandar/pedidos/internal/journal"
	"github.com/zulandar/pedidos/internal/orders"
	"github.com/zulandar/pedidos/internal/storage"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the order bot daemon",
		Long:  "Connects to the configured chat platform, listens for order commands in the authorized group, and serves the status dashboard.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "pedidos.yaml", "path to config file")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := newLogger(cfg.LogLevel)
	out := cmd.OutOrStdout()

	// Restore the order book from the canonical snapshot, or start fresh.
	store := orders.NewStore(orders.StoreOpts{})
	mgr, err := storage.NewManager(storage.ManagerOpts{
		Dir:       cfg.Storage.Dir,
		Retention: cfg.Storage.BackupRetention,
		Logger:    log,
	})
	if err != nil {
		return err
	}
	snap, err := mgr.Load()
	switch {
	case err == nil:
		store.Restore(snap)
		log.Info().Int("total", store.TotalCount()).Int("activos", store.ActiveCount()).
			Msg("snapshot restored")
	case errors.Is(err, storage.ErrNotFound):
		if err := mgr.Save(store.Snapshot()); err != nil {
			return fmt.Errorf("initialize snapshot: %w", err)
		}
		log.Info().Str("path", mgr.Path()).Msg("new snapshot initialized")
	default:
		return fmt.Errorf("load snapshot: %w", err)
	}

	jrnl, err := journal.Open(cfg.Journal.Driver, cfg.Journal.DSN, log)
	if err != nil {
		return fmt.Errorf("open send journal: %w", err)
	}

	adapter, err := createAdapter(cfg, log)
	if err != nil {
		return err
	}

	dispatcher, err := courier.NewDispatcher(courier.DispatcherOpts{
		Adapter:         adapter,
		Recorder:        jrnl,
		Logger:          log,
		HourlyCap:       cfg.Dispatch.HourlyCap,
		MinDelay:        time.Duration(cfg.Dispatch.MinDelayMs) * time.Millisecond,
		MaxDelay:        time.Duration(cfg.Dispatch.MaxDelayMs) * time.Millisecond,
		RecentThreshold: time.Duration(cfg.Dispatch.RecentThresholdMs) * time.Millisecond,
		RecentExtra:     time.Duration(cfg.Dispatch.RecentExtraMs) * time.Millisecond,
		WorkStart:       cfg.Dispatch.WorkingHours.Start,
		WorkEnd:         cfg.Dispatch.WorkingHours.End,
	})
	if err != nil {
		return err
	}

	keepAliveURL := fmt.Sprintf("http://localhost:%d/", cfg.Dashboard.Port)
	daemon, err := courier.NewDaemon(courier.DaemonOpts{
		Store:         store,
		Storage:       mgr,
		Adapter:       adapter,
		Dispatcher:    dispatcher,
		OrdersKeyword: cfg.Group.OrdersKeyword,
		OrgKeyword:    cfg.Group.OrgKeyword,
		BackupCron:    cfg.Storage.BackupCron,
		KeepAliveCron: cfg.Dashboard.KeepAliveCron,
		KeepAlive:     keepAlivePing(keepAliveURL),
		Logger:        log,
		Out:           out,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle OS signals for graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	go func() {
		err := dashboard.Start(ctx, dashboard.StartOpts{
			Store:   store,
			Health:  daemon,
			Journal: jrnl,
			Port:    cfg.Dashboard.Port,
			Out:     out,
		})
		if err != nil {
			log.Error().Err(err).Msg("dashboard stopped")
		}
	}()

	return daemon.Run(ctx)
}

// createAdapter builds a platform adapter from the config.
func createAdapter(cfg *config.Config, log zerolog.Logger) (courier.Adapter, error) {
	switch cfg.Platform {
	case "discord":
		return discordadapter.New(discordadapter.AdapterOpts{
			BotToken:  cfg.Secrets.DiscordToken,
			ChannelID: cfg.Discord.ChannelID,
			Logger:    log,
		})
	case "slack":
		return slackadapter.New(slackadapter.AdapterOpts{
			AppToken:  cfg.Secrets.SlackAppToken,
			BotToken:  cfg.Secrets.SlackBotToken,
			ChannelID: cfg.Slack.ChannelID,
			Logger:    log,
		})
	case "mock":
		// Loopback transport for local runs without platform credentials.
		m := courier.NewMockAdapter()
		m.SetGroup(cfg.Group.OrdersKeyword+" "+cfg.Group.OrgKeyword, "mock-group")
		return m, nil
	default:
		return nil, fmt.Errorf("unsupported platform %q", cfg.Platform)
	}
}

// keepAlivePing returns the periodic self-request used to keep hosting
// platforms from idling the process out.
func keepAlivePing(url string) func(ctx context.Context) error {
	client := &http.Client{Timeout: 10 * time.Second}
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("keep-alive: status %d", resp.StatusCode)
		}
		return nil
	}
}

// newLogger builds the process logger at the configured level.
func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(lvl).With().Timestamp().Logger()
}
