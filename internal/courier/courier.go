package courier

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/zulandar/pedidos/internal/orders"
	"github.com/zulandar/pedidos/internal/storage"
)

// Bot lifecycle statuses, exposed through the stats command and the
// dashboard. The QR and auth states belong to transports that pair via
// QR code; adapters report them through Daemon.SetStatus.
const (
	StatusInitializing = "initializing"
	StatusConnecting   = "connecting"
	StatusWaitingForQR = "waiting_for_qr"
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
	StatusAuthFailed   = "auth_failed"
	StatusError        = "error"
)

// Stats tracks bot activity counters. Safe for concurrent use.
type Stats struct {
	mu           sync.Mutex
	now          func() time.Time
	received     int
	sent         int
	commands     int
	errors       int
	startTime    time.Time
	lastActivity time.Time
}

// NewStats creates a Stats anchored at the clock's current time. A nil clock
// falls back to time.Now.
func NewStats(now func() time.Time) *Stats {
	if now == nil {
		now = time.Now
	}
	start := now()
	return &Stats{now: now, startTime: start, lastActivity: start}
}

// Received counts one inbound message and refreshes the activity timestamp.
func (s *Stats) Received() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received++
	s.lastActivity = s.now()
}

// Sent counts one delivered outbound message.
func (s *Stats) Sent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent++
}

// Command counts one executed command.
func (s *Stats) Command() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands++
}

// Error counts one component error.
func (s *Stats) Error() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors++
}

// view returns a consistent copy of the counters.
func (s *Stats) view() (received, sent, commands, errors int, start, last time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.received, s.sent, s.commands, s.errors, s.startTime, s.lastActivity
}

// Daemon is the main bot process. It connects a transport Adapter, locates
// the authorized orders group, and pumps inbound events one at a time in
// arrival order through the Router — command handling, store mutation, and
// the durable save are synchronous with respect to each other.
type Daemon struct {
	store      *orders.Store
	storage    *storage.Manager
	adapter    Adapter
	dispatcher *Dispatcher

	ordersKeyword string
	orgKeyword    string
	backupCron    string
	keepAliveCron string
	keepAlive     func(ctx context.Context) error

	log   zerolog.Logger
	out   io.Writer
	stats *Stats

	mu           sync.Mutex
	status       string
	groupAddress string
}

// DaemonOpts holds parameters for creating a Daemon.
type DaemonOpts struct {
	Store      *orders.Store
	Storage    *storage.Manager
	Adapter    Adapter
	Dispatcher *Dispatcher

	OrdersKeyword string // group-name keyword, e.g. "pedidos"
	OrgKeyword    string // organization keyword, e.g. "daatcs"
	BackupCron    string // 5-field cron; empty disables rotating backups
	KeepAliveCron string // 5-field cron; empty disables the keep-alive ping
	KeepAlive     func(ctx context.Context) error

	Logger zerolog.Logger
	Out    io.Writer // defaults to os.Stdout
}

// NewDaemon creates a Daemon.
func NewDaemon(opts DaemonOpts) (*Daemon, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("courier: store is required")
	}
	if opts.Storage == nil {
		return nil, fmt.Errorf("courier: storage is required")
	}
	if opts.Adapter == nil {
		return nil, fmt.Errorf("courier: adapter is required")
	}
	if opts.Dispatcher == nil {
		return nil, fmt.Errorf("courier: dispatcher is required")
	}
	if opts.OrdersKeyword == "" || opts.OrgKeyword == "" {
		return nil, fmt.Errorf("courier: group keywords are required")
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	return &Daemon{
		store:         opts.Store,
		storage:       opts.Storage,
		adapter:       opts.Adapter,
		dispatcher:    opts.Dispatcher,
		ordersKeyword: opts.OrdersKeyword,
		orgKeyword:    opts.OrgKeyword,
		backupCron:    opts.BackupCron,
		keepAliveCron: opts.KeepAliveCron,
		keepAlive:     opts.KeepAlive,
		log:           opts.Logger,
		out:           out,
		stats:         NewStats(nil),
		status:        StatusInitializing,
	}, nil
}

// SetStatus updates the bot lifecycle status. Adapters with their own
// pairing flow (QR scan, token refresh) report through here.
func (d *Daemon) SetStatus(status string) {
	d.mu.Lock()
	d.status = status
	d.mu.Unlock()
}

// Status returns the current bot lifecycle status.
func (d *Daemon) Status() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

// GroupAddress returns the resolved address of the authorized group, or ""
// before resolution.
func (d *Daemon) GroupAddress() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.groupAddress
}

// Stats exposes the daemon's activity counters.
func (d *Daemon) Stats() *Stats {
	return d.stats
}

// Health implements HealthProvider for the stats/salud commands and the
// dashboard.
func (d *Daemon) Health() Health {
	received, sent, commands, errors, start, last := d.stats.view()
	return Health{
		Status:           d.Status(),
		Uptime:           time.Since(start),
		MessagesReceived: received,
		MessagesSent:     sent,
		CommandsExecuted: commands,
		Errors:           errors,
		LastActivity:     last,
	}
}

// Run starts the daemon. It connects the adapter, resolves the orders
// group, announces itself, and blocks pumping inbound messages until the
// context is cancelled. On shutdown it flushes a final snapshot and closes
// the adapter.
func (d *Daemon) Run(ctx context.Context) error {
	fmt.Fprintf(d.out, "Courier connecting...\n")
	d.SetStatus(StatusConnecting)

	if err := d.adapter.Connect(ctx); err != nil {
		d.SetStatus(StatusError)
		d.stats.Error()
		return fmt.Errorf("courier: connect: %w", err)
	}
	d.SetStatus(StatusConnected)

	var botUserID string
	if bui, ok := d.adapter.(BotUserIDer); ok {
		botUserID = bui.BotUserID()
	}

	d.resolveGroup(ctx)

	cmdHandler, err := NewCommandHandler(CommandHandlerOpts{
		Store:      d.store,
		Saver:      d.storage,
		Dispatcher: d.dispatcher,
		Health:     d,
		Logger:     d.log,
	})
	if err != nil {
		d.adapter.Close()
		return fmt.Errorf("courier: build command handler: %w", err)
	}

	router, err := NewRouter(RouterOpts{
		CmdHandler:    cmdHandler,
		Dispatcher:    d.dispatcher,
		OrdersKeyword: d.ordersKeyword,
		OrgKeyword:    d.orgKeyword,
		BotUserID:     botUserID,
		Stats:         d.stats,
		Out:           d.out,
	})
	if err != nil {
		d.adapter.Close()
		return fmt.Errorf("courier: build router: %w", err)
	}

	inbound, err := d.adapter.Listen(ctx)
	if err != nil {
		d.adapter.Close()
		return fmt.Errorf("courier: listen: %w", err)
	}

	go d.runBackupScheduler(ctx)
	go d.runKeepAlive(ctx)

	d.announceOnline(ctx)
	fmt.Fprintf(d.out, "Courier online\n")

	// Main loop: one message at a time, in arrival order. The jitter delay
	// inside the dispatcher backpressures this whole path by design.
	for {
		select {
		case <-ctx.Done():
			return d.shutdown()
		case msg, ok := <-inbound:
			if !ok {
				d.SetStatus(StatusDisconnected)
				return d.shutdown()
			}
			router.Handle(ctx, msg)
		}
	}
}

// resolveGroup locates the authorized group through the adapter, when the
// adapter supports lookup. Called at startup; callers may invoke it again
// after a transport reconnect.
func (d *Daemon) resolveGroup(ctx context.Context) {
	gr, ok := d.adapter.(GroupResolver)
	if !ok {
		return
	}
	addr, err := gr.ResolveGroupAddress(ctx, d.ordersKeyword)
	if err != nil {
		fmt.Fprintf(d.out, "courier: orders group not found: %v\n", err)
		return
	}
	d.mu.Lock()
	d.groupAddress = addr
	d.mu.Unlock()
	fmt.Fprintf(d.out, "courier: orders group resolved: %s\n", addr)
}

// announceOnline posts the startup banner to the resolved group. Urgent so
// a restart outside working hours still reports in.
func (d *Daemon) announceOnline(ctx context.Context) {
	addr := d.GroupAddress()
	if addr == "" {
		return
	}
	text := fmt.Sprintf("🤖 *BOT DE PEDIDOS CONECTADO*\n\n✅ Estado: Activo\n⏰ %s\n\n💡 Usa */ayuda* para ver comandos disponibles",
		formatDate(time.Now()))
	if res := d.dispatcher.Send(ctx, addr, text, true); res.Sent {
		d.stats.Sent()
	}
}

// runBackupScheduler fires rotating backups on the configured cron
// schedule. Snapshotting goes through the store lock, so it never observes
// a half-applied command.
func (d *Daemon) runBackupScheduler(ctx context.Context) {
	if d.backupCron == "" {
		return
	}
	next := nextCronDuration(d.backupCron)
	if next <= 0 {
		d.log.Warn().Str("cron", d.backupCron).Msg("courier: invalid backup schedule")
		return
	}
	timer := time.NewTimer(next)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			if err := d.storage.RotateBackup(d.store.Snapshot()); err != nil {
				d.log.Error().Err(err).Msg("courier: rotate backup")
				d.stats.Error()
			} else {
				d.log.Info().Msg("courier: backup rotated")
			}
			if next := nextCronDuration(d.backupCron); next > 0 {
				timer.Reset(next)
			} else {
				return
			}
		}
	}
}

// runKeepAlive fires the keep-alive ping on the configured cron schedule.
// Hosting platforms that idle out quiet processes need the periodic
// self-request.
func (d *Daemon) runKeepAlive(ctx context.Context) {
	if d.keepAliveCron == "" || d.keepAlive == nil {
		return
	}
	next := nextCronDuration(d.keepAliveCron)
	if next <= 0 {
		return
	}
	timer := time.NewTimer(next)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			if err := d.keepAlive(ctx); err != nil {
				d.log.Warn().Err(err).Msg("courier: keep-alive ping")
			}
			if next := nextCronDuration(d.keepAliveCron); next > 0 {
				timer.Reset(next)
			} else {
				return
			}
		}
	}
}

// shutdown flushes a final snapshot and closes the adapter.
func (d *Daemon) shutdown() error {
	fmt.Fprintf(d.out, "Courier shutting down...\n")
	if err := d.storage.Save(d.store.Snapshot()); err != nil {
		d.log.Error().Err(err).Msg("courier: final save")
	}
	if err := d.adapter.Close(); err != nil {
		d.log.Warn().Err(err).Msg("courier: close adapter")
	}
	d.SetStatus(StatusDisconnected)
	return nil
}
