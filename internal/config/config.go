// Package config provides YAML-based configuration loading for the bot,
// with secrets supplied through the environment.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v8"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration, loaded from pedidos.yaml.
type Config struct {
	Platform  string          `yaml:"platform"` // discord, slack or mock
	Group     GroupConfig     `yaml:"group"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Storage   StorageConfig   `yaml:"storage"`
	Journal   JournalConfig   `yaml:"journal"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	Discord   DiscordConfig   `yaml:"discord"`
	Slack     SlackConfig     `yaml:"slack"`
	LogLevel  string          `yaml:"log_level"`

	Secrets Secrets `yaml:"-"`
}

// GroupConfig names the authorized orders group. A chat event is only
// processed when its group name contains both keywords.
type GroupConfig struct {
	OrdersKeyword string `yaml:"orders_keyword"`
	OrgKeyword    string `yaml:"org_keyword"`
}

// DispatchConfig tunes the outbound throttling policy.
type DispatchConfig struct {
	HourlyCap         int          `yaml:"hourly_cap"`
	MinDelayMs        int          `yaml:"min_delay_ms"`
	MaxDelayMs        int          `yaml:"max_delay_ms"`
	RecentThresholdMs int          `yaml:"recent_threshold_ms"`
	RecentExtraMs     int          `yaml:"recent_extra_ms"`
	WorkingHours      WindowConfig `yaml:"working_hours"`
}

// WindowConfig is an inclusive hour-of-day window.
type WindowConfig struct {
	Start int `yaml:"start"`
	End   int `yaml:"end"`
}

// StorageConfig locates the durable order book.
type StorageConfig struct {
	Dir             string `yaml:"dir"`
	BackupCron      string `yaml:"backup_cron"`
	BackupRetention int    `yaml:"backup_retention"`
}

// JournalConfig selects the dispatch-audit database.
type JournalConfig struct {
	Driver string `yaml:"driver"` // sqlite or mysql
	DSN    string `yaml:"dsn"`
}

// DashboardConfig configures the read-only status HTTP surface.
type DashboardConfig struct {
	Port          int    `yaml:"port"`
	KeepAliveCron string `yaml:"keep_alive_cron"`
}

// DiscordConfig holds Discord-specific settings; the token comes from the
// environment.
type DiscordConfig struct {
	ChannelID string `yaml:"channel_id"`
}

// SlackConfig holds Slack-specific settings; tokens come from the
// environment.
type SlackConfig struct {
	ChannelID string `yaml:"channel_id"`
}

// Secrets are never read from the config file.
type Secrets struct {
	DiscordToken  string `env:"DISCORD_BOT_TOKEN"`
	SlackBotToken string `env:"SLACK_BOT_TOKEN"`
	SlackAppToken string `env:"SLACK_APP_TOKEN"`
	JournalDSN    string `env:"JOURNAL_DSN"`
}

// Load reads a YAML config file from path, applies environment overrides,
// and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := env.Parse(&cfg.Secrets); err != nil {
		return nil, fmt.Errorf("config: environment: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Platform == "" {
		c.Platform = "discord"
	}
	if c.Group.OrdersKeyword == "" {
		c.Group.OrdersKeyword = "pedidos"
	}
	if c.Dispatch.HourlyCap == 0 {
		c.Dispatch.HourlyCap = 15
	}
	if c.Dispatch.MinDelayMs == 0 {
		c.Dispatch.MinDelayMs = 3000
	}
	if c.Dispatch.MaxDelayMs == 0 {
		c.Dispatch.MaxDelayMs = 7000
	}
	if c.Dispatch.RecentThresholdMs == 0 {
		c.Dispatch.RecentThresholdMs = 30000
	}
	if c.Dispatch.RecentExtraMs == 0 {
		c.Dispatch.RecentExtraMs = 8000
	}
	if c.Dispatch.WorkingHours.Start == 0 && c.Dispatch.WorkingHours.End == 0 {
		c.Dispatch.WorkingHours = WindowConfig{Start: 6, End: 22}
	}
	if c.Storage.Dir == "" {
		c.Storage.Dir = "data"
	}
	if c.Storage.BackupCron == "" {
		c.Storage.BackupCron = "0 */6 * * *"
	}
	if c.Storage.BackupRetention == 0 {
		c.Storage.BackupRetention = 5
	}
	if c.Journal.Driver == "" {
		c.Journal.Driver = "sqlite"
	}
	if c.Journal.DSN == "" {
		c.Journal.DSN = c.Secrets.JournalDSN
	}
	if c.Dashboard.Port == 0 {
		c.Dashboard.Port = 3000
	}
	if c.Dashboard.KeepAliveCron == "" {
		c.Dashboard.KeepAliveCron = "*/25 * * * *"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.Platform {
	case "discord", "slack", "mock":
	default:
		errs = append(errs, fmt.Sprintf("unknown platform %q", c.Platform))
	}
	if c.Group.OrgKeyword == "" {
		errs = append(errs, "group.org_keyword is required")
	}
	if c.Dispatch.MinDelayMs > c.Dispatch.MaxDelayMs {
		errs = append(errs, "dispatch.min_delay_ms must not exceed dispatch.max_delay_ms")
	}
	wh := c.Dispatch.WorkingHours
	if wh.Start < 0 || wh.Start > 23 || wh.End < 0 || wh.End > 23 || wh.Start > wh.End {
		errs = append(errs, "dispatch.working_hours must be an hour window within 0-23")
	}
	if c.Journal.Driver == "mysql" && c.Journal.DSN == "" {
		errs = append(errs, "journal.dsn is required for the mysql driver")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
