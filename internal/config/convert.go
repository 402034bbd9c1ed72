package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"crashrelay/internal/engine"
	"crashrelay/internal/notifier"
	"crashrelay/internal/storage"
	logx "crashrelay/pkg/logx"
)

const DefaultMetricsAddr = "127.0.0.1:9464"

func parseDuration(path, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	if d == 0 {
		return def, nil
	}
	return d, nil
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// IsEnabled reports the top-level switch, true when omitted.
func (c *Config) IsEnabled() bool { return boolOr(c.Enabled, true) }

// NotificationConfig applies the file toggles over the engine defaults.
func (c *Config) NotificationConfig() engine.NotificationConfig {
	d := engine.DefaultNotificationConfig()
	n := c.Notifications
	return engine.NotificationConfig{
		EnableTelegram:    boolOr(n.EnableTelegram, d.EnableTelegram),
		EnableSlack:       boolOr(n.EnableSlack, d.EnableSlack),
		EnableDiscord:     boolOr(n.EnableDiscord, d.EnableDiscord),
		EnableWebhook:     boolOr(n.EnableWebhook, d.EnableWebhook),
		SendCrashReports:  boolOr(n.SendCrashReports, d.SendCrashReports),
		SendEvents:        boolOr(n.SendEvents, d.SendEvents),
		SendStartupEvents: boolOr(n.SendStartupEvents, d.SendStartupEvents),
	}
}

// Settings is the argument for engine.Initialize.
func (c *Config) Settings() engine.Settings {
	return engine.Settings{
		Channels: engine.Channels{
			Telegram: c.Telegram,
			Slack:    c.Slack,
			Discord:  c.Discord,
			Webhook:  c.Webhook,
		}.Clone(),
		Notifications: c.NotificationConfig(),
		Enabled:       c.IsEnabled(),
		DebugLogging:  c.DebugLogging,
	}
}

func (c *Config) LoggerConfig() logx.Config {
	return logx.Config{
		Level:   c.Logging.Level,
		Console: c.Logging.Console,
		File:    logx.FileConfig{Enabled: c.Logging.File.Enabled, Path: c.Logging.File.Path},
	}
}

func (c *Config) StoreConfig() (storage.Config, error) {
	bt, err := parseDuration("storage.busy_timeout", c.Storage.BusyTimeout, 0)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(c.Storage.Driver)),
		Path:        strings.TrimSpace(c.Storage.Path),
		BusyTimeout: bt,
	}, nil
}

// EngineOptions turns the dispatch section into engine options. The logger
// and bus are added by the caller.
func (c *Config) EngineOptions() ([]engine.Option, error) {
	flush, err := parseDuration("dispatch.flush_interval", c.Dispatch.FlushInterval, engine.DefaultFlushInterval)
	if err != nil {
		return nil, err
	}
	req, err := parseDuration("dispatch.request_timeout", c.Dispatch.RequestTimeout, notifier.DefaultRequestTimeout)
	if err != nil {
		return nil, err
	}
	conn, err := parseDuration("dispatch.connect_timeout", c.Dispatch.ConnectTimeout, notifier.DefaultConnectTimeout)
	if err != nil {
		return nil, err
	}
	return []engine.Option{
		engine.WithFlushInterval(flush),
		engine.WithClientOptions(notifier.ClientOptions{ConnectTimeout: conn, RequestTimeout: req}),
		engine.WithPlatform(strings.TrimSpace(c.Platform)),
		engine.WithDebugMode(c.DebugMode),
	}, nil
}

func (c *Config) MetricsAddr() string {
	if s := strings.TrimSpace(c.Metrics.Addr); s != "" {
		return s
	}
	return DefaultMetricsAddr
}

// DigestSchedule parses the digest cron spec. A nil schedule means the
// digest is off.
func (c *Config) DigestSchedule() (cron.Schedule, error) {
	spec := strings.TrimSpace(c.Digest.Schedule)
	if spec == "" {
		return nil, nil
	}
	if tz := strings.TrimSpace(c.Digest.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return nil, fmt.Errorf("digest.timezone: %w", err)
		}
		spec = "CRON_TZ=" + tz + " " + spec
	}
	s, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("digest.schedule: %w", err)
	}
	return s, nil
}

// Validate checks everything the engine would otherwise only log: duration
// syntax, storage driver, channel configs and the digest schedule.
func (c *Config) Validate() error {
	var errs []error
	sc, err := c.StoreConfig()
	if err != nil {
		errs = append(errs, err)
	}
	switch sc.Driver {
	case "", "none", "memory", "file", "sqlite", "sqlite3":
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}
	if (sc.Driver == "file" || sc.Driver == "sqlite" || sc.Driver == "sqlite3") && sc.Path == "" {
		errs = append(errs, fmt.Errorf("storage.path: required for driver %q", sc.Driver))
	}
	if _, err := c.EngineOptions(); err != nil {
		errs = append(errs, err)
	}
	for _, cfg := range c.channelConfigs() {
		if err := cfg.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if _, err := c.DigestSchedule(); err != nil {
		errs = append(errs, err)
	}
	if c.Metrics.Enabled {
		if _, _, err := net.SplitHostPort(c.MetricsAddr()); err != nil {
			errs = append(errs, fmt.Errorf("metrics.addr: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (c *Config) channelConfigs() []notifier.Config {
	var out []notifier.Config
	if c.Telegram != nil {
		out = append(out, *c.Telegram)
	}
	if c.Slack != nil {
		out = append(out, *c.Slack)
	}
	if c.Discord != nil {
		out = append(out, *c.Discord)
	}
	if c.Webhook != nil {
		out = append(out, *c.Webhook)
	}
	return out
}
