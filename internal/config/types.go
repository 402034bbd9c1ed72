package config

import (
	"crashrelay/internal/notifier"
)

// Config is the file format read by cmd/crashrelay. JSON and YAML are both
// accepted; unknown keys are rejected.
//
// Example:
//
//	enabled: true
//	storage: { driver: file, path: ./data/crashrelay }
//	notifications: { enable_telegram: true, enable_webhook: true }
//	telegram: { bot_token: "123:abc", chat_id: "-100123" }
//	webhook: { url: "https://ingest.example.com/crash" }
type Config struct {
	// Enabled defaults to true when omitted.
	Enabled      *bool  `json:"enabled,omitempty"`
	DebugLogging bool   `json:"debug_logging,omitempty"`
	Platform     string `json:"platform,omitempty"`
	// DebugMode marks records as produced by a debug build of the host.
	DebugMode bool `json:"debug_mode,omitempty"`

	Logging       LoggingConfig       `json:"logging"`
	Storage       StorageConfig       `json:"storage"`
	Dispatch      DispatchConfig      `json:"dispatch"`
	Notifications NotificationsConfig `json:"notifications"`

	Telegram *notifier.TelegramConfig `json:"telegram,omitempty"`
	Slack    *notifier.SlackConfig    `json:"slack,omitempty"`
	Discord  *notifier.DiscordConfig  `json:"discord,omitempty"`
	Webhook  *notifier.WebhookConfig  `json:"webhook,omitempty"`

	Metrics MetricsConfig `json:"metrics"`
	Digest  DigestConfig  `json:"digest"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the crash log driver.
//
//	"storage": { "driver": "file", "path": "./crashrelay" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// DispatchConfig bounds outbound delivery. Durations are Go duration
// strings; empty keeps the default.
type DispatchConfig struct {
	FlushInterval  string `json:"flush_interval,omitempty"`  // default 1s
	RequestTimeout string `json:"request_timeout,omitempty"` // default 30s
	ConnectTimeout string `json:"connect_timeout,omitempty"` // default 10s
}

// NotificationsConfig mirrors engine.NotificationConfig. Fields are
// pointers so an omitted key keeps the engine default.
type NotificationsConfig struct {
	EnableTelegram    *bool `json:"enable_telegram,omitempty"`
	EnableSlack       *bool `json:"enable_slack,omitempty"`
	EnableDiscord     *bool `json:"enable_discord,omitempty"`
	EnableWebhook     *bool `json:"enable_webhook,omitempty"`
	SendCrashReports  *bool `json:"send_crash_reports,omitempty"`
	SendEvents        *bool `json:"send_events,omitempty"`
	SendStartupEvents *bool `json:"send_startup_events,omitempty"`
}

// MetricsConfig controls the HTTP endpoint of the run command: /metrics,
// /status and, when Pprof is set, /debug/pprof/. A non-loopback Addr
// requires Token.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:9464"
	Token   string `json:"token,omitempty"`
	Pprof   bool   `json:"pprof,omitempty"`
}

// DigestConfig schedules a periodic "crash records stored" event.
type DigestConfig struct {
	// Schedule is a standard 5-field cron spec or a descriptor such as
	// "@daily". Empty disables the digest.
	Schedule string `json:"schedule,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}
