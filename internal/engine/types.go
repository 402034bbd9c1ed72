package engine

import (
	"time"

	"crashrelay/internal/notifier"
	"crashrelay/internal/report"
)

// NotificationConfig holds the per-channel enable flags and the per-kind
// send flags. A notifier is invoked only when both its enable flag and the
// send flag of the submission kind are true.
type NotificationConfig struct {
	EnableTelegram    bool `json:"enable_telegram"`
	EnableSlack       bool `json:"enable_slack"`
	EnableDiscord     bool `json:"enable_discord"`
	EnableWebhook     bool `json:"enable_webhook"`
	SendCrashReports  bool `json:"send_crash_reports"`
	SendEvents        bool `json:"send_events"`
	SendStartupEvents bool `json:"send_startup_events"`
}

func DefaultNotificationConfig() NotificationConfig {
	return NotificationConfig{
		EnableTelegram:   true,
		SendCrashReports: true,
		SendEvents:       true,
	}
}

// ChannelEnabled reports the enable flag for kind.
func (c NotificationConfig) ChannelEnabled(kind notifier.Kind) bool {
	switch kind {
	case notifier.KindTelegram:
		return c.EnableTelegram
	case notifier.KindSlack:
		return c.EnableSlack
	case notifier.KindDiscord:
		return c.EnableDiscord
	case notifier.KindWebhook:
		return c.EnableWebhook
	default:
		return false
	}
}

// Sends reports the send flag for a submission kind. Test messages are
// never gated.
func (c NotificationConfig) Sends(kind report.Kind) bool {
	switch kind {
	case report.KindCrash:
		return c.SendCrashReports
	case report.KindEvent:
		return c.SendEvents
	case report.KindStartup:
		return c.SendStartupEvents
	default:
		return true
	}
}

// Channels carries one optional config per channel kind. Nil means the
// channel is not configured.
type Channels struct {
	Telegram *notifier.TelegramConfig `json:"telegram,omitempty"`
	Slack    *notifier.SlackConfig    `json:"slack,omitempty"`
	Discord  *notifier.DiscordConfig  `json:"discord,omitempty"`
	Webhook  *notifier.WebhookConfig  `json:"webhook,omitempty"`
}

// Clone copies every config so the caller's values can't be mutated
// through the engine.
func (c Channels) Clone() Channels {
	var out Channels
	if c.Telegram != nil {
		v := *c.Telegram
		out.Telegram = &v
	}
	if c.Slack != nil {
		v := *c.Slack
		out.Slack = &v
	}
	if c.Discord != nil {
		v := *c.Discord
		out.Discord = &v
	}
	if c.Webhook != nil {
		v := *c.Webhook
		if c.Webhook.Headers != nil {
			v.Headers = make(map[string]string, len(c.Webhook.Headers))
			for k, h := range c.Webhook.Headers {
				v.Headers[k] = h
			}
		}
		out.Webhook = &v
	}
	return out
}

// config returns the stored config for kind, or nil.
func (c Channels) config(kind notifier.Kind) notifier.Config {
	switch kind {
	case notifier.KindTelegram:
		if c.Telegram != nil {
			return *c.Telegram
		}
	case notifier.KindSlack:
		if c.Slack != nil {
			return *c.Slack
		}
	case notifier.KindDiscord:
		if c.Discord != nil {
			return *c.Discord
		}
	case notifier.KindWebhook:
		if c.Webhook != nil {
			return *c.Webhook
		}
	}
	return nil
}

// Settings is the argument of Initialize.
type Settings struct {
	Channels      Channels
	Notifications NotificationConfig
	Enabled       bool
	DebugLogging  bool
}

// CrashInput describes one crash submission. Err wins over Message when
// both are set.
type CrashInput struct {
	Err        error
	Message    string
	StackTrace string
	Context    string
	Fatal      bool
	Extra      report.Extra
	// Override replaces the process-wide NotificationConfig for this call.
	Override *NotificationConfig
}

func (in CrashInput) errorText() string {
	if in.Err != nil {
		return in.Err.Error()
	}
	return in.Message
}

type EventInput struct {
	Message  string
	Context  string
	Extra    report.Extra
	Override *NotificationConfig
}

// Result is the outcome of one channel in a fan-out.
type Result struct {
	Channel notifier.Kind
	Kind    report.Kind
	Err     error
	// Skipped is set when the channel had no notifier to call.
	Skipped bool
	Took    time.Duration
}

func (r Result) OK() bool { return r.Err == nil && !r.Skipped }

type Results []Result

func (rs Results) Failed() Results {
	var out Results
	for _, r := range rs {
		if r.Err != nil {
			out = append(out, r)
		}
	}
	return out
}

func (rs Results) Succeeded() Results {
	var out Results
	for _, r := range rs {
		if r.OK() {
			out = append(out, r)
		}
	}
	return out
}

// pending is a crash submitted before Initialize.
type pending struct {
	crash      report.Crash
	override   *NotificationConfig
	enqueuedAt time.Time
}
