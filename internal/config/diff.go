package config

import (
	"reflect"
	"strings"

	"crashrelay/internal/notifier"
	logx "crashrelay/pkg/logx"
)

// Change lists what differs between two configs. Channels holds the kinds
// whose channel section changed.
type Change struct {
	Sections []string
	Channels []notifier.Kind
	Fields   []logx.Field
}

func (c Change) Empty() bool { return len(c.Sections) == 0 }

func (c Change) Has(section string) bool {
	for _, s := range c.Sections {
		if s == section {
			return true
		}
	}
	return false
}

// SummarizeChange compares old and new. Fields are safe to log: tokens,
// webhook URLs and headers are never included, only whether they are set.
func SummarizeChange(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change
	mark := func(section string, fields ...logx.Field) {
		ch.Sections = append(ch.Sections, section)
		ch.Fields = append(ch.Fields, fields...)
	}

	if oldCfg.IsEnabled() != newCfg.IsEnabled() || oldCfg.DebugLogging != newCfg.DebugLogging {
		mark("engine",
			logx.Bool("engine.enabled", newCfg.IsEnabled()),
			logx.Bool("engine.debug_logging", newCfg.DebugLogging),
		)
	}
	if oldCfg.Logging != newCfg.Logging {
		mark("logging",
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}
	if oldCfg.Storage != newCfg.Storage {
		// The store is opened once; a changed section needs a restart.
		mark("storage", logx.String("storage.driver", newCfg.Storage.Driver))
	}
	if oldCfg.Dispatch != newCfg.Dispatch || strings.TrimSpace(oldCfg.Platform) != strings.TrimSpace(newCfg.Platform) ||
		oldCfg.DebugMode != newCfg.DebugMode {
		mark("dispatch",
			logx.String("dispatch.flush_interval", newCfg.Dispatch.FlushInterval),
			logx.String("dispatch.request_timeout", newCfg.Dispatch.RequestTimeout),
			logx.String("dispatch.connect_timeout", newCfg.Dispatch.ConnectTimeout),
		)
	}
	if on, nn := oldCfg.NotificationConfig(), newCfg.NotificationConfig(); on != nn {
		mark("notifications", logx.Any("notifications", nn))
	}

	channel := func(kind notifier.Kind, o, n any, set bool) {
		if reflect.DeepEqual(o, n) {
			return
		}
		ch.Channels = append(ch.Channels, kind)
		mark(string(kind), logx.Bool(string(kind)+".configured", set))
	}
	channel(notifier.KindTelegram, oldCfg.Telegram, newCfg.Telegram, newCfg.Telegram != nil)
	channel(notifier.KindSlack, oldCfg.Slack, newCfg.Slack, newCfg.Slack != nil)
	channel(notifier.KindDiscord, oldCfg.Discord, newCfg.Discord, newCfg.Discord != nil)
	channel(notifier.KindWebhook, oldCfg.Webhook, newCfg.Webhook, newCfg.Webhook != nil)

	if oldCfg.Metrics != newCfg.Metrics {
		mark("metrics",
			logx.Bool("metrics.enabled", newCfg.Metrics.Enabled),
			logx.String("metrics.addr", newCfg.MetricsAddr()),
			logx.Bool("metrics.token_set", newCfg.Metrics.Token != ""),
			logx.Bool("metrics.pprof", newCfg.Metrics.Pprof),
		)
	}
	if oldCfg.Digest != newCfg.Digest {
		mark("digest", logx.String("digest.schedule", newCfg.Digest.Schedule))
	}
	return ch
}
