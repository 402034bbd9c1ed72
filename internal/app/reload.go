package app

import (
	"context"
	"strings"

	"crashrelay/internal/config"
	"crashrelay/internal/notifier"
	logx "crashrelay/pkg/logx"
)

// applyConfig pushes a reloaded config into the running components. Storage
// and dispatch changes only take effect after a restart.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	ch := config.SummarizeChange(oldCfg, newCfg)
	if ch.Empty() {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Fields...)
	a.log.Info("config change", fields...)

	if ch.Has("logging") {
		lc := newCfg.LoggerConfig()
		if a.logLevel != "" {
			lc.Level = a.logLevel
		}
		a.logs.Apply(lc)
	}
	for _, s := range []string{"storage", "dispatch"} {
		if ch.Has(s) {
			a.log.Warn("config section changed; restart required for changes to take effect", logx.String("section", s))
		}
	}

	if ch.Has("engine") || channelRemoved(ch, newCfg) {
		// Full replacement: toggles, switches and every notifier.
		a.engine.Initialize(ctx, newCfg.Settings())
	} else {
		for _, kind := range ch.Channels {
			a.updateChannel(kind, newCfg)
		}
		if ch.Has("notifications") {
			a.engine.UpdateNotificationConfig(newCfg.NotificationConfig())
		}
	}

	if ch.Has("metrics") {
		a.http.Reconfigure(ctx, serverConfig(newCfg))
	}
	if ch.Has("digest") {
		a.applyDigest(ctx, newCfg)
	}
}

func channelRemoved(ch config.Change, cfg *config.Config) bool {
	for _, kind := range ch.Channels {
		if !channelSet(cfg, kind) {
			return true
		}
	}
	return false
}

func channelSet(cfg *config.Config, kind notifier.Kind) bool {
	switch kind {
	case notifier.KindTelegram:
		return cfg.Telegram != nil
	case notifier.KindSlack:
		return cfg.Slack != nil
	case notifier.KindDiscord:
		return cfg.Discord != nil
	case notifier.KindWebhook:
		return cfg.Webhook != nil
	}
	return false
}

func (a *App) updateChannel(kind notifier.Kind, cfg *config.Config) {
	switch kind {
	case notifier.KindTelegram:
		a.engine.UpdateTelegramConfig(*cfg.Telegram)
	case notifier.KindSlack:
		a.engine.UpdateSlackConfig(*cfg.Slack)
	case notifier.KindDiscord:
		a.engine.UpdateDiscordConfig(*cfg.Discord)
	case notifier.KindWebhook:
		a.engine.UpdateWebhookConfig(*cfg.Webhook)
	}
}

// watchConfig applies every config received on sub until ctx ends. Bursts
// are coalesced to the newest config.
func (a *App) watchConfig(ctx context.Context, sub chan *config.Config, last *config.Config) error {
	defer a.cfgm.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return nil
		case cfg, ok := <-sub:
			if !ok {
				return nil
			}
		drain:
			for {
				select {
				case newer, ok := <-sub:
					if !ok {
						break drain
					}
					if newer != nil {
						cfg = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(ctx, last, cfg)
			last = cfg
		}
	}
}
