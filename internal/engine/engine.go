// Package engine is the crash and event dispatch facade.
//
// One Engine is built per process and handed to every call site. It holds
// the channel configuration, the enabled flag, the live notifiers and the
// queue of crashes reported before Initialize. Crashes are persisted to a
// storage.Store before delivery; every submission fans out to the enabled
// notifiers concurrently and returns per-channel Results. Delivery failures
// are logged and reported in Results, never returned as errors.
//
// Lifecycle:
//
//	e := engine.New(store, engine.WithLogger(log))
//	e.ReportCrash(ctx, ...)   // persisted and queued
//	e.Initialize(ctx, settings) // builds notifiers, replays the queue
//	e.ReportCrash(ctx, ...)   // persisted and delivered
//	e.Dispose()
package engine

import (
	"context"
	"sync"
	"time"

	"crashrelay/internal/eventbus"
	"crashrelay/internal/notifier"
	"crashrelay/internal/report"
	"crashrelay/internal/storage"
	logx "crashrelay/pkg/logx"
)

type Engine struct {
	store storage.Store

	log           logx.Logger
	bus           eventbus.Bus
	flushInterval time.Duration
	client        notifier.ClientOptions
	platform      string
	debugMode     bool
	version       string
	now           func() time.Time
	newNotifier   func(notifier.Config, notifier.Options) (notifier.Notifier, error)

	mu           sync.RWMutex
	initialized  bool
	enabled      bool
	debugLogging bool
	notify       NotificationConfig
	channels     Channels
	notifiers    map[notifier.Kind]notifier.Notifier
	queue        []pending
}

// New returns an enabled, uninitialized engine. A nil store keeps crashes
// in memory.
func New(store storage.Store, opts ...Option) *Engine {
	if store == nil {
		store = storage.NewMemory()
	}
	e := &Engine{
		store:         store,
		log:           logx.Nop(),
		bus:           eventbus.Nop(),
		flushInterval: DefaultFlushInterval,
		now:           time.Now,
		newNotifier:   notifier.New,
		enabled:       true,
		notify:        DefaultNotificationConfig(),
		notifiers:     map[notifier.Kind]notifier.Notifier{},
	}
	for _, o := range opts {
		if o != nil {
			o(e)
		}
	}
	if e.platform == "" {
		e.platform = report.DefaultPlatform()
	}
	if e.bus == nil {
		e.bus = eventbus.Nop()
	}
	e.log = e.log.With(logx.String("comp", "engine"))
	return e
}

// Initialize replaces every notifier and all configuration, then replays
// crashes queued before the first call. Calling it again is allowed.
func (e *Engine) Initialize(ctx context.Context, s Settings) {
	e.mu.Lock()
	old := e.notifiers
	e.channels = s.Channels.Clone()
	e.notify = s.Notifications
	e.enabled = s.Enabled
	e.debugLogging = s.DebugLogging
	e.notifiers = map[notifier.Kind]notifier.Notifier{}
	for _, kind := range notifier.Kinds {
		if n := e.buildLocked(kind); n != nil {
			e.notifiers[kind] = n
		}
	}
	e.initialized = true
	queued := e.queue
	e.queue = nil
	active := e.activeKindsLocked()
	e.mu.Unlock()

	closeAll(old)
	e.log.Info("engine initialized",
		logx.Bool("enabled", s.Enabled),
		logx.Any("channels", active),
		logx.Int("pending", len(queued)),
	)
	e.publish(eventbus.TypeConfigApplied, active)

	if len(queued) > 0 {
		e.flush(ctx, queued)
	}
}

// buildLocked constructs the notifier for kind when it is both configured
// and enabled. Invalid configs are logged and leave the channel off.
func (e *Engine) buildLocked(kind notifier.Kind) notifier.Notifier {
	cfg := e.channels.config(kind)
	if cfg == nil || !e.notify.ChannelEnabled(kind) {
		return nil
	}
	n, err := e.newNotifier(cfg, notifier.Options{
		Log:      e.log,
		Client:   e.client,
		Platform: e.platform,
		Now:      e.now,
	})
	if err != nil {
		e.log.Warn("channel disabled", logx.String("channel", string(kind)), logx.Err(err))
		return nil
	}
	return n
}

func (e *Engine) activeKindsLocked() []string {
	out := make([]string, 0, len(e.notifiers))
	for _, kind := range notifier.Kinds {
		if _, ok := e.notifiers[kind]; ok {
			out = append(out, string(kind))
		}
	}
	return out
}

func (e *Engine) UpdateTelegramConfig(cfg notifier.TelegramConfig) {
	e.updateChannel(notifier.KindTelegram, func(c *Channels) { c.Telegram = &cfg })
}

func (e *Engine) UpdateSlackConfig(cfg notifier.SlackConfig) {
	e.updateChannel(notifier.KindSlack, func(c *Channels) { c.Slack = &cfg })
}

func (e *Engine) UpdateDiscordConfig(cfg notifier.DiscordConfig) {
	e.updateChannel(notifier.KindDiscord, func(c *Channels) { c.Discord = &cfg })
}

func (e *Engine) UpdateWebhookConfig(cfg notifier.WebhookConfig) {
	e.updateChannel(notifier.KindWebhook, func(c *Channels) { c.Webhook = Channels{Webhook: &cfg}.Clone().Webhook })
}

// updateChannel stores a new config for kind and swaps the live notifier.
// The old notifier is unregistered before it is closed.
func (e *Engine) updateChannel(kind notifier.Kind, set func(*Channels)) {
	e.mu.Lock()
	set(&e.channels)
	old := e.notifiers[kind]
	delete(e.notifiers, kind)
	n := e.buildLocked(kind)
	if n != nil {
		e.notifiers[kind] = n
	}
	e.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	e.log.Debug("channel config updated", logx.String("channel", string(kind)), logx.Bool("active", n != nil))
}

// UpdateNotificationConfig replaces the toggles, building notifiers for
// newly enabled channels and closing those that were switched off.
func (e *Engine) UpdateNotificationConfig(cfg NotificationConfig) {
	e.mu.Lock()
	e.notify = cfg
	var stale []notifier.Notifier
	for _, kind := range notifier.Kinds {
		n, live := e.notifiers[kind]
		switch want := cfg.ChannelEnabled(kind); {
		case want && !live:
			if n := e.buildLocked(kind); n != nil {
				e.notifiers[kind] = n
			}
		case !want && live:
			delete(e.notifiers, kind)
			stale = append(stale, n)
		}
	}
	active := e.activeKindsLocked()
	e.mu.Unlock()

	for _, n := range stale {
		_ = n.Close()
	}
	e.publish(eventbus.TypeConfigApplied, active)
}

func (e *Engine) SetEnabled(enabled bool) {
	e.mu.Lock()
	e.enabled = enabled
	e.mu.Unlock()
}

func (e *Engine) Enabled() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.enabled
}

func (e *Engine) Initialized() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.initialized
}

func (e *Engine) NotificationConfig() NotificationConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.notify
}

// ChannelConfigs returns a copy of the stored channel configs.
func (e *Engine) ChannelConfigs() Channels {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.channels.Clone()
}

// NotifierStatus reports, per channel, whether it is enabled and has a
// live notifier.
func (e *Engine) NotifierStatus() map[notifier.Kind]bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[notifier.Kind]bool, len(notifier.Kinds))
	for _, kind := range notifier.Kinds {
		_, live := e.notifiers[kind]
		out[kind] = live && e.notify.ChannelEnabled(kind)
	}
	return out
}

// PendingCount is the number of crashes waiting for Initialize.
func (e *Engine) PendingCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.queue)
}

// Dispose closes every notifier. Stored crashes and toggles are kept.
func (e *Engine) Dispose() {
	e.mu.Lock()
	old := e.notifiers
	e.notifiers = map[notifier.Kind]notifier.Notifier{}
	e.mu.Unlock()
	closeAll(old)
}

func closeAll(ns map[notifier.Kind]notifier.Notifier) {
	for _, n := range ns {
		_ = n.Close()
	}
}

func (e *Engine) publish(typ string, data any) {
	e.bus.Publish(eventbus.Event{Type: typ, Time: e.now(), Data: data})
}
