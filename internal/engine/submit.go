package engine

import (
	"context"

	"crashrelay/internal/eventbus"
	"crashrelay/internal/notifier"
	"crashrelay/internal/report"
	logx "crashrelay/pkg/logx"
)

// snapshot is the state a submission works from, taken under the read lock.
type snapshot struct {
	enabled      bool
	initialized  bool
	debugLogging bool
	effective    NotificationConfig
	targets      []notifier.Notifier
}

func (e *Engine) snapshot(override *NotificationConfig, what report.Kind) snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s := snapshot{
		enabled:      e.enabled,
		initialized:  e.initialized,
		debugLogging: e.debugLogging,
		effective:    e.notify,
	}
	if override != nil {
		s.effective = *override
	}
	if s.initialized {
		s.targets = e.targetsLocked(s.effective, what)
	}
	return s
}

// targetsLocked lists live notifiers allowed by cfg for the submission kind,
// in Kinds order.
func (e *Engine) targetsLocked(cfg NotificationConfig, what report.Kind) []notifier.Notifier {
	if !cfg.Sends(what) {
		return nil
	}
	var out []notifier.Notifier
	for _, kind := range notifier.Kinds {
		if n, ok := e.notifiers[kind]; ok && cfg.ChannelEnabled(kind) {
			out = append(out, n)
		}
	}
	return out
}

// ReportCrash records a crash and delivers it to every enabled channel.
//
// Nothing happens while the engine is disabled. Otherwise the crash is
// always written to the store, even when no channel is enabled or the
// effective config has SendCrashReports off; that flag only gates delivery.
// Before Initialize the crash is queued and nil Results are returned; it is
// delivered when Initialize replays the queue.
func (e *Engine) ReportCrash(ctx context.Context, in CrashInput) Results {
	s := e.snapshot(in.Override, report.KindCrash)
	if !s.enabled {
		return nil
	}

	c := report.NewCrash(in.errorText(), in.StackTrace, in.Context, in.Fatal, in.Extra, e.platform, e.debugMode, e.now())
	if s.debugLogging {
		e.log.Warn("crash reported",
			logx.String("id", c.ID),
			logx.String("error", c.Error),
			logx.String("context", c.Context),
			logx.Bool("fatal", c.Fatal),
			logx.Stack(c.StackTrace),
		)
	}

	if err := e.store.Append(ctx, c); err != nil {
		e.log.Error("persist crash failed", logx.String("id", c.ID), logx.Err(err))
	} else {
		e.publish(eventbus.TypeCrashStored, c.ID)
	}

	if !s.effective.SendCrashReports {
		return nil
	}
	if !s.initialized {
		var queued bool
		queued, s.targets = e.enqueue(c, in.Override)
		if queued {
			return nil
		}
	}
	return e.fanOut(ctx, report.KindCrash, s.targets, func(ctx context.Context, n notifier.Notifier) error {
		return n.SendCrashReport(ctx, c)
	})
}

// SendEvent delivers an ad-hoc message. It is neither stored nor queued.
func (e *Engine) SendEvent(ctx context.Context, in EventInput) Results {
	s := e.snapshot(in.Override, report.KindEvent)
	if !s.enabled || !s.initialized || !s.effective.SendEvents {
		return nil
	}
	ev := report.Event{
		Message:   in.Message,
		Context:   in.Context,
		Extra:     in.Extra.Clone(),
		Platform:  e.platform,
		DebugMode: e.debugMode,
		CreatedAt: e.now(),
	}
	if s.debugLogging {
		e.log.Info("event", logx.String("message", ev.Message), logx.String("context", ev.Context))
	}
	return e.fanOut(ctx, report.KindEvent, s.targets, func(ctx context.Context, n notifier.Notifier) error {
		return n.SendEvent(ctx, ev)
	})
}

// SendAppStartup announces the host start. Off unless SendStartupEvents is
// set.
func (e *Engine) SendAppStartup(ctx context.Context, override *NotificationConfig) Results {
	s := e.snapshot(override, report.KindStartup)
	if !s.enabled || !s.initialized || !s.effective.SendStartupEvents {
		return nil
	}
	st := report.NewStartup(e.platform, e.debugMode, e.version, e.now())
	return e.fanOut(ctx, report.KindStartup, s.targets, func(ctx context.Context, n notifier.Notifier) error {
		return n.SendAppStartup(ctx, st)
	})
}
