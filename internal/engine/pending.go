package engine

import (
	"context"

	"golang.org/x/time/rate"

	"crashrelay/internal/eventbus"
	"crashrelay/internal/notifier"
	"crashrelay/internal/report"
	logx "crashrelay/pkg/logx"
)

// enqueue holds c for the next Initialize. If Initialize won the race since
// the caller's snapshot, nothing is queued and the live targets are returned
// instead.
func (e *Engine) enqueue(c report.Crash, override *NotificationConfig) (bool, []notifier.Notifier) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.initialized {
		cfg := e.notify
		if override != nil {
			cfg = *override
		}
		return false, e.targetsLocked(cfg, report.KindCrash)
	}
	p := pending{crash: c.Clone(), enqueuedAt: e.now()}
	if override != nil {
		o := *override
		p.override = &o
	}
	e.queue = append(e.queue, p)
	e.publish(eventbus.TypeCrashQueued, c.ID)
	return true, nil
}

// requeue puts unattempted items back at the head of the queue.
func (e *Engine) requeue(items []pending) {
	e.mu.Lock()
	defer e.mu.Unlock()
	q := make([]pending, 0, len(items)+len(e.queue))
	q = append(q, items...)
	e.queue = append(q, e.queue...)
}

// flush replays queued crashes one at a time in enqueue order, at most one
// per flush interval. Each item is attempted once whatever the outcome. If
// ctx ends first, the rest stay queued for the next Initialize.
func (e *Engine) flush(ctx context.Context, items []pending) {
	lim := rate.NewLimiter(rate.Every(e.flushInterval), 1)
	var failed int
	for i, p := range items {
		if err := lim.Wait(ctx); err != nil {
			e.requeue(items[i:])
			e.log.Warn("pending flush interrupted", logx.Int("remaining", len(items)-i), logx.Err(err))
			return
		}

		e.mu.RLock()
		enabled := e.enabled
		cfg := e.notify
		if p.override != nil {
			cfg = *p.override
		}
		targets := e.targetsLocked(cfg, report.KindCrash)
		e.mu.RUnlock()
		if !enabled {
			continue
		}

		c := p.crash
		rs := e.fanOut(ctx, report.KindCrash, targets, func(ctx context.Context, n notifier.Notifier) error {
			return n.SendCrashReport(ctx, c)
		})
		failed += len(rs.Failed())
	}
	e.log.Info("pending crashes replayed", logx.Int("items", len(items)), logx.Int("failed_deliveries", failed))
}
