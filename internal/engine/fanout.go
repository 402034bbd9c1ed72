package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"crashrelay/internal/eventbus"
	"crashrelay/internal/notifier"
	"crashrelay/internal/report"
	logx "crashrelay/pkg/logx"
)

type sendFunc func(ctx context.Context, n notifier.Notifier) error

// fanOut starts one goroutine per target and waits for all of them. A
// failing or panicking channel only affects its own Result.
func (e *Engine) fanOut(ctx context.Context, what report.Kind, targets []notifier.Notifier, send sendFunc) Results {
	if len(targets) == 0 {
		return nil
	}
	results := make(Results, len(targets))
	var wg sync.WaitGroup
	wg.Add(len(targets))
	for i, n := range targets {
		go func(i int, n notifier.Notifier) {
			defer wg.Done()
			results[i] = e.deliver(ctx, what, n, send)
		}(i, n)
	}
	wg.Wait()
	return results
}

func (e *Engine) deliver(ctx context.Context, what report.Kind, n notifier.Notifier, send sendFunc) (r Result) {
	r = Result{Channel: n.Kind(), Kind: what}
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			r.Err = fmt.Errorf("%s: panic: %v", r.Channel, p)
			e.log.Error("notifier panic", logx.String("channel", string(r.Channel)), logx.Stack(string(debug.Stack())))
		}
		r.Took = time.Since(start)
		e.record(r)
	}()
	r.Err = send(ctx, n)
	return r
}

func (e *Engine) record(r Result) {
	d := eventbus.Delivery{Channel: string(r.Channel), Kind: string(r.Kind), Took: r.Took}
	if r.Err != nil {
		d.Err = r.Err.Error()
		e.log.Warn("delivery failed",
			logx.String("channel", string(r.Channel)),
			logx.String("kind", string(r.Kind)),
			logx.Duration("took", r.Took),
			logx.Err(r.Err),
		)
		e.publish(eventbus.TypeDispatchFailed, d)
		return
	}
	e.log.Debug("delivered",
		logx.String("channel", string(r.Channel)),
		logx.String("kind", string(r.Kind)),
		logx.Duration("took", r.Took),
	)
	e.publish(eventbus.TypeDispatchSent, d)
}
