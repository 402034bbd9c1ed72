package engine

import (
	"context"

	"crashrelay/internal/notifier"
	"crashrelay/internal/report"
	logx "crashrelay/pkg/logx"
)

func testConnection(ctx context.Context, n notifier.Notifier) error { return n.TestConnection(ctx) }

// TestAllConnections tests every live notifier concurrently. Channels
// without a notifier come back Skipped. Results follow notifier.Kinds.
func (e *Engine) TestAllConnections(ctx context.Context) Results {
	e.mu.RLock()
	var live []notifier.Notifier
	for _, kind := range notifier.Kinds {
		if n, ok := e.notifiers[kind]; ok {
			live = append(live, n)
		}
	}
	e.mu.RUnlock()

	byKind := map[notifier.Kind]Result{}
	for _, r := range e.fanOut(ctx, report.KindTest, live, testConnection) {
		byKind[r.Channel] = r
	}
	out := make(Results, 0, len(notifier.Kinds))
	for _, kind := range notifier.Kinds {
		r, ok := byKind[kind]
		if !ok {
			r = Result{Channel: kind, Kind: report.KindTest, Skipped: true}
		}
		out = append(out, r)
	}
	return out
}

// TestConnection tests a single channel. A channel without a notifier is
// Skipped, not failed.
func (e *Engine) TestConnection(ctx context.Context, kind notifier.Kind) Result {
	e.mu.RLock()
	n, ok := e.notifiers[kind]
	e.mu.RUnlock()
	if !ok {
		return Result{Channel: kind, Kind: report.KindTest, Skipped: true}
	}
	return e.deliver(ctx, report.KindTest, n, testConnection)
}

// LocalCrashLogs lists stored crashes, oldest first. Store errors are
// logged and whatever could be read is returned.
func (e *Engine) LocalCrashLogs(ctx context.Context) []report.Crash {
	out, err := e.store.List(ctx)
	if err != nil {
		e.log.Warn("list crash log", logx.Int("read", len(out)), logx.Err(err))
	}
	if out == nil {
		out = []report.Crash{}
	}
	return out
}

// CrashCount is 0 when the store can't be read.
func (e *Engine) CrashCount(ctx context.Context) int {
	n, err := e.store.Count(ctx)
	if err != nil {
		e.log.Warn("count crash log", logx.Err(err))
		return 0
	}
	return n
}

func (e *Engine) ClearLocalCrashLogs(ctx context.Context) error {
	if err := e.store.Clear(ctx); err != nil {
		e.log.Error("clear crash log", logx.Err(err))
		return err
	}
	e.log.Info("crash log cleared")
	return nil
}

// Close disposes the notifiers and closes the store.
func (e *Engine) Close() error {
	e.Dispose()
	return e.store.Close()
}
