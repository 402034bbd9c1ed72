package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"crashrelay/internal/report"
	logx "crashrelay/pkg/logx"
)

func openDrivers(t *testing.T) map[string]func() Store {
	t.Helper()
	dir := t.TempDir()
	open := func(cfg Config) func() Store {
		return func() Store {
			st, err := Open(cfg, logx.Nop())
			if err != nil {
				t.Fatalf("open %s: %v", cfg.Driver, err)
			}
			return st
		}
	}
	return map[string]func() Store{
		"memory": open(Config{Driver: "memory"}),
		"file":   open(Config{Driver: "file", Path: filepath.Join(dir, "file", "crashrelay.json")}),
		"sqlite": open(Config{Driver: "sqlite", Path: filepath.Join(dir, "sqlite", "crashrelay.db"), BusyTimeout: time.Second}),
	}
}

func crash(i int) report.Crash {
	return report.NewCrash(fmt.Sprintf("err-%d", i), "stack", "ctx", false,
		report.Extra{{Key: "n", Value: fmt.Sprint(i)}}, "linux/amd64", true, time.Unix(int64(i), 0).UTC())
}

func TestStoreAppendListClear(t *testing.T) {
	ctx := context.Background()
	for name, open := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			st := open()
			t.Cleanup(func() { _ = st.Close() })

			for i := 0; i < 3; i++ {
				if err := st.Append(ctx, crash(i)); err != nil {
					t.Fatalf("append: %v", err)
				}
				n, err := st.Count(ctx)
				if err != nil {
					t.Fatalf("count: %v", err)
				}
				if n != i+1 {
					t.Fatalf("count after append %d = %d", i, n)
				}
			}

			recs, err := st.List(ctx)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(recs) != 3 {
				t.Fatalf("list len = %d", len(recs))
			}
			for i, r := range recs {
				if r.Error != fmt.Sprintf("err-%d", i) {
					t.Fatalf("record %d out of order: %q", i, r.Error)
				}
				if len(r.Extra) != 1 || r.Extra[0].Value != fmt.Sprint(i) {
					t.Fatalf("record %d extra lost: %+v", i, r.Extra)
				}
			}

			if err := st.Clear(ctx); err != nil {
				t.Fatalf("clear: %v", err)
			}
			if n, _ := st.Count(ctx); n != 0 {
				t.Fatalf("count after clear = %d", n)
			}
			if recs, _ := st.List(ctx); len(recs) != 0 {
				t.Fatalf("list after clear = %d", len(recs))
			}

			// Appends after a clear keep working.
			if err := st.Append(ctx, crash(9)); err != nil {
				t.Fatalf("append after clear: %v", err)
			}
			if n, _ := st.Count(ctx); n != 1 {
				t.Fatalf("count after clear+append = %d", n)
			}
		})
	}
}

func TestDurableStoresSurviveReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	for _, cfg := range []Config{
		{Driver: "file", Path: filepath.Join(dir, "a.json")},
		{Driver: "sqlite", Path: filepath.Join(dir, "b.db")},
	} {
		t.Run(cfg.Driver, func(t *testing.T) {
			st, err := Open(cfg, logx.Nop())
			if err != nil {
				t.Fatalf("open: %v", err)
			}
			if err := st.Append(ctx, crash(1)); err != nil {
				t.Fatalf("append: %v", err)
			}
			if err := st.Append(ctx, crash(2)); err != nil {
				t.Fatalf("append: %v", err)
			}
			if err := st.Close(); err != nil {
				t.Fatalf("close: %v", err)
			}

			st, err = Open(cfg, logx.Nop())
			if err != nil {
				t.Fatalf("reopen: %v", err)
			}
			t.Cleanup(func() { _ = st.Close() })
			if n, _ := st.Count(ctx); n != 2 {
				t.Fatalf("count after reopen = %d", n)
			}
			recs, err := st.List(ctx)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if recs[0].Error != "err-1" || recs[1].Error != "err-2" {
				t.Fatalf("unexpected order after reopen: %q, %q", recs[0].Error, recs[1].Error)
			}
		})
	}
}

func TestFileStoreSkipsCorruptLines(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "c.json")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := st.Append(ctx, crash(1)); err != nil {
		t.Fatalf("append: %v", err)
	}
	_ = st.Close()

	f, err := os.OpenFile(filepath.Join(filepath.Dir(path), "c.crashes.jsonl"), os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatalf("open jsonl: %v", err)
	}
	_, _ = f.WriteString("{not json\n")
	_ = f.Close()

	st, err = Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen with corrupt line: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := st.Append(ctx, crash(2)); err != nil {
		t.Fatalf("append: %v", err)
	}

	recs, err := st.List(ctx)
	if !errors.Is(err, ErrCorruptRecords) {
		t.Fatalf("expected ErrCorruptRecords, got %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected partial result of 2 records, got %d", len(recs))
	}
	if n, _ := st.Count(ctx); n != 2 {
		t.Fatalf("count = %d, want 2", n)
	}
}

func TestFileStoreRecoversTornFinalLine(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "c.json")
	jsonl := filepath.Join(filepath.Dir(path), "c.crashes.jsonl")
	if err := os.WriteFile(jsonl, []byte(`{"v":1,"id":"a","error":"x"`), 0o600); err != nil {
		t.Fatalf("write torn line: %v", err)
	}

	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if n, _ := st.Count(ctx); n != 0 {
		t.Fatalf("count of torn log = %d, want 0", n)
	}
	if err := st.Append(ctx, crash(1)); err != nil {
		t.Fatalf("append: %v", err)
	}
	recs, err := st.List(ctx)
	if !errors.Is(err, ErrCorruptRecords) {
		t.Fatalf("expected the torn line reported as corrupt, got %v", err)
	}
	if len(recs) != 1 || recs[0].Error != "err-1" {
		t.Fatalf("appended record lost: %+v", recs)
	}
	if n, _ := st.Count(ctx); n != len(recs) {
		t.Fatalf("count = %d, list = %d", n, len(recs))
	}
	_ = st.Close()

	st, err = Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := st.Append(ctx, crash(2)); err != nil {
		t.Fatalf("append after reopen: %v", err)
	}
	recs, _ = st.List(ctx)
	if len(recs) != 2 || recs[1].Error != "err-2" {
		t.Fatalf("records after reopen = %+v", recs)
	}
	if n, _ := st.Count(ctx); n != 2 {
		t.Fatalf("count after reopen = %d, want 2", n)
	}
}

func TestSQLiteCountMatchesList(t *testing.T) {
	ctx := context.Background()
	st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "c.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := st.Append(ctx, crash(1)); err != nil {
		t.Fatalf("append: %v", err)
	}

	db := st.(*sqliteStore).db
	for _, row := range []struct {
		v      int
		record string
	}{
		{report.SchemaVersion + 1, `{"v":2,"id":"new","error":"from a newer build"}`},
		{report.SchemaVersion, `{not json`},
	} {
		if _, err := db.ExecContext(ctx,
			`INSERT INTO crashes(id, v, created_at, record) VALUES(?,?,?,?)`,
			"x", row.v, "2024-01-01T00:00:00Z", row.record,
		); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	recs, err := st.List(ctx)
	if !errors.Is(err, ErrCorruptRecords) {
		t.Fatalf("expected ErrCorruptRecords, got %v", err)
	}
	n, err := st.Count(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != len(recs) || n != 1 {
		t.Fatalf("count = %d, list = %d, want 1", n, len(recs))
	}
}

func TestClosedStoreReturnsErrClosed(t *testing.T) {
	ctx := context.Background()
	for _, cfg := range []Config{
		{Driver: "memory"},
		{Driver: "file", Path: filepath.Join(t.TempDir(), "x.json")},
	} {
		st, err := Open(cfg, logx.Nop())
		if err != nil {
			t.Fatalf("open %s: %v", cfg.Driver, err)
		}
		_ = st.Close()
		if err := st.Append(ctx, crash(1)); !errors.Is(err, ErrClosed) {
			t.Fatalf("%s: append after close = %v", cfg.Driver, err)
		}
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatalf("expected error for file driver without path")
	}
}
