package storage

import (
	"context"
	"errors"
	"time"

	"crashrelay/internal/report"
)

var (
	ErrClosed = errors.New("storage closed")
	// ErrCorruptRecords is returned by List alongside the records that could
	// still be read.
	ErrCorruptRecords = errors.New("storage: corrupt crash records skipped")
)

// Store is the crash log API used by the dispatch engine.
//
// Append must be durable before it returns: Count and List called afterwards
// observe the record.
type Store interface {
	Append(ctx context.Context, c report.Crash) error
	// List returns every record, oldest first.
	List(ctx context.Context) ([]report.Crash, error)
	Clear(ctx context.Context) error
	Count(ctx context.Context) (int, error)
	Close() error
}

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines file at <path without ext>.crashes.jsonl
//   - "sqlite": SQLite database file at Path
//   - "memory", "none" or empty: in-process only
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}
