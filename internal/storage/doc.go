// Package storage is the local crash log.
//
// It is append-only and ordered by insertion. Three drivers exist:
//   - "file": JSON Lines, fsync'ed before Append returns
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
//   - "memory": process-local, for tests and hosts without a writable disk
package storage
