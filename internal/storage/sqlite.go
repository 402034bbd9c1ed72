package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"crashrelay/internal/report"
	logx "crashrelay/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	// Append must be on disk before it returns.
	_, _ = db.Exec("PRAGMA synchronous = FULL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Append(ctx context.Context, c report.Crash) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	body, err := json.Marshal(c)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO crashes(id, v, created_at, record) VALUES(?,?,?,?)`,
		c.ID, c.Version, c.CreatedAt.UTC().Format(time.RFC3339Nano), string(body),
	)
	return err
}

func (s *sqliteStore) List(ctx context.Context) ([]report.Crash, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx, `SELECT seq, record FROM crashes ORDER BY seq ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var (
		out     []report.Crash
		corrupt int
	)
	for rows.Next() {
		var (
			seq  int64
			body string
		)
		if err := rows.Scan(&seq, &body); err != nil {
			return out, err
		}
		c, err := report.DecodeCrash([]byte(body))
		if err != nil {
			corrupt++
			s.log.Debug("skipping crash record", logx.Int64("seq", seq), logx.Err(err))
			continue
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return out, err
	}
	if corrupt > 0 {
		return out, fmt.Errorf("%w: %d row(s)", ErrCorruptRecords, corrupt)
	}
	return out, nil
}

// Count skips the rows List skips: newer schema versions and records that
// are not valid JSON.
func (s *sqliteStore) Count(ctx context.Context) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrClosed
	}
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM crashes WHERE v <= ? AND json_valid(record)`,
		report.SchemaVersion,
	).Scan(&n)
	return n, err
}

func (s *sqliteStore) Clear(ctx context.Context) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM crashes`)
	return err
}
