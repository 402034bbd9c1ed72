package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"crashrelay/internal/report"
	logx "crashrelay/pkg/logx"
)

// Stack traces can be long; allow records up to 16 MiB per line.
const maxRecordLine = 16 << 20

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.crashes.jsonl (append-only JSON Lines, one record per line)
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	path  string
	f     *os.File
	count int
	// torn is set after a failed write that may have left a partial line.
	torn bool
}

// sealTail ends a final line left without its newline by an interrupted
// append, so the next record starts on a line of its own. The partial line
// stays in place and is skipped as corrupt.
func sealTail(f *os.File) error {
	fi, err := f.Stat()
	if err != nil {
		return err
	}
	if fi.Size() == 0 {
		return nil
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, fi.Size()-1); err != nil {
		return err
	}
	if last[0] == '\n' {
		return nil
	}
	if _, err := f.Write([]byte{'\n'}); err != nil {
		return err
	}
	return f.Sync()
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	crashPath := prefix + ".crashes.jsonl"
	f, err := os.OpenFile(crashPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}

	if err := sealTail(f); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("repair %s: %w", crashPath, err)
	}

	s := &fileStore{log: log, path: crashPath, f: f}
	recs, err := s.readAllLocked()
	if err != nil && !errors.Is(err, ErrCorruptRecords) {
		_ = f.Close()
		return nil, err
	}
	if err != nil {
		log.Warn("crash log contains unreadable records", logx.String("path", crashPath), logx.Err(err))
	}
	s.count = len(recs)
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

func (s *fileStore) Append(ctx context.Context, c report.Crash) error {
	_ = ctx
	b, err := json.Marshal(c)
	if err != nil {
		return err
	}
	b = append(b, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return ErrClosed
	}
	if s.torn {
		if err := sealTail(s.f); err != nil {
			return err
		}
		s.torn = false
	}
	if _, err := s.f.Write(b); err != nil {
		s.torn = true
		return err
	}
	// The line is visible to List from here on, synced or not.
	s.count++
	return s.f.Sync()
}

func (s *fileStore) List(ctx context.Context) ([]report.Crash, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil, ErrClosed
	}
	return s.readAllLocked()
}

func (s *fileStore) Count(ctx context.Context) (int, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return 0, ErrClosed
	}
	return s.count, nil
}

func (s *fileStore) Clear(ctx context.Context) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return ErrClosed
	}
	if err := s.f.Truncate(0); err != nil {
		return err
	}
	if _, err := s.f.Seek(0, io.SeekEnd); err != nil {
		return err
	}
	if err := s.f.Sync(); err != nil {
		return err
	}
	s.count = 0
	return nil
}

// readAllLocked reads through a separate handle so the append handle's
// offset is never disturbed.
func (s *fileStore) readAllLocked() ([]report.Crash, error) {
	rf, err := os.Open(s.path)
	if err != nil {
		return nil, err
	}
	defer rf.Close()

	sc := bufio.NewScanner(rf)
	sc.Buffer(make([]byte, 0, 64*1024), maxRecordLine)

	var (
		out     []report.Crash
		corrupt int
		line    int
	)
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		c, err := report.DecodeCrash(raw)
		if err != nil {
			corrupt++
			s.log.Debug("skipping crash record", logx.Int("line", line), logx.Err(err))
			continue
		}
		out = append(out, c)
	}
	if err := sc.Err(); err != nil {
		return out, fmt.Errorf("%w: read %s: %v", ErrCorruptRecords, s.path, err)
	}
	if corrupt > 0 {
		return out, fmt.Errorf("%w: %d line(s) in %s", ErrCorruptRecords, corrupt, s.path)
	}
	return out, nil
}
