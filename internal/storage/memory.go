package storage

import (
	"context"
	"sync"

	"crashrelay/internal/report"
)

type memoryStore struct {
	mu      sync.Mutex
	records []report.Crash
	closed  bool
}

// NewMemory returns a Store that lives only as long as the process.
func NewMemory() Store { return &memoryStore{} }

func (s *memoryStore) Append(ctx context.Context, c report.Crash) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.records = append(s.records, c.Clone())
	return nil
}

func (s *memoryStore) List(ctx context.Context) ([]report.Crash, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make([]report.Crash, len(s.records))
	for i, c := range s.records {
		out[i] = c.Clone()
	}
	return out, nil
}

func (s *memoryStore) Clear(ctx context.Context) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.records = nil
	return nil
}

func (s *memoryStore) Count(ctx context.Context) (int, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	return len(s.records), nil
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
