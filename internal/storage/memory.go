package storage

import (
	"context"
	"sort"
	"sync"

	"tickerd/internal/ticker"
)

// memStore keeps everything in process memory. Used by tests and by the
// "memory" driver for ephemeral runs.
type memStore struct {
	mu      sync.RWMutex
	tickers map[string]ticker.Ticker
}

// NewMemory returns an empty in-memory store.
func NewMemory() Store {
	return &memStore{tickers: map[string]ticker.Ticker{}}
}

func (s *memStore) LoadAll(ctx context.Context) ([]ticker.Ticker, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ticker.Ticker, 0, len(s.tickers))
	for _, t := range s.tickers {
		out = append(out, cloneTicker(t))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *memStore) Get(ctx context.Context, id string) (ticker.Ticker, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tickers[id]
	if !ok {
		return ticker.Ticker{}, ErrNotFound
	}
	return cloneTicker(t), nil
}

func (s *memStore) Save(ctx context.Context, t ticker.Ticker) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickers[t.ID] = cloneTicker(t)
	return nil
}

func (s *memStore) Delete(ctx context.Context, id string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tickers[id]; !ok {
		return ErrNotFound
	}
	delete(s.tickers, id)
	return nil
}

func (s *memStore) Close() error { return nil }

// cloneTicker detaches the registrations slice and countdown pointer so
// callers cannot alias the stored copy.
func cloneTicker(t ticker.Ticker) ticker.Ticker {
	if len(t.Generation.Registrations) > 0 {
		regs := make([]ticker.Registration, len(t.Generation.Registrations))
		copy(regs, t.Generation.Registrations)
		t.Generation.Registrations = regs
	}
	if t.Countdown != nil {
		cd := *t.Countdown
		t.Countdown = &cd
	}
	return t
}
