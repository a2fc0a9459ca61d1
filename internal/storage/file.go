package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	logx "tickerd/pkg/logx"

	"tickerd/internal/ticker"
)

// fileStore is a dependency-free persistence backend: one JSON snapshot,
// rewritten atomically (tmp + rename) on every mutation. Ticker counts are
// human-scale, so whole-file rewrites stay cheap.
type fileStore struct {
	log logx.Logger

	mu      sync.Mutex
	path    string
	tickers map[string]ticker.Ticker
	closed  bool
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{log: log, path: path, tickers: map[string]ticker.Ticker{}}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *fileStore) load() error {
	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	var list []ticker.Ticker
	if err := json.NewDecoder(f).Decode(&list); err != nil {
		return err
	}
	for _, t := range list {
		s.tickers[t.ID] = t
	}
	return nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fileStore) LoadAll(ctx context.Context) ([]ticker.Ticker, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.New("file store closed")
	}
	return sortedLocked(s.tickers), nil
}

func (s *fileStore) Get(ctx context.Context, id string) (ticker.Ticker, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ticker.Ticker{}, errors.New("file store closed")
	}
	t, ok := s.tickers[id]
	if !ok {
		return ticker.Ticker{}, ErrNotFound
	}
	return cloneTicker(t), nil
}

func (s *fileStore) Save(ctx context.Context, t ticker.Ticker) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("file store closed")
	}
	prev, had := s.tickers[t.ID]
	s.tickers[t.ID] = cloneTicker(t)
	if err := s.persistLocked(); err != nil {
		// Keep memory and disk in step.
		if had {
			s.tickers[t.ID] = prev
		} else {
			delete(s.tickers, t.ID)
		}
		return err
	}
	return nil
}

func (s *fileStore) Delete(ctx context.Context, id string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("file store closed")
	}
	prev, ok := s.tickers[id]
	if !ok {
		return ErrNotFound
	}
	delete(s.tickers, id)
	if err := s.persistLocked(); err != nil {
		s.tickers[id] = prev
		return err
	}
	return nil
}

func (s *fileStore) persistLocked() error {
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(sortedLocked(s.tickers)); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// sortedLocked snapshots the map in (created_at, id) order, matching the
// sqlite driver's listing order.
func sortedLocked(m map[string]ticker.Ticker) []ticker.Ticker {
	out := make([]ticker.Ticker, 0, len(m))
	for _, t := range m {
		out = append(out, cloneTicker(t))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
