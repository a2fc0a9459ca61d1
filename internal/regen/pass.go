package regen

import (
	"context"
	"errors"
	"sync"
	"time"

	"tickerd/internal/eventbus"
	"tickerd/internal/storage"
	"tickerd/internal/ticker"
	logx "tickerd/pkg/logx"
)

// RunPass loads every ticker, regenerates the due ones and tears down held
// alarms of disabled ones. Tickers already being regenerated (by Kick or an
// overlapping pass) are skipped; they will be picked up next time.
func (s *Service) RunPass(ctx context.Context) (PassStats, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()
	if !cfg.Enabled {
		return PassStats{}, ErrDisabled
	}

	now := s.clock()
	wallStart := time.Now()
	stats := PassStats{Started: now}

	tickers, err := s.store.LoadAll(ctx)
	if err != nil {
		return stats, err
	}
	stats.Considered = len(tickers)

	var due []ticker.Ticker
	for _, tk := range tickers {
		tk.Generation = s.overlayPending(tk.ID, tk.Generation)
		// An unpersisted record keeps the ticker due until the save lands.
		pendingSave := s.hasPending(tk.ID)
		if !tk.Enabled {
			// Disabled tickers never regenerate, but alarms they still hold
			// must come down or the budget leaks.
			if len(tk.Generation.Registrations) > 0 || pendingSave {
				due = append(due, tk)
			}
			continue
		}
		if tk.NeedsRegeneration(now) || pendingSave {
			due = append(due, tk)
		}
	}
	stats.Due = len(due)

	sem := make(chan struct{}, cfg.Pass.Parallelism)
	var wg sync.WaitGroup
	var smu sync.Mutex
	for _, tk := range due {
		lock := s.lockFor(tk.ID)
		if !lock.tryLock() {
			smu.Lock()
			stats.Busy++
			smu.Unlock()
			continue
		}
		wg.Add(1)
		id := tk.ID
		go func() {
			defer wg.Done()
			defer lock.unlock()
			sem <- struct{}{}
			defer func() { <-sem }()

			octx, cancel := context.WithTimeout(ctx, cfg.Pass.TickerTimeout)
			defer cancel()

			// Re-read under the lock: a Kick may have already handled this
			// ticker between LoadAll and here, or the ticker may be gone.
			fresh, err := s.store.Get(octx, id)
			if errors.Is(err, storage.ErrNotFound) {
				return
			}
			if err != nil {
				smu.Lock()
				stats.Failed++
				smu.Unlock()
				return
			}
			fresh.Generation = s.overlayPending(id, fresh.Generation)
			pendingSave := s.hasPending(id)
			if fresh.Enabled && !fresh.NeedsRegeneration(now) && !pendingSave {
				return
			}
			if !fresh.Enabled && len(fresh.Generation.Registrations) == 0 && !pendingSave {
				return
			}
			res := s.regenerateOne(octx, fresh, now, cfg)

			smu.Lock()
			switch {
			case res.tornDown:
				stats.TornDown++
			case res.err != nil:
				stats.Failed++
			case res.degraded:
				stats.Degraded++
				stats.OK++
			default:
				stats.OK++
			}
			smu.Unlock()
		}()
	}
	wg.Wait()
	stats.Took = time.Since(wallStart)

	s.recordPass(stats)
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: "regen.pass", Time: now, Data: stats})
	}
	s.log.Info("pass finished",
		logx.Int("considered", stats.Considered),
		logx.Int("due", stats.Due),
		logx.Int("ok", stats.OK),
		logx.Int("failed", stats.Failed),
		logx.Int("degraded", stats.Degraded),
		logx.Int("torn_down", stats.TornDown),
		logx.Int("busy", stats.Busy),
		logx.Duration("took", stats.Took))
	return stats, nil
}
