package regen

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"tickerd/internal/alarm"
	"tickerd/internal/eventbus"
	"tickerd/internal/recurrence"
	"tickerd/internal/storage"
	"tickerd/internal/ticker"
	logx "tickerd/pkg/logx"
)

// Service keeps every enabled ticker's alarm registrations in step with its
// schedule. Passes run periodically (robfig cron), on Start, on Kick after an
// edit, and on demand via RunPass. Per-ticker work is serialized; distinct
// tickers regenerate in parallel up to Pass.Parallelism.
type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	store storage.Store
	reg   alarm.Registrar
	cal   recurrence.Calendar
	clock func() time.Time

	parser   cron.Parser
	c        *cron.Cron
	entry    cron.EntryID
	baseCtx  context.Context
	baseStop context.CancelFunc

	lockMu sync.Mutex
	locks  map[string]*tickerLock

	// pending holds generation records whose registrar work succeeded but
	// whose Save failed. The next pass overlays them so alarms are not
	// registered twice; only the persistence is retried.
	pendMu  sync.Mutex
	pending map[string]ticker.Generation

	hmu      sync.Mutex
	lastPass PassStats
	history  []PassStats
}

// tickerLock serializes regeneration per ticker id. Channel-based so Kick can
// wait with a context while passes skip busy tickers.
type tickerLock struct{ ch chan struct{} }

func newTickerLock() *tickerLock { return &tickerLock{ch: make(chan struct{}, 1)} }

func (l *tickerLock) tryLock() bool {
	select {
	case l.ch <- struct{}{}:
		return true
	default:
		return false
	}
}

func (l *tickerLock) lock(ctx context.Context) error {
	select {
	case l.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *tickerLock) unlock() { <-l.ch }

func New(cfg Config, deps Deps, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		cfg:   cfg.withDefaults(),
		log:   log,
		bus:   bus,
		store: deps.Store,
		reg:   deps.Registrar,
		cal:   deps.Calendar,
		clock: clock,
		// SecondOptional allows both 5-field and 6-field cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour |
			cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		locks:   map[string]*tickerLock{},
		pending: map[string]ticker.Generation{},
	}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

// Apply swaps config. A changed pass schedule restarts the cron trigger.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	prev := s.cfg
	s.cfg = cfg
	running := s.c != nil
	restart := running && prev.Pass.Schedule != cfg.Pass.Schedule
	s.mu.Unlock()

	if restart {
		s.log.Info("pass schedule changed, restarting trigger",
			logx.String("from", prev.Pass.Schedule), logx.String("to", cfg.Pass.Schedule))
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		s.Stop(ctx)
		s.Start(ctx)
		cancel()
	}
}

// Start arms the periodic trigger and runs one immediate pass in the
// background. Idempotent. Passes can also be driven manually with RunPass
// without starting the trigger, which is what tests do.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	cfg := s.cfg
	if !cfg.Enabled || s.c != nil {
		s.mu.Unlock()
		return
	}

	s.baseCtx, s.baseStop = context.WithCancel(context.Background())
	base := s.baseCtx
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.cal.Location()))
	id, err := s.c.AddFunc(cfg.Pass.Schedule, func() { s.passFromTrigger(base) })
	if err != nil {
		// Spec was validated by config; fall back rather than running blind.
		s.log.Error("invalid pass schedule, falling back to @every 5m",
			logx.String("spec", cfg.Pass.Schedule), logx.Err(err))
		id, _ = s.c.AddFunc("@every 5m", func() { s.passFromTrigger(base) })
	}
	s.entry = id
	s.c.Start()
	s.mu.Unlock()

	go s.passFromTrigger(base)

	s.log.Info("regen started",
		logx.String("pass_schedule", cfg.Pass.Schedule),
		logx.Int("parallelism", cfg.Pass.Parallelism),
		logx.String("past_lead", string(cfg.PastLead)))
}

// Stop halts the trigger and waits for running cron jobs, bounded by ctx.
// In-flight regenerations finish on their own; ticker locks stay consistent.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	c := s.c
	stop := s.baseStop
	s.c = nil
	s.baseCtx = nil
	s.baseStop = nil
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		// best-effort
	}
	s.log.Info("regen stopped")
}

func (s *Service) passFromTrigger(ctx context.Context) {
	if ctx == nil || ctx.Err() != nil {
		return
	}
	if _, err := s.RunPass(ctx); err != nil && err != ErrDisabled {
		s.log.Warn("pass failed", logx.Err(err))
	}
}

// Kick regenerates one ticker promptly, waiting for its in-flight lock.
// Used after create/edit/toggle so the change materializes without waiting
// for the next pass. A disabled ticker gets its held alarms torn down.
func (s *Service) Kick(ctx context.Context, id string) error {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()
	if !cfg.Enabled {
		return ErrDisabled
	}

	lock := s.lockFor(id)
	if err := lock.lock(ctx); err != nil {
		return err
	}
	defer lock.unlock()

	tk, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	tk.Generation = s.overlayPending(tk.ID, tk.Generation)

	octx, cancel := context.WithTimeout(ctx, cfg.Pass.TickerTimeout)
	defer cancel()
	res := s.regenerateOne(octx, tk, s.clock(), cfg)
	return res.err
}

func (s *Service) lockFor(id string) *tickerLock {
	s.lockMu.Lock()
	l := s.locks[id]
	if l == nil {
		l = newTickerLock()
		s.locks[id] = l
	}
	s.lockMu.Unlock()
	return l
}

// overlayPending substitutes an unpersisted generation record, if any, so
// diffs run against the registrar's real state.
func (s *Service) overlayPending(id string, g ticker.Generation) ticker.Generation {
	s.pendMu.Lock()
	p, ok := s.pending[id]
	s.pendMu.Unlock()
	if ok {
		return p
	}
	return g
}

func (s *Service) setPending(id string, g ticker.Generation) {
	s.pendMu.Lock()
	s.pending[id] = g
	s.pendMu.Unlock()
}

func (s *Service) hasPending(id string) bool {
	s.pendMu.Lock()
	_, ok := s.pending[id]
	s.pendMu.Unlock()
	return ok
}

func (s *Service) clearPending(id string) {
	s.pendMu.Lock()
	delete(s.pending, id)
	s.pendMu.Unlock()
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	cfg := s.cfg
	running := s.c != nil
	var next time.Time
	if running {
		next = s.c.Entry(s.entry).Next
	}
	s.mu.Unlock()

	var busy []string
	s.lockMu.Lock()
	for id, l := range s.locks {
		if len(l.ch) > 0 {
			busy = append(busy, id)
		}
	}
	s.lockMu.Unlock()
	sort.Strings(busy)

	s.pendMu.Lock()
	pend := len(s.pending)
	s.pendMu.Unlock()

	s.hmu.Lock()
	last := s.lastPass
	hist := make([]PassStats, len(s.history))
	copy(hist, s.history)
	s.hmu.Unlock()

	return Snapshot{
		Enabled:      cfg.Enabled,
		Running:      running,
		PassSchedule: cfg.Pass.Schedule,
		Parallelism:  cfg.Pass.Parallelism,
		Regenerating: busy,
		PendingSaves: pend,
		LastPass:     last,
		History:      hist,
		NextPassAt:   next,
		PastLead:     cfg.PastLead,
		WindowScale:  cfg.WindowScale,
		NativeDaily:  cfg.PreferNativeDaily,
	}
}

func (s *Service) recordPass(st PassStats) {
	s.mu.Lock()
	max := s.cfg.HistorySize
	s.mu.Unlock()

	s.hmu.Lock()
	s.lastPass = st
	s.history = append(s.history, st)
	if len(s.history) > max {
		s.history = s.history[len(s.history)-max:]
	}
	s.hmu.Unlock()
}
