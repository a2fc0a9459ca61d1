package alarm

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	logx "tickerd/pkg/logx"
)

// LocalConfig tunes the in-process registrar.
type LocalConfig struct {
	// Budget caps concurrently held registrations. The default mirrors the
	// small fixed slot counts of OS alarm services.
	Budget int

	// RatePerSec throttles Register calls so a regeneration storm cannot
	// arm thousands of timers at once.
	RatePerSec int

	// Location for the wall-clock math of repeating daily slots.
	Location *time.Location
}

const (
	defaultBudget  = 64
	defaultRegRate = 32
)

// FireFunc is called (on a timer goroutine) each time an alarm fires.
type FireFunc func(id ID, fireAt time.Time)

// Local is an in-process Registrar backed by time.Timer. It implements
// RepeatingRegistrar: daily slots re-arm themselves after each firing and
// occupy one budget slot until cancelled.
type Local struct {
	log     logx.Logger
	onFire  FireFunc
	limiter *rate.Limiter
	loc     *time.Location

	mu     sync.Mutex
	budget int
	regs   map[ID]*localReg
	closed bool

	fired atomic.Uint64
}

type localReg struct {
	fireAt    time.Time
	repeating bool
	timer     *time.Timer
}

func NewLocal(cfg LocalConfig, log logx.Logger, onFire FireFunc) *Local {
	if log.IsZero() {
		log = logx.Nop()
	}
	budget := cfg.Budget
	if budget <= 0 {
		budget = defaultBudget
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = defaultRegRate
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	return &Local{
		log:     log,
		onFire:  onFire,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		loc:     loc,
		budget:  budget,
		regs:    map[ID]*localReg{},
	}
}

func (l *Local) Register(ctx context.Context, fireAt time.Time) (ID, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("alarm: register throttled: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return "", fmt.Errorf("alarm: registrar closed")
	}
	if len(l.regs) >= l.budget {
		return "", fmt.Errorf("%w (%d slots)", ErrBudgetExhausted, l.budget)
	}

	id := ID(uuid.NewString())
	reg := &localReg{fireAt: fireAt}
	// A past instant fires immediately; the timer goroutine handles both.
	reg.timer = time.AfterFunc(time.Until(fireAt), func() { l.fire(id) })
	l.regs[id] = reg
	return id, nil
}

func (l *Local) RegisterDaily(ctx context.Context, hour, minute int) (ID, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("alarm: register throttled: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return "", fmt.Errorf("alarm: registrar closed")
	}
	if len(l.regs) >= l.budget {
		return "", fmt.Errorf("%w (%d slots)", ErrBudgetExhausted, l.budget)
	}

	id := ID(uuid.NewString())
	next := l.nextDaily(time.Now().In(l.loc), hour, minute)
	reg := &localReg{fireAt: next, repeating: true}
	reg.timer = time.AfterFunc(time.Until(next), func() { l.fire(id) })
	l.regs[id] = reg
	return id, nil
}

func (l *Local) Cancel(_ context.Context, id ID) error {
	l.mu.Lock()
	reg, ok := l.regs[id]
	if ok {
		delete(l.regs, id)
	}
	l.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownID, id)
	}
	reg.timer.Stop()
	return nil
}

// fire runs on the timer goroutine.
func (l *Local) fire(id ID) {
	l.mu.Lock()
	reg, ok := l.regs[id]
	if !ok || l.closed {
		// Cancelled between timer fire and lock acquisition.
		l.mu.Unlock()
		return
	}
	at := reg.fireAt
	if reg.repeating {
		next := l.nextDaily(time.Now().In(l.loc).Add(time.Minute), at.Hour(), at.Minute())
		reg.fireAt = next
		reg.timer.Reset(time.Until(next))
	} else {
		delete(l.regs, id)
	}
	onFire := l.onFire
	l.mu.Unlock()

	l.fired.Add(1)
	if onFire != nil {
		onFire(id, at)
	}
}

// nextDaily picks the first hh:mm at or after now in the registrar zone.
func (l *Local) nextDaily(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, l.loc)
	if next.Before(now) {
		next = time.Date(now.Year(), now.Month(), now.Day()+1, hour, minute, 0, 0, l.loc)
	}
	return next
}

func (l *Local) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	for id, reg := range l.regs {
		reg.timer.Stop()
		delete(l.regs, id)
	}
}

// Snapshot reports slot usage for health output.
type Snapshot struct {
	Active int    `json:"active"`
	Budget int    `json:"budget"`
	Fired  uint64 `json:"fired"`
}

func (l *Local) Snapshot() Snapshot {
	l.mu.Lock()
	active := len(l.regs)
	budget := l.budget
	l.mu.Unlock()
	return Snapshot{Active: active, Budget: budget, Fired: l.fired.Load()}
}
