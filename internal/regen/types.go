package regen

import (
	"time"

	"tickerd/internal/alarm"
	"tickerd/internal/recurrence"
	"tickerd/internal/storage"
)

// PastLeadPolicy decides what happens when a countdown lead pushes a fire
// instant behind now.
type PastLeadPolicy string

const (
	// PastLeadClamp moves the instant to now plus a small grace.
	PastLeadClamp PastLeadPolicy = "clamp"
	// PastLeadDrop discards the occurrence.
	PastLeadDrop PastLeadPolicy = "drop"
)

// Config controls the regeneration coordinator.
type Config struct {
	Enabled bool
	Pass    PassConfig

	// PastLead picks the policy for lead-shifted instants landing in the
	// past. Empty means clamp.
	PastLead      PastLeadPolicy
	PastLeadGrace time.Duration // clamp target offset; default 30s

	// PreferNativeDaily uses the registrar's native daily repeat (one slot)
	// for plain daily schedules when the backend supports it.
	PreferNativeDaily bool

	// WindowScale stretches or shrinks every tier's forward window and
	// refresh threshold. 0 means 1.0; values are clamped to [0.1, 10].
	WindowScale float64

	HistorySize int
}

// PassConfig controls pass triggering and parallelism.
type PassConfig struct {
	// Schedule is a robfig/cron spec for periodic passes, default "@every 5m".
	Schedule string

	// Parallelism bounds concurrent per-ticker regenerations in one pass.
	Parallelism int

	// TickerTimeout bounds one ticker's regeneration, default 30s.
	TickerTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Pass.Schedule == "" {
		c.Pass.Schedule = "@every 5m"
	}
	if c.Pass.Parallelism <= 0 {
		c.Pass.Parallelism = 4
	}
	if c.Pass.TickerTimeout <= 0 {
		c.Pass.TickerTimeout = 30 * time.Second
	}
	if c.PastLead != PastLeadDrop {
		c.PastLead = PastLeadClamp
	}
	if c.PastLeadGrace <= 0 {
		c.PastLeadGrace = 30 * time.Second
	}
	if c.WindowScale == 0 {
		c.WindowScale = 1
	}
	if c.WindowScale < 0.1 {
		c.WindowScale = 0.1
	}
	if c.WindowScale > 10 {
		c.WindowScale = 10
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 50
	}
	return c
}

// Deps are the coordinator's collaborators, injected for deterministic tests.
type Deps struct {
	Store     storage.Store
	Registrar alarm.Registrar
	Calendar  recurrence.Calendar
	Clock     func() time.Time // nil means time.Now
}

// PassStats summarizes one pass.
type PassStats struct {
	Started    time.Time     `json:"started"`
	Took       time.Duration `json:"took"`
	Considered int           `json:"considered"`
	Due        int           `json:"due"`
	OK         int           `json:"ok"`
	Failed     int           `json:"failed"`
	Degraded   int           `json:"degraded"`
	TornDown   int           `json:"torn_down"`
	Busy       int           `json:"busy"`
}

// Event is published on the bus for per-ticker outcomes
// (regen.ok, regen.failed, regen.degraded) and pass summaries (regen.pass).
type Event struct {
	TickerID   string        `json:"ticker_id,omitempty"`
	Label      string        `json:"label,omitempty"`
	Registered int           `json:"registered"`
	Cancelled  int           `json:"cancelled"`
	Kept       int           `json:"kept"`
	Active     int           `json:"active"`
	Took       time.Duration `json:"took"`
	Error      string        `json:"error,omitempty"`
}

// Snapshot is a diagnostics view.
type Snapshot struct {
	Enabled      bool
	Running      bool
	PassSchedule string
	Parallelism  int
	Regenerating []string
	PendingSaves int
	LastPass     PassStats
	History      []PassStats
	NextPassAt   time.Time
	PastLead     PastLeadPolicy
	WindowScale  float64
	NativeDaily  bool
}
