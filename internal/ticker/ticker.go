package ticker

import (
	"errors"
	"strings"
	"time"

	"tickerd/internal/alarm"
	"tickerd/internal/recurrence"
)

// Ticker is one scheduled reminder: a recurrence rule plus the bookkeeping
// of the alarms generated for it.
type Ticker struct {
	ID        string              `json:"id"`
	Label     string              `json:"label"`
	Enabled   bool                `json:"enabled"`
	Countdown *Countdown          `json:"countdown,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
	Schedule  recurrence.Schedule `json:"schedule"`

	Generation Generation `json:"generation"`
}

// Countdown is the pre-alert configuration. Lead shifts every computed fire
// instant earlier, so the alarm marks the countdown's start; the true alert
// moment stays fire+Lead. AutoRestart is presentation-only.
type Countdown struct {
	Lead        time.Duration `json:"lead"`
	AutoRestart bool          `json:"auto_restart,omitempty"`
}

// Lead is the countdown shift, zero when no countdown is configured.
func (t Ticker) Lead() time.Duration {
	if t.Countdown == nil || t.Countdown.Lead < 0 {
		return 0
	}
	return t.Countdown.Lead
}

// Registration pairs an opaque alarm id with the instant it was armed for.
// The fire instant is the diff key during regeneration.
type Registration struct {
	ID        alarm.ID  `json:"id"`
	FireAt    time.Time `json:"fire_at"`
	Repeating bool      `json:"repeating,omitempty"`
}

// Generation records the last materialization of a ticker's schedule into
// alarms. It is persisted with the ticker and rewritten atomically on every
// successful regeneration.
type Generation struct {
	Registrations      []Registration      `json:"registrations,omitempty"`
	LastRegeneratedAt  time.Time           `json:"last_regenerated_at"`
	LastSuccess        bool                `json:"last_success"`
	LastError          string              `json:"last_error,omitempty"`
	NextRegenerationAt time.Time           `json:"next_regeneration_at"`
	Strategy           recurrence.Strategy `json:"strategy"`
	Degraded           bool                `json:"degraded,omitempty"`
}

// State is the generation freshness, derived, never stored.
type State string

const (
	StateNeverRegenerated State = "never_regenerated"
	StateFailed           State = "failed"
	StateStale            State = "stale"
	StateUpToDate         State = "up_to_date"
)

func (g Generation) State(now time.Time) State {
	switch {
	// A failed first attempt leaves LastRegeneratedAt zero but records the
	// error; that is failed, not never-regenerated.
	case g.LastRegeneratedAt.IsZero() && g.LastError == "":
		return StateNeverRegenerated
	case !g.LastSuccess:
		return StateFailed
	case g.stale(now):
		return StateStale
	default:
		return StateUpToDate
	}
}

func (g Generation) stale(now time.Time) bool {
	if g.Strategy.RefreshAfter > 0 && now.Sub(g.LastRegeneratedAt) > g.Strategy.RefreshAfter {
		return true
	}
	return !g.NextRegenerationAt.IsZero() && !now.Before(g.NextRegenerationAt)
}

// MarkDirty forces the next pass to regenerate while keeping the held
// registrations, so the engine can still diff and cancel them.
func (g *Generation) MarkDirty() {
	g.LastRegeneratedAt = time.Time{}
	g.LastSuccess = false
	g.LastError = ""
	g.NextRegenerationAt = time.Time{}
	g.Degraded = false
}

// FireInstants lists the armed instants, in registration order.
func (g Generation) FireInstants() []time.Time {
	out := make([]time.Time, 0, len(g.Registrations))
	for _, r := range g.Registrations {
		out = append(out, r.FireAt)
	}
	return out
}

// New builds an enabled ticker. The caller supplies the id (uuid at the API
// boundary) and the creation instant.
func New(id, label string, s recurrence.Schedule, now time.Time) Ticker {
	return Ticker{
		ID:        id,
		Label:     label,
		Enabled:   true,
		CreatedAt: now,
		UpdatedAt: now,
		Schedule:  s,
	}
}

func (t Ticker) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return errors.New("ticker: id required")
	}
	return t.Schedule.Validate()
}

// NeedsRegeneration decides whether a pass should rebuild this ticker's
// alarms. Disabled tickers never regenerate; a one-shot that succeeded once
// is done forever.
func (t Ticker) NeedsRegeneration(now time.Time) bool {
	if !t.Enabled {
		return false
	}
	if t.Generation.Strategy.OneShot && t.Generation.LastSuccess {
		return false
	}
	switch t.Generation.State(now) {
	case StateNeverRegenerated, StateFailed, StateStale:
		return true
	default:
		return false
	}
}

// NextOccurrence is the first schedule instant after the calendar's now.
func (t Ticker) NextOccurrence(cal recurrence.Calendar) (time.Time, bool) {
	return recurrence.Next(t.Schedule, cal.Now(), cal)
}

// DisplayName is the label, or a rendered schedule when the label is empty.
func (t Ticker) DisplayName() string {
	if s := strings.TrimSpace(t.Label); s != "" {
		return s
	}
	return t.Schedule.String()
}
