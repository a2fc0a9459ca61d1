package api

import (
	"context"
	"time"

	"tickerd/internal/alarm"
	"tickerd/internal/recurrence"
	"tickerd/internal/regen"
	"tickerd/internal/storage"
	"tickerd/internal/ticker"
)

// Config controls the HTTP server.
type Config struct {
	Enabled bool
	Addr    string // default "127.0.0.1:8475"

	// AllowedOrigins feeds the CORS middleware; empty leaves CORS off.
	AllowedOrigins []string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Coordinator is the slice of the regeneration service the handlers drive.
type Coordinator interface {
	Kick(ctx context.Context, id string) error
	RunPass(ctx context.Context) (regen.PassStats, error)
	Snapshot() regen.Snapshot
}

// BudgetReporter surfaces registrar slot usage on /api/status.
type BudgetReporter interface {
	Snapshot() alarm.Snapshot
}

// Deps are the handler collaborators. Budget is optional.
type Deps struct {
	Store    storage.Store
	Coord    Coordinator
	Budget   BudgetReporter
	Calendar recurrence.Calendar
}

// countdownPayload is the wire form of a ticker countdown; Lead is a Go
// duration string ("10m").
type countdownPayload struct {
	Lead        string `json:"lead"`
	AutoRestart bool   `json:"auto_restart,omitempty"`
}

// tickerRequest creates or replaces a ticker.
type tickerRequest struct {
	Label     string              `json:"label"`
	Enabled   *bool               `json:"enabled,omitempty"`
	Schedule  recurrence.Schedule `json:"schedule"`
	Countdown *countdownPayload   `json:"countdown,omitempty"`
}

type generationView struct {
	State              ticker.State `json:"state"`
	ActiveAlarms       int          `json:"active_alarms"`
	LastRegeneratedAt  *time.Time   `json:"last_regenerated_at,omitempty"`
	LastSuccess        bool         `json:"last_success"`
	LastError          string       `json:"last_error,omitempty"`
	NextRegenerationAt *time.Time   `json:"next_regeneration_at,omitempty"`
	Degraded           bool         `json:"degraded,omitempty"`
}

type tickerView struct {
	ID             string              `json:"id"`
	Label          string              `json:"label"`
	DisplayName    string              `json:"display_name"`
	Enabled        bool                `json:"enabled"`
	Schedule       recurrence.Schedule `json:"schedule"`
	Summary        string              `json:"summary"`
	Countdown      *countdownPayload   `json:"countdown,omitempty"`
	Health         ticker.Health       `json:"health"`
	NextOccurrence *time.Time          `json:"next_occurrence,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
	Generation     generationView      `json:"generation"`
}

type listResponse struct {
	Tickers []tickerView        `json:"tickers"`
	Counts  ticker.HealthCounts `json:"counts"`
}

type statusResponse struct {
	Regen  regen.Snapshot      `json:"regen"`
	Alarms *alarm.Snapshot     `json:"alarms,omitempty"`
	Counts ticker.HealthCounts `json:"counts"`
	Now    time.Time           `json:"now"`
}

type errorResponse struct {
	Error string `json:"error"`
}
