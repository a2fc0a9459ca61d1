package alarm

import (
	"context"
	"errors"
	"time"
)

// ID identifies one registered alarm. IDs are opaque to callers: minted by
// the registrar, compared only for equality, never parsed.
type ID string

var (
	// ErrBudgetExhausted means the registrar is out of alarm slots.
	ErrBudgetExhausted = errors.New("alarm: budget exhausted")

	// ErrUnknownID means the id is not currently registered. Cancelling an
	// already-fired or already-cancelled alarm returns this; callers treating
	// cancel as idempotent should ignore it.
	ErrUnknownID = errors.New("alarm: unknown id")
)

// Registrar is the one-shot alarm primitive the generation engine drives.
//
// Register schedules a single firing at fireAt and returns a fresh id.
// Implementations must not dedupe: registering the same instant twice yields
// two ids. Cancel releases one id.
type Registrar interface {
	Register(ctx context.Context, fireAt time.Time) (ID, error)
	Cancel(ctx context.Context, id ID) error
}

// RepeatingRegistrar is an optional extension for backends with a native
// daily repeat (one slot covers every day at the same wall-clock time).
// The generation engine prefers it for plain daily schedules when available.
type RepeatingRegistrar interface {
	Registrar
	RegisterDaily(ctx context.Context, hour, minute int) (ID, error)
}
