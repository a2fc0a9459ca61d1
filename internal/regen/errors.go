package regen

import "errors"

var (
	ErrDisabled = errors.New("regen disabled")
	ErrStopped  = errors.New("regen stopped")
	// ErrBusy means the ticker is being regenerated right now.
	ErrBusy = errors.New("ticker regeneration in flight")
)
