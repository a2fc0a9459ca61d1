package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned by Get and Delete for unknown ticker ids.
var ErrNotFound = errors.New("ticker not found")

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "file": dependency-free JSON snapshot
//   - "memory": process-local, for tests and ephemeral runs
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}
