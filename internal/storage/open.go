package storage

import (
	"context"
	"errors"
	"strings"

	logx "tickerd/pkg/logx"

	"tickerd/internal/ticker"
)

// Store is the persistence API used by the regeneration engine and the HTTP
// surface. Save is an upsert; the whole ticker record (generation and
// registrations included) is written in one shot.
type Store interface {
	LoadAll(ctx context.Context) ([]ticker.Ticker, error)
	Get(ctx context.Context, id string) (ticker.Ticker, error)
	Save(ctx context.Context, t ticker.Ticker) error
	Delete(ctx context.Context, id string) error
	Close() error
}

// Open initializes the configured store. An empty driver means sqlite.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" {
		driver = "sqlite"
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "file":
		return openFile(cfg, log)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
