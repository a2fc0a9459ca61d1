package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	logx "tickerd/pkg/logx"

	"tickerd/internal/alarm"
	"tickerd/internal/ticker"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// tickerRow is the flat scan target; schedule, generation and countdown
// live as JSON.
type tickerRow struct {
	id, label            string
	enabled              int
	countdown            sql.NullString
	createdAt, updatedAt string
	schedule, generation string
}

func (s *sqliteStore) Save(ctx context.Context, t ticker.Ticker) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite store closed")
	}
	schedJSON, err := json.Marshal(t.Schedule)
	if err != nil {
		return fmt.Errorf("encode schedule: %w", err)
	}
	// Registrations live in their own table; strip them from the JSON copy.
	gen := t.Generation
	gen.Registrations = nil
	genJSON, err := json.Marshal(gen)
	if err != nil {
		return fmt.Errorf("encode generation: %w", err)
	}
	var countdown any
	if t.Countdown != nil {
		b, err := json.Marshal(t.Countdown)
		if err != nil {
			return fmt.Errorf("encode countdown: %w", err)
		}
		countdown = string(b)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO tickers(id, label, enabled, countdown, created_at, updated_at, schedule, generation)
		 VALUES(?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   label=excluded.label, enabled=excluded.enabled, countdown=excluded.countdown,
		   updated_at=excluded.updated_at, schedule=excluded.schedule, generation=excluded.generation`,
		t.ID, t.Label, boolInt(t.Enabled), countdown,
		fmtTime(t.CreatedAt), fmtTime(t.UpdatedAt), string(schedJSON), string(genJSON),
	)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM registrations WHERE ticker_id = ?`, t.ID); err != nil {
		return err
	}
	for _, r := range t.Generation.Registrations {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO registrations(ticker_id, fire_at, alarm_id, repeating) VALUES(?,?,?,?)`,
			t.ID, fmtTime(r.FireAt), string(r.ID), boolInt(r.Repeating),
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) Get(ctx context.Context, id string) (ticker.Ticker, error) {
	if s == nil || s.db == nil {
		return ticker.Ticker{}, errors.New("sqlite store closed")
	}
	var row tickerRow
	err := s.db.QueryRowContext(ctx,
		`SELECT id, label, enabled, countdown, created_at, updated_at, schedule, generation
		 FROM tickers WHERE id = ?`, id,
	).Scan(&row.id, &row.label, &row.enabled, &row.countdown,
		&row.createdAt, &row.updatedAt, &row.schedule, &row.generation)
	if errors.Is(err, sql.ErrNoRows) {
		return ticker.Ticker{}, ErrNotFound
	}
	if err != nil {
		return ticker.Ticker{}, err
	}
	t, err := row.decode()
	if err != nil {
		return ticker.Ticker{}, err
	}
	regs, err := s.loadRegistrations(ctx, id)
	if err != nil {
		return ticker.Ticker{}, err
	}
	t.Generation.Registrations = regs[id]
	return t, nil
}

func (s *sqliteStore) LoadAll(ctx context.Context) ([]ticker.Ticker, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("sqlite store closed")
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, label, enabled, countdown, created_at, updated_at, schedule, generation
		 FROM tickers ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	// Drain fully before the registrations query: the pool holds one conn.
	var flat []tickerRow
	for rows.Next() {
		var row tickerRow
		if err := rows.Scan(&row.id, &row.label, &row.enabled, &row.countdown,
			&row.createdAt, &row.updatedAt, &row.schedule, &row.generation); err != nil {
			_ = rows.Close()
			return nil, err
		}
		flat = append(flat, row)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	regs, err := s.loadRegistrations(ctx, "")
	if err != nil {
		return nil, err
	}

	out := make([]ticker.Ticker, 0, len(flat))
	for _, row := range flat {
		t, err := row.decode()
		if err != nil {
			return nil, err
		}
		t.Generation.Registrations = regs[row.id]
		out = append(out, t)
	}
	return out, nil
}

func (s *sqliteStore) Delete(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite store closed")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM registrations WHERE ticker_id = ?`, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM tickers WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// loadRegistrations fetches registration rows, for one ticker or (with an
// empty id) for all, grouped by ticker id in fire order.
func (s *sqliteStore) loadRegistrations(ctx context.Context, id string) (map[string][]ticker.Registration, error) {
	q := `SELECT ticker_id, fire_at, alarm_id, repeating FROM registrations ORDER BY ticker_id, fire_at`
	args := []any{}
	if id != "" {
		q = `SELECT ticker_id, fire_at, alarm_id, repeating FROM registrations WHERE ticker_id = ? ORDER BY fire_at`
		args = append(args, id)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string][]ticker.Registration{}
	for rows.Next() {
		var tid, fireAt, alarmID string
		var repeating int
		if err := rows.Scan(&tid, &fireAt, &alarmID, &repeating); err != nil {
			return nil, err
		}
		at, err := parseTime(fireAt)
		if err != nil {
			return nil, fmt.Errorf("registration %s/%s: %w", tid, alarmID, err)
		}
		out[tid] = append(out[tid], ticker.Registration{
			ID:        alarm.ID(alarmID),
			FireAt:    at,
			Repeating: repeating != 0,
		})
	}
	return out, rows.Err()
}

func (r tickerRow) decode() (ticker.Ticker, error) {
	var t ticker.Ticker
	t.ID = r.id
	t.Label = r.label
	t.Enabled = r.enabled != 0
	if r.countdown.Valid && r.countdown.String != "" {
		var cd ticker.Countdown
		if err := json.Unmarshal([]byte(r.countdown.String), &cd); err != nil {
			return t, fmt.Errorf("ticker %s countdown: %w", r.id, err)
		}
		t.Countdown = &cd
	}

	var err error
	if t.CreatedAt, err = parseTime(r.createdAt); err != nil {
		return t, fmt.Errorf("ticker %s created_at: %w", r.id, err)
	}
	if t.UpdatedAt, err = parseTime(r.updatedAt); err != nil {
		return t, fmt.Errorf("ticker %s updated_at: %w", r.id, err)
	}
	if err := json.Unmarshal([]byte(r.schedule), &t.Schedule); err != nil {
		return t, fmt.Errorf("ticker %s schedule: %w", r.id, err)
	}
	if err := json.Unmarshal([]byte(r.generation), &t.Generation); err != nil {
		return t, fmt.Errorf("ticker %s generation: %w", r.id, err)
	}
	return t, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func fmtTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
