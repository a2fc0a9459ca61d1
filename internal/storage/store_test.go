package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	logx "tickerd/pkg/logx"

	"tickerd/internal/alarm"
	"tickerd/internal/recurrence"
	"tickerd/internal/ticker"
)

var storeNow = time.Date(2024, time.June, 10, 12, 0, 0, 0, time.UTC)

func sampleTicker(id string, created time.Time) ticker.Ticker {
	t := ticker.New(id, "standup "+id, recurrence.OnWeekdays(
		recurrence.Weekdays(time.Monday, time.Wednesday), recurrence.At(9, 30)), created)
	t.Countdown = &ticker.Countdown{Lead: 10 * time.Minute}
	t.Generation = ticker.Generation{
		Registrations: []ticker.Registration{
			{ID: alarm.ID("a-" + id + "-1"), FireAt: created.Add(24 * time.Hour)},
			{ID: alarm.ID("a-" + id + "-2"), FireAt: created.Add(48 * time.Hour)},
		},
		LastRegeneratedAt:  created,
		LastSuccess:        true,
		NextRegenerationAt: created.Add(84 * time.Hour),
		Strategy:           recurrence.StrategyFor(t.Schedule),
	}
	return t
}

// openDriver builds a store plus a reopen func targeting the same backing data.
func openDriver(t *testing.T, driver string) (Store, func() Store) {
	t.Helper()
	cfg := Config{Driver: driver}
	switch driver {
	case "sqlite":
		cfg.Path = filepath.Join(t.TempDir(), "tickers.db")
		cfg.BusyTimeout = time.Second
	case "file":
		cfg.Path = filepath.Join(t.TempDir(), "tickers.json")
	}
	open := func() Store {
		st, err := Open(cfg, logx.Nop())
		if err != nil {
			t.Fatalf("Open(%s): %v", driver, err)
		}
		return st
	}
	return open(), open
}

func TestStoreConformance(t *testing.T) {
	t.Parallel()

	for _, driver := range []string{"memory", "file", "sqlite"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st, _ := openDriver(t, driver)
			defer st.Close()

			if _, err := st.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Get missing = %v, want ErrNotFound", err)
			}
			if err := st.Delete(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Delete missing = %v, want ErrNotFound", err)
			}

			a := sampleTicker("a", storeNow)
			b := sampleTicker("b", storeNow.Add(time.Minute))
			for _, tk := range []ticker.Ticker{b, a} {
				if err := st.Save(ctx, tk); err != nil {
					t.Fatalf("Save(%s): %v", tk.ID, err)
				}
			}

			got, err := st.Get(ctx, "a")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if !got.Schedule.Equal(a.Schedule) {
				t.Fatalf("Schedule = %+v, want %+v", got.Schedule, a.Schedule)
			}
			if len(got.Generation.Registrations) != 2 {
				t.Fatalf("Registrations = %d, want 2", len(got.Generation.Registrations))
			}
			if got.Generation.Registrations[0].ID != alarm.ID("a-a-1") {
				t.Fatalf("Registrations[0].ID = %q", got.Generation.Registrations[0].ID)
			}
			if !got.Generation.Registrations[0].FireAt.Equal(storeNow.Add(24 * time.Hour)) {
				t.Fatalf("Registrations[0].FireAt = %v", got.Generation.Registrations[0].FireAt)
			}
			if !got.Generation.LastSuccess || got.Generation.Strategy.Tier != recurrence.TierMedium {
				t.Fatalf("Generation = %+v", got.Generation)
			}
			if got.Countdown == nil || got.Countdown.Lead != 10*time.Minute {
				t.Fatalf("Countdown = %+v", got.Countdown)
			}

			all, err := st.LoadAll(ctx)
			if err != nil {
				t.Fatalf("LoadAll: %v", err)
			}
			if len(all) != 2 || all[0].ID != "a" || all[1].ID != "b" {
				t.Fatalf("LoadAll order = %v", idsOf(all))
			}

			// Upsert replaces the registrations wholesale.
			a.Label = "renamed"
			a.Generation.Registrations = a.Generation.Registrations[:1]
			if err := st.Save(ctx, a); err != nil {
				t.Fatalf("Save upsert: %v", err)
			}
			got, err = st.Get(ctx, "a")
			if err != nil {
				t.Fatalf("Get after upsert: %v", err)
			}
			if got.Label != "renamed" || len(got.Generation.Registrations) != 1 {
				t.Fatalf("after upsert label=%q regs=%d", got.Label, len(got.Generation.Registrations))
			}

			if err := st.Delete(ctx, "a"); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if _, err := st.Get(ctx, "a"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Get deleted = %v, want ErrNotFound", err)
			}
			all, err = st.LoadAll(ctx)
			if err != nil {
				t.Fatalf("LoadAll after delete: %v", err)
			}
			if len(all) != 1 || all[0].ID != "b" {
				t.Fatalf("LoadAll after delete = %v", idsOf(all))
			}
		})
	}
}

func TestStoreReopen(t *testing.T) {
	t.Parallel()

	for _, driver := range []string{"file", "sqlite"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st, reopen := openDriver(t, driver)

			want := sampleTicker("a", storeNow)
			if err := st.Save(ctx, want); err != nil {
				t.Fatalf("Save: %v", err)
			}
			if err := st.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}

			st = reopen()
			defer st.Close()
			got, err := st.Get(ctx, "a")
			if err != nil {
				t.Fatalf("Get after reopen: %v", err)
			}
			if !got.Schedule.Equal(want.Schedule) {
				t.Fatalf("Schedule after reopen = %+v", got.Schedule)
			}
			if len(got.Generation.Registrations) != 2 {
				t.Fatalf("Registrations after reopen = %d, want 2", len(got.Generation.Registrations))
			}
			if got.Generation.Strategy.Window != want.Generation.Strategy.Window {
				t.Fatalf("Strategy.Window after reopen = %v, want %v",
					got.Generation.Strategy.Window, want.Generation.Strategy.Window)
			}
		})
	}
}

func TestStoreCloneIsolation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := NewMemory()

	want := sampleTicker("a", storeNow)
	if err := st.Save(ctx, want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, _ := st.Get(ctx, "a")
	got.Generation.Registrations[0].ID = alarm.ID("tampered")

	again, _ := st.Get(ctx, "a")
	if again.Generation.Registrations[0].ID != alarm.ID("a-a-1") {
		t.Fatalf("stored copy was aliased: %q", again.Generation.Registrations[0].ID)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "bolt"}, logx.Nop()); err == nil {
		t.Fatal("Open accepted unknown driver")
	}
}

func idsOf(ts []ticker.Ticker) []string {
	out := make([]string, 0, len(ts))
	for _, t := range ts {
		out = append(out, t.ID)
	}
	return out
}
