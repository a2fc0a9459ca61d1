package ticker

import (
	"testing"
	"time"

	"tickerd/internal/alarm"
	"tickerd/internal/recurrence"
)

var testNow = time.Date(2024, time.June, 10, 12, 0, 0, 0, time.UTC)

func freshGen(oneShot bool) Generation {
	strat := recurrence.Strategy{Tier: recurrence.TierMedium, Window: 7 * 24 * time.Hour, RefreshAfter: 24 * time.Hour, OneShot: oneShot}
	return Generation{
		LastRegeneratedAt:  testNow.Add(-time.Hour),
		LastSuccess:        true,
		NextRegenerationAt: testNow.Add(23 * time.Hour),
		Strategy:           strat,
	}
}

func TestGenerationState(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		gen  Generation
		want State
	}{
		{"never regenerated", Generation{}, StateNeverRegenerated},
		{"first attempt failed", Generation{LastError: "registrar: budget exhausted"}, StateFailed},
		{"up to date", freshGen(false), StateUpToDate},
		{
			"failed",
			func() Generation {
				g := freshGen(false)
				g.LastSuccess = false
				g.LastError = "registrar: budget exhausted"
				return g
			}(),
			StateFailed,
		},
		{
			"stale by refresh age",
			func() Generation {
				g := freshGen(false)
				g.LastRegeneratedAt = testNow.Add(-25 * time.Hour)
				g.NextRegenerationAt = testNow.Add(time.Hour)
				return g
			}(),
			StateStale,
		},
		{
			"stale by due instant",
			func() Generation {
				g := freshGen(false)
				g.NextRegenerationAt = testNow.Add(-time.Minute)
				return g
			}(),
			StateStale,
		},
		{
			"due exactly now is stale",
			func() Generation {
				g := freshGen(false)
				g.NextRegenerationAt = testNow
				return g
			}(),
			StateStale,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.gen.State(testNow); got != tt.want {
				t.Fatalf("State = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNeedsRegeneration(t *testing.T) {
	t.Parallel()

	sched := recurrence.Daily(recurrence.At(9, 0))

	tests := []struct {
		name string
		mod  func(*Ticker)
		want bool
	}{
		{"never regenerated", func(tk *Ticker) {}, true},
		{"disabled", func(tk *Ticker) { tk.Enabled = false }, false},
		{"up to date", func(tk *Ticker) { tk.Generation = freshGen(false) }, false},
		{
			"stale",
			func(tk *Ticker) {
				g := freshGen(false)
				g.NextRegenerationAt = testNow.Add(-time.Minute)
				tk.Generation = g
			},
			true,
		},
		{
			"failed",
			func(tk *Ticker) {
				g := freshGen(false)
				g.LastSuccess = false
				tk.Generation = g
			},
			true,
		},
		{
			"one-shot done stays done",
			func(tk *Ticker) {
				g := freshGen(true)
				g.NextRegenerationAt = testNow.Add(-time.Hour)
				tk.Generation = g
			},
			false,
		},
		{
			"one-shot failed retries",
			func(tk *Ticker) {
				g := freshGen(true)
				g.LastSuccess = false
				tk.Generation = g
			},
			true,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tk := New("t1", "standup", sched, testNow.Add(-72*time.Hour))
			tt.mod(&tk)
			if got := tk.NeedsRegeneration(testNow); got != tt.want {
				t.Fatalf("NeedsRegeneration = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMarkDirtyKeepsRegistrations(t *testing.T) {
	t.Parallel()

	g := freshGen(false)
	g.Registrations = []Registration{
		{ID: alarm.ID("a-1"), FireAt: testNow.Add(time.Hour)},
		{ID: alarm.ID("a-2"), FireAt: testNow.Add(2 * time.Hour)},
	}
	g.Degraded = true
	g.LastError = "old"

	g.MarkDirty()

	if g.State(testNow) != StateNeverRegenerated {
		t.Fatalf("State after MarkDirty = %v, want %v", g.State(testNow), StateNeverRegenerated)
	}
	if len(g.Registrations) != 2 {
		t.Fatalf("Registrations after MarkDirty = %d, want 2", len(g.Registrations))
	}
	if g.Degraded || g.LastError != "" {
		t.Fatalf("MarkDirty left degraded=%v lastError=%q", g.Degraded, g.LastError)
	}
	got := g.FireInstants()
	if len(got) != 2 || !got[0].Equal(testNow.Add(time.Hour)) {
		t.Fatalf("FireInstants = %v", got)
	}
}

func TestHealthOf(t *testing.T) {
	t.Parallel()

	sched := recurrence.Daily(recurrence.At(9, 0))

	tests := []struct {
		name string
		mod  func(*Ticker)
		want Health
	}{
		{"never run", func(tk *Ticker) {}, HealthNeverRun},
		{"healthy", func(tk *Ticker) { tk.Generation = freshGen(false) }, HealthHealthy},
		{"disabled", func(tk *Ticker) { tk.Enabled = false }, HealthDisabled},
		{
			"disabled wins over failed",
			func(tk *Ticker) {
				tk.Enabled = false
				g := freshGen(false)
				g.LastSuccess = false
				tk.Generation = g
			},
			HealthDisabled,
		},
		{
			"stale",
			func(tk *Ticker) {
				g := freshGen(false)
				g.NextRegenerationAt = testNow.Add(-time.Minute)
				tk.Generation = g
			},
			HealthStale,
		},
		{
			"failed",
			func(tk *Ticker) {
				g := freshGen(false)
				g.LastSuccess = false
				tk.Generation = g
			},
			HealthFailed,
		},
		{
			"finished one-shot is healthy",
			func(tk *Ticker) {
				g := freshGen(true)
				g.NextRegenerationAt = testNow.Add(-time.Hour)
				tk.Generation = g
			},
			HealthHealthy,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tk := New("t1", "", sched, testNow.Add(-72*time.Hour))
			tt.mod(&tk)
			if got := tk.HealthOf(testNow); got != tt.want {
				t.Fatalf("HealthOf = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCountHealth(t *testing.T) {
	t.Parallel()

	sched := recurrence.Daily(recurrence.At(9, 0))
	mk := func(mod func(*Ticker)) Ticker {
		tk := New("t", "x", sched, testNow)
		mod(&tk)
		return tk
	}

	tickers := []Ticker{
		mk(func(tk *Ticker) { tk.Generation = freshGen(false) }),
		mk(func(tk *Ticker) {
			g := freshGen(false)
			g.Degraded = true
			tk.Generation = g
		}),
		mk(func(tk *Ticker) { tk.Enabled = false }),
		mk(func(tk *Ticker) {}),
		mk(func(tk *Ticker) {
			g := freshGen(false)
			g.LastSuccess = false
			tk.Generation = g
		}),
	}

	c := CountHealth(tickers, testNow)
	want := HealthCounts{Healthy: 2, Failed: 1, Disabled: 1, NeverRun: 1, Degraded: 1}
	if c != want {
		t.Fatalf("CountHealth = %+v, want %+v", c, want)
	}
	if c.Total() != len(tickers) {
		t.Fatalf("Total = %d, want %d", c.Total(), len(tickers))
	}
}

func TestDisplayName(t *testing.T) {
	t.Parallel()

	sched := recurrence.Daily(recurrence.At(9, 30))
	tk := New("t1", "  ", sched, testNow)
	if got := tk.DisplayName(); got != sched.String() {
		t.Fatalf("DisplayName = %q, want schedule rendering %q", got, sched.String())
	}
	tk.Label = "standup"
	if got := tk.DisplayName(); got != "standup" {
		t.Fatalf("DisplayName = %q, want %q", got, "standup")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	sched := recurrence.Daily(recurrence.At(9, 0))
	tk := New("", "x", sched, testNow)
	if err := tk.Validate(); err == nil {
		t.Fatal("Validate accepted empty id")
	}
	tk.ID = "t1"
	if err := tk.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	tk.Schedule.Time = recurrence.At(25, 0)
	if err := tk.Validate(); err == nil {
		t.Fatal("Validate accepted bad schedule")
	}
}
