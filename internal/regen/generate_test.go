package regen

import (
	"context"
	"fmt"
	"testing"
	"time"

	"tickerd/internal/alarm"
	"tickerd/internal/recurrence"
	"tickerd/internal/storage"
	"tickerd/internal/ticker"
)

type repeatingFake struct {
	*fakeRegistrar
	dailyCalls int
}

func (f *repeatingFake) RegisterDaily(_ context.Context, hour, minute int) (alarm.ID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dailyCalls++
	f.seq++
	id := alarm.ID(fmt.Sprintf("daily-%d", f.seq))
	f.active[id] = time.Date(2024, time.June, 11, hour, minute, 0, 0, time.UTC)
	return id, nil
}

func TestPastLeadPolicies(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		policy    PastLeadPolicy
		wantRegs  int
		wantFirst time.Time
	}{
		// Lead 26h shifts the Jun 11 09:00 occurrence to Jun 10 07:00,
		// five hours behind now.
		{"clamp", PastLeadClamp, 7, regenNow.Add(30 * time.Second)},
		{"drop", PastLeadDrop, 6, time.Date(2024, time.June, 11, 7, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(string(tt.policy), func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			reg := newFakeRegistrar()
			st := storage.NewMemory()
			clk := newTestClock(regenNow)
			svc := newTestService(reg, st, clk, nil, func(c *Config) { c.PastLead = tt.policy })

			tk := dailyTicker("d1")
			tk.Countdown = &ticker.Countdown{Lead: 26 * time.Hour}
			mustSave(t, st, tk)

			if _, err := svc.RunPass(ctx); err != nil {
				t.Fatalf("RunPass: %v", err)
			}
			got := mustGet(t, st, "d1")
			regs := got.Generation.Registrations
			if len(regs) != tt.wantRegs {
				t.Fatalf("registrations = %d, want %d", len(regs), tt.wantRegs)
			}
			if !regs[0].FireAt.Equal(tt.wantFirst) {
				t.Fatalf("first FireAt = %v, want %v", regs[0].FireAt, tt.wantFirst)
			}
		})
	}
}

func TestNativeDailyRepeat(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	reg := &repeatingFake{fakeRegistrar: newFakeRegistrar()}
	st := storage.NewMemory()
	clk := newTestClock(regenNow)
	svc := newTestService(reg, st, clk, nil, func(c *Config) { c.PreferNativeDaily = true })

	mustSave(t, st, dailyTicker("d1"))
	if _, err := svc.RunPass(ctx); err != nil {
		t.Fatalf("RunPass: %v", err)
	}

	got := mustGet(t, st, "d1")
	regs := got.Generation.Registrations
	if len(regs) != 1 || !regs[0].Repeating {
		t.Fatalf("registrations = %+v, want one repeating", regs)
	}
	if !regs[0].FireAt.Equal(time.Date(2024, time.June, 11, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("FireAt = %v", regs[0].FireAt)
	}
	if reg.dailyCalls != 1 {
		t.Fatalf("dailyCalls = %d, want 1", reg.dailyCalls)
	}

	// A later pass keeps the slot: same wall clock, zero calls.
	clk.Advance(4 * 24 * time.Hour)
	if _, err := svc.RunPass(ctx); err != nil {
		t.Fatalf("second RunPass: %v", err)
	}
	if reg.dailyCalls != 1 {
		t.Fatalf("dailyCalls after refresh = %d, want 1", reg.dailyCalls)
	}
	if reg.activeCount() != 1 {
		t.Fatalf("active = %d, want 1", reg.activeCount())
	}

	// Changing the time swaps the slot.
	tk := mustGet(t, st, "d1")
	tk.Schedule.Time = recurrence.At(10, 30)
	tk.Generation.MarkDirty()
	mustSave(t, st, tk)
	if err := svc.Kick(ctx, "d1"); err != nil {
		t.Fatalf("Kick: %v", err)
	}
	if reg.dailyCalls != 2 {
		t.Fatalf("dailyCalls after edit = %d, want 2", reg.dailyCalls)
	}
	if reg.activeCount() != 1 {
		t.Fatalf("active after edit = %d, want 1", reg.activeCount())
	}
	got = mustGet(t, st, "d1")
	if hr := got.Generation.Registrations[0].FireAt.Hour(); hr != 10 {
		t.Fatalf("new slot hour = %d, want 10", hr)
	}
}

func TestExhaustionMarksDegraded(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	reg := newFakeRegistrar()
	st := storage.NewMemory()
	clk := newTestClock(regenNow)
	svc := newTestService(reg, st, clk, nil, func(c *Config) { c.WindowScale = 10 })

	// Every minute over a 240h scaled window wants >14k instants; the
	// expander caps at 10k and the truncated set still registers.
	tk := ticker.New("m1", "pager", recurrence.Interval(1, recurrence.UnitMinutes, regenNow.Add(-time.Hour), time.Time{}), regenNow.Add(-time.Hour))
	mustSave(t, st, tk)

	stats, err := svc.RunPass(ctx)
	if err != nil {
		t.Fatalf("RunPass: %v", err)
	}
	if stats.OK != 1 || stats.Degraded != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	got := mustGet(t, st, "m1")
	if !got.Generation.Degraded || !got.Generation.LastSuccess {
		t.Fatalf("generation = degraded:%v success:%v", got.Generation.Degraded, got.Generation.LastSuccess)
	}
	if n := len(got.Generation.Registrations); n != recurrence.MaxOccurrences {
		t.Fatalf("registrations = %d, want %d", n, recurrence.MaxOccurrences)
	}
}

func TestDiffSlots(t *testing.T) {
	t.Parallel()

	at := func(h int) time.Time { return regenNow.Add(time.Duration(h) * time.Hour) }
	heldReg := func(id string, t time.Time) ticker.Registration {
		return ticker.Registration{ID: alarm.ID(id), FireAt: t}
	}

	desired := []slot{{fireAt: at(2)}, {fireAt: at(4)}, {fireAt: at(6)}}
	held := []ticker.Registration{
		heldReg("past", at(-1)), // behind now: cancel even though untracked by desired
		heldReg("keep1", at(2)),
		heldReg("gone", at(3)), // fell out of the desired set
		heldReg("keep2", at(4)),
	}

	keep, toRegister, toCancel := diffSlots(desired, held, regenNow, time.UTC)

	if len(keep) != 2 || keep[0].ID != "keep1" || keep[1].ID != "keep2" {
		t.Fatalf("keep = %+v", keep)
	}
	if len(toRegister) != 1 || !toRegister[0].fireAt.Equal(at(6)) {
		t.Fatalf("toRegister = %+v", toRegister)
	}
	if len(toCancel) != 2 || toCancel[0].ID != "past" || toCancel[1].ID != "gone" {
		t.Fatalf("toCancel = %+v", toCancel)
	}
}

func TestDiffSlotsRepeating(t *testing.T) {
	t.Parallel()

	nine := time.Date(2024, time.June, 11, 9, 0, 0, 0, time.UTC)
	desired := []slot{{fireAt: nine, repeating: true, hour: 9, minute: 0}}
	held := []ticker.Registration{{ID: "slot", FireAt: nine, Repeating: true}}

	keep, toRegister, toCancel := diffSlots(desired, held, regenNow, time.UTC)
	if len(keep) != 1 || len(toRegister) != 0 || len(toCancel) != 0 {
		t.Fatalf("unchanged slot: keep=%d register=%d cancel=%d", len(keep), len(toRegister), len(toCancel))
	}

	// Wall clock moved: the held slot goes, a new one comes.
	desired[0].hour = 10
	keep, toRegister, toCancel = diffSlots(desired, held, regenNow, time.UTC)
	if len(keep) != 0 || len(toRegister) != 1 || len(toCancel) != 1 {
		t.Fatalf("moved slot: keep=%d register=%d cancel=%d", len(keep), len(toRegister), len(toCancel))
	}
}

func TestNextDailyAt(t *testing.T) {
	t.Parallel()

	// 12:00 now: today's 15:00 is ahead, today's 09:00 is behind.
	got := nextDailyAt(regenNow, 15, 0, time.UTC)
	if !got.Equal(time.Date(2024, time.June, 10, 15, 0, 0, 0, time.UTC)) {
		t.Fatalf("ahead = %v", got)
	}
	got = nextDailyAt(regenNow, 9, 0, time.UTC)
	if !got.Equal(time.Date(2024, time.June, 11, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("behind = %v", got)
	}
}

func TestApplyRestartsTrigger(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	reg := newFakeRegistrar()
	st := storage.NewMemory()
	clk := newTestClock(regenNow)
	svc := newTestService(reg, st, clk, nil, func(c *Config) { c.Pass.Schedule = "@every 1h" })

	svc.Start(ctx)
	defer svc.Stop(ctx)

	cfg := Config{Enabled: true}
	cfg.Pass.Schedule = "@every 30m"
	svc.Apply(cfg)

	snap := svc.Snapshot()
	if !snap.Running || snap.PassSchedule != "@every 30m" {
		t.Fatalf("snapshot after apply = %+v", snap)
	}
}
