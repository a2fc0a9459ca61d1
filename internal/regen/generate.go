package regen

import (
	"context"
	"errors"
	"sort"
	"time"

	"tickerd/internal/alarm"
	"tickerd/internal/eventbus"
	"tickerd/internal/recurrence"
	"tickerd/internal/ticker"
	logx "tickerd/pkg/logx"
)

type result struct {
	tornDown   bool
	degraded   bool
	registered int
	cancelled  int
	kept       int
	err        error
}

// slot is one desired registration before it is issued.
type slot struct {
	fireAt       time.Time
	repeating    bool
	hour, minute int
}

// regenerateOne rebuilds a single ticker's registrations, all or nothing:
// every Register is staged before any Cancel, and a failure rolls staged ids
// back so the ticker never loses its previous alarms to a bad refresh.
func (s *Service) regenerateOne(ctx context.Context, tk ticker.Ticker, now time.Time, cfg Config) result {
	start := time.Now()
	if !tk.Enabled {
		return s.teardownOne(ctx, tk, start)
	}

	strat := scaledStrategy(recurrence.StrategyFor(tk.Schedule), cfg.WindowScale)

	desired, degraded, err := s.desiredSlots(tk, now, cfg, strat)
	if err != nil {
		return s.failOne(ctx, tk, start, err)
	}

	keep, toRegister, toCancel := diffSlots(desired, tk.Generation.Registrations, now, s.cal.Location())

	// Stage all registers first.
	staged := make([]ticker.Registration, 0, len(toRegister))
	for _, sl := range toRegister {
		var id alarm.ID
		var rerr error
		if sl.repeating {
			rr := s.reg.(alarm.RepeatingRegistrar)
			id, rerr = rr.RegisterDaily(ctx, sl.hour, sl.minute)
		} else {
			id, rerr = s.reg.Register(ctx, sl.fireAt)
		}
		if rerr != nil {
			s.rollback(ctx, staged)
			return s.failOne(ctx, tk, start, rerr)
		}
		staged = append(staged, ticker.Registration{ID: id, FireAt: sl.fireAt, Repeating: sl.repeating})
	}

	// Cancels only after every register landed. ErrUnknownID means the alarm
	// already fired or is gone; that is a successful cancel.
	cancelled := 0
	for i, r := range toCancel {
		cerr := s.reg.Cancel(ctx, r.ID)
		if cerr != nil && !errors.Is(cerr, alarm.ErrUnknownID) {
			// Keep every id that might still be live: survivors of the old
			// set plus everything just staged.
			survivors := append(append([]ticker.Registration{}, keep...), toCancel[i:]...)
			survivors = append(survivors, staged...)
			sortRegistrations(survivors)
			tk.Generation.Registrations = survivors
			return s.failOne(ctx, tk, start, cerr)
		}
		cancelled++
	}

	// Commit.
	gen := tk.Generation
	gen.Registrations = append(append([]ticker.Registration{}, keep...), staged...)
	sortRegistrations(gen.Registrations)
	gen.LastRegeneratedAt = now
	gen.LastSuccess = true
	gen.LastError = ""
	gen.NextRegenerationAt = now.Add(strat.Window / 2)
	gen.Strategy = strat
	gen.Degraded = degraded
	tk.Generation = gen

	res := result{
		degraded:   degraded,
		registered: len(staged),
		cancelled:  cancelled,
		kept:       len(keep),
	}
	if err := s.store.Save(ctx, tk); err != nil {
		// Registrar state is already correct. Stash the record and retry the
		// save next pass; the instant diff will be empty, so no re-register.
		s.setPending(tk.ID, gen)
		s.log.Warn("regenerated but save failed, will retry persistence",
			logx.String("ticker", tk.ID), logx.Err(err))
		res.err = err
		s.publishOutcome("regen.failed", tk, res, start, err)
		return res
	}
	s.clearPending(tk.ID)

	evType := "regen.ok"
	if degraded {
		evType = "regen.degraded"
		s.log.Warn("occurrence cap reached, registered a truncated window",
			logx.String("ticker", tk.ID), logx.Int("registered", res.registered))
	}
	s.publishOutcome(evType, tk, res, start, nil)
	s.log.Info("ticker regenerated",
		logx.String("ticker", tk.ID),
		logx.Int("registered", res.registered),
		logx.Int("cancelled", res.cancelled),
		logx.Int("kept", res.kept),
		logx.Bool("degraded", degraded),
		logx.Duration("took", time.Since(start)))
	return res
}

// teardownOne cancels everything a disabled ticker still holds.
func (s *Service) teardownOne(ctx context.Context, tk ticker.Ticker, start time.Time) result {
	held := tk.Generation.Registrations
	cancelled := 0
	for i, r := range held {
		err := s.reg.Cancel(ctx, r.ID)
		if err != nil && !errors.Is(err, alarm.ErrUnknownID) {
			tk.Generation.Registrations = held[i:]
			return s.failOne(ctx, tk, start, err)
		}
		cancelled++
	}
	tk.Generation.Registrations = nil
	res := result{tornDown: true, cancelled: cancelled}
	if err := s.store.Save(ctx, tk); err != nil {
		s.setPending(tk.ID, tk.Generation)
		res.err = err
		s.publishOutcome("regen.failed", tk, res, start, err)
		return res
	}
	s.clearPending(tk.ID)
	if cancelled > 0 {
		s.log.Info("disabled ticker torn down",
			logx.String("ticker", tk.ID), logx.Int("cancelled", cancelled))
	}
	return res
}

// failOne records a failed attempt without touching anything else in the
// persisted record.
func (s *Service) failOne(ctx context.Context, tk ticker.Ticker, start time.Time, cause error) result {
	tk.Generation.LastSuccess = false
	tk.Generation.LastError = cause.Error()
	res := result{err: cause, kept: len(tk.Generation.Registrations)}
	if err := s.store.Save(ctx, tk); err != nil {
		s.setPending(tk.ID, tk.Generation)
		s.log.Warn("failed regeneration could not be persisted",
			logx.String("ticker", tk.ID), logx.Err(err))
	} else {
		s.clearPending(tk.ID)
	}
	s.publishOutcome("regen.failed", tk, res, start, cause)
	s.log.Warn("ticker regeneration failed",
		logx.String("ticker", tk.ID), logx.Err(cause))
	return res
}

// rollback cancels staged registrations after a mid-flight failure,
// best effort.
func (s *Service) rollback(ctx context.Context, staged []ticker.Registration) {
	for _, r := range staged {
		if err := s.reg.Cancel(ctx, r.ID); err != nil && !errors.Is(err, alarm.ErrUnknownID) {
			s.log.Warn("rollback cancel failed", logx.String("alarm", string(r.ID)), logx.Err(err))
		}
	}
}

func (s *Service) publishOutcome(evType string, tk ticker.Ticker, res result, start time.Time, cause error) {
	if s.bus == nil {
		return
	}
	ev := Event{
		TickerID:   tk.ID,
		Label:      tk.Label,
		Registered: res.registered,
		Cancelled:  res.cancelled,
		Kept:       res.kept,
		Active:     len(tk.Generation.Registrations),
		Took:       time.Since(start),
	}
	if cause != nil {
		ev.Error = cause.Error()
	}
	s.bus.Publish(eventbus.Event{Type: evType, Time: s.clock(), Data: ev})
}

// desiredSlots expands the schedule over the strategy window, applies the
// countdown lead and resolves past instants per config.
func (s *Service) desiredSlots(tk ticker.Ticker, now time.Time, cfg Config, strat recurrence.Strategy) ([]slot, bool, error) {
	lead := tk.Lead()

	// Native daily repeat: one slot instead of a window of one-times. Only
	// whole-minute leads fit the primitive's wall-clock resolution.
	if cfg.PreferNativeDaily && tk.Schedule.Kind == recurrence.KindDaily && lead%time.Minute == 0 {
		if _, ok := s.reg.(alarm.RepeatingRegistrar); ok {
			mins := tk.Schedule.Time.Minutes() - int(lead/time.Minute)
			mins = ((mins % 1440) + 1440) % 1440
			h, m := mins/60, mins%60
			return []slot{{
				fireAt:    nextDailyAt(now, h, m, s.cal.Location()),
				repeating: true,
				hour:      h,
				minute:    m,
			}}, false, nil
		}
	}

	win := recurrence.Window{Start: now, End: now.Add(strat.Window)}
	// A one-time beyond the window would otherwise register nothing and be
	// marked done. Stretch the window to reach it.
	if tk.Schedule.Kind == recurrence.KindOneTime && tk.Schedule.FireAt.After(win.End) {
		win.End = tk.Schedule.FireAt
	}

	occs, err := recurrence.Expand(tk.Schedule, win, s.cal)
	degraded := false
	if err != nil {
		var ex *recurrence.ExhaustionError
		if !errors.As(err, &ex) {
			return nil, false, err
		}
		degraded = true
	}

	out := make([]slot, 0, len(occs))
	past := 0
	for _, occ := range occs {
		at := occ.Add(-lead)
		if at.Before(now) {
			past++
			if cfg.PastLead == PastLeadDrop {
				continue
			}
			at = now.Add(cfg.PastLeadGrace).Truncate(time.Second)
		}
		out = append(out, slot{fireAt: at})
	}
	if past > 0 {
		s.log.Warn("countdown lead moved instants into the past",
			logx.String("ticker", tk.ID),
			logx.Int("count", past),
			logx.String("policy", string(cfg.PastLead)))
	}

	sort.Slice(out, func(i, j int) bool { return out[i].fireAt.Before(out[j].fireAt) })
	dedup := out[:0]
	for _, sl := range out {
		if len(dedup) > 0 && dedup[len(dedup)-1].fireAt.Equal(sl.fireAt) {
			continue
		}
		dedup = append(dedup, sl)
	}
	return dedup, degraded, nil
}

// diffSlots splits the desired set against the held one, matching by instant
// since alarm ids are opaque. Held instants already past are cancelled; a
// held repeating slot survives only if the desired set wants the same wall
// clock.
func diffSlots(desired []slot, held []ticker.Registration, now time.Time, loc *time.Location) (keep []ticker.Registration, toRegister []slot, toCancel []ticker.Registration) {
	wantInstant := make(map[int64]bool, len(desired))
	var wantRepeat *slot
	for i, sl := range desired {
		if sl.repeating {
			wantRepeat = &desired[i]
			continue
		}
		wantInstant[sl.fireAt.Unix()] = true
	}

	haveInstant := map[int64]bool{}
	haveRepeat := false
	for _, r := range held {
		if r.Repeating {
			if wantRepeat != nil && !haveRepeat && sameWallClock(r.FireAt, wantRepeat.hour, wantRepeat.minute, loc) {
				keep = append(keep, r)
				haveRepeat = true
				continue
			}
			toCancel = append(toCancel, r)
			continue
		}
		key := r.FireAt.Unix()
		if wantInstant[key] && !r.FireAt.Before(now) && !haveInstant[key] {
			keep = append(keep, r)
			haveInstant[key] = true
			continue
		}
		toCancel = append(toCancel, r)
	}

	for _, sl := range desired {
		if sl.repeating {
			if !haveRepeat {
				toRegister = append(toRegister, sl)
			}
			continue
		}
		if !haveInstant[sl.fireAt.Unix()] {
			toRegister = append(toRegister, sl)
		}
	}
	return keep, toRegister, toCancel
}

func sameWallClock(at time.Time, hour, minute int, loc *time.Location) bool {
	lt := at.In(loc)
	return lt.Hour() == hour && lt.Minute() == minute
}

// nextDailyAt is the first h:m wall-clock instant after now.
func nextDailyAt(now time.Time, hour, minute int, loc *time.Location) time.Time {
	n := now.In(loc)
	at := time.Date(n.Year(), n.Month(), n.Day(), hour, minute, 0, 0, loc)
	if !at.After(now) {
		at = time.Date(n.Year(), n.Month(), n.Day()+1, hour, minute, 0, 0, loc)
	}
	return at
}

func sortRegistrations(rs []ticker.Registration) {
	sort.Slice(rs, func(i, j int) bool { return rs[i].FireAt.Before(rs[j].FireAt) })
}

func scaledStrategy(st recurrence.Strategy, scale float64) recurrence.Strategy {
	if scale == 1 || scale <= 0 {
		return st
	}
	st.Window = clampDur(time.Duration(float64(st.Window)*scale), time.Hour)
	st.RefreshAfter = clampDur(time.Duration(float64(st.RefreshAfter)*scale), 15*time.Minute)
	return st
}

func clampDur(d, min time.Duration) time.Duration {
	if d < min {
		return min
	}
	return d
}
