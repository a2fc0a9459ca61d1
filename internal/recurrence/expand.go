package recurrence

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// MaxOccurrences caps one expansion. Runaway rules (a one-minute interval
// over a year-long window) truncate here instead of flooding the registrar.
const MaxOccurrences = 10_000

var ErrInvalidWindow = errors.New("recurrence: window end before start")

// ExhaustionError reports a truncated expansion. The instants returned
// alongside it are valid and ordered; only the tail is missing.
type ExhaustionError struct {
	Cap      int
	Produced int
}

func (e *ExhaustionError) Error() string {
	return fmt.Sprintf("recurrence: expansion truncated at %d instants", e.Cap)
}

// Expand lists every instant of s inside w, ascending and deduplicated.
// Both window bounds are inclusive.
//
// Day-based kinds materialize candidates with civil-field construction in the
// calendar zone, so a 07:30 daily stays 07:30 across DST transitions. Hourly
// and minute intervals step the time axis by exact durations; day and week
// intervals step civil days, keeping the wall-clock time stable.
//
// The caller is expected to pass a validated schedule; an unknown kind is the
// only input error besides ErrInvalidWindow.
func Expand(s Schedule, w Window, cal Calendar) ([]time.Time, error) {
	if !w.IsValid() {
		return nil, ErrInvalidWindow
	}

	e := &expansion{cal: cal, window: w}

	switch s.Kind {
	case KindOneTime:
		if w.Contains(s.FireAt) {
			e.emit(s.FireAt)
		}

	case KindDaily:
		e.walkDays(s.Time, func(civil) bool { return true })

	case KindWeekdays:
		e.walkDays(s.Time, func(c civil) bool { return s.Days.Has(c.weekday()) })

	case KindBiweekly:
		anchorWeek := weekStart(civilOf(s.Anchor.In(cal.Location())))
		e.walkDays(s.Time, func(c civil) bool {
			if !s.Days.Has(c.weekday()) {
				return false
			}
			return mod2((weekStart(c)-anchorWeek)/7) == 0
		})

	case KindMonthly:
		e.walkMonths(s)

	case KindYearly:
		e.walkYears(s)

	case KindHourly:
		e.walkSeries(s.Start, s.Until, s.Every, UnitHours)

	case KindInterval:
		e.walkSeries(s.Start, s.Until, s.Every, s.Unit)

	default:
		return nil, invalid("kind", "unknown kind %q", s.Kind)
	}

	out := normalize(e.out)
	if e.exhausted {
		return out, &ExhaustionError{Cap: MaxOccurrences, Produced: len(out)}
	}
	return out, nil
}

// Next returns the first instant of s strictly after the given time, looking
// ahead far enough to cover the longest legal gap (Feb 29 around a skipped
// century leap year).
func Next(s Schedule, after time.Time, cal Calendar) (time.Time, bool) {
	switch s.Kind {
	case KindOneTime:
		if s.FireAt.After(after) {
			return s.FireAt, true
		}
		return time.Time{}, false
	case KindHourly, KindInterval:
		// A series that has not started yet begins exactly at Start.
		if s.Start.After(after) && (s.Until.IsZero() || !s.Start.After(s.Until)) {
			return s.Start, true
		}
	}

	const day = 24 * time.Hour
	for _, lookahead := range []time.Duration{32 * day, 367 * day, 8 * 366 * day} {
		w := Window{Start: after.Add(time.Nanosecond), End: after.Add(lookahead)}
		ts, err := Expand(s, w, cal)
		if len(ts) > 0 {
			return ts[0], true
		}
		if err != nil {
			var ex *ExhaustionError
			if !errors.As(err, &ex) {
				return time.Time{}, false
			}
		}
	}
	return time.Time{}, false
}

type expansion struct {
	cal       Calendar
	window    Window
	out       []time.Time
	exhausted bool
}

// emit appends t; false means the cap is hit and the walk must stop.
func (e *expansion) emit(t time.Time) bool {
	if e.exhausted {
		return false
	}
	if len(e.out) >= MaxOccurrences {
		e.exhausted = true
		return false
	}
	e.out = append(e.out, t)
	return true
}

// walkDays visits every civil day the window touches and emits the days
// passing keep at the schedule's wall-clock time.
func (e *expansion) walkDays(tod TimeOfDay, keep func(civil) bool) {
	loc := e.cal.Location()
	c := civilOf(e.window.Start.In(loc))
	last := civilOf(e.window.End.In(loc)).dayNumber()
	for c.dayNumber() <= last {
		if keep(c) {
			t := e.cal.At(c.y, c.m, c.d, tod)
			if e.window.Contains(t) && !e.emit(t) {
				return
			}
		}
		c = c.addDays(1)
	}
}

func (e *expansion) walkMonths(s Schedule) {
	loc := e.cal.Location()
	y, m, _ := e.window.Start.In(loc).Date()
	endY, endM, _ := e.window.End.In(loc).Date()
	for y < endY || (y == endY && m <= endM) {
		if day, ok := resolveMonthly(s.Monthly, y, m, e.cal); ok {
			t := e.cal.At(y, m, day, s.Time)
			if e.window.Contains(t) && !e.emit(t) {
				return
			}
		}
		if m == time.December {
			y, m = y+1, time.January
		} else {
			m++
		}
	}
}

// resolveMonthly picks the rule's day within y/m, or false when the month has
// no such day (a short month for MonthlyOnDay — skipped, never clamped).
func resolveMonthly(r MonthlyRule, y int, m time.Month, cal Calendar) (int, bool) {
	days := cal.DaysIn(y, m)
	switch r.Kind {
	case MonthlyOnDay:
		if r.Day > days {
			return 0, false
		}
		return r.Day, true
	case MonthlyFirstDay:
		return 1, true
	case MonthlyLastDay:
		return days, true
	case MonthlyFirstWeekday:
		off := int(r.Weekday - civil{y, m, 1}.weekday())
		if off < 0 {
			off += 7
		}
		return 1 + off, true
	case MonthlyLastWeekday:
		off := int(civil{y, m, days}.weekday() - r.Weekday)
		if off < 0 {
			off += 7
		}
		return days - off, true
	default:
		return 0, false
	}
}

func (e *expansion) walkYears(s Schedule) {
	loc := e.cal.Location()
	y, _, _ := e.window.Start.In(loc).Date()
	endY, _, _ := e.window.End.In(loc).Date()
	for ; y <= endY; y++ {
		// Feb 29 exists only in leap years; skip, never shift.
		if s.Day > e.cal.DaysIn(y, s.Month) {
			continue
		}
		t := e.cal.At(y, s.Month, s.Day, s.Time)
		if e.window.Contains(t) && !e.emit(t) {
			return
		}
	}
}

func (e *expansion) walkSeries(start, until time.Time, every int, unit IntervalUnit) {
	if every < 1 {
		return
	}
	loc := e.cal.Location()
	cursor := start.In(loc)

	limit := e.window.End
	if !until.IsZero() && until.Before(limit) {
		limit = until
	}

	switch unit {
	case UnitMinutes, UnitHours:
		step := time.Duration(every) * time.Minute
		if unit == UnitHours {
			step = time.Duration(every) * time.Hour
		}
		// Constant steps on the time axis: jump near the window start instead
		// of walking years of history one step at a time.
		if cursor.Before(e.window.Start) {
			cursor = cursor.Add(e.window.Start.Sub(cursor).Truncate(step))
			for cursor.Before(e.window.Start) {
				cursor = cursor.Add(step)
			}
		}
		for !cursor.After(limit) {
			if !e.emit(cursor) {
				return
			}
			cursor = cursor.Add(step)
		}

	case UnitDays, UnitWeeks:
		stepDays := every
		if unit == UnitWeeks {
			stepDays = every * 7
		}
		if cursor.Before(e.window.Start) {
			behind := civilOf(e.window.Start.In(loc)).dayNumber() - civilOf(cursor).dayNumber()
			if k := behind / stepDays; k > 1 {
				cursor = cursor.AddDate(0, 0, (k-1)*stepDays)
			}
			for cursor.Before(e.window.Start) {
				cursor = cursor.AddDate(0, 0, stepDays)
			}
		}
		for !cursor.After(limit) {
			if !e.emit(cursor) {
				return
			}
			cursor = cursor.AddDate(0, 0, stepDays)
		}
	}
}

// normalize sorts ascending and drops duplicate instants.
func normalize(out []time.Time) []time.Time {
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	dst := out[:0]
	for _, t := range out {
		if len(dst) > 0 && t.Equal(dst[len(dst)-1]) {
			continue
		}
		dst = append(dst, t)
	}
	return dst
}

// ---- civil-date arithmetic (zone independent) ----

type civil struct {
	y int
	m time.Month
	d int
}

func civilOf(t time.Time) civil {
	y, m, d := t.Date()
	return civil{y, m, d}
}

// dayNumber is days since the Unix epoch. Midnight UTC is always a whole
// multiple of 86400, so the division is exact for any year.
func (c civil) dayNumber() int {
	return int(time.Date(c.y, c.m, c.d, 0, 0, 0, 0, time.UTC).Unix() / 86400)
}

func (c civil) weekday() time.Weekday {
	return time.Date(c.y, c.m, c.d, 12, 0, 0, 0, time.UTC).Weekday()
}

func (c civil) addDays(n int) civil {
	return civilOf(time.Date(c.y, c.m, c.d+n, 12, 0, 0, 0, time.UTC))
}

// weekStart returns the day number of the Monday opening c's week.
func weekStart(c civil) int {
	return c.dayNumber() - (int(c.weekday())+6)%7
}

func mod2(n int) int { return ((n % 2) + 2) % 2 }
