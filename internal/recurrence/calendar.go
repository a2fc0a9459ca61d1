package recurrence

import (
	"time"
)

// Calendar supplies the clock and zone all expansion math runs in.
//
// The zero value uses time.Local and the wall clock; tests inject a fixed
// location and a frozen now.
type Calendar struct {
	loc *time.Location
	now func() time.Time
}

func NewCalendar(loc *time.Location) Calendar {
	return Calendar{loc: loc}
}

// NewCalendarAt pins the clock. now is called on every Now().
func NewCalendarAt(loc *time.Location, now func() time.Time) Calendar {
	return Calendar{loc: loc, now: now}
}

func (c Calendar) Location() *time.Location {
	if c.loc == nil {
		return time.Local
	}
	return c.loc
}

func (c Calendar) Now() time.Time {
	if c.now == nil {
		return time.Now().In(c.Location())
	}
	return c.now().In(c.Location())
}

// DaysIn returns the number of days in a month.
func (c Calendar) DaysIn(year int, m time.Month) int {
	return time.Date(year, m+1, 0, 0, 0, 0, 0, c.Location()).Day()
}

// At materializes a civil date + wall time in the calendar zone.
// Times inside a DST gap resolve to the normalized instant after the jump.
func (c Calendar) At(year int, m time.Month, day int, tod TimeOfDay) time.Time {
	return time.Date(year, m, day, tod.Hour, tod.Minute, 0, 0, c.Location())
}

// Window is an inclusive instant range: Start <= t <= End both count.
type Window struct {
	Start time.Time
	End   time.Time
}

// Span builds a window; callers are expected to pass Start <= End.
func Span(start, end time.Time) Window { return Window{Start: start, End: end} }

// From builds the forward-looking window used for alarm generation.
func From(start time.Time, length time.Duration) Window {
	return Window{Start: start, End: start.Add(length)}
}

func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

func (w Window) Duration() time.Duration { return w.End.Sub(w.Start) }

func (w Window) IsValid() bool { return !w.End.Before(w.Start) }
