package ics

import (
	"fmt"
	"io"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"
	"github.com/teambition/rrule-go"

	"tickerd/internal/recurrence"
	"tickerd/internal/ticker"
	logx "tickerd/pkg/logx"
)

// Options controls an import run.
type Options struct {
	// Calendar supplies now and the zone schedules are anchored in.
	Calendar recurrence.Calendar

	// Horizon bounds fallback expansion of unmappable RRULEs. Default 90 days.
	Horizon time.Duration

	// MaxFallback caps one-time tickers minted from a single unmappable
	// RRULE. Default 25.
	MaxFallback int

	Log logx.Logger
}

// Report says what happened to every UID in the payload.
type Report struct {
	// Mapped UIDs became a single native-schedule ticker.
	Mapped []string `json:"mapped,omitempty"`
	// Expanded UIDs went through the rrule fallback; the count per UID is
	// the number of minted one-time tickers.
	Expanded map[string]int `json:"expanded,omitempty"`
	// Truncated UIDs hit MaxFallback.
	Truncated []string `json:"truncated,omitempty"`
	// Skipped UIDs produced nothing (no DTSTART, already past, bad RRULE).
	Skipped map[string]string `json:"skipped,omitempty"`

	Tickers int `json:"tickers"`
}

func (o Options) withDefaults() Options {
	if o.Horizon <= 0 {
		o.Horizon = 90 * 24 * time.Hour
	}
	if o.MaxFallback <= 0 {
		o.MaxFallback = 25
	}
	if o.Log.IsZero() {
		o.Log = logx.Nop()
	}
	return o
}

// Import parses one ICS payload and returns the tickers it maps to. A parse
// failure of the whole calendar is an error; per-event problems land in the
// report and the rest of the payload still imports.
func Import(r io.Reader, opts Options) ([]ticker.Ticker, Report, error) {
	opts = opts.withDefaults()
	rep := Report{Expanded: map[string]int{}, Skipped: map[string]string{}}

	cal, err := ical.ParseCalendar(r)
	if err != nil {
		return nil, rep, fmt.Errorf("ics: parse: %w", err)
	}

	now := opts.Calendar.Now()
	var out []ticker.Ticker

	for _, ve := range cal.Events() {
		uid := propValue(ve, ical.ComponentPropertyUniqueId)
		if uid == "" {
			uid = uuid.NewString()
		}
		label := propValue(ve, ical.ComponentPropertySummary)
		if label == "" {
			label = uid
		}

		start, err := ve.GetStartAt()
		if err != nil || start.IsZero() {
			rep.Skipped[uid] = "no DTSTART"
			continue
		}
		start = start.In(opts.Calendar.Location())

		raw := propValue(ve, ical.ComponentPropertyRrule)
		if raw == "" {
			if start.Before(now) {
				rep.Skipped[uid] = "one-time event already past"
				continue
			}
			out = append(out, ticker.New(uuid.NewString(), label, recurrence.OneTime(start), now))
			rep.Mapped = append(rep.Mapped, uid)
			continue
		}

		if s, ok := mapRRule(raw, start, opts.Calendar); ok {
			out = append(out, ticker.New(uuid.NewString(), label, s, now))
			rep.Mapped = append(rep.Mapped, uid)
			continue
		}

		minted, truncated, err := expandFallback(raw, start, label, now, opts)
		if err != nil {
			rep.Skipped[uid] = err.Error()
			opts.Log.Warn("ics rrule rejected", logx.String("uid", uid), logx.Err(err))
			continue
		}
		if len(minted) == 0 {
			rep.Skipped[uid] = "no occurrences inside horizon"
			continue
		}
		out = append(out, minted...)
		rep.Expanded[uid] = len(minted)
		if truncated {
			rep.Truncated = append(rep.Truncated, uid)
		}
	}

	rep.Tickers = len(out)
	opts.Log.Info("ics import finished",
		logx.Int("tickers", rep.Tickers),
		logx.Int("mapped", len(rep.Mapped)),
		logx.Int("expanded", len(rep.Expanded)),
		logx.Int("skipped", len(rep.Skipped)))
	return out, rep, nil
}

func propValue(ve *ical.VEvent, p ical.ComponentProperty) string {
	if prop := ve.GetProperty(p); prop != nil {
		return strings.TrimSpace(prop.Value)
	}
	return ""
}

// mapRRule translates the simple shapes onto native schedule kinds. COUNT and
// UNTIL have no native equivalent for the day-based kinds, so those fall
// through to the fallback expander.
func mapRRule(raw string, start time.Time, cal recurrence.Calendar) (recurrence.Schedule, bool) {
	opt, err := rrule.StrToROption(raw)
	if err != nil {
		return recurrence.Schedule{}, false
	}

	interval := opt.Interval
	if interval <= 0 {
		interval = 1
	}
	tod := recurrence.At(start.Hour(), start.Minute())
	bounded := opt.Count > 0 || !opt.Until.IsZero()

	switch opt.Freq {
	case rrule.MINUTELY:
		until := opt.Until
		if !until.IsZero() {
			until = until.In(cal.Location())
		}
		if opt.Count > 0 {
			return recurrence.Schedule{}, false
		}
		return recurrence.Interval(interval, recurrence.UnitMinutes, start, until), true

	case rrule.HOURLY:
		until := opt.Until
		if !until.IsZero() {
			until = until.In(cal.Location())
		}
		if opt.Count > 0 {
			return recurrence.Schedule{}, false
		}
		return recurrence.Hourly(interval, start, until), true

	case rrule.DAILY:
		if bounded || interval != 1 {
			return recurrence.Schedule{}, false
		}
		return recurrence.Daily(tod), true

	case rrule.WEEKLY:
		if bounded || (interval != 1 && interval != 2) {
			return recurrence.Schedule{}, false
		}
		days := weekdaySet(opt.Byweekday, start)
		if interval == 2 {
			return recurrence.Biweekly(days, tod, start), true
		}
		return recurrence.OnWeekdays(days, tod), true

	case rrule.MONTHLY:
		if bounded || interval != 1 || len(opt.Byweekday) > 0 {
			return recurrence.Schedule{}, false
		}
		day := start.Day()
		if len(opt.Bymonthday) == 1 && opt.Bymonthday[0] > 0 {
			day = opt.Bymonthday[0]
		} else if len(opt.Bymonthday) > 1 || (len(opt.Bymonthday) == 1 && opt.Bymonthday[0] < 0) {
			// Negative offsets and day lists have no native rule.
			return recurrence.Schedule{}, false
		}
		return recurrence.Monthly(recurrence.OnDay(day), tod), true

	case rrule.YEARLY:
		if bounded || interval != 1 || len(opt.Byweekday) > 0 || len(opt.Bymonth) > 1 || len(opt.Bymonthday) > 1 {
			return recurrence.Schedule{}, false
		}
		month := start.Month()
		day := start.Day()
		if len(opt.Bymonth) == 1 {
			month = time.Month(opt.Bymonth[0])
		}
		if len(opt.Bymonthday) == 1 && opt.Bymonthday[0] > 0 {
			day = opt.Bymonthday[0]
		}
		return recurrence.Yearly(month, day, tod), true
	}

	return recurrence.Schedule{}, false
}

// weekdaySet converts rrule BYDAY (Monday = 0) to a WeekdaySet; with no BYDAY
// the event's start weekday stands in.
func weekdaySet(days []rrule.Weekday, start time.Time) recurrence.WeekdaySet {
	if len(days) == 0 {
		return recurrence.Weekdays(start.Weekday())
	}
	var set recurrence.WeekdaySet
	for _, d := range days {
		set = set.With(time.Weekday((d.Day() + 1) % 7))
	}
	return set
}

// expandFallback materializes an unmappable rule into one-time tickers
// inside [now, now+horizon].
func expandFallback(raw string, start time.Time, label string, now time.Time, opts Options) ([]ticker.Ticker, bool, error) {
	r, err := rrule.StrToRRule(raw)
	if err != nil {
		return nil, false, fmt.Errorf("ics: rrule: %w", err)
	}
	r.DTStart(start)

	from := now
	if start.After(now) {
		from = start
	}
	times := r.Between(from, now.Add(opts.Horizon), true)
	truncated := false
	if len(times) > opts.MaxFallback {
		times = times[:opts.MaxFallback]
		truncated = true
	}

	out := make([]ticker.Ticker, 0, len(times))
	for i, at := range times {
		lbl := label
		if len(times) > 1 {
			lbl = fmt.Sprintf("%s (%d/%d)", label, i+1, len(times))
		}
		out = append(out, ticker.New(uuid.NewString(), lbl, recurrence.OneTime(at.In(opts.Calendar.Location())), now))
	}
	return out, truncated, nil
}
