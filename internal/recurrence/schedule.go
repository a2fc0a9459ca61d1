package recurrence

import (
	"fmt"
	"strings"
	"time"
)

// Kind discriminates the closed set of schedule variants.
type Kind string

const (
	KindOneTime  Kind = "one_time"
	KindDaily    Kind = "daily"
	KindHourly   Kind = "hourly"
	KindInterval Kind = "interval"
	KindWeekdays Kind = "weekdays"
	KindBiweekly Kind = "biweekly"
	KindMonthly  Kind = "monthly"
	KindYearly   Kind = "yearly"
)

// IntervalUnit is the step unit for KindInterval schedules.
type IntervalUnit string

const (
	UnitMinutes IntervalUnit = "minutes"
	UnitHours   IntervalUnit = "hours"
	UnitDays    IntervalUnit = "days"
	UnitWeeks   IntervalUnit = "weeks"
)

// TimeOfDay is a wall-clock time without a date or zone.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// At builds a TimeOfDay. Values are validated by Schedule.Validate, not here.
func At(hour, minute int) TimeOfDay { return TimeOfDay{Hour: hour, Minute: minute} }

func (t TimeOfDay) String() string { return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute) }

// Minutes returns minutes since midnight.
func (t TimeOfDay) Minutes() int { return t.Hour*60 + t.Minute }

// WeekdaySet is a bitmask of time.Weekday values (bit 0 = Sunday).
type WeekdaySet uint8

// Weekdays builds a set from the given days.
func Weekdays(days ...time.Weekday) WeekdaySet {
	var s WeekdaySet
	for _, d := range days {
		s = s.With(d)
	}
	return s
}

func (s WeekdaySet) With(d time.Weekday) WeekdaySet { return s | 1<<uint(d%7) }

func (s WeekdaySet) Has(d time.Weekday) bool { return s&(1<<uint(d%7)) != 0 }

func (s WeekdaySet) Count() int {
	n := 0
	for d := time.Sunday; d <= time.Saturday; d++ {
		if s.Has(d) {
			n++
		}
	}
	return n
}

// List returns the member days in Sunday..Saturday order.
func (s WeekdaySet) List() []time.Weekday {
	out := make([]time.Weekday, 0, 7)
	for d := time.Sunday; d <= time.Saturday; d++ {
		if s.Has(d) {
			out = append(out, d)
		}
	}
	return out
}

func (s WeekdaySet) String() string {
	if s == 0 {
		return "none"
	}
	parts := make([]string, 0, 7)
	for _, d := range s.List() {
		parts = append(parts, strings.ToLower(d.String())[:3])
	}
	return strings.Join(parts, ",")
}

// MonthlyKind selects how KindMonthly resolves a day within each month.
type MonthlyKind string

const (
	MonthlyOnDay        MonthlyKind = "day_of_month"
	MonthlyFirstWeekday MonthlyKind = "first_weekday"
	MonthlyLastWeekday  MonthlyKind = "last_weekday"
	MonthlyFirstDay     MonthlyKind = "first_day"
	MonthlyLastDay      MonthlyKind = "last_day"
)

// MonthlyRule picks one day per month.
//
// MonthlyOnDay skips months that are too short (no clamping: "on the 31st"
// never fires in April).
type MonthlyRule struct {
	Kind    MonthlyKind
	Day     int          // MonthlyOnDay: 1..31
	Weekday time.Weekday // MonthlyFirstWeekday / MonthlyLastWeekday
}

func OnDay(day int) MonthlyRule { return MonthlyRule{Kind: MonthlyOnDay, Day: day} }

func FirstWeekday(d time.Weekday) MonthlyRule {
	return MonthlyRule{Kind: MonthlyFirstWeekday, Weekday: d}
}

func LastWeekday(d time.Weekday) MonthlyRule {
	return MonthlyRule{Kind: MonthlyLastWeekday, Weekday: d}
}

func FirstDay() MonthlyRule { return MonthlyRule{Kind: MonthlyFirstDay} }

func LastDay() MonthlyRule { return MonthlyRule{Kind: MonthlyLastDay} }

func (r MonthlyRule) String() string {
	switch r.Kind {
	case MonthlyOnDay:
		return fmt.Sprintf("day %d", r.Day)
	case MonthlyFirstWeekday:
		return "first " + strings.ToLower(r.Weekday.String())
	case MonthlyLastWeekday:
		return "last " + strings.ToLower(r.Weekday.String())
	case MonthlyFirstDay:
		return "first day"
	case MonthlyLastDay:
		return "last day"
	default:
		return string(r.Kind)
	}
}

// Schedule is one recurrence rule. Exactly one Kind is set; the other fields
// are meaningful only for the kinds noted on each field.
//
// Schedules are plain comparable values. Use Equal for time-aware comparison
// (time.Time operands compare by instant, not by location).
type Schedule struct {
	Kind Kind `json:"kind"`

	// KindOneTime: the single fire instant.
	FireAt time.Time `json:"fire_at"`

	// Wall-clock time for the day-based kinds
	// (daily, weekdays, biweekly, monthly, yearly).
	Time TimeOfDay `json:"time"`

	// KindHourly: step in hours. KindInterval: step count in Unit.
	Every int          `json:"every,omitempty"`
	Unit  IntervalUnit `json:"unit,omitempty"`

	// KindHourly / KindInterval: series start and optional hard stop
	// (zero Until means the series has no end).
	Start time.Time `json:"start"`
	Until time.Time `json:"until"`

	// KindWeekdays / KindBiweekly: eligible days.
	Days WeekdaySet `json:"days,omitempty"`

	// KindBiweekly: any date inside a week considered "week zero".
	// Week parity is computed from Monday-aligned weeks relative to it.
	Anchor time.Time `json:"anchor"`

	// KindMonthly.
	Monthly MonthlyRule `json:"monthly"`

	// KindYearly.
	Month time.Month `json:"month,omitempty"`
	Day   int        `json:"day,omitempty"`
}

// OneTime fires exactly once at the given instant.
func OneTime(at time.Time) Schedule { return Schedule{Kind: KindOneTime, FireAt: at} }

// Daily fires every day at the given wall-clock time.
func Daily(at TimeOfDay) Schedule { return Schedule{Kind: KindDaily, Time: at} }

// Hourly fires every `every` hours starting at start. A zero until means no end.
func Hourly(every int, start, until time.Time) Schedule {
	return Schedule{Kind: KindHourly, Every: every, Start: start, Until: until}
}

// Interval fires every `every` units starting at start. A zero until means no end.
func Interval(every int, unit IntervalUnit, start, until time.Time) Schedule {
	return Schedule{Kind: KindInterval, Every: every, Unit: unit, Start: start, Until: until}
}

// OnWeekdays fires on each day in days at the given wall-clock time.
func OnWeekdays(days WeekdaySet, at TimeOfDay) Schedule {
	return Schedule{Kind: KindWeekdays, Days: days, Time: at}
}

// Biweekly is OnWeekdays restricted to every second week. The anchor date
// marks an "on" week.
func Biweekly(days WeekdaySet, at TimeOfDay, anchor time.Time) Schedule {
	return Schedule{Kind: KindBiweekly, Days: days, Time: at, Anchor: anchor}
}

// Monthly fires once per month on the day picked by rule.
func Monthly(rule MonthlyRule, at TimeOfDay) Schedule {
	return Schedule{Kind: KindMonthly, Monthly: rule, Time: at}
}

// Yearly fires once per year on month/day. Feb 29 only fires in leap years.
func Yearly(month time.Month, day int, at TimeOfDay) Schedule {
	return Schedule{Kind: KindYearly, Month: month, Day: day, Time: at}
}

// Equal reports whether two schedules describe the same rule.
// Instants compare with time.Equal, so the same moment in different zones matches.
func (s Schedule) Equal(o Schedule) bool {
	if s.Kind != o.Kind {
		return false
	}
	switch s.Kind {
	case KindOneTime:
		return s.FireAt.Equal(o.FireAt)
	case KindDaily:
		return s.Time == o.Time
	case KindHourly:
		return s.Every == o.Every && s.Start.Equal(o.Start) && s.Until.Equal(o.Until)
	case KindInterval:
		return s.Every == o.Every && s.Unit == o.Unit && s.Start.Equal(o.Start) && s.Until.Equal(o.Until)
	case KindWeekdays:
		return s.Days == o.Days && s.Time == o.Time
	case KindBiweekly:
		return s.Days == o.Days && s.Time == o.Time && s.Anchor.Equal(o.Anchor)
	case KindMonthly:
		return s.Monthly == o.Monthly && s.Time == o.Time
	case KindYearly:
		return s.Month == o.Month && s.Day == o.Day && s.Time == o.Time
	default:
		return s == o
	}
}

// String renders a short human description ("daily at 09:30").
func (s Schedule) String() string {
	switch s.Kind {
	case KindOneTime:
		return "once at " + s.FireAt.Format("2006-01-02 15:04")
	case KindDaily:
		return "daily at " + s.Time.String()
	case KindHourly:
		if s.Every == 1 {
			return "hourly from " + s.Start.Format("15:04")
		}
		return fmt.Sprintf("every %d hours from %s", s.Every, s.Start.Format("15:04"))
	case KindInterval:
		return fmt.Sprintf("every %d %s", s.Every, s.Unit)
	case KindWeekdays:
		return "on " + s.Days.String() + " at " + s.Time.String()
	case KindBiweekly:
		return "biweekly on " + s.Days.String() + " at " + s.Time.String()
	case KindMonthly:
		return "monthly on " + s.Monthly.String() + " at " + s.Time.String()
	case KindYearly:
		return fmt.Sprintf("yearly on %s %d at %s", s.Month, s.Day, s.Time)
	default:
		return "unknown schedule"
	}
}
