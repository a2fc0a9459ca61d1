package recurrence

import (
	"fmt"
	"time"
)

// ValidationError points at the schedule field that failed validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "schedule: " + e.Field + ": " + e.Reason
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// maxDayOf is the largest valid day for a month in any year (Feb = 29).
func maxDayOf(m time.Month) int {
	// 2000 is a leap year.
	return time.Date(2000, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Validate rejects malformed schedules. Expansion assumes a validated value.
func (s Schedule) Validate() error {
	switch s.Kind {
	case KindOneTime:
		if s.FireAt.IsZero() {
			return invalid("fire_at", "required")
		}
		return nil

	case KindDaily:
		return s.validateTimeOfDay()

	case KindHourly:
		if s.Every < 1 {
			return invalid("every", "must be >= 1 hour, got %d", s.Every)
		}
		return s.validateSeries()

	case KindInterval:
		switch s.Unit {
		case UnitMinutes, UnitHours, UnitDays, UnitWeeks:
		default:
			return invalid("unit", "unknown unit %q", s.Unit)
		}
		if s.Every < 1 {
			return invalid("every", "must be >= 1, got %d", s.Every)
		}
		return s.validateSeries()

	case KindWeekdays:
		if s.Days == 0 {
			return invalid("days", "at least one weekday required")
		}
		return s.validateTimeOfDay()

	case KindBiweekly:
		if s.Days == 0 {
			return invalid("days", "at least one weekday required")
		}
		if s.Anchor.IsZero() {
			return invalid("anchor", "required")
		}
		return s.validateTimeOfDay()

	case KindMonthly:
		switch s.Monthly.Kind {
		case MonthlyOnDay:
			if s.Monthly.Day < 1 || s.Monthly.Day > 31 {
				return invalid("monthly.day", "must be 1..31, got %d", s.Monthly.Day)
			}
		case MonthlyFirstWeekday, MonthlyLastWeekday:
			if s.Monthly.Weekday < time.Sunday || s.Monthly.Weekday > time.Saturday {
				return invalid("monthly.weekday", "out of range")
			}
		case MonthlyFirstDay, MonthlyLastDay:
		default:
			return invalid("monthly.kind", "unknown rule %q", s.Monthly.Kind)
		}
		return s.validateTimeOfDay()

	case KindYearly:
		if s.Month < time.January || s.Month > time.December {
			return invalid("month", "must be 1..12, got %d", int(s.Month))
		}
		if s.Day < 1 || s.Day > maxDayOf(s.Month) {
			return invalid("day", "%s has no day %d", s.Month, s.Day)
		}
		return s.validateTimeOfDay()

	default:
		return invalid("kind", "unknown kind %q", s.Kind)
	}
}

func (s Schedule) validateTimeOfDay() error {
	t := s.Time
	if t.Hour < 0 || t.Hour > 23 {
		return invalid("time", "hour out of range: %d", t.Hour)
	}
	if t.Minute < 0 || t.Minute > 59 {
		return invalid("time", "minute out of range: %d", t.Minute)
	}
	return nil
}

func (s Schedule) validateSeries() error {
	if s.Start.IsZero() {
		return invalid("start", "required")
	}
	if !s.Until.IsZero() && s.Until.Before(s.Start) {
		return invalid("until", "ends before start")
	}
	return nil
}
