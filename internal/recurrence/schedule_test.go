package recurrence

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		s     Schedule
		ok    bool
		field string
	}{
		{name: "one-time", s: OneTime(utc(2024, time.June, 1, 9, 0)), ok: true},
		{name: "one-time zero", s: OneTime(time.Time{}), field: "fire_at"},
		{name: "daily", s: Daily(At(23, 59)), ok: true},
		{name: "daily bad hour", s: Daily(At(24, 0)), field: "time"},
		{name: "daily bad minute", s: Daily(At(8, 60)), field: "time"},
		{name: "hourly", s: Hourly(3, utc(2024, time.June, 1, 6, 0), time.Time{}), ok: true},
		{name: "hourly zero step", s: Hourly(0, utc(2024, time.June, 1, 6, 0), time.Time{}), field: "every"},
		{name: "hourly no start", s: Hourly(2, time.Time{}, time.Time{}), field: "start"},
		{name: "hourly inverted", s: Hourly(2, utc(2024, time.June, 2, 0, 0), utc(2024, time.June, 1, 0, 0)), field: "until"},
		{name: "interval", s: Interval(90, UnitMinutes, utc(2024, time.June, 1, 0, 0), time.Time{}), ok: true},
		{name: "interval bad unit", s: Interval(2, IntervalUnit("fortnights"), utc(2024, time.June, 1, 0, 0), time.Time{}), field: "unit"},
		{name: "weekdays", s: OnWeekdays(Weekdays(time.Monday), At(9, 0)), ok: true},
		{name: "weekdays empty", s: OnWeekdays(0, At(9, 0)), field: "days"},
		{name: "biweekly", s: Biweekly(Weekdays(time.Friday), At(17, 0), utc(2024, time.January, 5, 0, 0)), ok: true},
		{name: "biweekly no anchor", s: Biweekly(Weekdays(time.Friday), At(17, 0), time.Time{}), field: "anchor"},
		{name: "monthly", s: Monthly(OnDay(31), At(10, 0)), ok: true},
		{name: "monthly day zero", s: Monthly(OnDay(0), At(10, 0)), field: "monthly.day"},
		{name: "monthly day 32", s: Monthly(OnDay(32), At(10, 0)), field: "monthly.day"},
		{name: "yearly leap day", s: Yearly(time.February, 29, At(9, 0)), ok: true},
		{name: "yearly feb 30", s: Yearly(time.February, 30, At(9, 0)), field: "day"},
		{name: "yearly bad month", s: Yearly(time.Month(13), 1, At(9, 0)), field: "month"},
		{name: "unknown kind", s: Schedule{Kind: Kind("lunar")}, field: "kind"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			err := tt.s.Validate()
			if tt.ok {
				if err != nil {
					t.Fatalf("Validate error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected validation error")
			}
			ve, isVE := err.(*ValidationError)
			if !isVE {
				t.Fatalf("error type %T, want *ValidationError", err)
			}
			if ve.Field != tt.field {
				t.Fatalf("Field = %q, want %q", ve.Field, tt.field)
			}
		})
	}
}

func TestScheduleJSONRoundTrip(t *testing.T) {
	t.Parallel()
	schedules := []Schedule{
		OneTime(utc(2024, time.June, 1, 9, 0)),
		Daily(At(7, 30)),
		Hourly(3, utc(2024, time.June, 1, 6, 0), utc(2024, time.June, 1, 18, 0)),
		Interval(2, UnitWeeks, utc(2024, time.January, 1, 8, 0), time.Time{}),
		OnWeekdays(Weekdays(time.Monday, time.Wednesday, time.Friday), At(8, 0)),
		Biweekly(Weekdays(time.Friday), At(17, 0), utc(2024, time.January, 5, 0, 0)),
		Monthly(LastWeekday(time.Friday), At(16, 45)),
		Yearly(time.February, 29, At(0, 1)),
	}
	for _, s := range schedules {
		b, err := json.Marshal(s)
		if err != nil {
			t.Fatalf("Marshal(%v): %v", s, err)
		}
		var back Schedule
		if err := json.Unmarshal(b, &back); err != nil {
			t.Fatalf("Unmarshal(%s): %v", b, err)
		}
		if !back.Equal(s) {
			t.Fatalf("round trip changed schedule: %s -> %v, want %v", b, back, s)
		}
	}
}

func TestScheduleJSONWireForm(t *testing.T) {
	t.Parallel()
	b, err := json.Marshal(OnWeekdays(Weekdays(time.Monday, time.Friday), At(9, 5)))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	js := string(b)
	for _, want := range []string{`"kind":"weekdays"`, `"days":["monday","friday"]`, `"time":"09:05"`} {
		if !strings.Contains(js, want) {
			t.Fatalf("wire form %s missing %s", js, want)
		}
	}

	var s Schedule
	raw := `{"kind":"monthly","monthly":{"kind":"last_weekday","weekday":"fri"},"time":"16:45"}`
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if s.Monthly.Weekday != time.Friday || s.Monthly.Kind != MonthlyLastWeekday {
		t.Fatalf("parsed rule = %+v", s.Monthly)
	}
	if s.Time != At(16, 45) {
		t.Fatalf("parsed time = %v", s.Time)
	}
}

func TestParseTimeOfDay(t *testing.T) {
	t.Parallel()
	if _, err := ParseTimeOfDay("25:00"); err == nil {
		t.Fatal("expected error for hour 25")
	}
	if _, err := ParseTimeOfDay("0930"); err == nil {
		t.Fatal("expected error for missing colon")
	}
	got, err := ParseTimeOfDay(" 09:30 ")
	if err != nil {
		t.Fatalf("ParseTimeOfDay: %v", err)
	}
	if got != At(9, 30) {
		t.Fatalf("got %v, want 09:30", got)
	}
}

func TestScheduleEqual(t *testing.T) {
	t.Parallel()
	loc := time.FixedZone("plus2", 2*3600)
	a := OneTime(utc(2024, time.June, 1, 12, 0))
	b := OneTime(time.Date(2024, time.June, 1, 14, 0, 0, 0, loc)) // same instant
	if !a.Equal(b) {
		t.Fatal("same instant in different zones should be equal")
	}
	if a.Equal(OneTime(utc(2024, time.June, 1, 12, 1))) {
		t.Fatal("different instants should not be equal")
	}
	if Daily(At(9, 0)).Equal(OnWeekdays(Weekdays(time.Monday), At(9, 0))) {
		t.Fatal("different kinds should not be equal")
	}
}

func TestWeekdaySet(t *testing.T) {
	t.Parallel()
	s := Weekdays(time.Saturday, time.Monday)
	if !s.Has(time.Monday) || !s.Has(time.Saturday) || s.Has(time.Tuesday) {
		t.Fatalf("membership wrong: %v", s)
	}
	if s.Count() != 2 {
		t.Fatalf("Count = %d, want 2", s.Count())
	}
	if got := s.String(); got != "mon,sat" {
		t.Fatalf("String = %q, want %q", got, "mon,sat")
	}
}
