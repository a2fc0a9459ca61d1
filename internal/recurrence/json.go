package recurrence

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Wire forms:
//   TimeOfDay   "09:30"
//   WeekdaySet  ["monday","wednesday"]
//   MonthlyRule {"kind":"last_weekday","weekday":"friday"}
//
// Weekday names are lowercase full names; three-letter prefixes are accepted
// on input.

// ParseTimeOfDay parses "HH:MM" (24h).
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	s = strings.TrimSpace(s)
	hh, mm, ok := strings.Cut(s, ":")
	if !ok {
		return TimeOfDay{}, fmt.Errorf("time of day %q: want HH:MM", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("time of day %q: bad hour", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("time of day %q: bad minute", s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return TimeOfDay{}, fmt.Errorf("time of day %q: out of range", s)
	}
	return TimeOfDay{Hour: h, Minute: m}, nil
}

func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *TimeOfDay) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// ParseWeekday accepts "monday".."sunday" (any case) or a three-letter prefix.
func ParseWeekday(s string) (time.Weekday, error) {
	k := strings.ToLower(strings.TrimSpace(s))
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if k == name || (len(k) == 3 && strings.HasPrefix(name, k)) {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", s)
}

func weekdayName(d time.Weekday) string { return strings.ToLower(d.String()) }

func (s WeekdaySet) MarshalJSON() ([]byte, error) {
	names := make([]string, 0, 7)
	for _, d := range s.List() {
		names = append(names, weekdayName(d))
	}
	return json.Marshal(names)
}

func (s *WeekdaySet) UnmarshalJSON(b []byte) error {
	var names []string
	if err := json.Unmarshal(b, &names); err != nil {
		return err
	}
	var set WeekdaySet
	for _, n := range names {
		d, err := ParseWeekday(n)
		if err != nil {
			return err
		}
		set = set.With(d)
	}
	*s = set
	return nil
}

type monthlyRuleJSON struct {
	Kind    MonthlyKind `json:"kind"`
	Day     int         `json:"day,omitempty"`
	Weekday string      `json:"weekday,omitempty"`
}

func (r MonthlyRule) MarshalJSON() ([]byte, error) {
	out := monthlyRuleJSON{Kind: r.Kind, Day: r.Day}
	switch r.Kind {
	case MonthlyFirstWeekday, MonthlyLastWeekday:
		out.Weekday = weekdayName(r.Weekday)
	}
	return json.Marshal(out)
}

func (r *MonthlyRule) UnmarshalJSON(b []byte) error {
	var raw monthlyRuleJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	out := MonthlyRule{Kind: raw.Kind, Day: raw.Day}
	if raw.Weekday != "" {
		d, err := ParseWeekday(raw.Weekday)
		if err != nil {
			return err
		}
		out.Weekday = d
	}
	*r = out
	return nil
}
