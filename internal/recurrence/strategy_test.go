package recurrence

import (
	"testing"
	"time"
)

func TestStrategyFor(t *testing.T) {
	t.Parallel()
	start := utc(2024, time.June, 1, 6, 0)

	tests := []struct {
		name    string
		s       Schedule
		tier    Tier
		oneShot bool
	}{
		{name: "one-time", s: OneTime(start), tier: TierLow, oneShot: true},
		{name: "hourly", s: Hourly(2, start, time.Time{}), tier: TierHigh},
		{name: "minute interval", s: Interval(15, UnitMinutes, start, time.Time{}), tier: TierHigh},
		{name: "hour interval", s: Interval(6, UnitHours, start, time.Time{}), tier: TierHigh},
		{name: "day interval", s: Interval(2, UnitDays, start, time.Time{}), tier: TierMedium},
		{name: "week interval", s: Interval(1, UnitWeeks, start, time.Time{}), tier: TierMedium},
		{name: "daily", s: Daily(At(9, 0)), tier: TierMedium},
		{name: "weekdays", s: OnWeekdays(Weekdays(time.Monday), At(9, 0)), tier: TierMedium},
		{name: "biweekly", s: Biweekly(Weekdays(time.Monday), At(9, 0), start), tier: TierMedium},
		{name: "monthly", s: Monthly(OnDay(1), At(9, 0)), tier: TierLow},
		{name: "yearly", s: Yearly(time.May, 17, At(9, 0)), tier: TierLow},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got := StrategyFor(tt.s)
			if got.Tier != tt.tier {
				t.Fatalf("Tier = %v, want %v", got.Tier, tt.tier)
			}
			if got.OneShot != tt.oneShot {
				t.Fatalf("OneShot = %v, want %v", got.OneShot, tt.oneShot)
			}
			if got.Window <= 0 || got.RefreshAfter <= 0 {
				t.Fatalf("durations must be positive: %+v", got)
			}
			if got.RefreshAfter >= got.Window {
				t.Fatalf("refresh %v must be shorter than window %v", got.RefreshAfter, got.Window)
			}
		})
	}
}
