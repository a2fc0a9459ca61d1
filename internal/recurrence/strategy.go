package recurrence

import "time"

// Tier buckets schedules by cadence. The tier decides how far ahead alarms
// are materialized and how often the set is refreshed.
type Tier string

const (
	TierHigh   Tier = "high"   // sub-daily cadence: short window, frequent refresh
	TierMedium Tier = "medium" // daily-to-weekly cadence
	TierLow    Tier = "low"    // monthly and coarser: long window, rare refresh
)

// Strategy is the generation policy derived from a schedule.
type Strategy struct {
	Tier Tier `json:"tier"`

	// Window is how far ahead occurrences are materialized into alarms.
	Window time.Duration `json:"window"`

	// RefreshAfter forces a regeneration when the last one is older than this,
	// even if the scheduled half-window refresh was missed.
	RefreshAfter time.Duration `json:"refresh_after"`

	// OneShot marks single-occurrence schedules: after one successful
	// generation there is nothing left to refresh.
	OneShot bool `json:"one_shot,omitempty"`
}

const day = 24 * time.Hour

// StrategyFor maps a schedule to its generation policy.
func StrategyFor(s Schedule) Strategy {
	switch s.Kind {
	case KindOneTime:
		return Strategy{Tier: TierLow, Window: 62 * day, RefreshAfter: 7 * day, OneShot: true}
	case KindHourly:
		return high()
	case KindInterval:
		switch s.Unit {
		case UnitMinutes, UnitHours:
			return high()
		default:
			return medium()
		}
	case KindDaily, KindWeekdays, KindBiweekly:
		return medium()
	case KindMonthly, KindYearly:
		return low()
	default:
		return low()
	}
}

func high() Strategy {
	return Strategy{Tier: TierHigh, Window: 24 * time.Hour, RefreshAfter: 6 * time.Hour}
}

func medium() Strategy {
	return Strategy{Tier: TierMedium, Window: 7 * day, RefreshAfter: 24 * time.Hour}
}

func low() Strategy {
	return Strategy{Tier: TierLow, Window: 62 * day, RefreshAfter: 7 * day}
}
