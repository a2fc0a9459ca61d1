package ticker

import "time"

// Health is the operator-facing rollup of a ticker's generation state.
type Health string

const (
	HealthHealthy  Health = "healthy"
	HealthStale    Health = "stale"
	HealthFailed   Health = "failed"
	HealthDisabled Health = "disabled"
	HealthNeverRun Health = "never_run"
)

// HealthOf folds enablement and generation state into one status. A finished
// one-shot counts as healthy even though it will never regenerate again.
func (t Ticker) HealthOf(now time.Time) Health {
	if !t.Enabled {
		return HealthDisabled
	}
	if t.Generation.Strategy.OneShot && t.Generation.LastSuccess {
		return HealthHealthy
	}
	switch t.Generation.State(now) {
	case StateNeverRegenerated:
		return HealthNeverRun
	case StateFailed:
		return HealthFailed
	case StateStale:
		return HealthStale
	default:
		return HealthHealthy
	}
}

// HealthCounts aggregates per-status totals across a set of tickers.
type HealthCounts struct {
	Healthy  int `json:"healthy"`
	Stale    int `json:"stale"`
	Failed   int `json:"failed"`
	Disabled int `json:"disabled"`
	NeverRun int `json:"never_run"`
	Degraded int `json:"degraded"`
}

func (c HealthCounts) Total() int {
	return c.Healthy + c.Stale + c.Failed + c.Disabled + c.NeverRun
}

// CountHealth tallies the health of every ticker at the given instant.
// Degraded is counted separately since a degraded ticker is still healthy.
func CountHealth(tickers []Ticker, now time.Time) HealthCounts {
	var c HealthCounts
	for _, t := range tickers {
		switch t.HealthOf(now) {
		case HealthHealthy:
			c.Healthy++
		case HealthStale:
			c.Stale++
		case HealthFailed:
			c.Failed++
		case HealthDisabled:
			c.Disabled++
		case HealthNeverRun:
			c.NeverRun++
		}
		if t.Enabled && t.Generation.Degraded {
			c.Degraded++
		}
	}
	return c
}
