package config

// Config is the daemon configuration.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m"). YAML and
// JSON files are both accepted; unknown keys are rejected so typos surface at
// load time instead of silently doing nothing.
type Config struct {
	Logging LoggingConfig `json:"logging"`
	Pprof   PprofConfig   `json:"pprof,omitempty"`

	// Calendar pins the zone all schedule expansion runs in.
	Calendar CalendarConfig `json:"calendar,omitempty"`

	Storage *StorageConfig `json:"storage,omitempty"`
	Alarm   AlarmConfig    `json:"alarm,omitempty"`
	Regen   RegenConfig    `json:"regen"`
	API     APIConfig      `json:"api,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// CalendarConfig selects the IANA timezone used for all calendar math
// (expansion, cron triggers, native daily slots). Empty means the process
// local zone.
type CalendarConfig struct {
	Timezone string `json:"timezone,omitempty"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./tickerd.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// AlarmConfig tunes the local alarm registrar.
type AlarmConfig struct {
	// Budget caps concurrently held registrations. 0 means the built-in
	// default. Regeneration surfaces budget exhaustion as a hard per-ticker
	// failure, it never retries in a loop.
	Budget int `json:"budget,omitempty"`

	// RatePerSec throttles register calls during regeneration storms.
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

// RegenConfig controls the regeneration coordinator.
type RegenConfig struct {
	Enabled bool `json:"enabled"`

	// PassSchedule is a cron spec (seconds optional) or "@every ..." for
	// periodic full passes. Default "@every 5m".
	PassSchedule string `json:"pass_schedule,omitempty"`

	// Parallelism bounds concurrent per-ticker regenerations in one pass.
	Parallelism int `json:"parallelism,omitempty"`

	// TickerTimeout bounds one ticker's regeneration. Go duration string.
	TickerTimeout string `json:"ticker_timeout,omitempty"`

	// PastLead decides what happens when a countdown lead pushes a fire
	// instant behind now: "clamp" (default) or "drop".
	PastLead      string `json:"past_lead,omitempty"`
	PastLeadGrace string `json:"past_lead_grace,omitempty"`

	// PreferNativeDaily keeps plain daily schedules on the registrar's
	// native repeating slot instead of expanding them.
	PreferNativeDaily bool `json:"prefer_native_daily,omitempty"`

	// WindowScale stretches or shrinks every strategy tier's forward window
	// and refresh threshold. 0 means 1.0.
	WindowScale float64 `json:"window_scale,omitempty"`

	HistorySize int `json:"history_size,omitempty"`
}

// APIConfig controls the HTTP surface for the presentation layer.
type APIConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default "127.0.0.1:8475"

	// AllowedOrigins feeds the CORS middleware. Empty disables CORS headers.
	AllowedOrigins []string `json:"allowed_origins,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// PprofConfig controls the optional pprof HTTP server.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6060").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type PprofConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`   // default: "127.0.0.1:6060"
	Prefix        string `json:"prefix,omitempty"` // default: "/debug/pprof/"
	Token         string `json:"token,omitempty"`  // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	// Server timeouts (Go duration strings). WriteTimeout defaults to 0 (disabled)
	// so /profile (which can take 30s+) works reliably.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	// Runtime profiling rates. Leave 0 to keep Go defaults.
	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
	MemProfileRate       int `json:"mem_profile_rate,omitempty"`
}
