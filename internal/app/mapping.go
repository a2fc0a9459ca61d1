package app

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"tickerd/internal/alarm"
	"tickerd/internal/api"
	pprofsvc "tickerd/internal/observability/pprof"
	"tickerd/internal/regen"
	"tickerd/internal/storage"
	logx "tickerd/pkg/logx"
)

// passSpecParser mirrors the parser the coordinator runs with so validation
// here rejects exactly what would fail there.
var passSpecParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour |
	cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// CheckConfig parses and fully validates the config file without starting
// anything. Backs the -check flag.
func CheckConfig(path string) (*Config, error) {
	cfg, err := NewConfigManager(path).Parse()
	if err != nil {
		return nil, err
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validateConfig runs every mapping helper in dry-run mode; it is the shared
// gate for -check and for hot-reload commits.
func validateConfig(cfg *Config) error {
	if _, err := mapCalendarLocation(cfg); err != nil {
		return err
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapAlarmConfig(cfg, time.UTC); err != nil {
		return err
	}
	if _, err := mapRegenConfig(cfg); err != nil {
		return err
	}
	if _, err := mapAPIConfig(cfg); err != nil {
		return err
	}
	if _, err := mapPprofConfig(cfg); err != nil {
		return err
	}
	return nil
}

func mapLoggingConfig(cfg *Config) logx.Config {
	if cfg == nil {
		return logx.Config{Level: "INFO", Console: true}
	}
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

// mapCalendarLocation resolves the configured timezone. Empty means the
// process local zone.
func mapCalendarLocation(cfg *Config) (*time.Location, error) {
	if cfg == nil {
		return time.Local, nil
	}
	tz := strings.TrimSpace(cfg.Calendar.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("calendar.timezone: invalid %q: %w", tz, err)
	}
	return loc, nil
}

func mapStorageConfig(cfg *Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.TrimSpace(sc.Driver)
	if driver == "" || strings.EqualFold(driver, "none") {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	dl := strings.ToLower(driver)
	switch dl {
	case "memory":
		return storage.Config{Driver: "memory"}, true, nil
	case "file":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=file")
		}
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := parseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 1*time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", driver)
	}
}

func mapAlarmConfig(cfg *Config, loc *time.Location) (alarm.LocalConfig, error) {
	var out alarm.LocalConfig
	out.Location = loc
	if cfg == nil {
		return out, nil
	}
	if cfg.Alarm.Budget < 0 {
		return out, fmt.Errorf("alarm.budget must be >= 0")
	}
	if cfg.Alarm.RatePerSec < 0 {
		return out, fmt.Errorf("alarm.rate_per_sec must be >= 0")
	}
	out.Budget = cfg.Alarm.Budget
	out.RatePerSec = cfg.Alarm.RatePerSec
	return out, nil
}

func mapRegenConfig(cfg *Config) (regen.Config, error) {
	var out regen.Config
	if cfg == nil {
		return out, nil
	}
	rc := cfg.Regen

	out.Enabled = rc.Enabled
	out.PreferNativeDaily = rc.PreferNativeDaily

	spec := strings.TrimSpace(rc.PassSchedule)
	if spec != "" {
		if _, err := passSpecParser.Parse(spec); err != nil {
			return out, fmt.Errorf("regen.pass_schedule: invalid %q: %w", spec, err)
		}
	}
	out.Pass.Schedule = spec

	if rc.Parallelism < 0 {
		return out, fmt.Errorf("regen.parallelism must be >= 0")
	}
	out.Pass.Parallelism = rc.Parallelism

	tickerTO, err := parseDurationField("regen.ticker_timeout", rc.TickerTimeout)
	if err != nil {
		return out, err
	}
	out.Pass.TickerTimeout = tickerTO

	switch strings.ToLower(strings.TrimSpace(rc.PastLead)) {
	case "":
		// coordinator default (clamp)
	case "clamp":
		out.PastLead = regen.PastLeadClamp
	case "drop":
		out.PastLead = regen.PastLeadDrop
	default:
		return out, fmt.Errorf("regen.past_lead: must be \"clamp\" or \"drop\", got %q", rc.PastLead)
	}

	grace, err := parseDurationField("regen.past_lead_grace", rc.PastLeadGrace)
	if err != nil {
		return out, err
	}
	out.PastLeadGrace = grace

	if rc.WindowScale < 0 {
		return out, fmt.Errorf("regen.window_scale must be >= 0")
	}
	out.WindowScale = rc.WindowScale

	if rc.HistorySize < 0 {
		return out, fmt.Errorf("regen.history_size must be >= 0")
	}
	out.HistorySize = rc.HistorySize

	return out, nil
}

func mapAPIConfig(cfg *Config) (api.Config, error) {
	var out api.Config
	if cfg == nil {
		return out, nil
	}
	ac := cfg.API

	out.Enabled = ac.Enabled
	out.Addr = strings.TrimSpace(ac.Addr)
	if len(ac.AllowedOrigins) > 0 {
		out.AllowedOrigins = append([]string(nil), ac.AllowedOrigins...)
	}

	readTO, err := parseDurationOrDefault("api.read_timeout", ac.ReadTimeout, 5*time.Second)
	if err != nil {
		return out, err
	}
	writeTO, err := parseDurationOrDefault("api.write_timeout", ac.WriteTimeout, 10*time.Second)
	if err != nil {
		return out, err
	}
	idleTO, err := parseDurationOrDefault("api.idle_timeout", ac.IdleTimeout, 120*time.Second)
	if err != nil {
		return out, err
	}
	out.ReadTimeout = readTO
	out.WriteTimeout = writeTO
	out.IdleTimeout = idleTO

	if out.Enabled && out.Addr != "" {
		if _, _, err := net.SplitHostPort(out.Addr); err != nil {
			return out, fmt.Errorf("api.addr: invalid %q (expected host:port): %w", out.Addr, err)
		}
	}
	return out, nil
}

// mapPprofConfig validates and converts the JSON config into the service config.
// It never starts the server.
func mapPprofConfig(cfg *Config) (pprofsvc.Config, error) {
	var out pprofsvc.Config
	if cfg == nil {
		return out, nil
	}
	pc := cfg.Pprof

	out.Enabled = pc.Enabled
	out.AllowInsecure = pc.AllowInsecure
	out.Token = strings.TrimSpace(pc.Token)
	out.Addr = strings.TrimSpace(pc.Addr)
	out.Prefix = strings.TrimSpace(pc.Prefix)

	if out.Addr == "" {
		out.Addr = "127.0.0.1:6060"
	}
	if out.Prefix == "" {
		out.Prefix = "/debug/pprof/"
	}

	readTO, err := parseDurationOrDefault("pprof.read_timeout", pc.ReadTimeout, 5*time.Second)
	if err != nil {
		return out, err
	}
	writeTO, err := parseDurationField("pprof.write_timeout", pc.WriteTimeout)
	if err != nil {
		return out, err
	}
	idleTO, err := parseDurationOrDefault("pprof.idle_timeout", pc.IdleTimeout, 120*time.Second)
	if err != nil {
		return out, err
	}
	out.ReadTimeout = readTO
	out.WriteTimeout = writeTO // default 0 (disabled) so /profile works
	out.IdleTimeout = idleTO

	if pc.MutexProfileFraction < 0 {
		return out, fmt.Errorf("pprof.mutex_profile_fraction must be >= 0")
	}
	if pc.BlockProfileRate < 0 {
		return out, fmt.Errorf("pprof.block_profile_rate must be >= 0")
	}
	if pc.MemProfileRate < 0 {
		return out, fmt.Errorf("pprof.mem_profile_rate must be >= 0")
	}
	out.MutexProfileFraction = pc.MutexProfileFraction
	out.BlockProfileRate = pc.BlockProfileRate
	out.MemProfileRate = pc.MemProfileRate

	if out.Enabled {
		if _, _, err := net.SplitHostPort(out.Addr); err != nil {
			return out, fmt.Errorf("pprof.addr: invalid %q (expected host:port): %w", out.Addr, err)
		}
		// Security: refuse public bind without explicit opt-in.
		if !out.AllowInsecure && out.Token == "" && !isLoopbackAddr(out.Addr) {
			return out, fmt.Errorf("pprof: binding to non-loopback addr requires token or allow_insecure=true")
		}
	}

	return out, nil
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	if ip == nil {
		return false
	}
	return ip.IsLoopback()
}
