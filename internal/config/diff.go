package config

import (
	"reflect"
	"sort"
	"strings"

	logx "tickerd/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections and
// (2) safe structured attrs for logging (never includes secrets like the
// pprof token).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 20)

	// Logging
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// Calendar
	if strings.TrimSpace(oldCfg.Calendar.Timezone) != strings.TrimSpace(newCfg.Calendar.Timezone) {
		changed = append(changed, "calendar")
		attrs = append(attrs,
			logx.String("calendar.timezone", strings.TrimSpace(newCfg.Calendar.Timezone)),
		)
	}

	// Pprof (never log token)
	if oldCfg.Pprof.Enabled != newCfg.Pprof.Enabled ||
		strings.TrimSpace(oldCfg.Pprof.Addr) != strings.TrimSpace(newCfg.Pprof.Addr) ||
		strings.TrimSpace(oldCfg.Pprof.Prefix) != strings.TrimSpace(newCfg.Pprof.Prefix) ||
		oldCfg.Pprof.AllowInsecure != newCfg.Pprof.AllowInsecure ||
		strings.TrimSpace(oldCfg.Pprof.ReadTimeout) != strings.TrimSpace(newCfg.Pprof.ReadTimeout) ||
		strings.TrimSpace(oldCfg.Pprof.WriteTimeout) != strings.TrimSpace(newCfg.Pprof.WriteTimeout) ||
		strings.TrimSpace(oldCfg.Pprof.IdleTimeout) != strings.TrimSpace(newCfg.Pprof.IdleTimeout) ||
		oldCfg.Pprof.MutexProfileFraction != newCfg.Pprof.MutexProfileFraction ||
		oldCfg.Pprof.BlockProfileRate != newCfg.Pprof.BlockProfileRate ||
		oldCfg.Pprof.MemProfileRate != newCfg.Pprof.MemProfileRate ||
		(strings.TrimSpace(oldCfg.Pprof.Token) != "") != (strings.TrimSpace(newCfg.Pprof.Token) != "") {
		changed = append(changed, "pprof")
		attrs = append(attrs,
			logx.Bool("pprof.enabled", newCfg.Pprof.Enabled),
			logx.String("pprof.addr", strings.TrimSpace(newCfg.Pprof.Addr)),
			logx.Bool("pprof.token_set", strings.TrimSpace(newCfg.Pprof.Token) != ""),
			logx.Bool("pprof.allow_insecure", newCfg.Pprof.AllowInsecure),
		)
	}

	// Storage (persistence). Nil means driver defaults.
	oldS := oldCfg.Storage
	newS := newCfg.Storage
	var oDriver, nDriver, oBusy, nBusy string
	var oPathSet, nPathSet bool
	if oldS != nil {
		oDriver = strings.TrimSpace(oldS.Driver)
		oBusy = strings.TrimSpace(oldS.BusyTimeout)
		oPathSet = strings.TrimSpace(oldS.Path) != ""
	}
	if newS != nil {
		nDriver = strings.TrimSpace(newS.Driver)
		nBusy = strings.TrimSpace(newS.BusyTimeout)
		nPathSet = strings.TrimSpace(newS.Path) != ""
	}
	if oDriver != nDriver || oBusy != nBusy || oPathSet != nPathSet {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", nDriver),
			logx.Bool("storage.path_set", nPathSet),
			logx.String("storage.busy_timeout", nBusy),
		)
	}

	// Alarm registrar
	if oldCfg.Alarm != newCfg.Alarm {
		changed = append(changed, "alarm")
		attrs = append(attrs,
			logx.Int("alarm.budget", newCfg.Alarm.Budget),
			logx.Int("alarm.rate_per_sec", newCfg.Alarm.RatePerSec),
		)
	}

	// Regeneration coordinator
	if oldCfg.Regen != newCfg.Regen {
		changed = append(changed, "regen")
		attrs = append(attrs,
			logx.Bool("regen.enabled", newCfg.Regen.Enabled),
			logx.String("regen.pass_schedule", strings.TrimSpace(newCfg.Regen.PassSchedule)),
			logx.Int("regen.parallelism", newCfg.Regen.Parallelism),
			logx.String("regen.past_lead", strings.TrimSpace(newCfg.Regen.PastLead)),
			logx.Bool("regen.prefer_native_daily", newCfg.Regen.PreferNativeDaily),
			logx.Float64("regen.window_scale", newCfg.Regen.WindowScale),
		)
	}

	// API (AllowedOrigins is a slice, so no struct equality here)
	if oldCfg.API.Enabled != newCfg.API.Enabled ||
		strings.TrimSpace(oldCfg.API.Addr) != strings.TrimSpace(newCfg.API.Addr) ||
		!reflect.DeepEqual(oldCfg.API.AllowedOrigins, newCfg.API.AllowedOrigins) ||
		strings.TrimSpace(oldCfg.API.ReadTimeout) != strings.TrimSpace(newCfg.API.ReadTimeout) ||
		strings.TrimSpace(oldCfg.API.WriteTimeout) != strings.TrimSpace(newCfg.API.WriteTimeout) ||
		strings.TrimSpace(oldCfg.API.IdleTimeout) != strings.TrimSpace(newCfg.API.IdleTimeout) {
		changed = append(changed, "api")
		attrs = append(attrs,
			logx.Bool("api.enabled", newCfg.API.Enabled),
			logx.String("api.addr", strings.TrimSpace(newCfg.API.Addr)),
			logx.Int("api.allowed_origins", len(newCfg.API.AllowedOrigins)),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}
