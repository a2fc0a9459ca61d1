package app

import (
	"testing"
	"time"

	"tickerd/internal/config"
	"tickerd/internal/regen"
)

func TestMapRegenConfig(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{Regen: config.RegenConfig{
		Enabled:       true,
		PassSchedule:  "@every 2m",
		Parallelism:   8,
		TickerTimeout: "45s",
		PastLead:      "drop",
		PastLeadGrace: "10s",
		WindowScale:   1.5,
		HistorySize:   20,
	}}

	got, err := mapRegenConfig(cfg)
	if err != nil {
		t.Fatalf("mapRegenConfig error: %v", err)
	}
	if !got.Enabled {
		t.Fatal("Enabled = false")
	}
	if got.Pass.Schedule != "@every 2m" {
		t.Fatalf("Schedule = %q", got.Pass.Schedule)
	}
	if got.Pass.TickerTimeout != 45*time.Second {
		t.Fatalf("TickerTimeout = %v", got.Pass.TickerTimeout)
	}
	if got.PastLead != regen.PastLeadDrop {
		t.Fatalf("PastLead = %q, want drop", got.PastLead)
	}
	if got.PastLeadGrace != 10*time.Second {
		t.Fatalf("PastLeadGrace = %v", got.PastLeadGrace)
	}
	if got.WindowScale != 1.5 {
		t.Fatalf("WindowScale = %v", got.WindowScale)
	}
}

func TestMapRegenConfigRejectsBadInput(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		rc   config.RegenConfig
	}{
		{name: "bad cron spec", rc: config.RegenConfig{PassSchedule: "every five minutes"}},
		{name: "bad duration", rc: config.RegenConfig{TickerTimeout: "soon"}},
		{name: "unknown past_lead", rc: config.RegenConfig{PastLead: "ignore"}},
		{name: "negative parallelism", rc: config.RegenConfig{Parallelism: -1}},
		{name: "negative window scale", rc: config.RegenConfig{WindowScale: -2}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if _, err := mapRegenConfig(&config.Config{Regen: tt.rc}); err == nil {
				t.Fatalf("mapRegenConfig(%+v) accepted bad input", tt.rc)
			}
		})
	}
}

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		in      *config.StorageConfig
		enabled bool
		driver  string
		wantErr bool
	}{
		{name: "absent", in: nil, enabled: false},
		{name: "none", in: &config.StorageConfig{Driver: "none"}, enabled: false},
		{name: "sqlite", in: &config.StorageConfig{Driver: "sqlite", Path: "./t.db"}, enabled: true, driver: "sqlite"},
		{name: "sqlite3 alias", in: &config.StorageConfig{Driver: "sqlite3", Path: "./t.db"}, enabled: true, driver: "sqlite"},
		{name: "sqlite without path", in: &config.StorageConfig{Driver: "sqlite"}, wantErr: true},
		{name: "file", in: &config.StorageConfig{Driver: "file", Path: "./t.json"}, enabled: true, driver: "file"},
		{name: "memory", in: &config.StorageConfig{Driver: "memory"}, enabled: true, driver: "memory"},
		{name: "unknown", in: &config.StorageConfig{Driver: "redis"}, wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			sc, enabled, err := mapStorageConfig(&config.Config{Storage: tt.in})
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("error: %v", err)
			}
			if enabled != tt.enabled {
				t.Fatalf("enabled = %v, want %v", enabled, tt.enabled)
			}
			if enabled && sc.Driver != tt.driver {
				t.Fatalf("driver = %q, want %q", sc.Driver, tt.driver)
			}
		})
	}
}

func TestMapAPIConfigDefaultsTimeouts(t *testing.T) {
	t.Parallel()
	got, err := mapAPIConfig(&config.Config{API: config.APIConfig{Enabled: true, Addr: "127.0.0.1:9000"}})
	if err != nil {
		t.Fatalf("error: %v", err)
	}
	if got.ReadTimeout != 5*time.Second || got.WriteTimeout != 10*time.Second || got.IdleTimeout != 120*time.Second {
		t.Fatalf("timeouts = %v/%v/%v", got.ReadTimeout, got.WriteTimeout, got.IdleTimeout)
	}
}

func TestMapPprofConfigRefusesPublicBind(t *testing.T) {
	t.Parallel()
	_, err := mapPprofConfig(&config.Config{Pprof: config.PprofConfig{Enabled: true, Addr: "0.0.0.0:6060"}})
	if err == nil {
		t.Fatal("expected error for public bind without token")
	}
	if _, err := mapPprofConfig(&config.Config{Pprof: config.PprofConfig{
		Enabled: true, Addr: "0.0.0.0:6060", Token: "s3cret",
	}}); err != nil {
		t.Fatalf("token bind rejected: %v", err)
	}
}
