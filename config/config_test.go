package config

import (
	"context"
	"errors"
	"flag"
	"io"
	"slices"
	"testing"
	"time"

	"github.com/jonwraymond/restcache/secret"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	checks := []struct {
		name string
		got  any
		want any
	}{
		{"service", cfg.ServiceName, "restcache"},
		{"driver", cfg.Store.Driver, DriverSQLite},
		{"default ttl", cfg.Cache.DefaultTTL, 24 * time.Hour},
		{"error ttl", cfg.Cache.ErrorTTL, 10 * time.Minute},
		{"refresh interval", cfg.Refresh.Interval, 5 * time.Minute},
		{"refresh limit", cfg.Refresh.Limit, 2000},
		{"expiry interval", cfg.Expiry.Interval, time.Hour},
		{"expiry limit", cfg.Expiry.Limit, 2000},
		{"expiry age", cfg.Expiry.MaxAge, 365 * 24 * time.Hour},
		{"trash interval", cfg.Trash.Interval, 24 * time.Hour},
		{"trash retention", cfg.Trash.Retention, 7 * 24 * time.Hour},
		{"trash limit", cfg.Trash.Limit, 1000},
		{"trash compact", cfg.Trash.Compact, true},
		{"only 200", cfg.Cache.OnlyCache200, false},
		{"log mode", cfg.Log.Mode, "stderr"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("RESTCACHE_STORE_DRIVER", "memory")
	t.Setenv("RESTCACHE_CACHE_EXCLUDED_HOSTS", "a.example.com,b.example.com")
	t.Setenv("RESTCACHE_REFRESH_LIMIT", "50")
	t.Setenv("RESTCACHE_TRASH_RETENTION", "0s")
	t.Setenv("RESTCACHE_ADMIN_API_KEYS", "k1,k2")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Store.Driver != DriverMemory || cfg.Refresh.Limit != 50 || cfg.Trash.Retention != 0 {
		t.Errorf("cfg = %+v", cfg)
	}
	if !slices.Equal(cfg.Cache.ExcludedHosts, []string{"a.example.com", "b.example.com"}) {
		t.Errorf("ExcludedHosts = %v", cfg.Cache.ExcludedHosts)
	}
	if !cfg.AdminAuthEnabled() {
		t.Error("API keys should enable admin auth")
	}
}

func TestLoad_BadValue(t *testing.T) {
	t.Setenv("RESTCACHE_REFRESH_LIMIT", "lots")
	if _, err := Load(); err == nil {
		t.Error("expected parse error")
	}
}

func TestParseConfig_FlagsOverrideEnv(t *testing.T) {
	t.Setenv("RESTCACHE_STORE_DRIVER", "sqlite")
	fs := flag.NewFlagSet("restcached", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	cfg, err := ParseConfig(fs, []string{"-store", "memory", "-addr", ":9000", "-run-on-start"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Store.Driver != DriverMemory || cfg.AdminAddr != ":9000" || !cfg.RunOnStart {
		t.Errorf("cfg = %+v", cfg)
	}

	fs = flag.NewFlagSet("restcached", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	if _, err := ParseConfig(fs, []string{"-nope"}); err == nil {
		t.Error("unknown flag should fail")
	}
}

func TestNormalize(t *testing.T) {
	cfg, _ := Load()
	cfg.Refresh.Limit = 0
	cfg.Refresh.Interval = -time.Second
	cfg.Expiry.Limit = -5
	cfg.Trash.Retention = 0
	cfg.Cache.DefaultTTL = 0
	cfg.Log.Level = "loud"

	fixed := cfg.Normalize()
	want := []string{"cache.default_ttl", "refresh.interval", "refresh.limit", "expiry.limit", "log.level"}
	if !slices.Equal(fixed, want) {
		t.Errorf("fixed = %v, want %v", fixed, want)
	}
	if cfg.Refresh.Limit != 2000 || cfg.Refresh.Interval != 5*time.Minute || cfg.Expiry.Limit != 2000 {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Trash.Retention != 0 {
		t.Error("zero retention must be kept to disable trash collection")
	}

	cfg.Trash.Retention = -time.Hour
	cfg.Normalize()
	if cfg.Trash.Retention != 7*24*time.Hour {
		t.Errorf("negative retention = %v", cfg.Trash.Retention)
	}
}

func TestValidate(t *testing.T) {
	base, _ := Load()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"ok", func(*Config) {}, nil},
		{"bad driver", func(c *Config) { c.Store.Driver = "redis" }, errAny},
		{"bad log mode", func(c *Config) { c.Log.Mode = "syslog" }, errAny},
		{"bad sample", func(c *Config) { c.Tracing.SamplePct = 2 }, errAny},
		{"postgres without dsn", func(c *Config) { c.Store.Driver = DriverPostgres }, ErrPostgresDSN},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			switch {
			case tt.wantErr == nil && err != nil:
				t.Errorf("Validate() error = %v", err)
			case tt.wantErr == errAny && err == nil:
				t.Error("Validate() should fail")
			case tt.wantErr != nil && tt.wantErr != errAny && !errors.Is(err, tt.wantErr):
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

var errAny = errors.New("any error")

func TestResolveSecrets(t *testing.T) {
	t.Setenv("RESTCACHE_TEST_PG", "postgres://u:p@db/cache")
	t.Setenv("RESTCACHE_TEST_JWT", "hmac")

	cfg, _ := Load()
	cfg.Store.PostgresDSN = "secretref:env:RESTCACHE_TEST_PG"
	cfg.Admin.JWTSecret = "${RESTCACHE_TEST_JWT}"
	cfg.Admin.APIKeys = []string{"plain"}

	if err := cfg.ResolveSecrets(context.Background(), secret.NewDefaultResolver()); err != nil {
		t.Fatal(err)
	}
	if cfg.Store.PostgresDSN != "postgres://u:p@db/cache" {
		t.Errorf("PostgresDSN = %q", cfg.Store.PostgresDSN)
	}
	if cfg.Admin.JWTSecret != "hmac" {
		t.Errorf("JWTSecret = %q", cfg.Admin.JWTSecret)
	}

	cfg.Admin.JWTSecret = "secretref:env:RESTCACHE_TEST_MISSING"
	if err := cfg.ResolveSecrets(context.Background(), secret.NewDefaultResolver()); err == nil {
		t.Error("missing secret should fail")
	}
}

func TestObserveAndPolicy(t *testing.T) {
	cfg, _ := Load()
	cfg.Tracing.Exporter = "none"
	cfg.Cache.OnlyCache200 = true

	oc := cfg.Observe("v1.2.3")
	if oc.Tracing.Enabled || !oc.Metrics.Enabled || !oc.PrometheusEnabled() {
		t.Errorf("observe config = %+v", oc)
	}
	if err := oc.Validate(); err != nil {
		t.Errorf("observe config invalid: %v", err)
	}
	if p := cfg.Policy(); !p.OnlyCache200 || p.DefaultTTL != 24*time.Hour {
		t.Errorf("policy = %+v", p)
	}
}
