package config

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"

	"github.com/jonwraymond/restcache/cache"
	"github.com/jonwraymond/restcache/observe"
	"github.com/jonwraymond/restcache/secret"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// ErrPostgresDSN is returned when the postgres driver has no DSN.
var ErrPostgresDSN = errors.New("config: postgres driver requires RESTCACHE_STORE_POSTGRES_DSN")

var validate = validator.New()

// Config is the full daemon configuration.
type Config struct {
	ServiceName     string        `env:"RESTCACHE_SERVICE_NAME" envDefault:"restcache" validate:"required"`
	AdminAddr       string        `env:"RESTCACHE_ADMIN_ADDR" envDefault:":8089" validate:"required"`
	ShutdownTimeout time.Duration `env:"RESTCACHE_SHUTDOWN_TIMEOUT" envDefault:"15s"`

	// RunOnStart runs every maintenance job once at startup.
	RunOnStart bool `env:"RESTCACHE_RUN_ON_START"`

	Store   StoreConfig   `envPrefix:"RESTCACHE_STORE_"`
	Cache   CacheConfig   `envPrefix:"RESTCACHE_CACHE_"`
	Refresh RefreshConfig `envPrefix:"RESTCACHE_REFRESH_"`
	Expiry  ExpiryConfig  `envPrefix:"RESTCACHE_EXPIRY_"`
	Trash   TrashConfig   `envPrefix:"RESTCACHE_TRASH_"`
	Log     LogConfig     `envPrefix:"RESTCACHE_LOG_"`
	Tracing TracingConfig `envPrefix:"RESTCACHE_TRACING_"`
	Metrics MetricsConfig `envPrefix:"RESTCACHE_METRICS_"`
	Admin   AdminConfig   `envPrefix:"RESTCACHE_ADMIN_"`
}

// StoreConfig selects and configures the record store.
type StoreConfig struct {
	Driver          string `env:"DRIVER" envDefault:"sqlite" validate:"oneof=memory sqlite postgres"`
	SQLitePath      string `env:"SQLITE_PATH" envDefault:"data/restcache.db"`
	PostgresDSN     string `env:"POSTGRES_DSN"`
	PostgresMigrate bool   `env:"POSTGRES_MIGRATE" envDefault:"true"`
}

// CacheConfig configures the decision engine.
type CacheConfig struct {
	DefaultTTL    time.Duration `env:"DEFAULT_TTL" envDefault:"24h"`
	ErrorTTL      time.Duration `env:"ERROR_TTL" envDefault:"10m"`
	MaxTTL        time.Duration `env:"MAX_TTL"`
	OnlyCache200  bool          `env:"ONLY_200"`
	ExcludedHosts []string      `env:"EXCLUDED_HOSTS" envSeparator:","`
}

// RefreshConfig configures the refresh job and its replay client.
type RefreshConfig struct {
	Interval        time.Duration `env:"INTERVAL" envDefault:"5m"`
	Limit           int           `env:"LIMIT" envDefault:"2000"`
	Timeout         time.Duration `env:"TIMEOUT" envDefault:"30s"`
	MaxAttempts     int           `env:"MAX_ATTEMPTS" envDefault:"3"`
	RatePerSecond   float64       `env:"RATE" envDefault:"20"`
	Burst           int           `env:"BURST" envDefault:"5"`
	BreakerFailures int           `env:"BREAKER_FAILURES" envDefault:"5"`
	BreakerReset    time.Duration `env:"BREAKER_RESET" envDefault:"1m"`
}

// ExpiryConfig configures the hard-expiry sweep.
type ExpiryConfig struct {
	Interval time.Duration `env:"INTERVAL" envDefault:"1h"`
	Limit    int           `env:"LIMIT" envDefault:"2000"`
	MaxAge   time.Duration `env:"MAX_AGE" envDefault:"8760h"`
}

// TrashConfig configures trash collection. A zero Retention disables it.
type TrashConfig struct {
	Interval  time.Duration `env:"INTERVAL" envDefault:"24h"`
	Retention time.Duration `env:"RETENTION" envDefault:"168h"`
	Limit     int           `env:"LIMIT" envDefault:"1000"`
	Compact   bool          `env:"COMPACT" envDefault:"true"`
}

// LogConfig configures logging.
type LogConfig struct {
	Mode  string `env:"MODE" envDefault:"stderr" validate:"oneof=off stderr file"`
	Level string `env:"LEVEL" envDefault:"info"`
	Dir   string `env:"DIR" envDefault:"logs"`
}

// TracingConfig configures trace export.
type TracingConfig struct {
	Exporter  string  `env:"EXPORTER" envDefault:"none" validate:"oneof=otlp stdout none"`
	SamplePct float64 `env:"SAMPLE_PCT" envDefault:"1" validate:"gte=0,lte=1"`
}

// MetricsConfig configures metric export.
type MetricsConfig struct {
	Exporter string `env:"EXPORTER" envDefault:"prometheus" validate:"oneof=otlp prometheus stdout none"`
}

// AdminConfig configures admin API authentication. With no keys and no JWT
// secret only the health and metrics endpoints are served.
type AdminConfig struct {
	APIKeys     []string `env:"API_KEYS" envSeparator:","`
	JWTSecret   string   `env:"JWT_SECRET"`
	JWTIssuer   string   `env:"JWT_ISSUER"`
	JWTAudience string   `env:"JWT_AUDIENCE"`
}

// Load reads the configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// ParseConfig loads the environment, then applies flag overrides from args.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	cfg, err := Load()
	if err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.AdminAddr, "addr", cfg.AdminAddr, "admin listen address (default: RESTCACHE_ADMIN_ADDR or :8089)")
	fs.StringVar(&cfg.Store.Driver, "store", cfg.Store.Driver, "store driver: memory|sqlite|postgres")
	fs.StringVar(&cfg.Store.SQLitePath, "sqlite-path", cfg.Store.SQLitePath, "sqlite database path")
	fs.StringVar(&cfg.Store.PostgresDSN, "postgres-dsn", cfg.Store.PostgresDSN, "postgres DSN (may be a secretref)")
	fs.StringVar(&cfg.Log.Mode, "log-mode", cfg.Log.Mode, "logging mode: off|stderr|file")
	fs.StringVar(&cfg.Log.Level, "log-level", cfg.Log.Level, "log level: debug|info|warn|error")
	fs.BoolVar(&cfg.RunOnStart, "run-on-start", cfg.RunOnStart, "run every maintenance job once at startup")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Normalize replaces non-positive limits and intervals with their defaults
// and returns the names of the fields it changed. Trash retention is only
// reset when negative; zero disables trash collection.
func (c *Config) Normalize() []string {
	var fixed []string
	dur := func(name string, v *time.Duration, def time.Duration) {
		if *v <= 0 {
			*v = def
			fixed = append(fixed, name)
		}
	}
	num := func(name string, v *int, def int) {
		if *v <= 0 {
			*v = def
			fixed = append(fixed, name)
		}
	}

	dur("cache.default_ttl", &c.Cache.DefaultTTL, 24*time.Hour)
	if c.Cache.ErrorTTL < 0 {
		c.Cache.ErrorTTL = 10 * time.Minute
		fixed = append(fixed, "cache.error_ttl")
	}
	if c.Cache.MaxTTL < 0 {
		c.Cache.MaxTTL = 0
		fixed = append(fixed, "cache.max_ttl")
	}

	dur("refresh.interval", &c.Refresh.Interval, 5*time.Minute)
	num("refresh.limit", &c.Refresh.Limit, 2000)
	dur("refresh.timeout", &c.Refresh.Timeout, 30*time.Second)
	num("refresh.max_attempts", &c.Refresh.MaxAttempts, 3)
	num("refresh.burst", &c.Refresh.Burst, 5)
	num("refresh.breaker_failures", &c.Refresh.BreakerFailures, 5)
	dur("refresh.breaker_reset", &c.Refresh.BreakerReset, time.Minute)
	if c.Refresh.RatePerSecond <= 0 {
		c.Refresh.RatePerSecond = 20
		fixed = append(fixed, "refresh.rate")
	}

	dur("expiry.interval", &c.Expiry.Interval, time.Hour)
	num("expiry.limit", &c.Expiry.Limit, 2000)
	dur("expiry.max_age", &c.Expiry.MaxAge, 365*24*time.Hour)

	dur("trash.interval", &c.Trash.Interval, 24*time.Hour)
	num("trash.limit", &c.Trash.Limit, 1000)
	if c.Trash.Retention < 0 {
		c.Trash.Retention = 7 * 24 * time.Hour
		fixed = append(fixed, "trash.retention")
	}

	dur("shutdown_timeout", &c.ShutdownTimeout, 15*time.Second)
	if !validLevel(c.Log.Level) {
		c.Log.Level = "info"
		fixed = append(fixed, "log.level")
	}
	return fixed
}

func validLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}

// Validate checks the settings that cannot fall back to a default.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Store.Driver == DriverPostgres && c.Store.PostgresDSN == "" {
		return ErrPostgresDSN
	}
	return nil
}

// ResolveSecrets resolves the secret-bearing fields through r.
func (c *Config) ResolveSecrets(ctx context.Context, r *secret.Resolver) error {
	var err error
	if c.Store.PostgresDSN, err = r.ResolveValue(ctx, c.Store.PostgresDSN); err != nil {
		return fmt.Errorf("config: postgres dsn: %w", err)
	}
	if c.Admin.JWTSecret, err = r.ResolveValue(ctx, c.Admin.JWTSecret); err != nil {
		return fmt.Errorf("config: jwt secret: %w", err)
	}
	if c.Admin.APIKeys, err = r.ResolveSlice(ctx, c.Admin.APIKeys); err != nil {
		return fmt.Errorf("config: api keys: %w", err)
	}
	return nil
}

// Policy returns the cache expiration policy.
func (c *Config) Policy() cache.Policy {
	return cache.Policy{
		DefaultTTL:   c.Cache.DefaultTTL,
		ErrorTTL:     c.Cache.ErrorTTL,
		MaxTTL:       c.Cache.MaxTTL,
		OnlyCache200: c.Cache.OnlyCache200,
	}
}

// Observe returns the observer configuration.
func (c *Config) Observe(version string) observe.Config {
	return observe.Config{
		ServiceName: c.ServiceName,
		Version:     version,
		Tracing: observe.TracingConfig{
			Enabled:   c.Tracing.Exporter != "none",
			Exporter:  c.Tracing.Exporter,
			SamplePct: c.Tracing.SamplePct,
		},
		Metrics: observe.MetricsConfig{
			Enabled:  c.Metrics.Exporter != "none",
			Exporter: c.Metrics.Exporter,
		},
		Logging: observe.LoggingConfig{
			Mode:  c.Log.Mode,
			Level: c.Log.Level,
			Dir:   c.Log.Dir,
		},
	}
}

// AdminAuthEnabled reports whether any admin credential is configured.
func (c *Config) AdminAuthEnabled() bool {
	return len(c.Admin.APIKeys) > 0 || c.Admin.JWTSecret != ""
}
