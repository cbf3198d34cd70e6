package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/jonwraymond/restcache/admin"
	"github.com/jonwraymond/restcache/auth"
	"github.com/jonwraymond/restcache/cache"
	"github.com/jonwraymond/restcache/cache/postgres"
	"github.com/jonwraymond/restcache/cache/sqlite"
	"github.com/jonwraymond/restcache/config"
	"github.com/jonwraymond/restcache/health"
	"github.com/jonwraymond/restcache/maintenance"
	"github.com/jonwraymond/restcache/observe"
	"github.com/jonwraymond/restcache/resilience"
)

// ErrUnknownDriver is returned for an unsupported store driver.
var ErrUnknownDriver = errors.New("daemon: unknown store driver")

// Daemon is a fully wired restcached instance.
type Daemon struct {
	cfg        config.Config
	observer   observe.Observer
	logger     observe.Logger
	store      cache.Store
	closeStore func() error
	exclusions *cache.ExclusionList
	engine     *cache.Engine
	executor   *resilience.Executor
	scheduler  *maintenance.Scheduler
	health     *health.Aggregator
	handler    http.Handler
}

// New builds a Daemon. cfg is normalized and validated first. Close must be
// called to release the store and flush telemetry.
func New(ctx context.Context, cfg config.Config, version string) (*Daemon, error) {
	fixed := cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	obs, err := observe.NewObserver(ctx, cfg.Observe(version))
	if err != nil {
		return nil, fmt.Errorf("daemon: observer: %w", err)
	}
	d := &Daemon{cfg: cfg, observer: obs, logger: obs.Logger()}
	for _, name := range fixed {
		d.logger.Warn(ctx, "invalid setting replaced with default", observe.Field{Key: "setting", Value: name})
	}

	if err := d.build(ctx); err != nil {
		_ = d.Close(ctx)
		return nil, err
	}
	return d, nil
}

func (d *Daemon) build(ctx context.Context) error {
	cfg := d.cfg
	metrics := d.observer.Metrics()

	store, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	d.store, d.closeStore = store, closeStore
	d.logger.Info(ctx, "store opened", observe.Field{Key: "driver", Value: cfg.Store.Driver})

	d.exclusions = cache.NewExclusionList(cfg.Cache.ExcludedHosts...)
	d.engine, err = cache.NewEngine(store,
		cache.WithPolicy(cfg.Policy()),
		cache.WithExclusions(d.exclusions),
		cache.WithLogger(d.logger),
		cache.WithMetrics(metrics),
	)
	if err != nil {
		return fmt.Errorf("daemon: engine: %w", err)
	}

	d.executor = d.newExecutor()
	refresh, err := maintenance.NewRefreshJob(maintenance.RefreshConfig{
		Store:    store,
		Writer:   d.engine,
		Replayer: maintenance.NewHTTPReplayer(nil, d.executor),
		Limit:    cfg.Refresh.Limit,
		Logger:   d.jobLogger(maintenance.JobRefresh),
		Metrics:  metrics,
	})
	if err != nil {
		return fmt.Errorf("daemon: refresh job: %w", err)
	}
	expiry, err := maintenance.NewExpirySweepJob(maintenance.ExpiryConfig{
		Store:   store,
		MaxAge:  cfg.Expiry.MaxAge,
		Limit:   cfg.Expiry.Limit,
		Logger:  d.jobLogger(maintenance.JobExpiry),
		Metrics: metrics,
	})
	if err != nil {
		return fmt.Errorf("daemon: expiry job: %w", err)
	}
	trash, err := maintenance.NewTrashJob(maintenance.TrashConfig{
		Store:       store,
		Retention:   cfg.Trash.Retention,
		Limit:       cfg.Trash.Limit,
		SkipCompact: !cfg.Trash.Compact,
		Logger:      d.jobLogger(maintenance.JobTrash),
		Metrics:     metrics,
	})
	if err != nil {
		return fmt.Errorf("daemon: trash job: %w", err)
	}

	d.scheduler = maintenance.NewScheduler(maintenance.SchedulerConfig{
		RunOnStart: cfg.RunOnStart,
		Middleware: d.observer.Middleware(),
		Logger:     d.logger,
	})
	trashEvery := cfg.Trash.Interval
	if cfg.Trash.Retention == 0 {
		trashEvery = 0
	}
	for _, j := range []struct {
		job   maintenance.Job
		every time.Duration
	}{
		{refresh, cfg.Refresh.Interval},
		{expiry, cfg.Expiry.Interval},
		{trash, trashEvery},
	} {
		if err := d.scheduler.Register(j.job, j.every); err != nil {
			return fmt.Errorf("daemon: register %s: %w", j.job.Name(), err)
		}
	}

	d.health = health.NewAggregator(health.AggregatorConfig{})
	checkers := []health.Checker{
		health.NewSchedulerChecker(d.scheduler, 0),
		health.NewBreakerChecker(d.executor.Breakers()),
	}
	if p, ok := store.(cache.Pinger); ok {
		checkers = append(checkers, health.NewStoreChecker(p))
	}
	for _, c := range checkers {
		if err := d.health.Register(c); err != nil {
			return fmt.Errorf("daemon: health: %w", err)
		}
	}

	authn, err := newAuthenticator(cfg.Admin)
	if err != nil {
		return fmt.Errorf("daemon: admin auth: %w", err)
	}
	if authn == nil {
		d.logger.Warn(ctx, "no admin credentials configured; /v1 routes disabled")
	}
	routerCfg := admin.Config{
		Health:        d.health,
		Authenticator: authn,
		Exclusions:    d.exclusions,
		Jobs:          d.scheduler,
		Entries:       d.engine,
		Logger:        d.logger,
	}
	if obsCfg := cfg.Observe(""); obsCfg.PrometheusEnabled() {
		routerCfg.Metrics = promhttp.Handler()
	}
	d.handler = admin.NewRouter(routerCfg)
	return nil
}

// jobLogger tags entries with the job name; file logging routes them to
// that job's daily file.
func (d *Daemon) jobLogger(name string) observe.Logger {
	return d.logger.With(observe.Field{Key: "job", Value: name})
}

func (d *Daemon) newExecutor() *resilience.Executor {
	rc := d.cfg.Refresh
	return resilience.NewExecutor(
		resilience.WithRateLimiter(resilience.NewRateLimiter(resilience.RateLimiterConfig{
			Rate:  rc.RatePerSecond,
			Burst: rc.Burst,
		})),
		resilience.WithBreakers(resilience.NewBreakerSet(resilience.CircuitBreakerConfig{
			MaxFailures:  rc.BreakerFailures,
			ResetTimeout: rc.BreakerReset,
			OnStateChange: func(host string, from, to resilience.State) {
				d.logger.Warn(context.Background(), "upstream breaker changed state",
					observe.Field{Key: "host", Value: host},
					observe.Field{Key: "from", Value: from.String()},
					observe.Field{Key: "to", Value: to.String()})
			},
		})),
		resilience.WithRetry(resilience.NewRetry(resilience.RetryConfig{
			MaxAttempts: rc.MaxAttempts,
			Jitter:      true,
		})),
		resilience.WithTimeout(rc.Timeout),
	)
}

// newAuthenticator returns nil when no admin credentials are configured.
func newAuthenticator(cfg config.AdminConfig) (auth.Authenticator, error) {
	var methods []auth.Authenticator
	if len(cfg.APIKeys) > 0 {
		a, err := auth.NewAPIKeyAuthenticator("", cfg.APIKeys...)
		if err != nil && !errors.Is(err, auth.ErrNoKeys) {
			return nil, err
		}
		if a != nil {
			methods = append(methods, a)
		}
	}
	if cfg.JWTSecret != "" {
		a, err := auth.NewJWTAuthenticator(auth.JWTConfig{
			Secret:   []byte(cfg.JWTSecret),
			Issuer:   cfg.JWTIssuer,
			Audience: cfg.JWTAudience,
		})
		if err != nil {
			return nil, err
		}
		methods = append(methods, a)
	}
	if len(methods) == 0 {
		return nil, nil
	}
	return auth.NewCompositeAuthenticator(methods...), nil
}

func openStore(ctx context.Context, cfg config.StoreConfig) (cache.Store, func() error, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return cache.NewMemoryStore(), func() error { return nil }, nil
	case config.DriverSQLite:
		if cfg.SQLitePath != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
				return nil, nil, fmt.Errorf("daemon: sqlite dir: %w", err)
			}
		}
		s, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case config.DriverPostgres:
		s, err := postgres.Open(ctx, cfg.PostgresDSN, cfg.PostgresMigrate)
		if err != nil {
			return nil, nil, err
		}
		return s, func() error { s.Close(); return nil }, nil
	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}

// Engine returns the decision engine, for building a cache.Transport in the
// same process.
func (d *Daemon) Engine() *cache.Engine { return d.engine }

// Scheduler returns the maintenance scheduler.
func (d *Daemon) Scheduler() *maintenance.Scheduler { return d.scheduler }

// Handler returns the admin HTTP handler.
func (d *Daemon) Handler() http.Handler { return d.handler }

// Logger returns the daemon logger.
func (d *Daemon) Logger() observe.Logger { return d.logger }

// Run serves the admin API on the configured address and runs the scheduler
// until ctx ends, then shuts the server down.
func (d *Daemon) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", d.cfg.AdminAddr)
	if err != nil {
		return fmt.Errorf("daemon: listen %s: %w", d.cfg.AdminAddr, err)
	}
	return d.Serve(ctx, ln)
}

// Serve is Run with a caller-provided listener.
func (d *Daemon) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           d.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return d.scheduler.Run(gctx)
	})
	g.Go(func() error {
		d.logger.Info(gctx, "admin listening", observe.Field{Key: "addr", Value: ln.Addr().String()})
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("daemon: serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), d.cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("daemon: shutdown: %w", err)
		}
		return nil
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	d.logger.Info(context.Background(), "daemon stopped")
	return err
}

// Close releases the store and shuts telemetry down.
func (d *Daemon) Close(ctx context.Context) error {
	var errs []error
	if d.closeStore != nil {
		if err := d.closeStore(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
		d.closeStore = nil
	}
	if d.observer != nil {
		if err := d.observer.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Run builds a Daemon from cfg and runs it until ctx ends.
func Run(ctx context.Context, cfg config.Config, version string) error {
	d, err := New(ctx, cfg, version)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), d.cfg.ShutdownTimeout)
		defer cancel()
		if err := d.Close(closeCtx); err != nil {
			fmt.Fprintf(os.Stderr, "restcached: close: %v\n", err)
		}
	}()
	return d.Run(ctx)
}
