package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/jonwraymond/restcache/cache"
	"github.com/jonwraymond/restcache/observe"
)

// Expiry sweep defaults.
const (
	DefaultExpiryLimit  = 2000
	DefaultExpiryMaxAge = 365 * 24 * time.Hour
)

// ExpiryConfig configures an ExpirySweepJob.
type ExpiryConfig struct {
	Store cache.Store

	// MaxAge is how long past its expiry an unflagged record is kept.
	// Default: 1 year
	MaxAge time.Duration

	// Limit caps the rows deleted per run.
	// Default: 2000
	Limit int

	// Notifier receives a message when the sweep fails.
	// Default: SpanNotifier forwarding to a LogNotifier on Logger
	Notifier Notifier

	Clock   cache.Clock
	Logger  observe.Logger
	Metrics observe.Metrics
}

// ExpirySweepJob deletes records whose expiry is older than MaxAge and that
// are not awaiting refresh. One bounded delete per run.
type ExpirySweepJob struct {
	store    cache.Store
	maxAge   time.Duration
	limit    int
	notifier Notifier
	clock    cache.Clock
	logger   observe.Logger
	metrics  observe.Metrics
}

// NewExpirySweepJob creates an ExpirySweepJob.
func NewExpirySweepJob(cfg ExpiryConfig) (*ExpirySweepJob, error) {
	if cfg.Store == nil {
		return nil, ErrNilStore
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultExpiryMaxAge
	}
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultExpiryLimit
	}
	if cfg.Clock == nil {
		cfg.Clock = cache.SystemClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = observe.NopLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.NopMetrics()
	}
	return &ExpirySweepJob{
		store:    cfg.Store,
		maxAge:   cfg.MaxAge,
		limit:    cfg.Limit,
		notifier: notifierOrDefault(cfg.Notifier, cfg.Logger),
		clock:    cfg.Clock,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
	}, nil
}

// Name implements Job.
func (j *ExpirySweepJob) Name() string { return JobExpiry }

// Run implements Job.
func (j *ExpirySweepJob) Run(ctx context.Context) error {
	_, err := j.Sweep(ctx)
	return err
}

// Sweep runs one bounded delete and returns the number of rows removed.
// Storage failures are sent to the Notifier and returned.
func (j *ExpirySweepJob) Sweep(ctx context.Context) (int64, error) {
	cutoff := cache.Day(j.clock.Now().Add(-j.maxAge))

	n, err := j.store.DeleteWhere(ctx, cache.Filter{
		ExpiresBefore: cutoff,
		NeedsRefresh:  cache.Bool(false),
	}, j.limit)
	if err != nil {
		j.notifier.Notify(ctx, fmt.Sprintf("CRON FAIL: %v. Limit %d, Expired %s",
			err, j.limit, cutoff.Format(time.DateOnly)))
		return 0, fmt.Errorf("maintenance: expiry sweep: %w", err)
	}

	j.metrics.RecordRows(ctx, JobExpiry, "deleted", n)
	j.logger.Info(ctx, "expired cache entries removed",
		observe.Field{Key: "deleted", Value: n},
		observe.Field{Key: "expired_before", Value: cutoff.Format(time.DateOnly)})
	return n, nil
}

var _ Job = (*ExpirySweepJob)(nil)
