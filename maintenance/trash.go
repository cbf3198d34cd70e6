package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/jonwraymond/restcache/cache"
	"github.com/jonwraymond/restcache/observe"
)

// Trash collection defaults.
const (
	DefaultTrashLimit     = 1000
	DefaultTrashRetention = 7 * 24 * time.Hour
)

// TrashConfig configures a TrashJob.
type TrashConfig struct {
	Store cache.Store

	// Retention is how long an unrequested record is kept. Zero disables
	// collection.
	// Default (negative): 7 days
	Retention time.Duration

	// Limit caps the rows deleted per batch.
	// Default: 1000
	Limit int

	// SkipCompact disables compaction after rows were deleted.
	SkipCompact bool

	// Notifier receives a message when a batch fails.
	// Default: SpanNotifier forwarding to a LogNotifier on Logger
	Notifier Notifier

	Clock   cache.Clock
	Logger  observe.Logger
	Metrics observe.Metrics
}

// TrashReport summarizes one trash collection run.
type TrashReport struct {
	Deleted   int64
	Batches   int
	Compacted bool
}

// TrashJob deletes records not requested within the retention window.
// Deletes run in bounded batches until one removes nothing.
type TrashJob struct {
	store       cache.Store
	retention   time.Duration
	limit       int
	skipCompact bool
	notifier    Notifier
	clock       cache.Clock
	logger      observe.Logger
	metrics     observe.Metrics
}

// NewTrashJob creates a TrashJob.
func NewTrashJob(cfg TrashConfig) (*TrashJob, error) {
	if cfg.Store == nil {
		return nil, ErrNilStore
	}
	if cfg.Retention < 0 {
		cfg.Retention = DefaultTrashRetention
	}
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultTrashLimit
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
	return &TrashJob{
		store:       cfg.Store,
		retention:   cfg.Retention,
		limit:       cfg.Limit,
		skipCompact: cfg.SkipCompact,
		notifier:    notifierOrDefault(cfg.Notifier, cfg.Logger),
		clock:       cfg.Clock,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
	}, nil
}

// Name implements Job.
func (j *TrashJob) Name() string { return JobTrash }

// Run implements Job.
func (j *TrashJob) Run(ctx context.Context) error {
	_, err := j.Collect(ctx)
	return err
}

// Collect deletes batches of records with LastRequested before the cutoff
// until a batch deletes nothing, then compacts the store if it supports it.
// Cancellation is checked between batches. A failed batch is sent to the
// Notifier and returned.
func (j *TrashJob) Collect(ctx context.Context) (TrashReport, error) {
	var report TrashReport
	if j.retention == 0 {
		j.logger.Debug(ctx, "trash collection disabled")
		return report, nil
	}

	cutoff := cache.Day(j.clock.Now().Add(-j.retention))
	filter := cache.Filter{LastRequestedBefore: cutoff}

	defer func() {
		j.metrics.RecordRows(ctx, JobTrash, "deleted", report.Deleted)
	}()

	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		n, err := j.store.DeleteWhere(ctx, filter, j.limit)
		report.Batches++
		if err != nil {
			j.notifier.Notify(ctx, fmt.Sprintf("TRASH CRON FAIL: %v. Limit %d, Requested before %s",
				err, j.limit, cutoff.Format(time.DateOnly)))
			return report, fmt.Errorf("maintenance: trash batch %d: %w", report.Batches, err)
		}
		if n == 0 {
			break
		}
		report.Deleted += n
	}

	if report.Deleted > 0 && !j.skipCompact {
		if c, ok := j.store.(cache.Compactor); ok {
			if err := c.Compact(ctx); err != nil {
				j.logger.Warn(ctx, "cache compaction failed", observe.Field{Key: "error", Value: err})
			} else {
				report.Compacted = true
			}
		}
	}

	j.logger.Info(ctx, "unrequested cache entries removed",
		observe.Field{Key: "deleted", Value: report.Deleted},
		observe.Field{Key: "batches", Value: report.Batches},
		observe.Field{Key: "requested_before", Value: cutoff.Format(time.DateOnly)},
		observe.Field{Key: "compacted", Value: report.Compacted})
	return report, nil
}

var _ Job = (*TrashJob)(nil)
