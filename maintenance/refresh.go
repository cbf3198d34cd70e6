package maintenance

import (
	"context"
	"fmt"

	"github.com/jonwraymond/restcache/cache"
	"github.com/jonwraymond/restcache/observe"
)

// DefaultRefreshLimit is the number of flagged records one refresh run handles.
const DefaultRefreshLimit = 2000

// Replayer performs the upstream request for a record being refreshed.
//
// Contract:
//   - Replay returns an error for transport failures and server errors; the
//     record then stays flagged.
//   - Other responses, including 4xx, are returned for the write path to judge.
type Replayer interface {
	Replay(ctx context.Context, rawURL string, args cache.Args) (*cache.Response, error)
}

// ReplayerFunc adapts a function to the Replayer interface.
type ReplayerFunc func(ctx context.Context, rawURL string, args cache.Args) (*cache.Response, error)

// Replay implements Replayer.
func (f ReplayerFunc) Replay(ctx context.Context, rawURL string, args cache.Args) (*cache.Response, error) {
	return f(ctx, rawURL, args)
}

// Writer is the cache write path. *cache.Engine implements it.
type Writer interface {
	Store(ctx context.Context, resp *cache.Response, rawURL string, args cache.Args) error
}

// RefreshConfig configures a RefreshJob.
type RefreshConfig struct {
	Store    cache.Store
	Writer   Writer
	Replayer Replayer

	// Limit caps the records handled per run.
	// Default: 2000
	Limit int

	Logger  observe.Logger
	Metrics observe.Metrics
}

// RefreshReport summarizes one refresh run.
type RefreshReport struct {
	Selected  int
	Attempted int
	Succeeded int
	Failed    int

	// Skipped counts records whose fresh response the write path declined.
	// Their refresh flag is cleared and the old content is kept.
	Skipped int
}

// RefreshJob replays flagged records and stores the fresh responses.
type RefreshJob struct {
	store    cache.Store
	writer   Writer
	replayer Replayer
	limit    int
	logger   observe.Logger
	metrics  observe.Metrics
}

// NewRefreshJob creates a RefreshJob.
func NewRefreshJob(cfg RefreshConfig) (*RefreshJob, error) {
	switch {
	case cfg.Store == nil:
		return nil, ErrNilStore
	case cfg.Writer == nil:
		return nil, ErrNilWriter
	case cfg.Replayer == nil:
		return nil, ErrNilReplayer
	}
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultRefreshLimit
	}
	if cfg.Logger == nil {
		cfg.Logger = observe.NopLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.NopMetrics()
	}
	return &RefreshJob{
		store:    cfg.Store,
		writer:   cfg.Writer,
		replayer: cfg.Replayer,
		limit:    cfg.Limit,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
	}, nil
}

// Name implements Job.
func (j *RefreshJob) Name() string { return JobRefresh }

// Run implements Job.
func (j *RefreshJob) Run(ctx context.Context) error {
	_, err := j.Refresh(ctx)
	return err
}

// Refresh processes up to Limit flagged records. A failure on one record is
// counted and never stops the batch; the record stays flagged for the next
// run. A fresh response the write path skips by policy clears the flag. Refresh returns an error only when the batch cannot be selected or ctx
// is cancelled.
func (j *RefreshJob) Refresh(ctx context.Context) (RefreshReport, error) {
	var report RefreshReport

	recs, err := j.store.ScanWhere(ctx, cache.Filter{NeedsRefresh: cache.Bool(true)}, j.limit)
	if err != nil {
		return report, fmt.Errorf("maintenance: select refresh batch: %w", err)
	}
	report.Selected = len(recs)
	if len(recs) == 0 {
		j.logger.Info(ctx, "all cache entries are up to date")
		return report, nil
	}

	defer func() {
		j.metrics.RecordRows(ctx, JobRefresh, "refreshed", int64(report.Succeeded))
		j.metrics.RecordRows(ctx, JobRefresh, "failed", int64(report.Failed))
		j.metrics.RecordRows(ctx, JobRefresh, "skipped", int64(report.Skipped))
	}()

	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Attempted++
		err := j.refreshOne(ctx, rec)
		if cache.IsSkip(err) {
			err = j.unflag(ctx, rec)
			if err == nil {
				report.Skipped++
				continue
			}
		}
		if err != nil {
			report.Failed++
			j.logger.Debug(ctx, "cache entry refresh failed",
				observe.Field{Key: "key", Value: rec.Key},
				observe.Field{Key: "error", Value: err})
			continue
		}
		report.Succeeded++
	}

	if report.Failed > 0 {
		j.logger.Warn(ctx, "some cache entries failed to refresh",
			observe.Field{Key: "failed", Value: report.Failed},
			observe.Field{Key: "attempted", Value: report.Attempted})
	} else {
		j.logger.Info(ctx, "cache entries refreshed",
			observe.Field{Key: "refreshed", Value: report.Succeeded})
	}
	return report, nil
}

func (j *RefreshJob) refreshOne(ctx context.Context, rec cache.Record) error {
	args := pendingArgs(rec)
	args.Options.Refresh = false
	rawURL := rec.Identity().URL()

	resp, err := j.replayer.Replay(ctx, rawURL, args)
	if err != nil {
		return err
	}
	return j.writer.Store(ctx, resp, rawURL, args)
}

// unflag clears the refresh flag on rec so a response the write path will
// never accept is not replayed on every run.
func (j *RefreshJob) unflag(ctx context.Context, rec cache.Record) error {
	rec.NeedsRefresh = false
	rec.PendingArgs = nil
	if err := j.store.UpsertByKey(ctx, rec); err != nil {
		return fmt.Errorf("maintenance: clear refresh flag: %w", err)
	}
	j.logger.Debug(ctx, "refreshed response not cacheable; flag cleared",
		observe.Field{Key: "key", Value: rec.Key})
	return nil
}

// pendingArgs decodes the captured request. Missing or unreadable args replay
// as a plain GET.
func pendingArgs(rec cache.Record) cache.Args {
	if len(rec.PendingArgs) == 0 {
		return cache.Args{}
	}
	args, err := cache.DecodeArgs(rec.PendingArgs)
	if err != nil {
		return cache.Args{}
	}
	return args
}

var (
	_ Job      = (*RefreshJob)(nil)
	_ Replayer = ReplayerFunc(nil)
	_ Writer   = (*cache.Engine)(nil)
)
