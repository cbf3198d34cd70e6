package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records cache and maintenance job measurements.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: must return quickly.
// - Errors: implementations must not panic.
type Metrics interface {
	// RecordLookup counts one intercept decision (hit, stale, miss, excluded).
	RecordLookup(ctx context.Context, result string)

	// RecordWrite counts one write-path outcome (stored, skipped, failed).
	RecordWrite(ctx context.Context, result string)

	// RecordRun records one job run with duration and error status.
	RecordRun(ctx context.Context, job string, duration time.Duration, err error)

	// RecordRows counts rows a job touched, grouped by outcome.
	RecordRows(ctx context.Context, job, outcome string, n int64)
}

type metricsImpl struct {
	lookups  metric.Int64Counter
	writes   metric.Int64Counter
	runs     metric.Int64Counter
	duration metric.Float64Histogram
	rows     metric.Int64Counter
}

// NewMetrics creates the instruments on meter.
func NewMetrics(meter metric.Meter) (Metrics, error) {
	lookups, err := meter.Int64Counter(
		"restcache.lookup.total",
		metric.WithDescription("Cache intercept decisions"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, err
	}

	writes, err := meter.Int64Counter(
		"restcache.write.total",
		metric.WithDescription("Cache write path outcomes"),
		metric.WithUnit("{write}"),
	)
	if err != nil {
		return nil, err
	}

	runs, err := meter.Int64Counter(
		"restcache.job.runs",
		metric.WithDescription("Maintenance job runs"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram(
		"restcache.job.duration_ms",
		metric.WithDescription("Maintenance job run duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	rows, err := meter.Int64Counter(
		"restcache.job.rows",
		metric.WithDescription("Rows processed by maintenance jobs"),
		metric.WithUnit("{row}"),
	)
	if err != nil {
		return nil, err
	}

	return &metricsImpl{
		lookups:  lookups,
		writes:   writes,
		runs:     runs,
		duration: duration,
		rows:     rows,
	}, nil
}

func (m *metricsImpl) RecordLookup(ctx context.Context, result string) {
	m.lookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func (m *metricsImpl) RecordWrite(ctx context.Context, result string) {
	m.writes.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func (m *metricsImpl) RecordRun(ctx context.Context, job string, duration time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.runs.Add(ctx, 1, metric.WithAttributes(
		attribute.String("job", job),
		attribute.String("status", status),
	))
	m.duration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attribute.String("job", job)))
}

func (m *metricsImpl) RecordRows(ctx context.Context, job, outcome string, n int64) {
	if n <= 0 {
		return
	}
	m.rows.Add(ctx, n, metric.WithAttributes(
		attribute.String("job", job),
		attribute.String("outcome", outcome),
	))
}

// NopMetrics returns a Metrics that records nothing.
func NopMetrics() Metrics {
	return noopMetrics{}
}

type noopMetrics struct{}

func (noopMetrics) RecordLookup(context.Context, string)                    {}
func (noopMetrics) RecordWrite(context.Context, string)                     {}
func (noopMetrics) RecordRun(context.Context, string, time.Duration, error) {}
func (noopMetrics) RecordRows(context.Context, string, string, int64)       {}
