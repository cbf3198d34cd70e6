package observe

import (
	"context"
	"time"
)

// RunFunc is the signature of one job run.
type RunFunc func(ctx context.Context) error

// Middleware wraps job runs with tracing, metrics and logging.
//
// Contract:
//   - Concurrency: Wrap returns a RunFunc safe for concurrent use.
//   - Context: the span context is propagated to the wrapped function.
//   - Errors: errors from the wrapped function are recorded and returned unchanged.
type Middleware struct {
	tracer  Tracer
	metrics Metrics
	logger  Logger
}

// NewMiddleware creates a Middleware. Nil components are replaced by no-ops.
func NewMiddleware(tracer Tracer, metrics Metrics, logger Logger) *Middleware {
	if tracer == nil {
		tracer = NewTracer(nil)
	}
	if metrics == nil {
		metrics = NopMetrics()
	}
	if logger == nil {
		logger = NopLogger()
	}
	return &Middleware{
		tracer:  tracer,
		metrics: metrics,
		logger:  logger,
	}
}

// Wrap instruments fn as one run of the job described by meta.
func (m *Middleware) Wrap(meta JobMeta, fn RunFunc) RunFunc {
	return func(ctx context.Context) error {
		if meta.Name == "" {
			return ErrMissingJobName
		}

		ctx, span := m.tracer.StartSpan(ctx, meta)
		logger := m.logger.With(
			Field{Key: "job", Value: meta.Name},
			Field{Key: "run_id", Value: meta.RunID},
		)
		logger.Debug(ctx, "job started", Field{Key: "trigger", Value: meta.Trigger})

		start := time.Now()
		err := fn(ctx)
		duration := time.Since(start)

		m.tracer.EndSpan(span, err)
		m.metrics.RecordRun(ctx, meta.Name, duration, err)

		fields := []Field{{Key: "duration_ms", Value: float64(duration.Milliseconds())}}
		if err != nil {
			fields = append(fields, Field{Key: "error", Value: err.Error()})
			logger.Error(ctx, "job failed", fields...)
		} else {
			logger.Info(ctx, "job completed", fields...)
		}
		return err
	}
}
