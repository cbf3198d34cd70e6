package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// JobMeta identifies one maintenance job run for telemetry.
type JobMeta struct {
	Name  string // refresh, expiry, trash
	RunID string
	// Trigger is "schedule" or "manual".
	Trigger string
}

// SpanName returns the span name for this job: restcache.job.<name>.
func (m JobMeta) SpanName() string {
	return "restcache.job." + m.Name
}

func (m JobMeta) attributes() []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("job.name", m.Name),
	}
	if m.RunID != "" {
		attrs = append(attrs, attribute.String("job.run_id", m.RunID))
	}
	if m.Trigger != "" {
		attrs = append(attrs, attribute.String("job.trigger", m.Trigger))
	}
	return attrs
}

// Tracer wraps OpenTelemetry tracing for job runs.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: EndSpan must be best-effort and must not panic.
type Tracer interface {
	StartSpan(ctx context.Context, meta JobMeta) (context.Context, trace.Span)
	EndSpan(span trace.Span, err error)
}

type tracerImpl struct {
	tracer trace.Tracer
}

func newTracer(t trace.Tracer) Tracer {
	return &tracerImpl{tracer: t}
}

// NewTracer wraps an OpenTelemetry tracer.
func NewTracer(t trace.Tracer) Tracer {
	if t == nil {
		return newTracer(tracenoop.NewTracerProvider().Tracer("noop"))
	}
	return newTracer(t)
}

func (t *tracerImpl) StartSpan(ctx context.Context, meta JobMeta) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, meta.SpanName(),
		trace.WithAttributes(meta.attributes()...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (t *tracerImpl) EndSpan(span trace.Span, err error) {
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
