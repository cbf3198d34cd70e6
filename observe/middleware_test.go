package observe

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func newTestMiddleware(t *testing.T, buf *bytes.Buffer) (*Middleware, *tracetest.SpanRecorder, Metrics) {
	t.Helper()
	spanRecorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spanRecorder))
	metrics, _ := newTestMetrics(t)
	var logger Logger = NopLogger()
	if buf != nil {
		logger = NewLoggerWithWriter("debug", buf)
	}
	return NewMiddleware(NewTracer(tp.Tracer("test")), metrics, logger), spanRecorder, metrics
}

func TestMiddleware_SuccessPath(t *testing.T) {
	var buf bytes.Buffer
	mw, spans, _ := newTestMiddleware(t, &buf)

	var sawSpan bool
	run := mw.Wrap(JobMeta{Name: "refresh", RunID: "r1", Trigger: "schedule"}, func(ctx context.Context) error {
		sawSpan = trace.SpanFromContext(ctx).SpanContext().IsValid()
		return nil
	})

	if err := run(context.Background()); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if !sawSpan {
		t.Error("expected span context to be propagated to the run")
	}

	ended := spans.Ended()
	if len(ended) != 1 {
		t.Fatalf("expected 1 span, got %d", len(ended))
	}
	if ended[0].Name() != "restcache.job.refresh" {
		t.Errorf("span name = %q", ended[0].Name())
	}
	if ended[0].Status().Code != codes.Ok {
		t.Errorf("span status = %v, want Ok", ended[0].Status().Code)
	}

	var runID string
	for _, kv := range ended[0].Attributes() {
		if kv.Key == attribute.Key("job.run_id") {
			runID = kv.Value.AsString()
		}
	}
	if runID != "r1" {
		t.Errorf("job.run_id = %q, want r1", runID)
	}

	lines := decodeLines(t, &buf)
	last := lines[len(lines)-1]
	if last["msg"] != "job completed" || last["job"] != "refresh" {
		t.Errorf("unexpected completion log: %v", last)
	}
}

func TestMiddleware_ErrorPath(t *testing.T) {
	var buf bytes.Buffer
	mw, spans, _ := newTestMiddleware(t, &buf)
	testErr := errors.New("delete failed")

	run := mw.Wrap(JobMeta{Name: "expiry"}, func(context.Context) error { return testErr })
	if err := run(context.Background()); !errors.Is(err, testErr) {
		t.Fatalf("expected %v, got %v", testErr, err)
	}

	ended := spans.Ended()
	if len(ended) != 1 {
		t.Fatalf("expected 1 span, got %d", len(ended))
	}
	if ended[0].Status().Code != codes.Error {
		t.Errorf("span status = %v, want Error", ended[0].Status().Code)
	}
	if len(ended[0].Events()) == 0 {
		t.Error("expected the error to be recorded as a span event")
	}

	lines := decodeLines(t, &buf)
	last := lines[len(lines)-1]
	if last["level"] != "error" || last["error"] != "delete failed" {
		t.Errorf("unexpected failure log: %v", last)
	}
}

func TestMiddleware_MissingJobName(t *testing.T) {
	mw, spans, _ := newTestMiddleware(t, nil)
	called := false
	run := mw.Wrap(JobMeta{}, func(context.Context) error {
		called = true
		return nil
	})

	if err := run(context.Background()); !errors.Is(err, ErrMissingJobName) {
		t.Fatalf("expected ErrMissingJobName, got %v", err)
	}
	if called {
		t.Error("run must not be invoked without a job name")
	}
	if len(spans.Ended()) != 0 {
		t.Error("no span expected without a job name")
	}
}

func TestNewMiddleware_NilComponents(t *testing.T) {
	mw := NewMiddleware(nil, nil, nil)
	run := mw.Wrap(JobMeta{Name: "trash"}, func(context.Context) error { return nil })
	if err := run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
