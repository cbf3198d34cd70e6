// Package exporters builds the OpenTelemetry trace exporters and metric readers
// selected by observe.Config.
package exporters

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

var (
	// ErrEndpointNotConfigured is returned for "otlp" when no endpoint
	// variable is set.
	ErrEndpointNotConfigured = errors.New("exporters: OTLP endpoint not configured")

	// ErrUnknownExporter is returned for an unsupported exporter name.
	ErrUnknownExporter = errors.New("exporters: unknown exporter")
)

// Stdout receives the output of the "stdout" exporters.
var Stdout io.Writer = os.Stdout

// otlpEndpoint checks the generic and the signal-specific endpoint variables.
// signal is TRACES or METRICS.
func otlpEndpoint(signal string) error {
	specific := "OTEL_EXPORTER_OTLP_" + signal + "_ENDPOINT"
	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" || os.Getenv(specific) != "" {
		return nil
	}
	return fmt.Errorf("%w: set OTEL_EXPORTER_OTLP_ENDPOINT or %s", ErrEndpointNotConfigured, specific)
}

// NewTracingExporter returns the span exporter for name: stdout, otlp, or
// none. It returns a nil exporter for none.
func NewTracingExporter(ctx context.Context, name string) (sdktrace.SpanExporter, error) {
	switch name {
	case "none", "":
		return nil, nil
	case "stdout":
		return stdouttrace.New(stdouttrace.WithWriter(Stdout))
	case "otlp":
		if err := otlpEndpoint("TRACES"); err != nil {
			return nil, err
		}
		return otlptracegrpc.New(ctx)
	}
	return nil, fmt.Errorf("%w: trace exporter %q", ErrUnknownExporter, name)
}

// NewMetricsReader returns the metric reader for name: stdout, otlp,
// prometheus, or none. It returns a nil reader for none.
//
// The prometheus reader registers with the default Prometheus registerer,
// so its metrics are served by promhttp.Handler.
func NewMetricsReader(ctx context.Context, name string) (sdkmetric.Reader, error) {
	var (
		exp sdkmetric.Exporter
		err error
	)
	switch name {
	case "none", "":
		return nil, nil
	case "prometheus":
		reader, err := prometheus.New()
		if err != nil {
			return nil, fmt.Errorf("exporters: prometheus: %w", err)
		}
		return reader, nil
	case "stdout":
		exp, err = stdoutmetric.New(stdoutmetric.WithWriter(Stdout))
	case "otlp":
		if err := otlpEndpoint("METRICS"); err != nil {
			return nil, err
		}
		exp, err = otlpmetricgrpc.New(ctx)
	default:
		return nil, fmt.Errorf("%w: metrics exporter %q", ErrUnknownExporter, name)
	}
	if err != nil {
		return nil, fmt.Errorf("exporters: %s metrics: %w", name, err)
	}
	return sdkmetric.NewPeriodicReader(exp), nil
}
