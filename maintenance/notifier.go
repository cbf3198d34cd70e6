package maintenance

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jonwraymond/restcache/observe"
)

// Notifier receives operator-facing failure messages from jobs.
type Notifier interface {
	Notify(ctx context.Context, message string)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, message string)

// Notify implements Notifier.
func (f NotifierFunc) Notify(ctx context.Context, message string) { f(ctx, message) }

// LogNotifier writes notifications as error-level log lines.
type LogNotifier struct {
	logger observe.Logger
}

// NewLogNotifier creates a LogNotifier. A nil logger discards notifications.
func NewLogNotifier(logger observe.Logger) *LogNotifier {
	if logger == nil {
		logger = observe.NopLogger()
	}
	return &LogNotifier{logger: logger}
}

// Notify implements Notifier.
func (n *LogNotifier) Notify(ctx context.Context, message string) {
	n.logger.Error(ctx, message, observe.Field{Key: "notify", Value: true})
}

// SpanNotifier records notifications on the span in ctx and forwards them to
// Next when set.
type SpanNotifier struct {
	Next Notifier
}

// Notify implements Notifier.
func (n SpanNotifier) Notify(ctx context.Context, message string) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent("restcache.notify", trace.WithAttributes(attribute.String("message", message)))
	span.SetStatus(codes.Error, message)
	if n.Next != nil {
		n.Next.Notify(ctx, message)
	}
}

func notifierOrDefault(n Notifier, logger observe.Logger) Notifier {
	if n != nil {
		return n
	}
	return SpanNotifier{Next: NewLogNotifier(logger)}
}

var (
	_ Notifier = NotifierFunc(nil)
	_ Notifier = (*LogNotifier)(nil)
	_ Notifier = SpanNotifier{}
)
