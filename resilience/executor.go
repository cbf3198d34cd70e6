package resilience

import (
	"context"
	"time"
)

// Executor composes the resilience patterns around one keyed operation.
type Executor struct {
	rateLimiter *RateLimiter
	breakers    *BreakerSet
	retry       *Retry
	timeout     *Timeout
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// NewExecutor creates a new resilience executor. With no options it runs the
// operation directly.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// WithRateLimiter paces every operation through rl.
func WithRateLimiter(rl *RateLimiter) ExecutorOption {
	return func(e *Executor) {
		e.rateLimiter = rl
	}
}

// WithBreakers guards each key with its own circuit breaker.
func WithBreakers(s *BreakerSet) ExecutorOption {
	return func(e *Executor) {
		e.breakers = s
	}
}

// WithRetry adds retry logic to the executor.
func WithRetry(r *Retry) ExecutorOption {
	return func(e *Executor) {
		e.retry = r
	}
}

// WithTimeout bounds each attempt.
func WithTimeout(timeout time.Duration) ExecutorOption {
	return func(e *Executor) {
		e.timeout = NewTimeout(TimeoutConfig{Timeout: timeout})
	}
}

// Breakers returns the executor's breaker set, or nil.
func (e *Executor) Breakers() *BreakerSet {
	return e.breakers
}

// Execute runs op for key through all configured patterns.
//
// The execution order is:
// 1. Rate Limiter (if configured) - paces calls
// 2. Circuit Breaker for key (if configured) - skips failing upstreams
// 3. Retry (if configured) - retries on failure
// 4. Timeout (if configured) - bounds each attempt
func (e *Executor) Execute(ctx context.Context, key string, op func(context.Context) error) error {
	execute := op

	if e.timeout != nil {
		inner := execute
		execute = func(ctx context.Context) error {
			return e.timeout.Execute(ctx, inner)
		}
	}

	if e.retry != nil {
		inner := execute
		execute = func(ctx context.Context) error {
			return e.retry.Execute(ctx, inner)
		}
	}

	if e.breakers != nil {
		inner := execute
		execute = func(ctx context.Context) error {
			return e.breakers.Execute(ctx, key, inner)
		}
	}

	if e.rateLimiter != nil {
		inner := execute
		execute = func(ctx context.Context) error {
			return e.rateLimiter.Execute(ctx, inner)
		}
	}

	return execute(ctx)
}
