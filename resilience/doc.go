// Package resilience guards the refresh job's replayed HTTP calls.
//
// An Executor composes, from the outside in: a rate limiter that paces replays
// (golang.org/x/time/rate), a circuit breaker per upstream host, retry with
// backoff, and a per-attempt timeout. A host that keeps failing is skipped for
// the rest of a refresh batch instead of being hammered with up to the full
// batch limit of requests; its records stay flagged and are retried on the
// next run.
//
//	exec := resilience.NewExecutor(
//	    resilience.WithRateLimiter(resilience.NewRateLimiter(resilience.RateLimiterConfig{Rate: 20, Burst: 5})),
//	    resilience.WithBreakers(resilience.NewBreakerSet(resilience.CircuitBreakerConfig{MaxFailures: 5})),
//	    resilience.WithRetry(resilience.NewRetry(resilience.RetryConfig{MaxAttempts: 2})),
//	    resilience.WithTimeout(15*time.Second),
//	)
//
//	err := exec.Execute(ctx, "api.example.com", func(ctx context.Context) error {
//	    return replay(ctx)
//	})
package resilience
