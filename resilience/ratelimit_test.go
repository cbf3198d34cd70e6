package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRateLimiter_Defaults(t *testing.T) {
	cfg := NewRateLimiter(RateLimiterConfig{}).Config()
	if cfg.Rate != 100 || cfg.Burst != 10 || cfg.MaxWait != time.Minute {
		t.Errorf("defaults = %+v", cfg)
	}
}

func TestRateLimiter_BurstThenLimit(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Rate: 1, Burst: 2})
	if !rl.Allow() || !rl.Allow() {
		t.Fatal("burst tokens should be available")
	}
	if rl.Allow() {
		t.Error("third call should be limited")
	}
}

func TestRateLimiter_WaitBoundedByMaxWait(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Rate: 0.001, Burst: 1, MaxWait: 10 * time.Millisecond})
	ctx := context.Background()

	if err := rl.Execute(ctx, ok); err != nil {
		t.Fatalf("first Execute() error = %v", err)
	}
	err := rl.Execute(ctx, func(context.Context) error {
		t.Error("op must not run without a token")
		return nil
	})
	if !errors.Is(err, ErrRateLimitExceeded) {
		t.Fatalf("Execute() error = %v, want ErrRateLimitExceeded", err)
	}
}

func TestRateLimiter_ContextCanceled(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Rate: 0.001, Burst: 1})
	_ = rl.Wait(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := rl.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait() error = %v, want context.Canceled", err)
	}
}
