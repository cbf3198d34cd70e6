package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// AggregatorConfig configures the health aggregator.
type AggregatorConfig struct {
	// Timeout is the maximum time to wait for all checks.
	// Default: 10 seconds
	Timeout time.Duration
}

// Report is the combined outcome of all checks.
type Report struct {
	Status    Status
	Checks    map[string]Result
	Timestamp time.Time
}

// Aggregator runs registered checkers and combines their results.
type Aggregator struct {
	config AggregatorConfig

	mu       sync.RWMutex
	checkers []Checker
}

// NewAggregator creates a new health aggregator.
func NewAggregator(config AggregatorConfig) *Aggregator {
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	return &Aggregator{config: config}
}

// Register adds checker under its Name.
func (a *Aggregator) Register(checker Checker) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, c := range a.checkers {
		if c.Name() == checker.Name() {
			return fmt.Errorf("%w: %s", ErrDuplicateChecker, checker.Name())
		}
	}
	a.checkers = append(a.checkers, checker)
	return nil
}

// Names returns registered checker names in registration order.
func (a *Aggregator) Names() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	names := make([]string, len(a.checkers))
	for i, c := range a.checkers {
		names[i] = c.Name()
	}
	return names
}

// Check runs a single named check.
func (a *Aggregator) Check(ctx context.Context, name string) (Result, error) {
	a.mu.RLock()
	var checker Checker
	for _, c := range a.checkers {
		if c.Name() == name {
			checker = c
		}
	}
	a.mu.RUnlock()

	if checker == nil {
		return Result{}, fmt.Errorf("%w: %s", ErrCheckerNotFound, name)
	}
	ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()
	return runCheck(ctx, checker), nil
}

// CheckAll runs every check in parallel. Checks still running at the timeout
// are reported unhealthy.
func (a *Aggregator) CheckAll(ctx context.Context) Report {
	a.mu.RLock()
	checkers := append([]Checker(nil), a.checkers...)
	a.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()

	results := make([]Result, len(checkers))
	var g errgroup.Group
	for i, c := range checkers {
		g.Go(func() error {
			results[i] = runCheck(ctx, c)
			return nil
		})
	}
	_ = g.Wait()

	report := Report{
		Status:    StatusHealthy,
		Checks:    make(map[string]Result, len(checkers)),
		Timestamp: time.Now().UTC(),
	}
	for i, c := range checkers {
		report.Checks[c.Name()] = results[i]
		report.Status = report.Status.Worse(results[i].Status)
	}
	return report
}

func runCheck(ctx context.Context, checker Checker) Result {
	start := time.Now()
	resultCh := make(chan Result, 1)

	go func() {
		resultCh <- checker.Check(ctx)
	}()

	select {
	case r := <-resultCh:
		r.Duration = time.Since(start)
		return r
	case <-ctx.Done():
		r := Unhealthy("check timed out", ErrCheckTimeout)
		r.Duration = time.Since(start)
		return r
	}
}
