package health

import (
	"context"
	"fmt"
	"time"

	"github.com/jonwraymond/restcache/cache"
	"github.com/jonwraymond/restcache/maintenance"
	"github.com/jonwraymond/restcache/resilience"
)

// StoreChecker pings the cache store.
type StoreChecker struct {
	pinger cache.Pinger
}

// NewStoreChecker creates a StoreChecker.
func NewStoreChecker(p cache.Pinger) *StoreChecker {
	return &StoreChecker{pinger: p}
}

// Name implements Checker.
func (c *StoreChecker) Name() string { return "store" }

// Check implements Checker.
func (c *StoreChecker) Check(ctx context.Context) Result {
	if err := c.pinger.Ping(ctx); err != nil {
		return Unhealthy("store unreachable", err)
	}
	return Healthy("store reachable")
}

// JobStatuses is implemented by *maintenance.Scheduler.
type JobStatuses interface {
	Statuses() []maintenance.Status
}

// SchedulerChecker reports the maintenance jobs. A job whose last run failed
// is degraded. A scheduled job that has not finished a run within
// MissedRuns intervals of its last start is unhealthy.
type SchedulerChecker struct {
	source     JobStatuses
	missedRuns int
	now        func() time.Time
}

// NewSchedulerChecker creates a SchedulerChecker. missedRuns <= 0 uses 3.
func NewSchedulerChecker(source JobStatuses, missedRuns int) *SchedulerChecker {
	if missedRuns <= 0 {
		missedRuns = 3
	}
	return &SchedulerChecker{source: source, missedRuns: missedRuns, now: time.Now}
}

// Name implements Checker.
func (c *SchedulerChecker) Name() string { return "scheduler" }

// Check implements Checker.
func (c *SchedulerChecker) Check(context.Context) Result {
	status := StatusHealthy
	details := make(map[string]any)
	now := c.now()

	for _, st := range c.source.Statuses() {
		job := map[string]any{"runs": st.Runs, "running": st.Running}
		switch {
		case st.Running && st.Every > 0 && now.Sub(st.LastStart) > time.Duration(c.missedRuns)*st.Every:
			job["status"] = StatusUnhealthy.String()
			status = status.Worse(StatusUnhealthy)
		case st.LastError != "":
			job["status"] = StatusDegraded.String()
			job["last_error"] = st.LastError
			status = status.Worse(StatusDegraded)
		default:
			job["status"] = StatusHealthy.String()
		}
		details[st.Name] = job
	}

	var r Result
	switch status {
	case StatusUnhealthy:
		r = Unhealthy("a maintenance job is stuck", nil)
	case StatusDegraded:
		r = Degraded("a maintenance job failed its last run")
	default:
		r = Healthy("maintenance jobs ok")
	}
	return r.WithDetails(details)
}

// BreakerChecker reports upstream hosts whose replay circuit is open.
// Open circuits degrade the daemon; they never make it unhealthy.
type BreakerChecker struct {
	breakers *resilience.BreakerSet
}

// NewBreakerChecker creates a BreakerChecker.
func NewBreakerChecker(breakers *resilience.BreakerSet) *BreakerChecker {
	return &BreakerChecker{breakers: breakers}
}

// Name implements Checker.
func (c *BreakerChecker) Name() string { return "upstreams" }

// Check implements Checker.
func (c *BreakerChecker) Check(context.Context) Result {
	var open []string
	for _, m := range c.breakers.Snapshot() {
		if m.State != resilience.StateClosed {
			open = append(open, m.Key)
		}
	}
	if len(open) == 0 {
		return Healthy("all upstream circuits closed")
	}
	return Degraded(fmt.Sprintf("%d upstream circuit(s) open", len(open))).
		WithDetails(map[string]any{"open": open})
}

var (
	_ Checker     = (*StoreChecker)(nil)
	_ Checker     = (*SchedulerChecker)(nil)
	_ Checker     = (*BreakerChecker)(nil)
	_ JobStatuses = (*maintenance.Scheduler)(nil)
)
