package maintenance

import (
	"context"
	"sync/atomic"
)

// Job names used by the built-in jobs.
const (
	JobRefresh = "refresh"
	JobExpiry  = "expiry"
	JobTrash   = "trash"
)

// Job is one unit of scheduled maintenance.
//
// Contract:
//   - Name is stable and unique within a Scheduler.
//   - Run must honor ctx cancellation between batches and leave unprocessed
//     rows for the next run.
//   - Run must not be called concurrently for the same job; the Scheduler's
//     Guard enforces this.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// JobFunc adapts a function to the Job interface.
type JobFunc struct {
	JobName string
	Fn      func(ctx context.Context) error
}

// Name implements Job.
func (j JobFunc) Name() string { return j.JobName }

// Run implements Job.
func (j JobFunc) Run(ctx context.Context) error { return j.Fn(ctx) }

// Guard is a non-blocking try-lock that keeps runs of one job from
// overlapping. The zero value is unlocked.
type Guard struct {
	busy atomic.Bool
}

// TryLock acquires the guard and reports whether it succeeded.
func (g *Guard) TryLock() bool {
	return g.busy.CompareAndSwap(false, true)
}

// Unlock releases the guard.
func (g *Guard) Unlock() {
	g.busy.Store(false)
}

// Busy reports whether the guard is held.
func (g *Guard) Busy() bool {
	return g.busy.Load()
}

var _ Job = JobFunc{}
