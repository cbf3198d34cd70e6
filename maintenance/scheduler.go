package maintenance

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jonwraymond/restcache/cache"
	"github.com/jonwraymond/restcache/observe"
)

// Run triggers reported to observe.JobMeta.
const (
	TriggerSchedule = "schedule"
	TriggerStartup  = "startup"
	TriggerManual   = "manual"
)

// SchedulerConfig configures a Scheduler.
type SchedulerConfig struct {
	// RunOnStart runs every job once when Run starts instead of waiting one
	// interval.
	RunOnStart bool

	// Middleware instruments each run.
	// Default: uninstrumented middleware
	Middleware *observe.Middleware

	Logger observe.Logger
	Clock  cache.Clock
}

// Status is a snapshot of one registered job.
type Status struct {
	Name       string        `json:"name"`
	Every      time.Duration `json:"every"`
	Running    bool          `json:"running"`
	Runs       int64         `json:"runs"`
	LastRunID  string        `json:"last_run_id,omitempty"`
	LastStart  time.Time     `json:"last_start,omitzero"`
	LastFinish time.Time     `json:"last_finish,omitzero"`
	LastError  string        `json:"last_error,omitempty"`
}

type entry struct {
	job   Job
	every time.Duration
	guard Guard

	mu     sync.Mutex
	status Status
}

// Scheduler runs registered jobs on fixed intervals.
//
// Contract:
//   - Concurrency: all methods are safe for concurrent use.
//   - A job never runs concurrently with itself, whether started by its
//     ticker or by Trigger. A tick that finds the job running is skipped.
//   - Job errors are logged and recorded in Status; they never stop the loop.
type Scheduler struct {
	middleware *observe.Middleware
	logger     observe.Logger
	clock      cache.Clock
	runOnStart bool

	mu      sync.RWMutex
	entries map[string]*entry
	base    context.Context
	started bool
	stopped bool
	wg      sync.WaitGroup
}

// NewScheduler creates a Scheduler.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	if cfg.Logger == nil {
		cfg.Logger = observe.NopLogger()
	}
	if cfg.Middleware == nil {
		cfg.Middleware = observe.NewMiddleware(nil, nil, cfg.Logger)
	}
	if cfg.Clock == nil {
		cfg.Clock = cache.SystemClock()
	}
	return &Scheduler{
		middleware: cfg.Middleware,
		logger:     cfg.Logger,
		clock:      cfg.Clock,
		runOnStart: cfg.RunOnStart,
		entries:    make(map[string]*entry),
		base:       context.Background(),
	}
}

// Register adds job to run every interval. A non-positive interval registers
// the job for manual triggers only.
func (s *Scheduler) Register(job Job, every time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrSchedulerRunning
	}
	name := job.Name()
	if name == "" {
		return observe.ErrMissingJobName
	}
	if _, ok := s.entries[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, name)
	}
	s.entries[name] = &entry{
		job:    job,
		every:  every,
		status: Status{Name: name, Every: every},
	}
	return nil
}

// Run starts one loop per scheduled job and blocks until ctx is done. Runs
// started by Trigger are waited for before Run returns.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrSchedulerRunning
	}
	s.started = true
	g, gctx := errgroup.WithContext(ctx)
	s.base = gctx
	entries := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	for _, e := range entries {
		if e.every <= 0 {
			continue
		}
		g.Go(func() error {
			s.loop(gctx, e)
			return nil
		})
	}

	err := g.Wait()
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.wg.Wait()
	return err
}

func (s *Scheduler) loop(ctx context.Context, e *entry) {
	if s.runOnStart {
		s.runScheduled(ctx, e, TriggerStartup)
	}

	ticker := time.NewTicker(e.every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runScheduled(ctx, e, TriggerSchedule)
		}
	}
}

func (s *Scheduler) runScheduled(ctx context.Context, e *entry, trigger string) {
	if !e.guard.TryLock() {
		s.logger.Debug(ctx, "job still running, skipping tick",
			observe.Field{Key: "job", Value: e.job.Name()})
		return
	}
	s.run(ctx, e, uuid.NewString(), trigger)
}

// RunJob runs the named job synchronously and returns its error.
func (s *Scheduler) RunJob(ctx context.Context, name string) error {
	e, err := s.lookup(name)
	if err != nil {
		return err
	}
	if !e.guard.TryLock() {
		return ErrJobRunning
	}
	return s.run(ctx, e, uuid.NewString(), TriggerManual)
}

// Trigger starts the named job in the background and returns its run id.
// The run uses the scheduler's context, so it stops when Run's context ends.
func (s *Scheduler) Trigger(name string) (string, error) {
	e, err := s.lookup(name)
	if err != nil {
		return "", err
	}
	if !e.guard.TryLock() {
		return "", ErrJobRunning
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		e.guard.Unlock()
		return "", ErrSchedulerStopped
	}
	ctx := s.base

	runID := uuid.NewString()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_ = s.run(ctx, e, runID, TriggerManual)
	}()
	return runID, nil
}

// run executes one guarded run. The caller must hold e.guard.
func (s *Scheduler) run(ctx context.Context, e *entry, runID, trigger string) error {
	defer e.guard.Unlock()

	e.mu.Lock()
	e.status.Running = true
	e.status.LastRunID = runID
	e.status.LastStart = s.clock.Now()
	e.mu.Unlock()

	meta := observe.JobMeta{Name: e.job.Name(), RunID: runID, Trigger: trigger}
	err := s.middleware.Wrap(meta, e.job.Run)(ctx)

	e.mu.Lock()
	e.status.Running = false
	e.status.Runs++
	e.status.LastFinish = s.clock.Now()
	e.status.LastError = ""
	if err != nil {
		e.status.LastError = err.Error()
	}
	e.mu.Unlock()
	return err
}

func (s *Scheduler) lookup(name string) (*entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return e, nil
}

// Status returns the status of the named job.
func (s *Scheduler) Status(name string) (Status, error) {
	e, err := s.lookup(name)
	if err != nil {
		return Status{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status, nil
}

// Statuses returns the status of every job, sorted by name.
func (s *Scheduler) Statuses() []Status {
	s.mu.RLock()
	out := make([]Status, 0, len(s.entries))
	for _, e := range s.entries {
		e.mu.Lock()
		out = append(out, e.status)
		e.mu.Unlock()
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
