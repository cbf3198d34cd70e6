package maintenance

import "errors"

var (
	// ErrJobRunning is returned when a run is requested while the same job is
	// still running.
	ErrJobRunning = errors.New("maintenance: job already running")

	// ErrUnknownJob is returned when no job is registered under a name.
	ErrUnknownJob = errors.New("maintenance: unknown job")

	// ErrDuplicateJob is returned when a job name is registered twice.
	ErrDuplicateJob = errors.New("maintenance: job already registered")

	// ErrSchedulerRunning is returned by Run and Register once the scheduler
	// has started.
	ErrSchedulerRunning = errors.New("maintenance: scheduler already running")

	// ErrSchedulerStopped is returned by Trigger after Run has returned.
	ErrSchedulerStopped = errors.New("maintenance: scheduler stopped")

	// ErrNilStore is returned when a job is built without a store.
	ErrNilStore = errors.New("maintenance: store is required")

	// ErrNilWriter is returned when a refresh job is built without a writer.
	ErrNilWriter = errors.New("maintenance: writer is required")

	// ErrNilReplayer is returned when a refresh job is built without a replayer.
	ErrNilReplayer = errors.New("maintenance: replayer is required")

	// ErrUpstreamStatus marks a replay answered with a server error.
	ErrUpstreamStatus = errors.New("maintenance: upstream server error")
)
