// Package maintenance runs the background jobs that keep the cache healthy.
//
// Three jobs operate on a cache.Store:
//
//   - RefreshJob replays requests for records flagged as needing refresh and
//     writes the fresh responses through the engine's normal write path.
//   - ExpirySweepJob deletes records that expired long ago and were never
//     requested again.
//   - TrashJob deletes records that have not been requested within the
//     retention window, then optionally compacts the store.
//
// A Scheduler runs each registered job on its own ticker. Runs of the same job
// never overlap; different jobs may run concurrently. Every run is wrapped by
// observe.Middleware and gets its own run id.
//
// # Failure handling
//
// A job never aborts the whole batch because one record failed. Failures are
// counted, logged once at the end of the run, and the affected rows are left
// for the next run. A run cancelled part way leaves unprocessed rows in place.
//
// # Usage
//
//	sched := maintenance.NewScheduler(maintenance.SchedulerConfig{Middleware: obs.Middleware()})
//	_ = sched.Register(refresh, 5*time.Minute)
//	_ = sched.Register(sweep, time.Hour)
//	_ = sched.Register(trash, 24*time.Hour)
//	err := sched.Run(ctx)
package maintenance
