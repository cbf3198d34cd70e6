// Package health reports whether the cache daemon can do its work.
//
// A Checker reports one component's Status: Healthy, Degraded or Unhealthy.
// The package ships checkers for the cache store (cache.Pinger), the
// maintenance scheduler and the replay circuit breakers. An Aggregator runs
// all registered checkers in parallel under one timeout and combines their
// results; the worst status wins.
//
// # HTTP Endpoints
//
//	r := chi.NewRouter()
//	health.Mount(r, agg)
//
// mounts /healthz (liveness), /readyz (plain-text readiness) and /health
// (JSON detail for every check).
package health
