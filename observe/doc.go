// Package observe provides the logging, tracing and metrics primitives shared by
// the cache engine and its maintenance jobs.
//
// Nothing in this package keeps process-wide state. An Observer is built once at
// startup from Config and its Logger and Metrics are injected into every
// component that reports telemetry.
package observe
