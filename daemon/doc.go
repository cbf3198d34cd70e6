// Package daemon assembles restcached from its configuration: store, engine,
// maintenance jobs and scheduler, health checks, and the admin server.
package daemon
