// Package admin serves the restcached operator API.
//
// Health and metrics endpoints are public. The /v1 routes manage the host
// exclusion list, start maintenance jobs, and inspect cache entries; they
// are mounted only when an Authenticator is configured.
package admin
