// Package config loads restcached configuration.
//
// Values come from RESTCACHE_* environment variables (see Config for names
// and defaults) and may be overridden by command-line flags. Invalid numeric
// settings fall back to their defaults instead of failing startup; Normalize
// reports which fields were replaced so the daemon can log them.
package config
