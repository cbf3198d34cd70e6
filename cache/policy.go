package cache

import (
	"strconv"
	"strings"
	"time"
)

// Policy computes expiration times for cached responses.
type Policy struct {
	// DefaultTTL is used when the caller supplies no TTL specifier.
	// Default: 24h
	DefaultTTL time.Duration

	// ErrorTTL is the lifetime of non-2xx responses. Zero disables the override.
	// Default: 10m
	ErrorTTL time.Duration

	// MaxTTL is the maximum allowed lifetime. If zero, no maximum is enforced.
	MaxTTL time.Duration

	// OnlyCache200 skips writes for responses whose status is not 200.
	OnlyCache200 bool
}

// DefaultPolicy returns the default expiration policy.
// DefaultTTL: 24 hours, ErrorTTL: 10 minutes, MaxTTL: none, OnlyCache200: false
func DefaultPolicy() Policy {
	return Policy{
		DefaultTTL: 24 * time.Hour,
		ErrorTTL:   10 * time.Minute,
	}
}

// absoluteLayouts are the date formats accepted as TTL specifiers.
var absoluteLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ExpiresAt returns the absolute expiry for a response with the given status,
// written at now with the caller-supplied TTL specifier.
//
// The specifier may be a Go duration ("90m"), a number of seconds ("3600"), or
// an absolute date. Empty or unparsable specifiers use DefaultTTL.
func (p Policy) ExpiresAt(now time.Time, spec string, status int) time.Time {
	if status != 0 && (status < 200 || status > 299) && p.ErrorTTL > 0 {
		return p.clamp(now, now.Add(p.ErrorTTL))
	}

	spec = strings.TrimSpace(spec)
	if spec == "" {
		return p.clamp(now, now.Add(p.defaultTTL()))
	}
	if d, err := time.ParseDuration(spec); err == nil && d > 0 {
		return p.clamp(now, now.Add(d))
	}
	if secs, err := strconv.ParseInt(spec, 10, 64); err == nil && secs > 0 {
		return p.clamp(now, now.Add(time.Duration(secs)*time.Second))
	}
	for _, layout := range absoluteLayouts {
		if t, err := time.ParseInLocation(layout, spec, time.UTC); err == nil {
			return p.clamp(now, t.UTC())
		}
	}
	return p.clamp(now, now.Add(p.defaultTTL()))
}

// IsStale reports whether rec has expired relative to now.
func (p Policy) IsStale(rec Record, now time.Time) bool {
	return now.After(rec.ExpiresAt)
}

// Cacheable reports whether a response with status may be written.
func (p Policy) Cacheable(status int) bool {
	return !p.OnlyCache200 || status == 200
}

func (p Policy) defaultTTL() time.Duration {
	if p.DefaultTTL <= 0 {
		return DefaultPolicy().DefaultTTL
	}
	return p.DefaultTTL
}

func (p Policy) clamp(now, t time.Time) time.Time {
	if p.MaxTTL > 0 && t.Sub(now) > p.MaxTTL {
		return now.Add(p.MaxTTL)
	}
	return t
}

// Day truncates t to the start of its UTC calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
