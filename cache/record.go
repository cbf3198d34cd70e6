package cache

import "time"

// Record is one cached response, keyed by normalized request identity.
type Record struct {
	Key    string
	Domain string
	Path   string
	Query  string

	// Payload is the encoded Response (see EncodeResponse).
	Payload    []byte
	StatusCode int

	ExpiresAt time.Time

	// LastRequested is the UTC day the record was last read or written.
	LastRequested time.Time

	Tag string

	// NeedsRefresh is set by a stale read and cleared only by a write.
	NeedsRefresh bool

	// PendingArgs holds the encoded Args captured when NeedsRefresh was set.
	PendingArgs []byte
}

// Identity returns the normalized identity stored on the record.
func (r Record) Identity() Identity {
	return Identity{Key: r.Key, Domain: r.Domain, Path: r.Path, Query: r.Query}
}

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	out := r
	if r.Payload != nil {
		out.Payload = append([]byte(nil), r.Payload...)
	}
	if r.PendingArgs != nil {
		out.PendingArgs = append([]byte(nil), r.PendingArgs...)
	}
	return out
}

// Filter selects records for bounded scans and deletes. Zero fields are ignored;
// set fields are combined with AND.
type Filter struct {
	Key string
	Tag string

	// NeedsRefresh matches the flag when non-nil. Use Bool to build one.
	NeedsRefresh *bool

	// ExpiresBefore matches records with ExpiresAt strictly before it.
	ExpiresBefore time.Time

	// LastRequestedBefore matches records with LastRequested strictly before it.
	LastRequestedBefore time.Time
}

// Bool returns a pointer to b.
func Bool(b bool) *bool {
	return &b
}

// IsZero reports whether the filter matches every record.
func (f Filter) IsZero() bool {
	return f.Key == "" && f.Tag == "" && f.NeedsRefresh == nil &&
		f.ExpiresBefore.IsZero() && f.LastRequestedBefore.IsZero()
}

// Match reports whether rec satisfies the filter. Stores that push filters
// down to a query engine must return the same rows Match would select.
func (f Filter) Match(rec Record) bool {
	if f.Key != "" && rec.Key != f.Key {
		return false
	}
	if f.Tag != "" && rec.Tag != f.Tag {
		return false
	}
	if f.NeedsRefresh != nil && rec.NeedsRefresh != *f.NeedsRefresh {
		return false
	}
	if !f.ExpiresBefore.IsZero() && !rec.ExpiresAt.Before(f.ExpiresBefore) {
		return false
	}
	if !f.LastRequestedBefore.IsZero() && !rec.LastRequested.Before(f.LastRequestedBefore) {
		return false
	}
	return true
}
