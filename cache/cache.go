package cache

import (
	"context"
	"errors"
)

// DefaultBatchLimit is used when a bounded operation is given a non-positive limit.
const DefaultBatchLimit = 1000

// Sentinel errors for cache operations.
var (
	ErrNilStore      = errors.New("cache: store is nil")
	ErrInvalidURL    = errors.New("cache: url is invalid")
	ErrNotCacheable  = errors.New("cache: request is not cacheable")
	ErrSerialization = errors.New("cache: serialization failed")
	ErrEmptyFilter   = errors.New("cache: filter matches every record")
)

// Store persists cache records keyed by normalized request identity.
//
// Contract:
//   - Concurrency: implementations must be safe for concurrent use.
//   - Atomicity: UpsertByKey replaces the whole record; a concurrent GetByKey
//     observes either the old or the new record, never a mix.
//   - Uniqueness: at most one record exists per key.
//   - Limits: DeleteWhere and ScanWhere touch at most limit rows; a
//     non-positive limit means DefaultBatchLimit.
//   - Errors: GetByKey returns (Record{}, false, nil) when the key is absent.
//     DeleteWhere rejects a zero Filter with ErrEmptyFilter.
type Store interface {
	UpsertByKey(ctx context.Context, rec Record) error
	GetByKey(ctx context.Context, key string) (Record, bool, error)
	DeleteWhere(ctx context.Context, f Filter, limit int) (int64, error)
	ScanWhere(ctx context.Context, f Filter, limit int) ([]Record, error)
}

// Compactor is implemented by stores that can reclaim space after large deletes.
type Compactor interface {
	Compact(ctx context.Context) error
}

// Pinger is implemented by stores that can report connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NormalizeLimit applies DefaultBatchLimit to non-positive limits.
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultBatchLimit
	}
	return limit
}
