package cache

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory Store. Bounded operations visit records in key
// order so repeated calls with the same limit are deterministic.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]Record),
	}
}

// UpsertByKey stores a copy of rec, replacing any record with the same key.
func (s *MemoryStore) UpsertByKey(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.Key == "" {
		return ErrInvalidURL
	}
	s.mu.Lock()
	s.records[rec.Key] = rec.Clone()
	s.mu.Unlock()
	return nil
}

// GetByKey returns a copy of the record stored under key.
func (s *MemoryStore) GetByKey(ctx context.Context, key string) (Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, false, err
	}
	s.mu.RLock()
	rec, ok := s.records[key]
	s.mu.RUnlock()
	if !ok {
		return Record{}, false, nil
	}
	return rec.Clone(), true, nil
}

// DeleteWhere removes up to limit records matching f.
func (s *MemoryStore) DeleteWhere(ctx context.Context, f Filter, limit int) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if f.IsZero() {
		return 0, ErrEmptyFilter
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	keys := s.matchLocked(f, NormalizeLimit(limit))
	for _, k := range keys {
		delete(s.records, k)
	}
	return int64(len(keys)), nil
}

// ScanWhere returns copies of up to limit records matching f.
func (s *MemoryStore) ScanWhere(ctx context.Context, f Filter, limit int) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := s.matchLocked(f, NormalizeLimit(limit))
	out := make([]Record, 0, len(keys))
	for _, k := range keys {
		out = append(out, s.records[k].Clone())
	}
	return out, nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Ping always succeeds.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *MemoryStore) matchLocked(f Filter, limit int) []string {
	keys := make([]string, 0, len(s.records))
	for k := range s.records {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	matched := make([]string, 0, min(limit, len(keys)))
	for _, k := range keys {
		if len(matched) == limit {
			break
		}
		if f.Match(s.records[k]) {
			matched = append(matched, k)
		}
	}
	return matched
}

// Ensure MemoryStore implements Store
var (
	_ Store  = (*MemoryStore)(nil)
	_ Pinger = (*MemoryStore)(nil)
)
