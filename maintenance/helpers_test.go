package maintenance

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonwraymond/restcache/cache"
)

var t0 = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(now time.Time) *testClock { return &testClock{now: now} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// faultyStore wraps a Store, records delete batch sizes and injects errors.
type faultyStore struct {
	cache.Store

	mu         sync.Mutex
	deletes    []int64
	compacts   int
	deleteErr  error
	scanErr    error
	compactErr error
}

func (s *faultyStore) DeleteWhere(ctx context.Context, f cache.Filter, limit int) (int64, error) {
	if s.deleteErr != nil {
		return 0, s.deleteErr
	}
	n, err := s.Store.DeleteWhere(ctx, f, limit)
	s.mu.Lock()
	s.deletes = append(s.deletes, n)
	s.mu.Unlock()
	return n, err
}

func (s *faultyStore) ScanWhere(ctx context.Context, f cache.Filter, limit int) ([]cache.Record, error) {
	if s.scanErr != nil {
		return nil, s.scanErr
	}
	return s.Store.ScanWhere(ctx, f, limit)
}

func (s *faultyStore) Deletes() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.deletes...)
}

// compactingStore adds cache.Compactor to faultyStore.
type compactingStore struct {
	*faultyStore
}

func (s compactingStore) Compact(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.compacts++
	return s.compactErr
}

func newEngine(t *testing.T, store cache.Store, clock cache.Clock) *cache.Engine {
	t.Helper()
	engine, err := cache.NewEngine(store, cache.WithClock(clock))
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	return engine
}

func itemURL(i int) string {
	return fmt.Sprintf("https://api.example.com/item/%d", i)
}

func mustGet(t *testing.T, store cache.Store, engine *cache.Engine, rawURL string) cache.Record {
	t.Helper()
	id, err := engine.Keyer().Normalize(rawURL)
	if err != nil {
		t.Fatalf("Normalize(%q) error = %v", rawURL, err)
	}
	rec, ok, err := store.GetByKey(context.Background(), id.Key)
	if err != nil || !ok {
		t.Fatalf("GetByKey(%q) = ok %v, err %v", rawURL, ok, err)
	}
	return rec
}

func putRecord(t *testing.T, store cache.Store, rec cache.Record) {
	t.Helper()
	if rec.Domain == "" {
		rec.Domain = "https://api.example.com"
		rec.Path = "/" + rec.Key
	}
	if err := store.UpsertByKey(context.Background(), rec); err != nil {
		t.Fatalf("UpsertByKey(%q) error = %v", rec.Key, err)
	}
}
