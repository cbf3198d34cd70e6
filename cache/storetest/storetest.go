// Package storetest is the contract suite every cache.Store implementation runs
// from its own tests.
package storetest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jonwraymond/restcache/cache"
)

// CleanupFunc releases resources held by a store under test.
type CleanupFunc = func()

// Factory returns an empty store. Each subtest calls it once.
type Factory func(t *testing.T) (cache.Store, CleanupFunc)

var base = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func record(key string) cache.Record {
	return cache.Record{
		Key:           key,
		Domain:        "https://api.example.com",
		Path:          "/v1/" + key,
		Query:         "a=1&b=2",
		Payload:       []byte{0x01, 0x00, 0xfe, byte(len(key))},
		StatusCode:    200,
		ExpiresAt:     base.Add(24 * time.Hour),
		LastRequested: cache.Day(base),
		Tag:           "contract",
	}
}

func open(t *testing.T, newStore Factory) cache.Store {
	t.Helper()
	store, cleanup := newStore(t)
	if cleanup != nil {
		t.Cleanup(cleanup)
	}
	return store
}

// Run executes the full Store contract against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("UpsertGetRoundTrip", func(t *testing.T) { testRoundTrip(t, open(t, newStore)) })
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, open(t, newStore)) })
	t.Run("UpsertReplaces", func(t *testing.T) { testUpsertReplaces(t, open(t, newStore)) })
	t.Run("ScanFilters", func(t *testing.T) { testScanFilters(t, open(t, newStore)) })
	t.Run("DeleteBounded", func(t *testing.T) { testDeleteBounded(t, open(t, newStore)) })
	t.Run("DeleteExpiredKeepsPending", func(t *testing.T) { testDeleteExpiredKeepsPending(t, open(t, newStore)) })
	t.Run("DeleteRejectsZeroFilter", func(t *testing.T) { testDeleteZeroFilter(t, open(t, newStore)) })
	t.Run("Compact", func(t *testing.T) { testCompact(t, open(t, newStore)) })
}

func testRoundTrip(t *testing.T, store cache.Store) {
	ctx := context.Background()
	want := record("k1")
	want.NeedsRefresh = true
	want.PendingArgs = []byte{0xa0}

	if err := store.UpsertByKey(ctx, want); err != nil {
		t.Fatalf("UpsertByKey: %v", err)
	}
	got, ok, err := store.GetByKey(ctx, "k1")
	if err != nil || !ok {
		t.Fatalf("GetByKey: ok=%v err=%v", ok, err)
	}

	if got.Key != want.Key || got.Domain != want.Domain || got.Path != want.Path || got.Query != want.Query {
		t.Errorf("identity mismatch: %+v", got)
	}
	if !bytes.Equal(got.Payload, want.Payload) {
		t.Errorf("Payload = %v, want %v", got.Payload, want.Payload)
	}
	if !bytes.Equal(got.PendingArgs, want.PendingArgs) {
		t.Errorf("PendingArgs = %v, want %v", got.PendingArgs, want.PendingArgs)
	}
	if got.StatusCode != 200 || got.Tag != "contract" || !got.NeedsRefresh {
		t.Errorf("fields mismatch: %+v", got)
	}
	if !got.ExpiresAt.Equal(want.ExpiresAt) {
		t.Errorf("ExpiresAt = %v, want %v", got.ExpiresAt, want.ExpiresAt)
	}
	if !got.LastRequested.Equal(want.LastRequested) {
		t.Errorf("LastRequested = %v, want %v", got.LastRequested, want.LastRequested)
	}
}

func testGetMissing(t *testing.T, store cache.Store) {
	got, ok, err := store.GetByKey(context.Background(), "absent")
	if err != nil {
		t.Fatalf("GetByKey: %v", err)
	}
	if ok || got.Key != "" {
		t.Fatalf("expected absent record, got %+v", got)
	}
}

func testUpsertReplaces(t *testing.T, store cache.Store) {
	ctx := context.Background()
	first := record("dup")
	first.NeedsRefresh = true
	first.PendingArgs = []byte("args")
	if err := store.UpsertByKey(ctx, first); err != nil {
		t.Fatalf("UpsertByKey: %v", err)
	}

	second := record("dup")
	second.Payload = []byte("second")
	second.PendingArgs = nil
	if err := store.UpsertByKey(ctx, second); err != nil {
		t.Fatalf("UpsertByKey replace: %v", err)
	}

	recs, err := store.ScanWhere(ctx, cache.Filter{Key: "dup"}, 10)
	if err != nil {
		t.Fatalf("ScanWhere: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("ScanWhere(key) returned %d rows, want 1", len(recs))
	}
	got := recs[0]
	if string(got.Payload) != "second" || got.NeedsRefresh || len(got.PendingArgs) != 0 {
		t.Errorf("replace must overwrite every field, got %+v", got)
	}
}

func testScanFilters(t *testing.T, store cache.Store) {
	ctx := context.Background()
	for i := range 6 {
		rec := record(fmt.Sprintf("s%d", i))
		rec.NeedsRefresh = i%2 == 0
		rec.ExpiresAt = base.Add(time.Duration(i-3) * time.Hour)
		if i == 5 {
			rec.Tag = "other"
		}
		if err := store.UpsertByKey(ctx, rec); err != nil {
			t.Fatalf("UpsertByKey: %v", err)
		}
	}

	tests := []struct {
		name  string
		f     cache.Filter
		limit int
		want  int
	}{
		{"all", cache.Filter{}, 100, 6},
		{"limit", cache.Filter{}, 4, 4},
		{"needs refresh", cache.Filter{NeedsRefresh: cache.Bool(true)}, 100, 3},
		{"not needs refresh", cache.Filter{NeedsRefresh: cache.Bool(false)}, 100, 3},
		{"expired", cache.Filter{ExpiresBefore: base}, 100, 3},
		{"tag", cache.Filter{Tag: "other"}, 100, 1},
		{"combined", cache.Filter{ExpiresBefore: base, NeedsRefresh: cache.Bool(true)}, 100, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs, err := store.ScanWhere(ctx, tt.f, tt.limit)
			if err != nil {
				t.Fatalf("ScanWhere: %v", err)
			}
			if len(recs) != tt.want {
				t.Fatalf("ScanWhere returned %d rows, want %d", len(recs), tt.want)
			}
			for _, r := range recs {
				if !tt.f.Match(r) {
					t.Errorf("row %s does not match filter", r.Key)
				}
			}
		})
	}
}

func testDeleteBounded(t *testing.T, store cache.Store) {
	ctx := context.Background()
	old := cache.Day(base.AddDate(0, 0, -30))
	for i := range 7 {
		rec := record(fmt.Sprintf("d%d", i))
		rec.LastRequested = old
		if err := store.UpsertByKey(ctx, rec); err != nil {
			t.Fatalf("UpsertByKey: %v", err)
		}
	}
	if err := store.UpsertByKey(ctx, record("recent")); err != nil {
		t.Fatalf("UpsertByKey: %v", err)
	}

	f := cache.Filter{LastRequestedBefore: cache.Day(base.AddDate(0, 0, -7))}
	var counts []int64
	for {
		n, err := store.DeleteWhere(ctx, f, 3)
		if err != nil {
			t.Fatalf("DeleteWhere: %v", err)
		}
		counts = append(counts, n)
		if n == 0 || len(counts) > 10 {
			break
		}
	}
	if fmt.Sprint(counts) != "[3 3 1 0]" {
		t.Errorf("delete counts = %v, want [3 3 1 0]", counts)
	}
	if _, ok, _ := store.GetByKey(ctx, "recent"); !ok {
		t.Error("recent record must survive")
	}
}

func testDeleteExpiredKeepsPending(t *testing.T, store cache.Store) {
	ctx := context.Background()
	cutoff := base.AddDate(-1, 0, 0)

	dead := record("dead")
	dead.ExpiresAt = cutoff.Add(-time.Hour)
	pending := record("pending")
	pending.ExpiresAt = cutoff.Add(-time.Hour)
	pending.NeedsRefresh = true
	young := record("young")
	young.ExpiresAt = cutoff.Add(time.Hour)

	for _, r := range []cache.Record{dead, pending, young} {
		if err := store.UpsertByKey(ctx, r); err != nil {
			t.Fatalf("UpsertByKey: %v", err)
		}
	}

	n, err := store.DeleteWhere(ctx, cache.Filter{ExpiresBefore: cutoff, NeedsRefresh: cache.Bool(false)}, 2000)
	if err != nil {
		t.Fatalf("DeleteWhere: %v", err)
	}
	if n != 1 {
		t.Fatalf("deleted %d rows, want 1", n)
	}
	if _, ok, _ := store.GetByKey(ctx, "dead"); ok {
		t.Error("dead record must be deleted")
	}
	for _, k := range []string{"pending", "young"} {
		if _, ok, _ := store.GetByKey(ctx, k); !ok {
			t.Errorf("%s record must survive", k)
		}
	}
}

func testDeleteZeroFilter(t *testing.T, store cache.Store) {
	ctx := context.Background()
	if err := store.UpsertByKey(ctx, record("keep")); err != nil {
		t.Fatalf("UpsertByKey: %v", err)
	}
	if _, err := store.DeleteWhere(ctx, cache.Filter{}, 10); !errors.Is(err, cache.ErrEmptyFilter) {
		t.Fatalf("DeleteWhere(zero filter) error = %v, want ErrEmptyFilter", err)
	}
	if _, ok, _ := store.GetByKey(ctx, "keep"); !ok {
		t.Error("zero filter must not delete")
	}
}

func testCompact(t *testing.T, store cache.Store) {
	c, ok := store.(cache.Compactor)
	if !ok {
		t.Skip("store does not implement cache.Compactor")
	}
	if err := c.Compact(context.Background()); err != nil {
		t.Fatalf("Compact: %v", err)
	}
}
