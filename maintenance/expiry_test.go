package maintenance

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jonwraymond/restcache/cache"
)

func TestExpirySweep_DeletesOnlyOldUnflagged(t *testing.T) {
	store := cache.NewMemoryStore()
	old := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	putRecord(t, store, cache.Record{Key: "old", ExpiresAt: old})
	putRecord(t, store, cache.Record{Key: "old-flagged", ExpiresAt: old, NeedsRefresh: true})
	putRecord(t, store, cache.Record{Key: "recent", ExpiresAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)})
	putRecord(t, store, cache.Record{Key: "at-cutoff", ExpiresAt: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)})

	job, err := NewExpirySweepJob(ExpiryConfig{Store: store, Clock: newTestClock(t0)})
	if err != nil {
		t.Fatal(err)
	}
	n, err := job.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want 1", n)
	}
	for _, key := range []string{"old-flagged", "recent", "at-cutoff"} {
		if _, ok, _ := store.GetByKey(context.Background(), key); !ok {
			t.Errorf("%s should be kept", key)
		}
	}
}

func TestExpirySweep_SingleBoundedDelete(t *testing.T) {
	store := &faultyStore{Store: cache.NewMemoryStore()}
	for _, key := range []string{"a", "b", "c", "d", "e"} {
		putRecord(t, store, cache.Record{Key: key, ExpiresAt: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)})
	}

	job, _ := NewExpirySweepJob(ExpiryConfig{Store: store, Limit: 2, Clock: newTestClock(t0)})
	n, err := job.Sweep(context.Background())
	if err != nil || n != 2 {
		t.Fatalf("Sweep() = %d, %v; want 2", n, err)
	}
	if got := store.Deletes(); len(got) != 1 {
		t.Errorf("delete calls = %v, want one", got)
	}
}

func TestExpirySweep_FailureNotifies(t *testing.T) {
	store := &faultyStore{Store: cache.NewMemoryStore(), deleteErr: errors.New("lock wait timeout")}
	var messages []string
	notifier := NotifierFunc(func(_ context.Context, msg string) {
		messages = append(messages, msg)
	})

	job, _ := NewExpirySweepJob(ExpiryConfig{Store: store, Notifier: notifier, Clock: newTestClock(t0)})
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("Run() should return the storage error")
	}
	if len(messages) != 1 {
		t.Fatalf("notifications = %v, want one", messages)
	}
	msg := messages[0]
	for _, want := range []string{"CRON FAIL", "lock wait timeout", "Limit 2000", "Expired 2024-06-01"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q missing %q", msg, want)
		}
	}
}

func TestExpirySweep_NothingToDelete(t *testing.T) {
	var notified bool
	job, _ := NewExpirySweepJob(ExpiryConfig{
		Store:    cache.NewMemoryStore(),
		Clock:    newTestClock(t0),
		Notifier: NotifierFunc(func(context.Context, string) { notified = true }),
	})
	n, err := job.Sweep(context.Background())
	if err != nil || n != 0 {
		t.Errorf("Sweep() = %d, %v", n, err)
	}
	if notified {
		t.Error("an empty sweep is not a failure")
	}
}
