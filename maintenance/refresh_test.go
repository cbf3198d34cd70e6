package maintenance

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/jonwraymond/restcache/cache"
)

func okResponse(body string) *cache.Response {
	return &cache.Response{StatusCode: http.StatusOK, Body: []byte(body)}
}

func TestNewRefreshJob_Validation(t *testing.T) {
	store := cache.NewMemoryStore()
	engine := newEngine(t, store, newTestClock(t0))
	replayer := ReplayerFunc(func(context.Context, string, cache.Args) (*cache.Response, error) { return nil, nil })

	tests := []struct {
		name string
		cfg  RefreshConfig
		want error
	}{
		{"no store", RefreshConfig{Writer: engine, Replayer: replayer}, ErrNilStore},
		{"no writer", RefreshConfig{Store: store, Replayer: replayer}, ErrNilWriter},
		{"no replayer", RefreshConfig{Store: store, Writer: engine}, ErrNilReplayer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewRefreshJob(tt.cfg); !errors.Is(err, tt.want) {
				t.Errorf("NewRefreshJob() error = %v, want %v", err, tt.want)
			}
		})
	}

	job, err := NewRefreshJob(RefreshConfig{Store: store, Writer: engine, Replayer: replayer})
	if err != nil {
		t.Fatalf("NewRefreshJob() error = %v", err)
	}
	if job.limit != DefaultRefreshLimit {
		t.Errorf("limit = %d, want %d", job.limit, DefaultRefreshLimit)
	}
	if job.Name() != JobRefresh {
		t.Errorf("Name() = %q", job.Name())
	}
}

func TestRefresh_OneFailureDoesNotStopBatch(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock(t0)
	store := cache.NewMemoryStore()
	engine := newEngine(t, store, clock)

	for i := range 10 {
		args := cache.Args{Options: cache.Options{Refresh: true}}
		if err := engine.Store(ctx, okResponse("v1"), itemURL(i), args); err != nil {
			t.Fatalf("seed %d: %v", i, err)
		}
	}

	replayer := ReplayerFunc(func(_ context.Context, rawURL string, _ cache.Args) (*cache.Response, error) {
		if strings.HasSuffix(rawURL, "/item/5") {
			return nil, errors.New("connection refused")
		}
		return okResponse("v2"), nil
	})
	job, err := NewRefreshJob(RefreshConfig{Store: store, Writer: engine, Replayer: replayer})
	if err != nil {
		t.Fatal(err)
	}

	report, err := job.Refresh(ctx)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	want := RefreshReport{Selected: 10, Attempted: 10, Succeeded: 9, Failed: 1}
	if report != want {
		t.Errorf("report = %+v, want %+v", report, want)
	}

	for i := range 10 {
		rec := mustGet(t, store, engine, itemURL(i))
		if i == 5 {
			if !rec.NeedsRefresh {
				t.Errorf("item 5 should stay flagged")
			}
			continue
		}
		if rec.NeedsRefresh {
			t.Errorf("item %d still flagged", i)
		}
		resp, err := cache.DecodeResponse(rec.Payload)
		if err != nil || string(resp.Body) != "v2" {
			t.Errorf("item %d payload = %v, %v", i, resp, err)
		}
	}
}

func TestRefresh_ReplaysCapturedRequest(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock(t0)
	store := cache.NewMemoryStore()
	engine := newEngine(t, store, clock)
	url := "https://api.example.com/news?b=2&a=1"

	if err := engine.Store(ctx, okResponse("old"), url, cache.Args{Options: cache.Options{Expires: "1h"}}); err != nil {
		t.Fatal(err)
	}
	clock.Advance(2 * time.Hour)

	reader := cache.Args{
		Header:  http.Header{"X-Token": []string{"abc"}},
		Options: cache.Options{Expires: "1h", Tag: "news", Refresh: true},
	}
	if _, ok := engine.Intercept(ctx, url, reader); !ok {
		t.Fatal("stale record should still be served")
	}

	var got cache.Args
	var gotURL string
	replayer := ReplayerFunc(func(_ context.Context, rawURL string, args cache.Args) (*cache.Response, error) {
		gotURL, got = rawURL, args
		return okResponse("new"), nil
	})
	job, _ := NewRefreshJob(RefreshConfig{Store: store, Writer: engine, Replayer: replayer})
	if _, err := job.Refresh(ctx); err != nil {
		t.Fatal(err)
	}

	if gotURL != "https://api.example.com/news?a=1&b=2" {
		t.Errorf("replayed URL = %q", gotURL)
	}
	if got.Header.Get("X-Token") != "abc" {
		t.Errorf("replayed header = %v", got.Header)
	}
	if got.Options.Refresh {
		t.Error("refresh directive must be cleared before replay")
	}

	rec := mustGet(t, store, engine, url)
	if rec.NeedsRefresh || rec.PendingArgs != nil {
		t.Errorf("record still pending: %+v", rec)
	}
	if rec.Tag != "news" {
		t.Errorf("Tag = %q, want news", rec.Tag)
	}
	if want := clock.Now().Add(time.Hour); !rec.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", rec.ExpiresAt, want)
	}
}

func TestRefresh_UnreadablePendingArgsReplayAsGet(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryStore()
	engine := newEngine(t, store, newTestClock(t0))
	id, _ := engine.Keyer().Normalize(itemURL(1))
	putRecord(t, store, cache.Record{
		Key: id.Key, Domain: id.Domain, Path: id.Path,
		NeedsRefresh: true,
		PendingArgs:  []byte{0xff},
	})

	var method string
	replayer := ReplayerFunc(func(_ context.Context, _ string, args cache.Args) (*cache.Response, error) {
		method = args.EffectiveMethod()
		return okResponse("fresh"), nil
	})
	job, _ := NewRefreshJob(RefreshConfig{Store: store, Writer: engine, Replayer: replayer})
	report, err := job.Refresh(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if method != http.MethodGet || report.Succeeded != 1 {
		t.Errorf("method = %q, report = %+v", method, report)
	}
}

func TestRefresh_WriteFailureCounted(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryStore()
	engine := newEngine(t, store, newTestClock(t0))
	_ = engine.Store(ctx, okResponse("v1"), itemURL(1), cache.Args{Options: cache.Options{Refresh: true}})

	writer := writerFunc(func(context.Context, *cache.Response, string, cache.Args) error {
		return errors.New("disk full")
	})
	replayer := ReplayerFunc(func(context.Context, string, cache.Args) (*cache.Response, error) {
		return okResponse("v2"), nil
	})
	job, _ := NewRefreshJob(RefreshConfig{Store: store, Writer: writer, Replayer: replayer})
	report, err := job.Refresh(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.Failed != 1 || report.Succeeded != 0 {
		t.Errorf("report = %+v", report)
	}
	if !mustGet(t, store, engine, itemURL(1)).NeedsRefresh {
		t.Error("record should stay flagged after a failed write")
	}
}

func TestRefresh_SkippedWriteClearsFlag(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryStore()
	engine, err := cache.NewEngine(store,
		cache.WithClock(newTestClock(t0)),
		cache.WithPolicy(cache.Policy{DefaultTTL: 24 * time.Hour, OnlyCache200: true}))
	if err != nil {
		t.Fatal(err)
	}
	_ = engine.Store(ctx, okResponse("v1"), itemURL(1), cache.Args{Options: cache.Options{Refresh: true}})

	replayer := ReplayerFunc(func(context.Context, string, cache.Args) (*cache.Response, error) {
		return &cache.Response{StatusCode: http.StatusNotFound}, nil
	})
	job, _ := NewRefreshJob(RefreshConfig{Store: store, Writer: engine, Replayer: replayer})

	report, err := job.Refresh(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.Skipped != 1 || report.Failed != 0 || report.Succeeded != 0 {
		t.Errorf("report = %+v", report)
	}
	rec := mustGet(t, store, engine, itemURL(1))
	if rec.NeedsRefresh || rec.PendingArgs != nil {
		t.Errorf("flag not cleared: %+v", rec)
	}
	if rec.StatusCode != http.StatusOK {
		t.Errorf("status = %d, old content should be kept", rec.StatusCode)
	}

	report, _ = job.Refresh(ctx)
	if report.Selected != 0 {
		t.Errorf("second run selected %d records, want 0", report.Selected)
	}
}

type writerFunc func(ctx context.Context, resp *cache.Response, rawURL string, args cache.Args) error

func (f writerFunc) Store(ctx context.Context, resp *cache.Response, rawURL string, args cache.Args) error {
	return f(ctx, resp, rawURL, args)
}

func TestRefresh_NothingFlagged(t *testing.T) {
	store := cache.NewMemoryStore()
	engine := newEngine(t, store, newTestClock(t0))
	_ = engine.Store(context.Background(), okResponse("v1"), itemURL(1), cache.Args{})

	replayer := ReplayerFunc(func(context.Context, string, cache.Args) (*cache.Response, error) {
		t.Error("nothing should be replayed")
		return nil, nil
	})
	job, _ := NewRefreshJob(RefreshConfig{Store: store, Writer: engine, Replayer: replayer})
	report, err := job.Refresh(context.Background())
	if err != nil || report != (RefreshReport{}) {
		t.Errorf("Refresh() = %+v, %v", report, err)
	}
}

func TestRefresh_SelectFailure(t *testing.T) {
	store := &faultyStore{Store: cache.NewMemoryStore(), scanErr: errors.New("db down")}
	engine := newEngine(t, store, newTestClock(t0))
	replayer := ReplayerFunc(func(context.Context, string, cache.Args) (*cache.Response, error) { return nil, nil })
	job, _ := NewRefreshJob(RefreshConfig{Store: store, Writer: engine, Replayer: replayer})
	if err := job.Run(context.Background()); err == nil || !strings.Contains(err.Error(), "db down") {
		t.Errorf("Run() error = %v", err)
	}
}

func TestRefresh_CancelLeavesRemainingRows(t *testing.T) {
	store := cache.NewMemoryStore()
	engine := newEngine(t, store, newTestClock(t0))
	for i := range 4 {
		_ = engine.Store(context.Background(), okResponse("v1"), itemURL(i), cache.Args{Options: cache.Options{Refresh: true}})
	}

	ctx, cancel := context.WithCancel(context.Background())
	replayer := ReplayerFunc(func(context.Context, string, cache.Args) (*cache.Response, error) {
		cancel()
		return okResponse("v2"), nil
	})
	job, _ := NewRefreshJob(RefreshConfig{Store: store, Writer: engine, Replayer: replayer, Limit: 10})
	report, err := job.Refresh(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Refresh() error = %v, want context.Canceled", err)
	}
	if report.Attempted != 1 {
		t.Errorf("Attempted = %d, want 1", report.Attempted)
	}

	flagged, _ := store.ScanWhere(context.Background(), cache.Filter{NeedsRefresh: cache.Bool(true)}, 0)
	if len(flagged) < 3 {
		t.Errorf("flagged rows = %d, want at least 3", len(flagged))
	}
}
