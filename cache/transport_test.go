package cache

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestTransport(t *testing.T, handler http.HandlerFunc) (*http.Client, *httptest.Server, *Engine) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	engine, err := NewEngine(NewMemoryStore())
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	client := &http.Client{Transport: NewTransport(srv.Client().Transport, engine, nil)}
	return client, srv, engine
}

func get(ctx context.Context, t *testing.T, client *http.Client, url string) string {
	t.Helper()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return string(b)
}

func TestTransport_MissThenHit(t *testing.T) {
	var calls atomic.Int32
	client, srv, _ := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = io.WriteString(w, "hello")
	})
	ctx := context.Background()

	if got := get(ctx, t, client, srv.URL+"/greet?b=2&a=1"); got != "hello" {
		t.Fatalf("first body = %q", got)
	}
	if got := get(ctx, t, client, srv.URL+"/greet?a=1&b=2"); got != "hello" {
		t.Fatalf("second body = %q", got)
	}
	if calls.Load() != 1 {
		t.Errorf("upstream calls = %d, want 1", calls.Load())
	}
}

func TestTransport_ExcludedPassThrough(t *testing.T) {
	var calls atomic.Int32
	client, srv, engine := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = io.WriteString(w, "live")
	})
	ctx := context.Background()

	get(WithForceFresh(ctx), t, client, srv.URL+"/x")
	get(WithForceFresh(ctx), t, client, srv.URL+"/x")
	if calls.Load() != 2 {
		t.Errorf("force-fresh calls = %d, want 2", calls.Load())
	}
	if _, ok, _ := engine.Lookup(ctx, srv.URL+"/x"); ok {
		t.Error("force-fresh response must not be stored")
	}

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/x", nil)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if calls.Load() != 3 {
		t.Errorf("POST must reach upstream, calls = %d", calls.Load())
	}
}

func TestTransport_ConcurrentMissesCollapse(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	client, srv, _ := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		<-release
		_, _ = io.WriteString(w, "slow")
	})

	var wg sync.WaitGroup
	results := make([]string, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := client.Get(srv.URL + "/slow")
			if err != nil {
				t.Errorf("GET: %v", err)
				return
			}
			defer resp.Body.Close()
			b, _ := io.ReadAll(resp.Body)
			results[i] = string(b)
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i, r := range results {
		if r != "slow" {
			t.Errorf("result[%d] = %q", i, r)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("upstream calls = %d, want 1", calls.Load())
	}
}

func TestTransport_CancelledCallerDoesNotFailOthers(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	client, srv, engine := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		<-release
		_, _ = io.WriteString(w, "slow")
	})

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		req, _ := http.NewRequestWithContext(ctxA, http.MethodGet, srv.URL+"/x", nil)
		resp, err := client.Do(req)
		if err == nil {
			resp.Body.Close()
		}
		errA <- err
	}()
	waitFor(t, func() bool { return calls.Load() == 1 })

	cancelA()
	if err := <-errA; !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled caller error = %v, want context.Canceled", err)
	}

	bodyB := make(chan string, 1)
	go func() {
		resp, err := client.Get(srv.URL + "/x")
		if err != nil {
			bodyB <- "error: " + err.Error()
			return
		}
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		bodyB <- string(b)
	}()
	time.Sleep(20 * time.Millisecond)
	close(release)

	select {
	case got := <-bodyB:
		if got != "slow" {
			t.Errorf("second caller body = %q, want slow", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("second caller never completed")
	}
	if calls.Load() != 1 {
		t.Errorf("upstream calls = %d, want 1", calls.Load())
	}
	waitFor(t, func() bool {
		_, ok, _ := engine.Lookup(context.Background(), srv.URL+"/x")
		return ok
	})
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type trackingBody struct {
	io.Reader
	closed atomic.Bool
}

func (b *trackingBody) Close() error {
	b.closed.Store(true)
	return nil
}

func TestTransport_HitClosesRequestBody(t *testing.T) {
	client, srv, _ := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "hello")
	})
	get(context.Background(), t, client, srv.URL+"/x")

	body := &trackingBody{Reader: strings.NewReader("q")}
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/x", nil)
	req.Body = body
	req.GetBody = func() (io.ReadCloser, error) { return io.NopCloser(strings.NewReader("q")), nil }

	resp, err := client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if !body.closed.Load() {
		t.Error("request body not closed on cache hit")
	}
}

type failingStore struct{ *MemoryStore }

func (failingStore) UpsertByKey(context.Context, Record) error { return errors.New("read-only") }

func TestTransport_StoreFailureStillReturnsLiveResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "live")
	}))
	defer srv.Close()

	engine, _ := NewEngine(failingStore{NewMemoryStore()})
	client := &http.Client{Transport: NewTransport(srv.Client().Transport, engine, nil)}

	if got := get(context.Background(), t, client, srv.URL+"/x"); got != "live" {
		t.Errorf("body = %q, want live response", got)
	}
}

type errRoundTripper struct{}

func (errRoundTripper) RoundTrip(*http.Request) (*http.Response, error) {
	return nil, errors.New("connection refused")
}

func TestTransport_UpstreamErrorPropagates(t *testing.T) {
	engine, _ := NewEngine(NewMemoryStore())
	client := &http.Client{Transport: NewTransport(errRoundTripper{}, engine, nil)}

	_, err := client.Get("https://unreachable.example.com/x")
	if err == nil {
		t.Fatal("expected transport error")
	}
	if _, ok, _ := engine.Lookup(context.Background(), "https://unreachable.example.com/x"); ok {
		t.Error("failed calls must not be stored")
	}
}
