package maintenance

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonwraymond/restcache/cache"
	"github.com/jonwraymond/restcache/resilience"
)

func TestHTTPReplayer_ForwardsRequest(t *testing.T) {
	var gotMethod, gotHeader, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotHeader = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"ok":true}`)
	}))
	defer srv.Close()

	r := NewHTTPReplayer(srv.Client(), nil)
	resp, err := r.Replay(context.Background(), srv.URL+"/v1/items", cache.Args{
		Method: "post",
		Header: http.Header{"Authorization": []string{"Bearer t"}},
		Body:   []byte("q=1"),
	})
	if err != nil {
		t.Fatalf("Replay() error = %v", err)
	}
	if gotMethod != http.MethodPost || gotHeader != "Bearer t" || gotBody != "q=1" {
		t.Errorf("upstream saw %s %q %q", gotMethod, gotHeader, gotBody)
	}
	if resp.StatusCode != http.StatusOK || string(resp.Body) != `{"ok":true}` {
		t.Errorf("response = %d %q", resp.StatusCode, resp.Body)
	}
	if resp.Header.Get("Content-Type") != "application/json" {
		t.Errorf("Content-Type = %q", resp.Header.Get("Content-Type"))
	}
}

func TestHTTPReplayer_ClientErrorReturnedAsResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.NotFound(w, nil)
	}))
	defer srv.Close()

	resp, err := NewHTTPReplayer(srv.Client(), nil).Replay(context.Background(), srv.URL+"/gone", cache.Args{})
	if err != nil {
		t.Fatalf("Replay() error = %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("StatusCode = %d, want 404", resp.StatusCode)
	}
}

func TestHTTPReplayer_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, "ok")
	}))
	defer srv.Close()

	exec := resilience.NewExecutor(
		resilience.WithRetry(resilience.NewRetry(resilience.RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond})),
	)
	resp, err := NewHTTPReplayer(srv.Client(), exec).Replay(context.Background(), srv.URL, cache.Args{})
	if err != nil {
		t.Fatalf("Replay() error = %v", err)
	}
	if string(resp.Body) != "ok" || calls.Load() != 2 {
		t.Errorf("body = %q after %d calls", resp.Body, calls.Load())
	}
}

func TestHTTPReplayer_BreakerOpensPerHost(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	exec := resilience.NewExecutor(resilience.WithBreakers(resilience.NewBreakerSet(resilience.CircuitBreakerConfig{
		MaxFailures:  2,
		ResetTimeout: time.Hour,
	})))
	r := NewHTTPReplayer(srv.Client(), exec)
	ctx := context.Background()

	for range 2 {
		if _, err := r.Replay(ctx, srv.URL+"/a", cache.Args{}); !errors.Is(err, ErrUpstreamStatus) {
			t.Fatalf("Replay() error = %v, want ErrUpstreamStatus", err)
		}
	}
	if _, err := r.Replay(ctx, srv.URL+"/b", cache.Args{}); !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("Replay() error = %v, want ErrCircuitOpen", err)
	}
	if calls.Load() != 2 {
		t.Errorf("upstream calls = %d, want 2", calls.Load())
	}
}

func TestHTTPReplayer_InvalidMethodIsPermanent(t *testing.T) {
	_, err := NewHTTPReplayer(nil, nil).Replay(context.Background(), "https://api.example.com/", cache.Args{Method: "BAD METHOD"})
	if !resilience.IsPermanent(err) {
		t.Errorf("Replay() error = %v, want permanent", err)
	}
}
