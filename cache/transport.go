package cache

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"golang.org/x/sync/singleflight"

	"github.com/jonwraymond/restcache/observe"
)

// Transport is an http.RoundTripper that serves cached responses and records
// cacheable ones. Failures inside the cache never fail the request: the live
// response from Base is returned instead.
type Transport struct {
	// Base performs the live call. Default: http.DefaultTransport
	Base http.RoundTripper

	Interceptor Interceptor
	Keyer       Keyer
	Logger      observe.Logger

	group singleflight.Group
}

// NewTransport wraps base with engine.
func NewTransport(base http.RoundTripper, engine *Engine, logger observe.Logger) *Transport {
	return &Transport{
		Base:        base,
		Interceptor: engine,
		Keyer:       engine.Keyer(),
		Logger:      logger,
	}
}

// RoundTrip implements http.RoundTripper.
//
// Concurrent misses for one key share a single live call and write. The
// shared call runs detached from every caller's cancellation, so a caller
// that gives up only abandons its own wait.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.Interceptor == nil {
		return t.base().RoundTrip(req)
	}

	ctx := req.Context()
	rawURL := req.URL.String()
	args := ArgsFromRequest(req)

	if cached, ok := t.Interceptor.Intercept(ctx, rawURL, args); ok {
		closeBody(req)
		return cached.HTTPResponse(req), nil
	}
	if !t.Interceptor.Cacheable(ctx, rawURL, args) || !replayable(req) {
		return t.base().RoundTrip(req)
	}

	key := rawURL
	if t.Keyer != nil {
		if id, err := t.Keyer.Normalize(rawURL); err == nil {
			key = id.Key
		}
	}

	shared := detach(req, args)
	closeBody(req)
	ch := t.group.DoChan(key, func() (any, error) {
		sctx := shared.Context()
		live, err := t.base().RoundTrip(shared)
		if err != nil {
			return nil, err
		}
		captured, err := NewResponse(live)
		if err != nil {
			return nil, err
		}
		if err := t.Interceptor.Store(sctx, captured, rawURL, args); err != nil && !IsSkip(err) {
			t.logger().Warn(sctx, "cache write failed",
				observe.Field{Key: "url", Value: rawURL},
				observe.Field{Key: "error", Value: err})
		}
		return captured, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Response).HTTPResponse(req), nil
	}
}

// detach clones req onto a context that keeps its values but not its
// cancellation, with a body rebuilt from the captured args.
func detach(req *http.Request, args Args) *http.Request {
	out := req.Clone(context.WithoutCancel(req.Context()))
	if len(args.Body) == 0 {
		out.Body = http.NoBody
		out.GetBody = nil
		out.ContentLength = 0
		return out
	}
	body := args.Body
	out.Body = io.NopCloser(bytes.NewReader(body))
	out.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	out.ContentLength = int64(len(body))
	return out
}

// replayable reports whether the request body can be sent again from the
// captured args.
func replayable(req *http.Request) bool {
	return req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
}

func closeBody(req *http.Request) {
	if req.Body != nil {
		_ = req.Body.Close()
	}
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *Transport) logger() observe.Logger {
	if t.Logger != nil {
		return t.Logger
	}
	return observe.NopLogger()
}

var _ http.RoundTripper = (*Transport)(nil)
