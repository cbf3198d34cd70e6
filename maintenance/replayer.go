package maintenance

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/jonwraymond/restcache/cache"
	"github.com/jonwraymond/restcache/resilience"
)

// HTTPReplayer replays requests with an http.Client through a resilience
// Executor keyed by upstream host.
//
// The client must not route through cache.Transport; a refresh has to reach
// the upstream.
type HTTPReplayer struct {
	client   *http.Client
	executor *resilience.Executor
}

// NewHTTPReplayer creates an HTTPReplayer. A nil client uses
// http.DefaultClient and a nil executor runs each request once.
func NewHTTPReplayer(client *http.Client, executor *resilience.Executor) *HTTPReplayer {
	if client == nil {
		client = http.DefaultClient
	}
	if executor == nil {
		executor = resilience.NewExecutor()
	}
	return &HTTPReplayer{client: client, executor: executor}
}

// Replay implements Replayer. Responses with a 5xx status are returned as
// errors wrapping ErrUpstreamStatus so they count against the host's breaker.
func (r *HTTPReplayer) Replay(ctx context.Context, rawURL string, args cache.Args) (*cache.Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("maintenance: replay %s: %w", rawURL, err)
	}

	var out *cache.Response
	err = r.executor.Execute(ctx, u.Host, func(ctx context.Context) error {
		var body io.Reader
		if len(args.Body) > 0 {
			body = bytes.NewReader(args.Body)
		}
		req, err := http.NewRequestWithContext(ctx, args.EffectiveMethod(), rawURL, body)
		if err != nil {
			return resilience.Permanent(err)
		}
		for k, vs := range args.Header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}

		resp, err := r.client.Do(req)
		if err != nil {
			return err
		}
		captured, err := cache.NewResponse(resp)
		if err != nil {
			return err
		}
		if captured.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("%w: %d", ErrUpstreamStatus, captured.StatusCode)
		}
		out = captured
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("maintenance: replay %s: %w", rawURL, err)
	}
	return out, nil
}

var _ Replayer = (*HTTPReplayer)(nil)
