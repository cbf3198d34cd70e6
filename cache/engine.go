package cache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/jonwraymond/restcache/observe"
)

// Lookup results reported to observe.Metrics.
const (
	LookupHit      = "hit"
	LookupStale    = "stale"
	LookupMiss     = "miss"
	LookupExcluded = "excluded"
	LookupError    = "error"
)

// Write results reported to observe.Metrics.
const (
	WriteStored  = "stored"
	WriteSkipped = "skipped"
	WriteFailed  = "failed"
)

// Interceptor is the pair of hook points a transport layer calls around each
// outgoing request.
//
// Contract:
//   - Concurrency: implementations must be safe for concurrent use.
//   - Intercept returns (nil, false) to let the request proceed.
//   - Store must not be called for a request Cacheable rejects; if it is, it
//     returns ErrNotCacheable without writing.
//   - Failures never surface as panics; callers may ignore Store errors.
type Interceptor interface {
	Cacheable(ctx context.Context, rawURL string, args Args) bool
	Intercept(ctx context.Context, rawURL string, args Args) (*Response, bool)
	Store(ctx context.Context, resp *Response, rawURL string, args Args) error
}

// Engine decides whether requests are served from the cache and owns the
// single write path used by live traffic and the refresh job.
type Engine struct {
	store      Store
	keyer      Keyer
	policy     Policy
	exclusions HostMatcher
	clock      Clock
	logger     observe.Logger
	metrics    observe.Metrics
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithPolicy sets the expiration policy. Default: DefaultPolicy()
func WithPolicy(p Policy) EngineOption {
	return func(e *Engine) { e.policy = p }
}

// WithKeyer sets the key normalizer. Default: DefaultKeyer
func WithKeyer(k Keyer) EngineOption {
	return func(e *Engine) {
		if k != nil {
			e.keyer = k
		}
	}
}

// WithExclusions sets the excluded host matcher. Default: none excluded
func WithExclusions(m HostMatcher) EngineOption {
	return func(e *Engine) { e.exclusions = m }
}

// WithClock sets the time source. Default: SystemClock()
func WithClock(c Clock) EngineOption {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithLogger sets the logger. Default: observe.NopLogger()
func WithLogger(l observe.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics sets the metrics sink. Default: observe.NopMetrics()
func WithMetrics(m observe.Metrics) EngineOption {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// NewEngine creates an Engine over store.
func NewEngine(store Store, opts ...EngineOption) (*Engine, error) {
	if store == nil {
		return nil, ErrNilStore
	}
	e := &Engine{
		store:   store,
		keyer:   NewDefaultKeyer(),
		policy:  DefaultPolicy(),
		clock:   SystemClock(),
		logger:  observe.NopLogger(),
		metrics: observe.NopMetrics(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Policy returns the engine's expiration policy.
func (e *Engine) Policy() Policy { return e.policy }

// Keyer returns the engine's key normalizer.
func (e *Engine) Keyer() Keyer { return e.keyer }

// Cacheable reports whether a request may be served from or written to the
// cache. A request is excluded when it streams to an attachment, opts out, is
// not a GET, targets an excluded host, or carries the force-fresh signal.
func (e *Engine) Cacheable(ctx context.Context, rawURL string, args Args) bool {
	if args.Attachment != "" || args.Options.Exclude {
		return false
	}
	if args.EffectiveMethod() != http.MethodGet {
		return false
	}
	if ForceFresh(ctx) {
		return false
	}
	if e.exclusions != nil {
		u, err := url.Parse(rawURL)
		if err != nil {
			return false
		}
		if e.exclusions.Excluded(u.Host) {
			return false
		}
	}
	return true
}

// Intercept returns the cached response for the request, or (nil, false) when
// the request must proceed. A found record is served even when it is stale;
// the staleness check runs first and persists any flag change.
func (e *Engine) Intercept(ctx context.Context, rawURL string, args Args) (*Response, bool) {
	if !e.Cacheable(ctx, rawURL, args) {
		e.metrics.RecordLookup(ctx, LookupExcluded)
		return nil, false
	}

	id, err := e.keyer.Normalize(rawURL)
	if err != nil {
		e.metrics.RecordLookup(ctx, LookupError)
		return nil, false
	}

	rec, ok, err := e.store.GetByKey(ctx, id.Key)
	if err != nil {
		e.logger.Warn(ctx, "cache lookup failed",
			observe.Field{Key: "key", Value: id.Key},
			observe.Field{Key: "error", Value: err})
		e.metrics.RecordLookup(ctx, LookupError)
		return nil, false
	}
	if !ok {
		e.metrics.RecordLookup(ctx, LookupMiss)
		return nil, false
	}

	stale := e.checkStaleness(ctx, rec, args)

	resp, err := DecodeResponse(rec.Payload)
	if err != nil {
		e.logger.Warn(ctx, "cached payload unreadable, treating as miss",
			observe.Field{Key: "key", Value: id.Key},
			observe.Field{Key: "error", Value: err})
		e.metrics.RecordLookup(ctx, LookupError)
		return nil, false
	}

	if stale {
		e.metrics.RecordLookup(ctx, LookupStale)
	} else {
		e.metrics.RecordLookup(ctx, LookupHit)
	}
	return resp, true
}

// checkStaleness applies the read-side state transition to rec and persists it
// when anything changed. It reports whether rec is awaiting refresh.
func (e *Engine) checkStaleness(ctx context.Context, rec Record, args Args) bool {
	now := e.clock.Now()
	today := Day(now)
	changed := false

	switch {
	case rec.NeedsRefresh:
		// Already queued; pending args stay as first captured.
	case e.policy.IsStale(rec, now):
		rec.NeedsRefresh = true
		if rec.PendingArgs == nil {
			pending, err := EncodeArgs(args)
			if err != nil {
				e.logger.Warn(ctx, "could not capture request for refresh",
					observe.Field{Key: "key", Value: rec.Key},
					observe.Field{Key: "error", Value: err})
			}
			rec.PendingArgs = pending
		}
		changed = true
	}

	if rec.LastRequested.Before(today) {
		rec.LastRequested = today
		changed = true
	}

	if changed {
		if err := e.store.UpsertByKey(ctx, rec); err != nil {
			e.logger.Warn(ctx, "could not persist staleness check",
				observe.Field{Key: "key", Value: rec.Key},
				observe.Field{Key: "error", Value: err})
		}
	}
	return rec.NeedsRefresh
}

// Store writes resp for the request. It returns ErrNotCacheable when the write
// is skipped by policy, and wraps ErrSerialization when the response cannot be
// encoded. The stored record has PendingArgs cleared, NeedsRefresh set to
// args.Options.Refresh, and LastRequested set to today.
func (e *Engine) Store(ctx context.Context, resp *Response, rawURL string, args Args) error {
	if resp == nil {
		e.metrics.RecordWrite(ctx, WriteSkipped)
		return ErrNotCacheable
	}
	if !e.policy.Cacheable(resp.StatusCode) || !e.Cacheable(ctx, rawURL, args) {
		e.metrics.RecordWrite(ctx, WriteSkipped)
		return ErrNotCacheable
	}

	id, err := e.keyer.Normalize(rawURL)
	if err != nil {
		e.metrics.RecordWrite(ctx, WriteSkipped)
		return err
	}

	payload, err := EncodeResponse(resp)
	if err != nil {
		e.metrics.RecordWrite(ctx, WriteSkipped)
		return err
	}

	now := e.clock.Now()
	rec := Record{
		Key:           id.Key,
		Domain:        id.Domain,
		Path:          id.Path,
		Query:         id.Query,
		Payload:       payload,
		StatusCode:    resp.StatusCode,
		ExpiresAt:     e.policy.ExpiresAt(now, args.Options.Expires, resp.StatusCode),
		LastRequested: Day(now),
		Tag:           args.Options.Tag,
		NeedsRefresh:  args.Options.Refresh,
	}
	if err := e.store.UpsertByKey(ctx, rec); err != nil {
		e.metrics.RecordWrite(ctx, WriteFailed)
		return fmt.Errorf("cache: store %s: %w", id.Key, err)
	}
	e.metrics.RecordWrite(ctx, WriteStored)
	return nil
}

// Lookup returns the record stored for rawURL without touching it.
func (e *Engine) Lookup(ctx context.Context, rawURL string) (Record, bool, error) {
	id, err := e.keyer.Normalize(rawURL)
	if err != nil {
		return Record{}, false, err
	}
	return e.store.GetByKey(ctx, id.Key)
}

// IsSkip reports whether err is a policy skip rather than a failure.
func IsSkip(err error) bool {
	return errors.Is(err, ErrNotCacheable)
}

var _ Interceptor = (*Engine)(nil)
