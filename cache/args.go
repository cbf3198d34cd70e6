package cache

import (
	"context"
	"net/http"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// Options are per-request cache directives supplied by the caller.
type Options struct {
	// Exclude opts this request out of the cache.
	Exclude bool `cbor:"exclude,omitempty"`

	// Expires is a TTL specifier passed to Policy.ExpiresAt.
	Expires string `cbor:"expires,omitempty"`

	Tag string `cbor:"tag,omitempty"`

	// Refresh asks the write path to store the record already flagged for
	// refresh. The refresh job clears it before replaying.
	Refresh bool `cbor:"refresh,omitempty"`
}

// Args are the request parameters the engine sees at both hook points.
// They are captured into Record.PendingArgs when a record goes stale.
type Args struct {
	Method string      `cbor:"method,omitempty"`
	Header http.Header `cbor:"header,omitempty"`
	Body   []byte      `cbor:"body,omitempty"`

	// Attachment names a file the response is streamed into. Such requests
	// are never cached.
	Attachment string `cbor:"attachment,omitempty"`

	Options Options `cbor:"options"`
}

// EffectiveMethod returns the upper-cased method, GET when empty.
func (a Args) EffectiveMethod() string {
	if a.Method == "" {
		return http.MethodGet
	}
	return strings.ToUpper(a.Method)
}

// EncodeArgs serializes args for Record.PendingArgs.
func EncodeArgs(a Args) ([]byte, error) {
	data, err := cbor.Marshal(a)
	if err != nil {
		return nil, errSerialization("encode args", err)
	}
	return data, nil
}

// DecodeArgs restores args captured by EncodeArgs.
func DecodeArgs(data []byte) (Args, error) {
	var a Args
	if err := cbor.Unmarshal(data, &a); err != nil {
		return Args{}, errSerialization("decode args", err)
	}
	return a, nil
}

type ctxKey int

const (
	optionsKey ctxKey = iota
	attachmentKey
	forceFreshKey
)

// WithOptions attaches per-request cache options to ctx.
func WithOptions(ctx context.Context, opts Options) context.Context {
	return context.WithValue(ctx, optionsKey, opts)
}

// OptionsFrom returns the options attached by WithOptions.
func OptionsFrom(ctx context.Context) Options {
	opts, _ := ctx.Value(optionsKey).(Options)
	return opts
}

// WithAttachment marks the request as streaming its response to path.
func WithAttachment(ctx context.Context, path string) context.Context {
	return context.WithValue(ctx, attachmentKey, path)
}

// WithForceFresh asks the engine to bypass the cache for this request.
func WithForceFresh(ctx context.Context) context.Context {
	return context.WithValue(ctx, forceFreshKey, true)
}

// ForceFresh reports whether WithForceFresh was applied to ctx.
func ForceFresh(ctx context.Context) bool {
	v, _ := ctx.Value(forceFreshKey).(bool)
	return v
}

// ArgsFromRequest builds Args from an outgoing request and its context.
// The body is captured only when it can be re-read through GetBody. A body
// that fails to re-read marks the request excluded so a truncated copy is
// never stored.
func ArgsFromRequest(req *http.Request) Args {
	ctx := req.Context()
	args := Args{
		Method:  req.Method,
		Header:  req.Header.Clone(),
		Options: OptionsFrom(ctx),
	}
	if path, ok := ctx.Value(attachmentKey).(string); ok {
		args.Attachment = path
	}
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err == nil {
			args.Body, err = readAll(body)
		}
		if err != nil {
			args.Body = nil
			args.Options.Exclude = true
		}
	}
	return args
}
