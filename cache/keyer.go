package cache

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Identity is the normalized form of a request URL.
type Identity struct {
	// Key is the lower-case hex MD5 of lower(Domain+Path+Query).
	Key string

	// Domain is scheme://[user[:pass]@]host[:port]. Absent parts are omitted.
	Domain string

	Path string

	// Query holds the &-separated fragments sorted as strings, followed by
	// #fragment when the URL has one.
	Query string
}

// URL rebuilds the request URL from the normalized components.
func (id Identity) URL() string {
	switch {
	case id.Query == "":
		return id.Domain + id.Path
	case strings.HasPrefix(id.Query, "#"):
		return id.Domain + id.Path + id.Query
	default:
		return id.Domain + id.Path + "?" + id.Query
	}
}

// Keyer derives cache identities from request URLs.
//
// Contract:
//   - Determinism: URLs differing only in query fragment order or in the case
//     of any component produce the same key.
//   - Concurrency: implementations must be safe for concurrent use.
//   - Single source: the same Keyer must be used for writes and lookups.
type Keyer interface {
	Normalize(rawURL string) (Identity, error)
}

// DefaultKeyer implements Keyer with net/url parsing and an MD5 digest.
type DefaultKeyer struct{}

// NewDefaultKeyer creates a new default keyer.
func NewDefaultKeyer() *DefaultKeyer {
	return &DefaultKeyer{}
}

// Normalize parses rawURL and returns its identity.
func (k *DefaultKeyer) Normalize(rawURL string) (Identity, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Host == "" && u.Path == "" && u.Opaque == "" {
		return Identity{}, fmt.Errorf("%w: %q has neither host nor path", ErrInvalidURL, rawURL)
	}

	id := Identity{
		Domain: domainOf(u),
		Path:   u.EscapedPath(),
		Query:  sortQuery(u.RawQuery),
	}
	if u.Opaque != "" {
		id.Path = u.Opaque
	}
	if frag := u.EscapedFragment(); frag != "" {
		id.Query += "#" + frag
	}
	id.Key = HashKey(id.Domain + id.Path + id.Query)
	return id, nil
}

// HashKey returns the cache key for an already normalized identity string.
func HashKey(s string) string {
	sum := md5.Sum([]byte(strings.ToLower(s)))
	return hex.EncodeToString(sum[:])
}

func domainOf(u *url.URL) string {
	var b strings.Builder
	if u.Scheme != "" {
		b.WriteString(u.Scheme)
		b.WriteString("://")
	}
	if u.User != nil {
		if name := u.User.Username(); name != "" {
			b.WriteString(name)
			if pass, ok := u.User.Password(); ok && pass != "" {
				b.WriteString(":")
				b.WriteString(pass)
			}
			b.WriteString("@")
		}
	}
	b.WriteString(u.Host)
	return b.String()
}

// sortQuery sorts the raw &-separated fragments without decoding them.
func sortQuery(raw string) string {
	if raw == "" {
		return ""
	}
	parts := strings.Split(raw, "&")
	sort.Strings(parts)
	return strings.Join(parts, "&")
}

// Ensure DefaultKeyer implements Keyer
var _ Keyer = (*DefaultKeyer)(nil)
