package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// DefaultAPIKeyHeader carries admin API keys.
const DefaultAPIKeyHeader = "X-API-Key"

// APIKeyAuthenticator accepts any of a fixed set of API keys. Only SHA-256
// digests of the keys are kept.
type APIKeyAuthenticator struct {
	header string
	hashes [][]byte
}

// NewAPIKeyAuthenticator creates an authenticator for keys. Blank keys are
// ignored; ErrNoKeys is returned when none remain. An empty header uses
// DefaultAPIKeyHeader.
func NewAPIKeyAuthenticator(header string, keys ...string) (*APIKeyAuthenticator, error) {
	if header == "" {
		header = DefaultAPIKeyHeader
	}
	a := &APIKeyAuthenticator{header: header}
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		sum := sha256.Sum256([]byte(k))
		a.hashes = append(a.hashes, sum[:])
	}
	if len(a.hashes) == 0 {
		return nil, ErrNoKeys
	}
	return a, nil
}

// Name returns "api_key".
func (a *APIKeyAuthenticator) Name() string { return string(AuthMethodAPIKey) }

// Supports returns true if the request carries the API key header.
func (a *APIKeyAuthenticator) Supports(_ context.Context, req *AuthRequest) bool {
	return req.GetHeader(a.header) != ""
}

// Authenticate compares the presented key against every configured key in
// constant time.
func (a *APIKeyAuthenticator) Authenticate(_ context.Context, req *AuthRequest) (*AuthResult, error) {
	key := strings.TrimSpace(req.GetHeader(a.header))
	if key == "" {
		return AuthFailure(ErrMissingCredentials, a.Name()), nil
	}

	sum := sha256.Sum256([]byte(key))
	match := 0
	for _, h := range a.hashes {
		match |= subtle.ConstantTimeCompare(sum[:], h)
	}
	if match != 1 {
		return AuthFailure(ErrInvalidCredentials, a.Name()), nil
	}

	return AuthSuccess(&Identity{
		Principal: "key:" + KeyFingerprint(key),
		Method:    AuthMethodAPIKey,
	}), nil
}

// KeyFingerprint returns a short non-reversible identifier for key suitable
// for logs.
func KeyFingerprint(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:4])
}

var _ Authenticator = (*APIKeyAuthenticator)(nil)
