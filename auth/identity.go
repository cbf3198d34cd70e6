package auth

import (
	"context"
	"time"
)

// AuthMethod indicates how authentication was performed.
type AuthMethod string

const (
	AuthMethodJWT    AuthMethod = "jwt"
	AuthMethodAPIKey AuthMethod = "api_key"
)

// Identity represents an authenticated admin caller.
type Identity struct {
	// Principal is the token subject or an API key fingerprint.
	Principal string

	Method AuthMethod

	// Claims contains the raw claims from a token.
	Claims map[string]any

	// ExpiresAt is zero for API keys.
	ExpiresAt time.Time
}

type contextKey int

const identityKey contextKey = iota

// WithIdentity returns a new context with id attached.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext returns the identity attached by WithIdentity, or nil.
func IdentityFromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey).(*Identity)
	return id
}

// PrincipalFromContext returns the principal in ctx, or "".
func PrincipalFromContext(ctx context.Context) string {
	if id := IdentityFromContext(ctx); id != nil {
		return id.Principal
	}
	return ""
}
