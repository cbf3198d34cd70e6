package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTConfig configures the JWT authenticator.
type JWTConfig struct {
	// Secret is the HMAC key tokens are signed with. Required.
	Secret []byte

	// Issuer is the expected iss claim. Empty skips the check.
	Issuer string

	// Audience is the expected aud claim. Empty skips the check.
	Audience string

	// Leeway is the allowed clock skew.
	// Default: 30s
	Leeway time.Duration
}

// JWTAuthenticator validates HS256/HS384/HS512 bearer tokens.
type JWTAuthenticator struct {
	config JWTConfig
	parser *jwt.Parser
}

// NewJWTAuthenticator creates a new JWT authenticator.
func NewJWTAuthenticator(config JWTConfig) (*JWTAuthenticator, error) {
	if len(config.Secret) == 0 {
		return nil, ErrNoSecret
	}
	if config.Leeway <= 0 {
		config.Leeway = 30 * time.Second
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithLeeway(config.Leeway),
	}
	if config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(config.Issuer))
	}
	if config.Audience != "" {
		opts = append(opts, jwt.WithAudience(config.Audience))
	}

	return &JWTAuthenticator{config: config, parser: jwt.NewParser(opts...)}, nil
}

// Name returns "jwt".
func (a *JWTAuthenticator) Name() string { return string(AuthMethodJWT) }

// Supports returns true if the request carries a bearer token.
func (a *JWTAuthenticator) Supports(_ context.Context, req *AuthRequest) bool {
	_, ok := bearerToken(req)
	return ok
}

// Authenticate validates the bearer token.
func (a *JWTAuthenticator) Authenticate(_ context.Context, req *AuthRequest) (*AuthResult, error) {
	raw, ok := bearerToken(req)
	if !ok {
		return AuthFailure(ErrMissingCredentials, a.Name()), nil
	}

	claims := jwt.MapClaims{}
	token, err := a.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return a.config.Secret, nil
	})
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return AuthFailure(ErrTokenExpired, a.Name()), nil
	case errors.Is(err, jwt.ErrTokenMalformed):
		return AuthFailure(ErrTokenMalformed, a.Name()), nil
	case err != nil, !token.Valid:
		return AuthFailure(ErrInvalidCredentials, a.Name()), nil
	}

	id := &Identity{
		Method: AuthMethodJWT,
		Claims: make(map[string]any, len(claims)),
	}
	for k, v := range claims {
		id.Claims[k] = v
	}
	if sub, err := claims.GetSubject(); err == nil {
		id.Principal = sub
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		id.ExpiresAt = exp.Time
	}
	return AuthSuccess(id), nil
}

func bearerToken(req *AuthRequest) (string, bool) {
	header := req.GetHeader("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(header[len(prefix):]), true
}

var _ Authenticator = (*JWTAuthenticator)(nil)
