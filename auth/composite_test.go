package auth

import (
	"context"
	"errors"
	"net/http"
	"testing"
)

type stubAuthenticator struct {
	name     string
	supports bool
	result   *AuthResult
	err      error
	calls    int
}

func (s *stubAuthenticator) Name() string { return s.name }

func (s *stubAuthenticator) Supports(context.Context, *AuthRequest) bool { return s.supports }

func (s *stubAuthenticator) Authenticate(context.Context, *AuthRequest) (*AuthResult, error) {
	s.calls++
	return s.result, s.err
}

func TestCompositeAuthenticator(t *testing.T) {
	ok := AuthSuccess(&Identity{Principal: "p", Method: AuthMethodAPIKey})
	bad := AuthFailure(ErrInvalidCredentials, "jwt")
	boom := errors.New("backend down")

	tests := []struct {
		name      string
		auths     []Authenticator
		wantOK    bool
		wantErr   error
		wantFault error
	}{
		{"none configured", nil, false, ErrMissingCredentials, nil},
		{"none supports", []Authenticator{&stubAuthenticator{name: "a"}}, false, ErrMissingCredentials, nil},
		{"second succeeds", []Authenticator{
			&stubAuthenticator{name: "a", supports: true, result: bad},
			&stubAuthenticator{name: "b", supports: true, result: ok},
		}, true, nil, nil},
		{"all fail returns last", []Authenticator{
			&stubAuthenticator{name: "a", supports: true, result: AuthFailure(ErrTokenExpired, "a")},
			&stubAuthenticator{name: "b", supports: true, result: bad},
		}, false, ErrInvalidCredentials, nil},
		{"internal error propagates", []Authenticator{
			&stubAuthenticator{name: "a", supports: true, err: boom},
		}, false, nil, boom},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCompositeAuthenticator(tt.auths...)
			result, err := c.Authenticate(context.Background(), &AuthRequest{Headers: http.Header{}})
			if tt.wantFault != nil {
				if !errors.Is(err, tt.wantFault) {
					t.Fatalf("error = %v, want %v", err, tt.wantFault)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if result.Authenticated != tt.wantOK {
				t.Errorf("Authenticated = %v", result.Authenticated)
			}
			if tt.wantErr != nil && !errors.Is(result.Error, tt.wantErr) {
				t.Errorf("Error = %v, want %v", result.Error, tt.wantErr)
			}
		})
	}
}

func TestCompositeAuthenticator_StopsOnFirstSuccess(t *testing.T) {
	first := &stubAuthenticator{name: "a", supports: true, result: AuthSuccess(&Identity{Method: AuthMethodJWT})}
	second := &stubAuthenticator{name: "b", supports: true}
	c := NewCompositeAuthenticator(first, nil, second)

	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}
	if _, err := c.Authenticate(context.Background(), &AuthRequest{}); err != nil {
		t.Fatal(err)
	}
	if second.calls != 0 {
		t.Error("second authenticator must not run after a success")
	}
}
