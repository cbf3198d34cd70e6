package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMiddleware(t *testing.T) {
	keys, _ := NewAPIKeyAuthenticator("", "alpha")
	failing := &stubAuthenticator{name: "broken", supports: true, err: errors.New("down")}

	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	tests := []struct {
		name     string
		auth     Authenticator
		key      string
		wantCode int
	}{
		{"accepted", keys, "alpha", http.StatusNoContent},
		{"rejected", keys, "nope", http.StatusUnauthorized},
		{"missing", keys, "", http.StatusUnauthorized},
		{"internal error", failing, "alpha", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			r := httptest.NewRequest(http.MethodGet, "/v1/jobs", nil)
			if tt.key != "" {
				r.Header.Set(DefaultAPIKeyHeader, tt.key)
			}
			rec := httptest.NewRecorder()
			Middleware(tt.auth, nil)(next).ServeHTTP(rec, r)

			if rec.Code != tt.wantCode {
				t.Fatalf("code = %d, want %d", rec.Code, tt.wantCode)
			}
			switch tt.wantCode {
			case http.StatusNoContent:
				if seen != "key:"+KeyFingerprint("alpha") {
					t.Errorf("principal = %q", seen)
				}
			case http.StatusUnauthorized:
				if rec.Header().Get("WWW-Authenticate") == "" {
					t.Error("missing WWW-Authenticate")
				}
				var body map[string]string
				if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body["error"] == "" {
					t.Errorf("body = %q", rec.Body.String())
				}
			}
		})
	}
}

func TestIdentityContext(t *testing.T) {
	ctx := context.Background()
	if IdentityFromContext(ctx) != nil || PrincipalFromContext(ctx) != "" {
		t.Error("empty context should carry no identity")
	}
	ctx = WithIdentity(ctx, &Identity{Principal: "bob"})
	if PrincipalFromContext(ctx) != "bob" {
		t.Errorf("principal = %q", PrincipalFromContext(ctx))
	}
}
