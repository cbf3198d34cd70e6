package auth

import (
	"encoding/json"
	"net/http"

	"github.com/jonwraymond/restcache/observe"
)

// Middleware authenticates each request with a and attaches the identity to
// the request context. Rejected requests get 401 with a JSON error body;
// internal authenticator errors get 500.
func Middleware(a Authenticator, logger observe.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = observe.NopLogger()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			result, err := a.Authenticate(ctx, &AuthRequest{Headers: r.Header})
			if err != nil {
				logger.Error(ctx, "authentication error", observe.Field{Key: "error", Value: err})
				writeError(w, http.StatusInternalServerError, "authentication unavailable")
				return
			}
			if !result.Authenticated {
				logger.Debug(ctx, "authentication rejected",
					observe.Field{Key: "method", Value: result.Method},
					observe.Field{Key: "error", Value: result.Error})
				w.Header().Set("WWW-Authenticate", `Bearer realm="restcache"`)
				writeError(w, http.StatusUnauthorized, result.Error.Error())
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, result.Identity)))
		})
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
