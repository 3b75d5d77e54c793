package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

// TokenAuth enforces the shared bearer token on /api/v1/* when one is
// configured. /health, /version and /metrics stay public so probes and
// scrapers work without credentials. An empty token disables auth
// entirely (local dev).
type TokenAuth struct {
	token string
}

// NewTokenAuth creates the auth middleware for the given shared token.
func NewTokenAuth(token string) *TokenAuth {
	return &TokenAuth{token: token}
}

// Enabled reports whether a token is configured.
func (a *TokenAuth) Enabled() bool { return a.token != "" }

// Middleware returns the enforcing http.Handler wrapper.
func (a *TokenAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() || publicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		presented := bearerToken(r)
		if presented == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(a.token)) != 1 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": "invalid or missing auth token"})
			return
		}

		next.ServeHTTP(w, r)
	})
}

func publicPath(path string) bool {
	switch path {
	case "/health", "/version", "/metrics":
		return true
	}
	return false
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}
