package middleware

import (
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/hsc/registry-server/pkg/api/response"
)

const (
	apiKeyHeader = "X-Registry-API-Key"
	apiKeyParam  = "api_key"
)

// Auth returns a middleware that rejects requests missing a valid API
// key, except for paths under one of publicPaths. Disabled (enabled ==
// false) it is a no-op, letting operators run without auth configured.
func Auth(enabled bool, apiKey string, publicPaths []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !enabled || apiKey == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublicPath(r.URL.Path, publicPaths) {
				next.ServeHTTP(w, r)
				return
			}

			if !keyMatches(r, apiKey) {
				writeAuthError(w, r)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// writeAuthError writes the standard 401 body for a missing or invalid
// API key, with a hint pointing at the expected header/param and the
// caller's remote address for audit correlation.
func writeAuthError(w http.ResponseWriter, r *http.Request) {
	response.ErrorWithDetails(w, r, http.StatusUnauthorized, response.ErrCodeAuth, "API key authentication required", map[string]interface{}{
		"hint":           "present a valid API key via the " + apiKeyHeader + " header or " + apiKeyParam + " query parameter",
		"remote_address": r.RemoteAddr,
	})
}

func keyMatches(r *http.Request, apiKey string) bool {
	if presented := r.Header.Get(apiKeyHeader); presented != "" {
		return presented == apiKey
	}
	return r.URL.Query().Get(apiKeyParam) == apiKey
}

func isPublicPath(path string, publicPaths []string) bool {
	for _, prefix := range publicPaths {
		if prefix == "" {
			continue
		}
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

type authSnapshot struct {
	enabled     bool
	apiKey      string
	publicPaths []string
}

// AuthState holds hot-reloadable auth settings behind an atomic pointer,
// so a configuration watcher can swap them in without tearing down and
// rebuilding the middleware chain.
type AuthState struct {
	v atomic.Value
}

// NewAuthState builds an AuthState with an initial snapshot.
func NewAuthState(enabled bool, apiKey string, publicPaths []string) *AuthState {
	s := &AuthState{}
	s.Store(enabled, apiKey, publicPaths)
	return s
}

// Store atomically replaces the current snapshot.
func (s *AuthState) Store(enabled bool, apiKey string, publicPaths []string) {
	s.v.Store(authSnapshot{
		enabled:     enabled,
		apiKey:      apiKey,
		publicPaths: append([]string(nil), publicPaths...),
	})
}

// DynamicAuth returns a middleware that reads the current AuthState on
// every request, unlike Auth which bakes its settings in at wiring time.
func DynamicAuth(state *AuthState) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			snap := state.v.Load().(authSnapshot)
			if !snap.enabled || snap.apiKey == "" {
				next.ServeHTTP(w, r)
				return
			}
			if isPublicPath(r.URL.Path, snap.publicPaths) {
				next.ServeHTTP(w, r)
				return
			}
			if !keyMatches(r, snap.apiKey) {
				writeAuthError(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
