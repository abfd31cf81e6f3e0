// Package auth is the thin auth collaborator: API-key gating, per-key rate
// limiting and an opaque caller id used solely to scope chat ownership.
package auth

import (
	"context"
	"net/http"
	"strings"

	"draftflow/pkg/logger"
)

// Role represents the resolved caller role for a request.
type Role int

const (
	RoleUnauth Role = iota
	RoleFrontend
	RoleBackend
)

// SecConfig drives authentication, CORS and rate limiting.
type SecConfig struct {
	AllowedOrigins []string
	RPS            float64
	Burst          int
	BackendKeys    map[string]struct{}
	FrontendKeys   map[string]struct{}
}

type ctxCallerKey struct{}
type ctxRoleKey struct{}

// Middleware authenticates requests by API key, applies CORS headers and
// per-key rate limits, and injects the opaque caller id from X-User-ID
// into the request context.
func Middleware(cfg SecConfig) func(http.Handler) http.Handler {
	limiters := newLimiterPool(cfg)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin := r.Header.Get("Origin"); origin != "" && originAllowed(cfg.AllowedOrigins, origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-API-Key, X-User-ID")
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			key := apiKey(r)
			role := RoleUnauth
			switch {
			case key == "":
			case contains(cfg.BackendKeys, key):
				role = RoleBackend
			case contains(cfg.FrontendKeys, key):
				role = RoleFrontend
			}
			if role == RoleUnauth {
				logger.Warn("unauthenticated_request", "path", r.URL.Path, "remote", r.RemoteAddr)
				http.Error(w, `{"error":"missing or invalid api key"}`, http.StatusUnauthorized)
				return
			}
			if cfg.RPS > 0 && !limiters.Allow(key) {
				http.Error(w, `{"error":"rate limit exceeded"}`, http.StatusTooManyRequests)
				return
			}

			ctx := context.WithValue(r.Context(), ctxRoleKey{}, role)
			if caller := strings.TrimSpace(r.Header.Get("X-User-ID")); caller != "" {
				ctx = context.WithValue(ctx, ctxCallerKey{}, caller)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CallerID returns the opaque caller id or empty string.
func CallerID(ctx context.Context) string {
	if s, ok := ctx.Value(ctxCallerKey{}).(string); ok {
		return s
	}
	return ""
}

// RoleFromContext returns the resolved role for a request.
func RoleFromContext(ctx context.Context) Role {
	if ro, ok := ctx.Value(ctxRoleKey{}).(Role); ok {
		return ro
	}
	return RoleUnauth
}

func apiKey(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get("X-API-Key")); v != "" {
		return v
	}
	if v := strings.TrimSpace(r.Header.Get("Authorization")); v != "" {
		return strings.TrimSpace(strings.TrimPrefix(v, "Bearer "))
	}
	return ""
}

func originAllowed(allowed []string, origin string) bool {
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	return false
}

func contains(set map[string]struct{}, key string) bool {
	_, ok := set[key]
	return ok
}
