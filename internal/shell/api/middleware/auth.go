// Package middleware provides HTTP middleware for the Nucleus API.
//
// Client identity is established upstream. Nucleus only checks an optional
// shared bearer token and carries the caller name the gateway forwards.
package middleware

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

// HeaderCaller carries the caller identity set by the fronting gateway.
const HeaderCaller = "X-Nucleus-Caller"

// =============================================================================
// Caller Context
// =============================================================================

type callerKey struct{}

// WithCaller returns a context carrying the caller name.
func WithCaller(ctx context.Context, caller string) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFromContext returns the caller name, or "" when none was forwarded.
func CallerFromContext(ctx context.Context) string {
	caller, _ := ctx.Value(callerKey{}).(string)
	return caller
}

// =============================================================================
// Token Auth Middleware
// =============================================================================

// TokenConfig holds configuration for the token middleware.
type TokenConfig struct {
	// Token is the shared bearer token. If empty, every request passes.
	Token string

	// Logger for auth middleware logging.
	Logger *slog.Logger
}

// TokenAuth rejects requests that do not present the shared token.
type TokenAuth struct {
	config TokenConfig
}

// NewTokenAuth creates a new token middleware with the given config.
func NewTokenAuth(cfg TokenConfig) *TokenAuth {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &TokenAuth{config: cfg}
}

// Handler returns the middleware handler function.
func (m *TokenAuth) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.config.Token != "" && !m.valid(r) {
			m.config.Logger.Warn("rejected request with invalid token",
				"remote_addr", r.RemoteAddr,
				"path", r.URL.Path,
			)
			writeJSONError(w, http.StatusUnauthorized, "missing or invalid bearer token")
			return
		}

		if caller := r.Header.Get(HeaderCaller); caller != "" {
			r = r.WithContext(WithCaller(r.Context(), caller))
		}

		next.ServeHTTP(w, r)
	})
}

func (m *TokenAuth) valid(r *http.Request) bool {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(m.config.Token)) == 1
}

// =============================================================================
// JSON Error Response
// =============================================================================

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// writeJSONError writes an error response in the API's error shape.
func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(struct {
		Error errorBody `json:"error"`
	}{Error: errorBody{Kind: "unauthorized", Message: message}})
}
