package mcpserver

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strings"
)

// authContextKey is the context key for auth results.
type authContextKey struct{}

// AuthResult holds the result of bearer token validation.
type AuthResult struct {
	Authenticated bool
	KeyID         string // token hash prefix for logging
}

// WithAuthResult stores the auth result in context.
func WithAuthResult(ctx context.Context, result AuthResult) context.Context {
	return context.WithValue(ctx, authContextKey{}, result)
}

// AuthFromContext retrieves the auth result from context.
func AuthFromContext(ctx context.Context) AuthResult {
	result, ok := ctx.Value(authContextKey{}).(AuthResult)
	if !ok {
		return AuthResult{Authenticated: false}
	}
	return result
}

// BearerAuth rejects requests whose Authorization header does not carry the
// configured token. An empty token disables the check.
func BearerAuth(token string, logger *slog.Logger, next http.Handler) http.Handler {
	if token == "" {
		return next
	}
	want := sha256.Sum256([]byte(token))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		presented := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		got := sha256.Sum256([]byte(presented))

		if presented == "" || subtle.ConstantTimeCompare(got[:], want[:]) != 1 {
			logger.WarnContext(r.Context(), "Rejected unauthenticated request", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("WWW-Authenticate", `Bearer realm="voiceover"`)
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
			return
		}

		ctx := WithAuthResult(r.Context(), AuthResult{
			Authenticated: true,
			KeyID:         hex.EncodeToString(got[:4]),
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
