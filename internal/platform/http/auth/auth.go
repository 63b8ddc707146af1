// Package auth provides the bearer-token gate for HTTP servers.
package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/FlowBondTech/flowb-sub000/internal/components/api"
	"github.com/FlowBondTech/flowb-sub000/internal/components/token"
	"github.com/FlowBondTech/flowb-sub000/internal/platform/appctx"
	"github.com/FlowBondTech/flowb-sub000/internal/platform/logutil"
)

// TokenVerifier checks a session token. *token.Codec implements it.
type TokenVerifier interface {
	Verify(tokenString string) (*token.Claims, error)
}

// AuthGateConfig configures the auth gate middleware.
type AuthGateConfig struct {
	// RequireAuth returns true if the given path requires a session token.
	// Constructed by the server at router setup time using IsAuthRequired().
	RequireAuth func(path string) bool

	// Log is the base logger for auth-related warnings and errors.
	Log *slog.Logger

	// Tokens verifies bearer tokens.
	// May be nil only if RequireAuth always returns false (tests only).
	Tokens TokenVerifier
}

// NewAuthGate returns a middleware that enforces bearer-token authentication.
// If RequireAuth returns false for the request path, the request passes through
// without token parsing or context enrichment.
func NewAuthGate(cfg AuthGateConfig) func(http.Handler) http.Handler {
	cfg.Log = logutil.NoopIfNil(cfg.Log)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.RequireAuth(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			raw := extractBearerToken(r)
			if raw == "" {
				api.WriteUnauthorized(w, api.ReasonUnauthenticated, "authentication required")
				return
			}

			claims, err := cfg.Tokens.Verify(raw)
			if err != nil {
				appctx.GetLogger(r.Context()).Debug("bearer token rejected")
				api.WriteUnauthorized(w, api.ReasonSessionExpired, "session token is invalid or expired")
				return
			}

			ctx := appctx.WithPrincipal(r.Context(), &appctx.Principal{
				Subject:  claims.Subject,
				Platform: claims.Platform,
				Username: claims.Username,
				Role:     claims.Role,
			})

			// Enrich handler logger with the subject (not used by access log, handler-only)
			reqLogger := appctx.GetLogger(ctx).With("subject", claims.Subject)
			ctx = appctx.WithLogger(ctx, reqLogger)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// extractBearerToken gets the token from the Authorization header.
func extractBearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) < len("Bearer ") || !strings.EqualFold(h[:len("Bearer ")], "Bearer ") {
		return ""
	}
	return strings.TrimSpace(h[len("Bearer "):])
}
