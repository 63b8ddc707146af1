// Package appctx provides context-based utilities for cross-cutting concerns.
// Mimics Reva's "appctx logger from context" pattern, built on slog.
package appctx

import (
	"context"
	"log/slog"
)

type (
	loggerKey    struct{}
	principalKey struct{}
)

// WithLogger attaches a logger to the context.
func WithLogger(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

// LoggerFromContext returns the logger from the context (if present).
func LoggerFromContext(ctx context.Context) (*slog.Logger, bool) {
	if ctx == nil {
		return nil, false
	}
	l, ok := ctx.Value(loggerKey{}).(*slog.Logger)
	return l, ok && l != nil
}

// GetLogger returns the logger from the context, or slog.Default() if missing.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := LoggerFromContext(ctx); ok {
		return l
	}
	return slog.Default()
}

// Principal is the caller established by the auth gate from a verified
// session token.
type Principal struct {
	Subject  string
	Platform string
	Username string
	Role     string
}

// IsAdmin reports whether the principal carries the admin role.
func (p *Principal) IsAdmin() bool { return p != nil && p.Role == "admin" }

// WithPrincipal attaches the authenticated caller to the context.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the authenticated caller, if any.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	if ctx == nil {
		return nil, false
	}
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok && p != nil
}
