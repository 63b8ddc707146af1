// Package middleware holds the transport middleware every request passes
// through: request-scoped logging and the access log.
package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/FlowBondTech/flowb-sub000/internal/platform/appctx"
	"github.com/FlowBondTech/flowb-sub000/internal/platform/http/realip"
	"github.com/FlowBondTech/flowb-sub000/internal/platform/metrics"
)

// scoped derives the per-request logger. Path only; the query string is
// never logged.
func scoped(base *slog.Logger, tp *realip.TrustedProxies, r *http.Request) *slog.Logger {
	ip := "unknown"
	if tp != nil {
		ip = tp.GetClientIPString(r)
	}
	return base.With(
		"request_id", chimw.GetReqID(r.Context()),
		"method", r.Method,
		"path", r.URL.Path,
		"client_ip", ip,
	)
}

// RequestLoggerMiddleware puts a request-scoped logger into the context.
// Mount it after chimw.RequestID.
func RequestLoggerMiddleware(base *slog.Logger, tp *realip.TrustedProxies) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := appctx.WithLogger(r.Context(), scoped(base, tp, r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AccessLogMiddleware writes one "request" entry per request and feeds the
// HTTP metrics, labelled by chi route pattern. m may be nil.
func AccessLogMiddleware(base *slog.Logger, tp *realip.TrustedProxies, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				elapsed := time.Since(start)

				logger, ok := appctx.LoggerFromContext(r.Context())
				if !ok {
					logger = scoped(base, tp, r)
				}
				logger.Info("request",
					"status", status,
					"bytes", ww.BytesWritten(),
					"duration_ms", elapsed.Milliseconds(),
				)

				route := ""
				if rctx := chi.RouteContext(r.Context()); rctx != nil {
					route = rctx.RoutePattern()
				}
				m.ObserveHTTP(r.Method, route, status, elapsed)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
