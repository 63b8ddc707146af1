package server

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/FlowBondTech/flowb-sub000/internal/frameworks/service"
	"github.com/FlowBondTech/flowb-sub000/internal/platform/deps"
	"github.com/FlowBondTech/flowb-sub000/internal/platform/http/auth"
	httpmw "github.com/FlowBondTech/flowb-sub000/internal/platform/http/middleware"
)

// publicPrefixes are served without a session token. Everything else,
// including paths no service mounts, is gated unless a service lists the
// path in Unprotected.
var publicPrefixes = []string{"/healthz", "/metrics"}

// IsAuthRequired reports whether path needs a session token.
func IsAuthRequired(path string, mounted []service.Service) bool {
	for _, svc := range mounted {
		if svc == nil {
			continue
		}
		base := mountPath(svc)
		if base == "/" {
			base = ""
		}
		for _, p := range svc.Unprotected() {
			if underPrefix(path, base+p) {
				return false
			}
		}
	}
	for _, p := range publicPrefixes {
		if underPrefix(path, p) {
			return false
		}
	}
	return true
}

// underPrefix matches prefix itself and anything below it, on segment
// boundaries only: /metrics matches /metrics/x but not /metricsx.
func underPrefix(path, prefix string) bool {
	rest, ok := strings.CutPrefix(path, prefix)
	return ok && (rest == "" || rest[0] == '/')
}

func mountPath(svc service.Service) string {
	return "/" + strings.Trim(svc.Prefix(), "/")
}

// setupRoutes builds the root router. Middleware order:
// RequestID, request logger, access log, Recoverer, auth gate.
func (s *Server) setupRoutes(d *deps.Deps, services []service.Service) http.Handler {
	r := chi.NewRouter()
	r.Use(
		chimw.RequestID,
		httpmw.RequestLoggerMiddleware(s.logger, d.RealIP),
		httpmw.AccessLogMiddleware(s.logger, d.RealIP, d.Metrics),
		chimw.Recoverer,
		auth.NewAuthGate(auth.AuthGateConfig{
			RequireAuth: func(path string) bool { return IsAuthRequired(path, s.mountedServices) },
			Log:         s.logger,
			Tokens:      d.Tokens,
		}),
	)

	for _, svc := range services {
		if svc == nil {
			continue
		}
		r.Mount(mountPath(svc), svc.Handler())
		s.mountedServices = append(s.mountedServices, svc)
	}
	return r
}
