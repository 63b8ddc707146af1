// Package health provides /healthz and /metrics.
package health

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/FlowBondTech/flowb-sub000/internal/components/api"
	"github.com/FlowBondTech/flowb-sub000/internal/frameworks/service"
	svccfg "github.com/FlowBondTech/flowb-sub000/internal/frameworks/service/cfg"
	"github.com/FlowBondTech/flowb-sub000/internal/platform/deps"
	"github.com/FlowBondTech/flowb-sub000/internal/platform/store"
)

func init() {
	service.MustRegister("health", New)
}

// Config holds health service configuration from [http.services.health].
type Config struct {
	CheckTimeout time.Duration `mapstructure:"check_timeout"`
	// DisableMetrics hides /metrics, e.g. when a sidecar scrapes another port.
	DisableMetrics bool `mapstructure:"disable_metrics"`
}

// ApplyDefaults implements cfg.Setter.
func (c *Config) ApplyDefaults() {
	if c.CheckTimeout <= 0 {
		c.CheckTimeout = 2 * time.Second
	}
}

// Service serves liveness and metrics at the host root.
type Service struct {
	router chi.Router
}

// New creates the health service.
func New(m map[string]any, log *slog.Logger) (service.Service, error) {
	var c Config
	if err := svccfg.Decode(m, &c); err != nil {
		return nil, err
	}
	d := deps.GetDeps()
	if d == nil {
		return nil, errors.New("shared deps not initialized")
	}

	checks := map[string]api.Pinger{}
	if d.Store != nil {
		checks["store"] = storePing(d.Store)
	}
	if d.Cache != nil {
		checks["cache"] = api.PingFunc(func(ctx context.Context) error {
			_, err := d.Cache.Exists(ctx, "healthz")
			return err
		})
	}

	r := chi.NewRouter()
	r.Get("/healthz", api.HealthHandler(checks, c.CheckTimeout))
	if !c.DisableMetrics && d.Metrics != nil {
		r.Handle("/metrics", d.Metrics.Handler())
	}
	return &Service{router: r}, nil
}

// storePing treats a missing probe record as a healthy round trip.
func storePing(s store.LocationStore) api.Pinger {
	return api.PingFunc(func(ctx context.Context) error {
		_, err := s.GetLocation(ctx, "__healthz")
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	})
}

// Handler returns the service's HTTP handler.
func (s *Service) Handler() http.Handler { return s.router }

// Prefix is empty: the service mounts at the host root.
func (s *Service) Prefix() string { return "" }

// Unprotected returns the public paths.
func (s *Service) Unprotected() []string { return []string{"/healthz", "/metrics"} }

// Close releases any resources held by the service.
func (s *Service) Close() error { return nil }
