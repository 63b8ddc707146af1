// Package claims provides the /api/claims endpoints for payment and
// proximity claims. Every route requires a session token.
package claims

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/FlowBondTech/flowb-sub000/internal/components/api"
	"github.com/FlowBondTech/flowb-sub000/internal/components/claims"
	"github.com/FlowBondTech/flowb-sub000/internal/components/trust"
	"github.com/FlowBondTech/flowb-sub000/internal/frameworks/service"
	svccfg "github.com/FlowBondTech/flowb-sub000/internal/frameworks/service/cfg"
	"github.com/FlowBondTech/flowb-sub000/internal/frameworks/service/httpwrap"
	"github.com/FlowBondTech/flowb-sub000/internal/interceptors"
	"github.com/FlowBondTech/flowb-sub000/internal/platform/appctx"
	"github.com/FlowBondTech/flowb-sub000/internal/platform/deps"
	"github.com/FlowBondTech/flowb-sub000/internal/platform/logutil"
	"github.com/FlowBondTech/flowb-sub000/internal/platform/store"
)

func init() {
	service.MustRegister("claims", New)
}

// Config holds claims service configuration from [http.services.claims].
type Config struct {
	Ratelimit    RatelimitConfig `mapstructure:"ratelimit"`
	MaxBodyBytes int64           `mapstructure:"max_body_bytes"`
}

// RatelimitConfig selects a profile from [http.interceptors.ratelimit.profiles.<name>].
type RatelimitConfig struct {
	Profile string `mapstructure:"profile"`
}

// ApplyDefaults implements cfg.Setter.
func (c *Config) ApplyDefaults() {
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 16 << 10
	}
}

// Orchestrator is the subset of *claims.Orchestrator the service uses.
type Orchestrator interface {
	Submit(ctx context.Context, c claims.Claim) (*claims.Outcome, error)
	Sponsorship(ctx context.Context, id string) (*store.Sponsorship, error)
	Reverify(ctx context.Context, id string) (*store.Sponsorship, error)
}

// Service is the claims service.
type Service struct {
	router chi.Router
	conf   *Config
	o      Orchestrator
	log    *slog.Logger
}

// New creates the claims service from shared deps.
func New(m map[string]any, log *slog.Logger) (service.Service, error) {
	log = logutil.NoopIfNil(log)
	var c Config
	unused, err := svccfg.DecodeWithUnused(m, &c)
	if err != nil {
		return nil, err
	}
	if len(unused) > 0 {
		log.Warn("unused config keys", "service", "claims", "unused_keys", unused)
	}

	d := deps.GetDeps()
	if d == nil {
		return nil, errors.New("shared deps not initialized")
	}
	if d.Orchestrator == nil {
		return nil, errors.New("claims: orchestrator not initialized")
	}

	limit, err := interceptors.FromProfile(d.Config.HTTP.Interceptors, "ratelimit", c.Ratelimit.Profile, log)
	if err != nil {
		return nil, fmt.Errorf("claims: %w", err)
	}

	return newService(&c, d.Orchestrator, limit, log), nil
}

func newService(c *Config, o Orchestrator, limit interceptors.Middleware, log *slog.Logger) *Service {
	s := &Service{conf: c, o: o, log: log}

	r := chi.NewRouter()
	r.Use(httpwrap.MaxBody(c.MaxBodyBytes))
	if limit != nil {
		r.Use(limit)
	}
	r.Route("/sponsorships", func(r chi.Router) {
		r.Post("/", s.handleCreateSponsorship)
		r.Get("/{id}", s.handleGetSponsorship)
		r.Post("/{id}/verify", s.handleVerifySponsorship)
	})
	r.Post("/checkins/proximity", s.handleProximity)
	s.router = r
	return s
}

// Handler returns the service's HTTP handler with RawPath clearing.
func (s *Service) Handler() http.Handler { return httpwrap.ClearRawPath(s.router) }

// Prefix returns the URL prefix for this service.
func (s *Service) Prefix() string { return "api/claims" }

// Unprotected returns nil: every claims route is session-gated.
func (s *Service) Unprotected() []string { return nil }

// Close releases any resources held by the service.
func (s *Service) Close() error { return nil }

// SponsorshipRequest is the payment claim body. amountUsdc accepts a JSON
// number or string.
type SponsorshipRequest struct {
	TargetType string          `json:"targetType"`
	TargetID   string          `json:"targetId"`
	AmountUSDC decimal.Decimal `json:"amountUsdc"`
	TxHash     string          `json:"txHash"`
}

// ProximityRequest is the proximity claim body.
type ProximityRequest struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	CrewID    string   `json:"crewId,omitempty"`
}

func (s *Service) handleCreateSponsorship(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req SponsorshipRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.TxHash == "" {
		api.WriteTrustError(w, r, trust.Malformed(trust.ReasonMissingField, "txHash is required"), http.StatusForbidden)
		return
	}

	out, err := s.o.Submit(r.Context(), claims.PaymentClaim{
		SponsorID:     p.Subject,
		TargetType:    req.TargetType,
		TargetID:      req.TargetID,
		AmountClaimed: req.AmountUSDC,
		TxHash:        req.TxHash,
	})
	if err != nil {
		api.WriteTrustError(w, r, err, http.StatusForbidden)
		return
	}
	api.WriteJSON(w, http.StatusAccepted, out.Sponsorship)
}

func (s *Service) handleGetSponsorship(w http.ResponseWriter, r *http.Request) {
	sp, ok := s.ownedSponsorship(w, r)
	if !ok {
		return
	}
	api.WriteJSON(w, http.StatusOK, sp)
}

// handleVerifySponsorship runs one synchronous confirmation attempt. Only
// the sponsor or an admin may trigger it.
func (s *Service) handleVerifySponsorship(w http.ResponseWriter, r *http.Request) {
	sp, ok := s.ownedSponsorship(w, r)
	if !ok {
		return
	}
	updated, err := s.o.Reverify(r.Context(), sp.ID)
	if err != nil {
		api.WriteTrustError(w, r, err, http.StatusForbidden)
		return
	}
	api.WriteJSON(w, http.StatusOK, updated)
}

func (s *Service) handleProximity(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req ProximityRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Latitude == nil || req.Longitude == nil {
		api.WriteTrustError(w, r, trust.Malformed(trust.ReasonMissingField, "latitude and longitude are required"), http.StatusForbidden)
		return
	}

	c := claims.ProximityClaim{UserID: p.Subject, Lat: *req.Latitude, Lon: *req.Longitude}
	if req.CrewID != "" {
		c.CrewIDs = []string{req.CrewID}
	}
	out, err := s.o.Submit(r.Context(), c)
	if err != nil {
		api.WriteTrustError(w, r, err, http.StatusForbidden)
		return
	}
	api.WriteJSON(w, http.StatusOK, out.Proximity)
}

func (s *Service) ownedSponsorship(w http.ResponseWriter, r *http.Request) (*store.Sponsorship, bool) {
	p, ok := principal(w, r)
	if !ok {
		return nil, false
	}
	sp, err := s.o.Sponsorship(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		api.WriteNotFound(w, "sponsorship not found")
		return nil, false
	}
	if err != nil {
		appctx.GetLogger(r.Context()).Error("load sponsorship failed", "error", err)
		api.WriteInternalError(w, "internal error")
		return nil, false
	}
	// Sponsorships of other subjects are reported as not found.
	if sp.SponsorSubject != p.Subject && !p.IsAdmin() {
		api.WriteNotFound(w, "sponsorship not found")
		return nil, false
	}
	return sp, true
}

func principal(w http.ResponseWriter, r *http.Request) (*appctx.Principal, bool) {
	p, ok := appctx.PrincipalFromContext(r.Context())
	if !ok {
		api.WriteUnauthorized(w, api.ReasonUnauthenticated, "authentication required")
	}
	return p, ok
}

func (s *Service) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		api.WriteBadRequest(w, api.ReasonBadRequest, "request body must be a JSON object")
		return false
	}
	return true
}
