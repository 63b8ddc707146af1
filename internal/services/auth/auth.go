// Package auth provides the /api/auth sign-in endpoints.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/FlowBondTech/flowb-sub000/internal/components/api"
	"github.com/FlowBondTech/flowb-sub000/internal/components/claims"
	"github.com/FlowBondTech/flowb-sub000/internal/components/identity"
	"github.com/FlowBondTech/flowb-sub000/internal/frameworks/service"
	svccfg "github.com/FlowBondTech/flowb-sub000/internal/frameworks/service/cfg"
	"github.com/FlowBondTech/flowb-sub000/internal/frameworks/service/httpwrap"
	"github.com/FlowBondTech/flowb-sub000/internal/interceptors"
	"github.com/FlowBondTech/flowb-sub000/internal/platform/appctx"
	"github.com/FlowBondTech/flowb-sub000/internal/platform/deps"
	"github.com/FlowBondTech/flowb-sub000/internal/platform/logutil"
)

func init() {
	service.MustRegister("auth", New)
}

// Config holds auth service configuration from [http.services.auth].
type Config struct {
	Ratelimit RatelimitConfig `mapstructure:"ratelimit"`
	// MaxBodyBytes caps sign-in request bodies.
	MaxBodyBytes int64 `mapstructure:"max_body_bytes"`
}

// RatelimitConfig selects a profile from [http.interceptors.ratelimit.profiles.<name>].
type RatelimitConfig struct {
	Profile string `mapstructure:"profile"`
}

// ApplyDefaults implements cfg.Setter.
func (c *Config) ApplyDefaults() {
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 64 << 10
	}
}

// Submitter runs a claim. *claims.Orchestrator implements it.
type Submitter interface {
	Submit(ctx context.Context, c claims.Claim) (*claims.Outcome, error)
}

// PointsReader returns a subject's points total. The store implements it.
type PointsReader interface {
	TotalPoints(ctx context.Context, subject string) (int64, error)
}

// Service is the sign-in service.
type Service struct {
	router chi.Router
	conf   *Config
	claims Submitter
	totals PointsReader
	log    *slog.Logger
}

// New creates the auth service from shared deps.
func New(m map[string]any, log *slog.Logger) (service.Service, error) {
	log = logutil.NoopIfNil(log)
	var c Config
	unused, err := svccfg.DecodeWithUnused(m, &c)
	if err != nil {
		return nil, err
	}
	if len(unused) > 0 {
		log.Warn("unused config keys", "service", "auth", "unused_keys", unused)
	}

	d := deps.GetDeps()
	if d == nil {
		return nil, errors.New("shared deps not initialized")
	}
	if d.Orchestrator == nil {
		return nil, errors.New("auth: orchestrator not initialized")
	}

	limit, err := interceptors.FromProfile(d.Config.HTTP.Interceptors, "ratelimit", c.Ratelimit.Profile, log)
	if err != nil {
		return nil, fmt.Errorf("auth: %w", err)
	}

	return newService(&c, d.Orchestrator, d.Store, limit, log), nil
}

func newService(c *Config, sub Submitter, totals PointsReader, limit interceptors.Middleware, log *slog.Logger) *Service {
	s := &Service{conf: c, claims: sub, totals: totals, log: log}

	r := chi.NewRouter()
	r.Use(httpwrap.MaxBody(c.MaxBodyBytes))
	r.Group(func(r chi.Router) {
		if limit != nil {
			r.Use(limit)
		}
		r.Post("/telegram", s.handleTelegram)
		r.Post("/farcaster", s.handleFarcaster)
		r.Post("/app", s.handleApp)
	})
	r.Get("/me", s.handleMe)
	s.router = r
	return s
}

// Handler returns the service's HTTP handler with RawPath clearing.
func (s *Service) Handler() http.Handler { return httpwrap.ClearRawPath(s.router) }

// Prefix returns the URL prefix for this service.
func (s *Service) Prefix() string { return "api/auth" }

// Unprotected returns the sign-in paths; /me needs a session token.
func (s *Service) Unprotected() []string {
	return []string{"/telegram", "/farcaster", "/app"}
}

// Close releases any resources held by the service.
func (s *Service) Close() error { return nil }

type telegramRequest struct {
	InitData string `json:"initData"`
}

type farcasterRequest struct {
	Token     string `json:"token"`
	Message   string `json:"message"`
	Signature string `json:"signature"`
}

type appRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// SessionResponse is returned by every sign-in endpoint.
type SessionResponse struct {
	Token     string             `json:"token"`
	ExpiresAt int64              `json:"expiresAt"`
	User      *identity.Identity `json:"user"`
}

func (s *Service) handleTelegram(w http.ResponseWriter, r *http.Request) {
	var req telegramRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.signIn(w, r, identity.PlatformTelegram, identity.Assertion{InitData: req.InitData})
}

func (s *Service) handleFarcaster(w http.ResponseWriter, r *http.Request) {
	var req farcasterRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.signIn(w, r, identity.PlatformFarcaster, identity.Assertion{
		Token:     req.Token,
		Message:   req.Message,
		Signature: req.Signature,
	})
}

func (s *Service) handleApp(w http.ResponseWriter, r *http.Request) {
	var req appRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.signIn(w, r, identity.PlatformApp, identity.Assertion{Username: req.Username, Password: req.Password})
}

func (s *Service) signIn(w http.ResponseWriter, r *http.Request, p identity.Platform, a identity.Assertion) {
	out, err := s.claims.Submit(r.Context(), claims.IdentityClaim{Platform: p, Assertion: a})
	if err != nil {
		api.WriteTrustError(w, r, err, http.StatusUnauthorized)
		return
	}
	appctx.GetLogger(r.Context()).Info("signed in", "subject", out.Session.Identity.Subject, "platform", p)
	api.WriteJSON(w, http.StatusOK, SessionResponse{
		Token:     out.Session.Token,
		ExpiresAt: out.Session.ExpiresAt.Unix(),
		User:      out.Session.Identity,
	})
}

// MeResponse describes the caller behind a session token.
type MeResponse struct {
	Subject  string `json:"subject"`
	Platform string `json:"platform"`
	Username string `json:"username,omitempty"`
	Role     string `json:"role,omitempty"`
	Points   int64  `json:"points"`
}

func (s *Service) handleMe(w http.ResponseWriter, r *http.Request) {
	p, ok := appctx.PrincipalFromContext(r.Context())
	if !ok {
		api.WriteUnauthorized(w, api.ReasonUnauthenticated, "authentication required")
		return
	}
	total, err := s.totals.TotalPoints(r.Context(), p.Subject)
	if err != nil {
		appctx.GetLogger(r.Context()).Warn("points total lookup failed", "error", err)
	}
	api.WriteJSON(w, http.StatusOK, MeResponse{
		Subject:  p.Subject,
		Platform: p.Platform,
		Username: p.Username,
		Role:     p.Role,
		Points:   total,
	})
}

func (s *Service) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		api.WriteBadRequest(w, api.ReasonBadRequest, "request body must be a JSON object")
		return false
	}
	return true
}
