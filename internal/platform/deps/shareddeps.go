// Package deps provides shared dependencies for all services.
package deps

import (
	"sync"

	"github.com/FlowBondTech/flowb-sub000/internal/components/claims"
	"github.com/FlowBondTech/flowb-sub000/internal/components/identity"
	"github.com/FlowBondTech/flowb-sub000/internal/components/points"
	"github.com/FlowBondTech/flowb-sub000/internal/components/token"
	"github.com/FlowBondTech/flowb-sub000/internal/platform/cache"
	"github.com/FlowBondTech/flowb-sub000/internal/platform/config"
	httpclient "github.com/FlowBondTech/flowb-sub000/internal/platform/http/client"
	"github.com/FlowBondTech/flowb-sub000/internal/platform/http/realip"
	"github.com/FlowBondTech/flowb-sub000/internal/platform/metrics"
	"github.com/FlowBondTech/flowb-sub000/internal/platform/store"
)

var (
	sharedDeps     *Deps
	sharedDepsOnce sync.Once
)

// Deps holds shared dependencies for all services. Built once in main and
// read by service constructors through GetDeps.
type Deps struct {
	Config *config.Config

	// Store is the record store; Cache backs rate limiting and upstream
	// response caching.
	Store store.Driver
	Cache cache.CacheWithCounter

	// Tokens issues and verifies session tokens. The auth gate verifies
	// bearer tokens with it.
	Tokens *token.Codec

	Verifiers    identity.Verifiers
	Orchestrator *claims.Orchestrator
	Ledger       points.Ledger

	HTTPClient *httpclient.Client
	Metrics    *metrics.Metrics

	// RealIP provides trusted-proxy-aware client IP extraction.
	// This is the single source of truth for client identity in logging and rate limiting.
	RealIP *realip.TrustedProxies
}

// SetDeps sets the shared dependencies. Must be called once at startup
// before any services are constructed.
func SetDeps(d *Deps) {
	sharedDepsOnce.Do(func() {
		sharedDeps = d
	})
}

// GetDeps returns the shared dependencies.
// Returns nil if SetDeps has not been called.
func GetDeps() *Deps {
	return sharedDeps
}

// ResetDeps is for testing only. Resets the singleton.
func ResetDeps() {
	sharedDeps = nil
	sharedDepsOnce = sync.Once{}
}
