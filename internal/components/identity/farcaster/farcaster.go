// Package farcaster verifies Farcaster identities.
//
// The quick path checks a Quick Auth JWT against the auth server's JWKS.
// The legacy path hands a sign-in message and signature to an attestation
// service and trusts its answer.
package farcaster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4"
	josejwt "github.com/go-jose/go-jose/v4/jwt"
	"golang.org/x/net/idna"
	"golang.org/x/sync/singleflight"

	"github.com/FlowBondTech/flowb-sub000/internal/components/identity"
	"github.com/FlowBondTech/flowb-sub000/internal/components/trust"
	"github.com/FlowBondTech/flowb-sub000/internal/platform/cache"
	"github.com/FlowBondTech/flowb-sub000/internal/platform/config"
	"github.com/FlowBondTech/flowb-sub000/internal/platform/http/client"
	"github.com/FlowBondTech/flowb-sub000/internal/platform/logutil"
	"github.com/FlowBondTech/flowb-sub000/internal/platform/store"
)

// Reason codes. Logged, never shown to callers.
const (
	ReasonMalformedToken     = "malformed_token"
	ReasonUnknownKey         = "unknown_key"
	ReasonBadSignature       = "bad_signature"
	ReasonBadIssuer          = "bad_issuer"
	ReasonBadAudience        = "bad_audience"
	ReasonExpired            = "expired"
	ReasonInvalidSubject     = "invalid_subject"
	ReasonAttestationInvalid = "attestation_invalid"
)

const (
	DefaultIssuer = "https://auth.farcaster.xyz"

	// Leeway applied to exp and nbf.
	Leeway = 30 * time.Second

	// JWKSRefreshInterval spaces out refetches forced by an unknown kid.
	JWKSRefreshInterval = 30 * time.Second
)

// Algorithms accepted on Quick Auth tokens.
var signatureAlgorithms = []jose.SignatureAlgorithm{jose.EdDSA, jose.ES256, jose.RS256}

// Settings are the endpoints and the expected audience.
type Settings struct {
	AppDomain       string
	Issuer          string
	JWKSURL         string
	ProfileAPIURL   string
	ProfileAPIKey   string
	LegacyVerifyURL string
}

// SettingsFromConfig copies the [farcaster] section.
func SettingsFromConfig(c *config.FarcasterConfig) Settings {
	return Settings{
		AppDomain:       c.AppDomain,
		Issuer:          c.QuickAuthIssuer,
		JWKSURL:         c.JWKSURL,
		ProfileAPIURL:   c.ProfileAPIURL,
		ProfileAPIKey:   c.ProfileAPIKey,
		LegacyVerifyURL: c.LegacyVerifyURL,
	}
}

// Verifier implements identity.Verifier for Farcaster.
type Verifier struct {
	settings Settings
	audience string
	client   client.JSONClient
	cache    cache.Cache
	links    store.AccountLinkStore
	logger   *slog.Logger
	now      func() time.Time
	group    singleflight.Group

	mu          sync.Mutex
	lastRefresh time.Time
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithCache caches the JWKS and profile lookups.
func WithCache(c cache.Cache) Option {
	return func(v *Verifier) { v.cache = c }
}

// WithAccountLinks enables the linked custodial-account lookup.
func WithAccountLinks(s store.AccountLinkStore) Option {
	return func(v *Verifier) { v.links = s }
}

func WithLogger(l *slog.Logger) Option {
	return func(v *Verifier) { v.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(v *Verifier) { v.now = now }
}

// New builds a Verifier. A missing app domain is not an error here: the
// quick path reports it as a configuration error when used, so the legacy
// path can still serve.
func New(s Settings, c client.JSONClient, opts ...Option) (*Verifier, error) {
	if s.Issuer == "" {
		s.Issuer = DefaultIssuer
	}
	if s.JWKSURL == "" {
		s.JWKSURL = strings.TrimSuffix(s.Issuer, "/") + "/.well-known/jwks.json"
	}
	v := &Verifier{settings: s, client: c, now: time.Now}
	if s.AppDomain != "" {
		aud, err := normalizeDomain(s.AppDomain)
		if err != nil {
			return nil, trust.Configuration(trust.ReasonMissingConfig, fmt.Sprintf("farcaster.app_domain %q is not a valid domain", s.AppDomain))
		}
		v.audience = aud
	}
	for _, opt := range opts {
		opt(v)
	}
	v.logger = logutil.NoopIfNil(v.logger)
	return v, nil
}

func normalizeDomain(d string) (string, error) {
	return idna.Lookup.ToASCII(strings.TrimSuffix(strings.ToLower(strings.TrimSpace(d)), "."))
}

// Platform implements identity.Verifier.
func (v *Verifier) Platform() identity.Platform { return identity.PlatformFarcaster }

// Verify implements identity.Verifier. The legacy path is used only when no
// quick-auth token is present.
func (v *Verifier) Verify(ctx context.Context, a identity.Assertion) (*identity.Identity, error) {
	var (
		id  *identity.Identity
		err error
	)
	if strings.TrimSpace(a.Token) != "" {
		id, err = v.verifyQuick(ctx, a.Token)
	} else {
		id, err = v.verifyLegacy(ctx, a.Message, a.Signature)
	}
	if err != nil {
		v.logger.Info("farcaster assertion rejected", "kind", trust.KindOf(err), "reason", trust.ReasonOf(err))
		return nil, err
	}
	return id, nil
}

func (v *Verifier) verifyQuick(ctx context.Context, raw string) (*identity.Identity, error) {
	if v.audience == "" {
		return nil, trust.Configuration(trust.ReasonMissingConfig, "farcaster.app_domain is not set")
	}

	tok, err := josejwt.ParseSigned(raw, signatureAlgorithms)
	if err != nil {
		return nil, trust.Invalid(ReasonMalformedToken)
	}

	keys, err := v.jwks(ctx, false)
	if err != nil {
		return nil, trust.Transient(trust.ReasonUpstreamError, err)
	}
	if kid := keyID(tok); kid != "" && len(keys.Key(kid)) == 0 && v.allowRefresh() {
		// The auth server may have rotated its keys since the set was cached.
		v.logger.Debug("jwks has no key for token, refetching", "kid", kid)
		if keys, err = v.jwks(ctx, true); err != nil {
			return nil, trust.Transient(trust.ReasonUpstreamError, err)
		}
	}

	var claims josejwt.Claims
	if err := v.verifySignature(tok, keys, &claims); err != nil {
		return nil, err
	}
	if err := v.validateClaims(&claims); err != nil {
		return nil, err
	}

	fid, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil || fid == 0 {
		return nil, trust.Invalid(ReasonInvalidSubject)
	}

	id := &identity.Identity{
		Subject:  identity.SubjectFromInt(identity.PlatformFarcaster, fid),
		Platform: identity.PlatformFarcaster,
		FID:      fid,
	}
	v.enrich(ctx, id)
	return id, nil
}

// verifySignature tries the keys named by the token's kid, or every key
// when the token names none.
func (v *Verifier) verifySignature(tok *josejwt.JSONWebToken, keys *jose.JSONWebKeySet, out *josejwt.Claims) error {
	kid := keyID(tok)
	candidates := keys.Keys
	if kid != "" {
		candidates = keys.Key(kid)
	}
	if len(candidates) == 0 {
		return trust.Invalid(ReasonUnknownKey)
	}
	for _, k := range candidates {
		if err := tok.Claims(k.Key, out); err == nil {
			return nil
		}
	}
	return trust.Invalid(ReasonBadSignature)
}

func keyID(tok *josejwt.JSONWebToken) string {
	if len(tok.Headers) == 0 {
		return ""
	}
	return tok.Headers[0].KeyID
}

// allowRefresh reports whether a forced JWKS refetch may run now, and
// records it if so.
func (v *Verifier) allowRefresh() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	now := v.now()
	if !v.lastRefresh.IsZero() && now.Sub(v.lastRefresh) < JWKSRefreshInterval {
		return false
	}
	v.lastRefresh = now
	return true
}

func (v *Verifier) validateClaims(c *josejwt.Claims) error {
	if c.Expiry == nil {
		return trust.Invalid(ReasonExpired)
	}
	err := c.ValidateWithLeeway(josejwt.Expected{Issuer: v.settings.Issuer, Time: v.now()}, Leeway)
	switch {
	case errors.Is(err, josejwt.ErrInvalidIssuer):
		return trust.Invalid(ReasonBadIssuer)
	case err != nil:
		return trust.Invalid(ReasonExpired)
	}
	for _, aud := range c.Audience {
		if n, err := normalizeDomain(aud); err == nil && n == v.audience {
			return nil
		}
	}
	return trust.Invalid(ReasonBadAudience)
}

func (v *Verifier) jwksCacheKey() string {
	return "farcaster:jwks:" + v.settings.JWKSURL
}

// jwks returns the auth server's key set. Concurrent misses share one fetch.
// refresh skips the cached copy and replaces it.
func (v *Verifier) jwks(ctx context.Context, refresh bool) (*jose.JSONWebKeySet, error) {
	key := v.jwksCacheKey()
	if v.cache != nil && !refresh {
		var set jose.JSONWebKeySet
		if err := cache.GetJSON(ctx, v.cache, key, &set); err == nil && len(set.Keys) > 0 {
			return &set, nil
		}
	}

	res, err, _ := v.group.Do(key, func() (any, error) {
		var set jose.JSONWebKeySet
		if err := v.client.GetJSON(ctx, v.settings.JWKSURL, nil, &set); err != nil {
			return nil, fmt.Errorf("fetch jwks: %w", err)
		}
		if len(set.Keys) == 0 {
			return nil, errors.New("fetch jwks: empty key set")
		}
		if v.cache != nil {
			if err := cache.SetJSON(ctx, v.cache, key, &set, cache.TTLJWKs); err != nil {
				v.logger.Warn("jwks cache write failed", "error", err)
			}
		}
		return &set, nil
	})
	if err != nil {
		return nil, err
	}
	return res.(*jose.JSONWebKeySet), nil
}
