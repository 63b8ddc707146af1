// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2026 FlowB Authors

// Package token issues and verifies the HS256 session tokens handed to
// clients after a successful identity claim. Tokens are stateless: there is
// no server-side record, so revocation happens only through secret rotation
// or natural expiry.
package token

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/FlowBondTech/flowb-sub000/internal/components/trust"
	"github.com/FlowBondTech/flowb-sub000/internal/platform/logutil"
)

// DefaultTTL is the lifetime of a session token when the caller passes ttl <= 0.
const DefaultTTL = 24 * time.Hour

// ErrInvalidToken is returned for every verification failure. Callers cannot
// tell a bad signature from an expired or malformed token.
var ErrInvalidToken = errors.New("invalid token")

// Claims is the session token payload.
type Claims struct {
	Platform   string `json:"platform"`
	TelegramID int64  `json:"tg_id,omitempty"`
	FID        uint64 `json:"fid,omitempty"`
	Username   string `json:"username,omitempty"`
	Role       string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Extras are the optional claim fields set at issue time.
type Extras struct {
	TelegramID int64
	FID        uint64
	Username   string
	Role       string
}

// Codec signs and verifies session tokens with a symmetric secret.
// Safe for concurrent use.
type Codec struct {
	secret     []byte
	defaultTTL time.Duration
	now        func() time.Time
	parser     *jwt.Parser
	logger     *slog.Logger
}

// Option configures a Codec.
type Option func(*Codec)

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(c *Codec) { c.now = now }
}

// WithDefaultTTL overrides DefaultTTL.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(c *Codec) {
		if ttl > 0 {
			c.defaultTTL = ttl
		}
	}
}

// WithLogger sets the logger used for debug-level failure causes.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Codec) { c.logger = logger }
}

// New creates a Codec. An empty secret is a configuration error.
func New(secret []byte, opts ...Option) (*Codec, error) {
	if len(secret) == 0 {
		return nil, trust.Configuration(trust.ReasonMissingConfig, "session token secret is empty")
	}
	c := &Codec{
		secret:     secret,
		defaultTTL: DefaultTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logutil.NoopIfNil(c.logger)
	c.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(func() time.Time { return c.now() }),
	)
	return c, nil
}

// Issue signs a token for subject. It returns the compact token and its expiry.
func (c *Codec) Issue(subject, platform string, extras Extras, ttl time.Duration) (string, time.Time, error) {
	if subject == "" {
		return "", time.Time{}, errors.New("token subject is required")
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	now := c.now()
	expiresAt := now.Add(ttl).Truncate(time.Second)
	claims := Claims{
		Platform:   platform,
		TelegramID: extras.TelegramID,
		FID:        extras.FID,
		Username:   extras.Username,
		Role:       extras.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Verify checks the signature and expiry of tokenString.
// Any failure yields ErrInvalidToken.
func (c *Codec) Verify(tokenString string) (*Claims, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return nil, ErrInvalidToken
	}

	var claims Claims
	tok, err := c.parser.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (any, error) {
		return c.secret, nil
	})
	if err != nil || !tok.Valid {
		c.logger.Debug("session token rejected", "error", err)
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		c.logger.Debug("session token rejected", "error", "empty subject")
		return nil, ErrInvalidToken
	}
	return &claims, nil
}
