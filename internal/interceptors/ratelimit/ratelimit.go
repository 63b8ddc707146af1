// Package ratelimit provides a rate limiting interceptor using the cache subsystem.
package ratelimit

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/FlowBondTech/flowb-sub000/internal/components/api"
	svccfg "github.com/FlowBondTech/flowb-sub000/internal/frameworks/service/cfg"
	"github.com/FlowBondTech/flowb-sub000/internal/interceptors"
	"github.com/FlowBondTech/flowb-sub000/internal/platform/appctx"
	"github.com/FlowBondTech/flowb-sub000/internal/platform/cache"
	"github.com/FlowBondTech/flowb-sub000/internal/platform/deps"
	"github.com/FlowBondTech/flowb-sub000/internal/platform/logutil"
)

func init() {
	interceptors.Register("ratelimit", New)
}

// Key strategies.
const (
	KeyByIP      = "ip"
	KeyBySubject = "subject"
)

// Config defines rate limiting parameters decoded from a profile under
// [http.interceptors.ratelimit.profiles.<name>].
type Config struct {
	RequestsPerWindow int64 `mapstructure:"requests_per_window"`
	WindowSeconds     int   `mapstructure:"window_seconds"`
	// KeyBy is "subject" (authenticated caller, falling back to client IP)
	// or "ip".
	KeyBy string `mapstructure:"key_by"`
	// Scope namespaces the counters so two profiles never share a bucket.
	Scope string `mapstructure:"scope"`
}

// ApplyDefaults sets reasonable defaults for unconfigured fields.
func (c *Config) ApplyDefaults() {
	if c.RequestsPerWindow == 0 {
		c.RequestsPerWindow = 100
	}
	if c.WindowSeconds == 0 {
		c.WindowSeconds = 60
	}
	if c.KeyBy == "" {
		c.KeyBy = KeyBySubject
	}
	if c.Scope == "" {
		c.Scope = "default"
	}
}

// Limiter is a fixed-window limiter over a cache counter.
type Limiter struct {
	cache   cache.Counter
	keyFunc func(*http.Request) string
	scope   string
	limit   int64
	window  time.Duration
	log     *slog.Logger
}

// New creates a new ratelimit interceptor from a profile config.
func New(conf map[string]any, log *slog.Logger) (interceptors.Middleware, error) {
	var c Config
	if err := svccfg.Decode(conf, &c); err != nil {
		return nil, err
	}

	d := deps.GetDeps()
	if d == nil || d.Cache == nil {
		return nil, errors.New("ratelimit: shared cache not initialized")
	}
	l, err := NewLimiter(d.Cache, c, d.RealIP.GetClientIPString, log)
	if err != nil {
		return nil, err
	}
	return l.Wrap, nil
}

// NewLimiter builds a limiter. ipFunc extracts the client IP.
func NewLimiter(counter cache.Counter, c Config, ipFunc func(*http.Request) string, log *slog.Logger) (*Limiter, error) {
	c.ApplyDefaults()
	keyFunc := ipFunc
	switch c.KeyBy {
	case KeyByIP:
	case KeyBySubject:
		keyFunc = func(r *http.Request) string {
			if p, ok := appctx.PrincipalFromContext(r.Context()); ok {
				return "sub:" + p.Subject
			}
			return "ip:" + ipFunc(r)
		}
	default:
		return nil, fmt.Errorf("ratelimit: unknown key_by %q", c.KeyBy)
	}
	return &Limiter{
		cache:   counter,
		keyFunc: keyFunc,
		scope:   c.Scope,
		limit:   c.RequestsPerWindow,
		window:  time.Duration(c.WindowSeconds) * time.Second,
		log:     logutil.NoopIfNil(log),
	}, nil
}

// Wrap is the middleware function that applies rate limiting.
func (l *Limiter) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := "ratelimit:" + l.scope + ":" + l.keyFunc(r)
		count, resetAt, err := l.cache.Increment(r.Context(), key, 1, l.window)
		if err != nil {
			// Fail open on cache errors.
			l.log.Warn("rate limit check failed", "error", err)
			next.ServeHTTP(w, r)
			return
		}

		if count > l.limit {
			retryAfter := int(time.Until(resetAt).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			appctx.GetLogger(r.Context()).Info("rate limited", "scope", l.scope, "count", count)
			api.WriteTooManyRequests(w, "too many requests")
			return
		}

		next.ServeHTTP(w, r)
	})
}
