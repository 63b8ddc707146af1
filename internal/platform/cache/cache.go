// Package cache is the shared TTL store behind the JWKS and profile caches
// and the rate-limit counters. Drivers: memory (single process) and redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"
)

var (
	ErrNotFound = errors.New("cache: key not found")
	// ErrExpired is a miss on an entry whose TTL has lapsed but which the
	// driver has not evicted yet. Callers may treat it as ErrNotFound.
	ErrExpired = errors.New("cache: key expired")
)

// Cache stores byte values with a TTL. A zero TTL means the driver default.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	Close() error
}

// Counter keeps fixed-window counters. The first Increment of a key opens a
// window of ttl; later increments in the window leave resetAt unchanged.
type Counter interface {
	Increment(ctx context.Context, key string, delta int64, ttl time.Duration) (n int64, resetAt time.Time, err error)
	// GetCount is 0 for a missing key.
	GetCount(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
}

// CacheWithCounter is what every driver provides.
type CacheWithCounter interface {
	Cache
	Counter
}

const (
	TTLJWKs      = 15 * time.Minute
	TTLProfile   = 10 * time.Minute
	TTLRateLimit = time.Minute
)

// DefaultDriver is used when no driver is named.
const DefaultDriver = "memory"

// DriverFactory builds a driver from its [cache.drivers.<name>] table.
type DriverFactory func(conf map[string]any) (CacheWithCounter, error)

var (
	driversMu sync.RWMutex
	factories = map[string]DriverFactory{}
)

// RegisterDriver adds a driver. Driver packages call it from init().
func RegisterDriver(name string, f DriverFactory) {
	driversMu.Lock()
	defer driversMu.Unlock()
	factories[name] = f
}

// NewFromConfig builds driver name with confs[name] as its table.
func NewFromConfig(name string, confs map[string]any) (CacheWithCounter, error) {
	if name == "" {
		name = DefaultDriver
	}
	driversMu.RLock()
	f, ok := factories[name]
	driversMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown cache driver %q (registered: %v)", name, Drivers())
	}
	conf, _ := confs[name].(map[string]any)
	return f(conf)
}

// Drivers returns the registered driver names, sorted.
func Drivers() []string {
	driversMu.RLock()
	names := make([]string, 0, len(factories))
	for n := range factories {
		names = append(names, n)
	}
	driversMu.RUnlock()
	slices.Sort(names)
	return names
}

// GetJSON decodes the value at key into v. An expired entry reads as
// ErrNotFound.
func GetJSON(ctx context.Context, c Cache, key string, v any) error {
	data, err := c.Get(ctx, key)
	switch {
	case errors.Is(err, ErrExpired):
		return ErrNotFound
	case err != nil:
		return err
	}
	return json.Unmarshal(data, v)
}

// SetJSON stores v as JSON under key.
func SetJSON(ctx context.Context, c Cache, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Set(ctx, key, data, ttl)
}
