// Package memory provides an in-process cache with TTL support.
// It is the default driver and is also used in tests.
package memory

import (
	"context"
	"sync"
	"time"

	svccfg "github.com/FlowBondTech/flowb-sub000/internal/frameworks/service/cfg"
	"github.com/FlowBondTech/flowb-sub000/internal/platform/cache"
)

func init() {
	cache.RegisterDriver("memory", func(conf map[string]any) (cache.CacheWithCounter, error) {
		var c Config
		if err := svccfg.Decode(conf, &c); err != nil {
			return nil, err
		}
		return New(c.defaultTTL(), c.cleanupInterval()), nil
	})
}

// Config is decoded from [cache.drivers.memory].
type Config struct {
	DefaultTTLSeconds      int `mapstructure:"default_ttl_seconds"`
	CleanupIntervalSeconds int `mapstructure:"cleanup_interval_seconds"`
}

// ApplyDefaults implements cfg.Setter.
func (c *Config) ApplyDefaults() {
	if c.DefaultTTLSeconds <= 0 {
		c.DefaultTTLSeconds = 900
	}
	if c.CleanupIntervalSeconds <= 0 {
		c.CleanupIntervalSeconds = 300
	}
}

func (c *Config) defaultTTL() time.Duration {
	return time.Duration(c.DefaultTTLSeconds) * time.Second
}

func (c *Config) cleanupInterval() time.Duration {
	return time.Duration(c.CleanupIntervalSeconds) * time.Second
}

type entry struct {
	value     []byte
	count     int64
	expiresAt time.Time
}

func (e *entry) expired(now time.Time) bool { return !now.Before(e.expiresAt) }

// Cache is an in-memory cache. Values and counters live in separate
// namespaces so a counter never shadows a cached document.
type Cache struct {
	mu         sync.Mutex
	values     map[string]*entry
	counters   map[string]*entry
	defaultTTL time.Duration
	now        func() time.Time
	stop       chan struct{}
	stopOnce   sync.Once
}

// New creates a cache. cleanupInterval 0 disables the sweeper goroutine.
func New(defaultTTL, cleanupInterval time.Duration) *Cache {
	c := &Cache{
		values:     make(map[string]*entry),
		counters:   make(map[string]*entry),
		defaultTTL: defaultTTL,
		now:        time.Now,
		stop:       make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go c.sweep(cleanupInterval)
	}
	return c
}

func (c *Cache) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			now := c.now()
			for k, e := range c.values {
				if e.expired(now) {
					delete(c.values, k)
				}
			}
			for k, e := range c.counters {
				if e.expired(now) {
					delete(c.counters, k)
				}
			}
			c.mu.Unlock()
		case <-c.stop:
			return
		}
	}
}

func (c *Cache) ttlOrDefault(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return c.defaultTTL
	}
	return ttl
}

// Get retrieves a copy of the value stored under key.
func (c *Cache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.values[key]
	if !ok {
		return nil, cache.ErrNotFound
	}
	if e.expired(c.now()) {
		delete(c.values, key)
		return nil, cache.ErrExpired
	}
	return append([]byte(nil), e.value...), nil
}

// Set stores a copy of value.
func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = &entry{
		value:     append([]byte(nil), value...),
		expiresAt: c.now().Add(c.ttlOrDefault(ttl)),
	}
	return nil
}

// Delete removes a key.
func (c *Cache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.values, key)
	return nil
}

// Exists reports whether key holds an unexpired value.
func (c *Cache) Exists(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.values[key]
	return ok && !e.expired(c.now()), nil
}

// Increment adds delta to a fixed-window counter.
func (c *Cache) Increment(_ context.Context, key string, delta int64, ttl time.Duration) (int64, time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	e, ok := c.counters[key]
	if !ok || e.expired(now) {
		e = &entry{expiresAt: now.Add(c.ttlOrDefault(ttl))}
		c.counters[key] = e
	}
	e.count += delta
	return e.count, e.expiresAt, nil
}

// GetCount returns the counter value, 0 when absent or expired.
func (c *Cache) GetCount(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.counters[key]
	if !ok || e.expired(c.now()) {
		return 0, nil
	}
	return e.count, nil
}

// Reset clears a counter.
func (c *Cache) Reset(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.counters, key)
	return nil
}

// Close stops the sweeper. Safe to call more than once.
func (c *Cache) Close() error {
	c.stopOnce.Do(func() { close(c.stop) })
	return nil
}

var _ cache.CacheWithCounter = (*Cache)(nil)
