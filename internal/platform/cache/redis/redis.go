// Package redis provides a Redis/Valkey cache driver backed by valkey-go.
package redis

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/valkey-io/valkey-go"

	svccfg "github.com/FlowBondTech/flowb-sub000/internal/frameworks/service/cfg"
	"github.com/FlowBondTech/flowb-sub000/internal/platform/cache"
)

func init() {
	cache.RegisterDriver("redis", func(conf map[string]any) (cache.CacheWithCounter, error) {
		cfg := DefaultConfig()
		if err := svccfg.Decode(conf, cfg); err != nil {
			return nil, err
		}
		return New(cfg)
	})
}

// Config holds Redis connection configuration, decoded from [cache.drivers.redis].
type Config struct {
	Addr          string `mapstructure:"addr"`
	Password      string `mapstructure:"password"`
	DB            int    `mapstructure:"db"`
	KeyPrefix     string `mapstructure:"key_prefix"`
	DialTimeoutMs int    `mapstructure:"dial_timeout_ms"`
	DefaultTTLSec int    `mapstructure:"default_ttl_seconds"`
}

// DefaultConfig returns defaults for a local Redis.
func DefaultConfig() *Config {
	return &Config{
		Addr:          "localhost:6379",
		KeyPrefix:     "flowb:",
		DialTimeoutMs: 5000,
		DefaultTTLSec: 900,
	}
}

// ApplyDefaults implements cfg.Setter.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.Addr == "" {
		c.Addr = d.Addr
	}
	if c.DialTimeoutMs <= 0 {
		c.DialTimeoutMs = d.DialTimeoutMs
	}
	if c.DefaultTTLSec <= 0 {
		c.DefaultTTLSec = d.DefaultTTLSec
	}
}

// incrScript bumps a counter and opens its window on first use, atomically.
// Returns {count, pttl_ms}.
var incrScript = valkey.NewLuaScript(`
local n = redis.call('INCRBY', KEYS[1], ARGV[1])
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
  ttl = tonumber(ARGV[2])
end
return {n, ttl}
`)

// Cache is a valkey-go backed cache. Values and counters use distinct key
// prefixes so they never collide.
type Cache struct {
	client     valkey.Client
	prefix     string
	defaultTTL time.Duration
	now        func() time.Time
}

// New connects to Redis and pings it. An unreachable server fails here rather
// than on first use.
func New(cfg *Config) (*Cache, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.ApplyDefaults()

	dialTimeout := time.Duration(cfg.DialTimeoutMs) * time.Millisecond
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress:  []string{cfg.Addr},
		Password:     cfg.Password,
		SelectDB:     cfg.DB,
		Dialer:       net.Dialer{Timeout: dialTimeout},
		DisableCache: true,
	})
	if err != nil {
		return nil, fmt.Errorf("redis connect %s: %w", cfg.Addr, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis health check %s: %w", cfg.Addr, err)
	}

	return &Cache{
		client:     client,
		prefix:     cfg.KeyPrefix,
		defaultTTL: time.Duration(cfg.DefaultTTLSec) * time.Second,
		now:        time.Now,
	}, nil
}

func (c *Cache) valueKey(key string) string   { return c.prefix + "v:" + key }
func (c *Cache) counterKey(key string) string { return c.prefix + "c:" + key }

func (c *Cache) ttlOrDefault(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return c.defaultTTL
	}
	return ttl
}

// Get retrieves a value by key.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := c.client.Do(ctx, c.client.B().Get().Key(c.valueKey(key)).Build()).AsBytes()
	if valkey.IsValkeyNil(err) {
		return nil, cache.ErrNotFound
	}
	return b, err
}

// Set stores a value with the given TTL.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	cmd := c.client.B().Set().Key(c.valueKey(key)).Value(valkey.BinaryString(value)).
		PxMilliseconds(c.ttlOrDefault(ttl).Milliseconds()).Build()
	return c.client.Do(ctx, cmd).Error()
}

// Delete removes a key.
func (c *Cache) Delete(ctx context.Context, key string) error {
	return c.client.Do(ctx, c.client.B().Del().Key(c.valueKey(key)).Build()).Error()
}

// Exists checks if a key exists.
func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Do(ctx, c.client.B().Exists().Key(c.valueKey(key)).Build()).AsInt64()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Increment adds delta to a fixed-window counter.
func (c *Cache) Increment(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, time.Time, error) {
	window := c.ttlOrDefault(ttl)
	out, err := incrScript.Exec(ctx, c.client,
		[]string{c.counterKey(key)},
		[]string{fmt.Sprint(delta), fmt.Sprint(window.Milliseconds())},
	).AsIntSlice()
	if err != nil {
		return 0, time.Time{}, err
	}
	if len(out) != 2 {
		return 0, time.Time{}, errors.New("redis: unexpected increment reply")
	}
	return out[0], c.now().Add(time.Duration(out[1]) * time.Millisecond), nil
}

// GetCount returns the current counter value.
func (c *Cache) GetCount(ctx context.Context, key string) (int64, error) {
	n, err := c.client.Do(ctx, c.client.B().Get().Key(c.counterKey(key)).Build()).AsInt64()
	if valkey.IsValkeyNil(err) {
		return 0, nil
	}
	return n, err
}

// Reset sets a counter to 0.
func (c *Cache) Reset(ctx context.Context, key string) error {
	return c.client.Do(ctx, c.client.B().Del().Key(c.counterKey(key)).Build()).Error()
}

// Close releases the connection pool.
func (c *Cache) Close() error {
	c.client.Close()
	return nil
}

var _ cache.CacheWithCounter = (*Cache)(nil)
