package redis_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/FlowBondTech/flowb-sub000/internal/platform/cache"
	"github.com/FlowBondTech/flowb-sub000/internal/platform/cache/redis"
)

func newCache(t *testing.T) (*redis.Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := redis.New(&redis.Config{Addr: mr.Addr(), KeyPrefix: "flowb-test:", DialTimeoutMs: 1000})
	if err != nil {
		t.Fatalf("redis.New: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestNew_Unreachable(t *testing.T) {
	if _, err := redis.New(&redis.Config{Addr: "127.0.0.1:1", DialTimeoutMs: 100}); err == nil {
		t.Fatal("expected error for unreachable server")
	}
}

func TestConfigDefaults(t *testing.T) {
	c := &redis.Config{}
	c.ApplyDefaults()
	if c.Addr != "localhost:6379" || c.DialTimeoutMs != 5000 || c.DefaultTTLSec != 900 {
		t.Errorf("defaults = %+v", c)
	}
	if redis.DefaultConfig().KeyPrefix != "flowb:" {
		t.Errorf("default prefix = %q", redis.DefaultConfig().KeyPrefix)
	}
}

func TestValues(t *testing.T) {
	c, mr := newCache(t)
	ctx := context.Background()

	if _, err := c.Get(ctx, "jwks:auth.farcaster.xyz"); !errors.Is(err, cache.ErrNotFound) {
		t.Fatalf("miss: err = %v, want ErrNotFound", err)
	}

	keys := []byte(`{"keys":[]}`)
	if err := c.Set(ctx, "jwks:auth.farcaster.xyz", keys, time.Hour); err != nil {
		t.Fatal(err)
	}
	if !mr.Exists("flowb-test:v:jwks:auth.farcaster.xyz") {
		t.Error("value not stored under the prefixed key")
	}
	got, err := c.Get(ctx, "jwks:auth.farcaster.xyz")
	if err != nil || string(got) != string(keys) {
		t.Fatalf("Get = %q, %v", got, err)
	}
	if ok, _ := c.Exists(ctx, "jwks:auth.farcaster.xyz"); !ok {
		t.Error("Exists = false after Set")
	}

	mr.FastForward(61 * time.Minute)
	if ok, _ := c.Exists(ctx, "jwks:auth.farcaster.xyz"); ok {
		t.Error("value outlived its TTL")
	}

	_ = c.Set(ctx, "profile:3", []byte("x"), 0)
	if ttl := mr.TTL("flowb-test:v:profile:3"); ttl != 900*time.Second {
		t.Errorf("default TTL = %s", ttl)
	}
	if err := c.Delete(ctx, "profile:3"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := c.Exists(ctx, "profile:3"); ok {
		t.Error("Exists = true after Delete")
	}
}

func TestIncrement_FixedWindow(t *testing.T) {
	c, mr := newCache(t)
	ctx := context.Background()
	key := "ratelimit:signin:ip:203.0.113.9"
	window := 30 * time.Second

	start := time.Now()
	n, resetAt, err := c.Increment(ctx, key, 1, window)
	if err != nil || n != 1 {
		t.Fatalf("first Increment = %d, %v", n, err)
	}
	if d := resetAt.Sub(start); d < 28*time.Second || d > 32*time.Second {
		t.Errorf("window closes in %s, want about %s", d, window)
	}

	n, resetAt2, err := c.Increment(ctx, key, 2, window)
	if err != nil || n != 3 {
		t.Fatalf("second Increment = %d, %v", n, err)
	}
	if resetAt2.After(resetAt.Add(time.Second)) {
		t.Error("second increment extended the window")
	}
	if got, _ := c.GetCount(ctx, key); got != 3 {
		t.Errorf("GetCount = %d, want 3", got)
	}

	mr.FastForward(window + time.Second)
	if n, _, _ := c.Increment(ctx, key, 1, window); n != 1 {
		t.Errorf("after window: count = %d, want 1", n)
	}

	if err := c.Reset(ctx, key); err != nil {
		t.Fatal(err)
	}
	if got, _ := c.GetCount(ctx, key); got != 0 {
		t.Errorf("GetCount after Reset = %d", got)
	}
}

func TestCountersAndValuesDoNotCollide(t *testing.T) {
	c, _ := newCache(t)
	ctx := context.Background()

	_ = c.Set(ctx, "shared", []byte("value"), time.Minute)
	if n, _, err := c.Increment(ctx, "shared", 1, time.Minute); err != nil || n != 1 {
		t.Fatalf("Increment = %d, %v", n, err)
	}
	if got, _ := c.Get(ctx, "shared"); string(got) != "value" {
		t.Errorf("value clobbered: %q", got)
	}
}

func TestRegisteredDriver(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := cache.NewFromConfig("redis", map[string]any{
		"redis": map[string]any{"addr": mr.Addr(), "key_prefix": "reg:"},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if err := c.Set(context.Background(), "k", []byte("v"), time.Minute); err != nil {
		t.Fatal(err)
	}
	if !mr.Exists("reg:v:k") {
		t.Error("driver config not applied")
	}
}
