package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/FlowBondTech/flowb-sub000/internal/platform/cache"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestCache() (*Cache, *clock) {
	clk := &clock{t: time.Unix(1_760_000_000, 0)}
	c := New(time.Minute, 0)
	c.now = clk.now
	return c, clk
}

func TestCache_SetGetExpire(t *testing.T) {
	c, clk := newTestCache()
	defer c.Close()
	ctx := context.Background()

	if err := c.Set(ctx, "jwks", []byte("doc"), 10*time.Second); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	got, err := c.Get(ctx, "jwks")
	if err != nil || string(got) != "doc" {
		t.Fatalf("Get = %q, %v", got, err)
	}

	clk.t = clk.t.Add(10 * time.Second)
	if _, err := c.Get(ctx, "jwks"); !errors.Is(err, cache.ErrExpired) {
		t.Errorf("expected ErrExpired, got %v", err)
	}
	if _, err := c.Get(ctx, "jwks"); !errors.Is(err, cache.ErrNotFound) {
		t.Errorf("expected ErrNotFound after expiry eviction, got %v", err)
	}
}

func TestCache_DefaultTTLAndIsolation(t *testing.T) {
	c, clk := newTestCache()
	defer c.Close()
	ctx := context.Background()

	buf := []byte("abc")
	_ = c.Set(ctx, "k", buf, 0)
	buf[0] = 'x'

	got, _ := c.Get(ctx, "k")
	got[1] = 'y'
	again, _ := c.Get(ctx, "k")
	if string(again) != "abc" {
		t.Errorf("stored value mutated: %q", again)
	}

	clk.t = clk.t.Add(59 * time.Second)
	if ok, _ := c.Exists(ctx, "k"); !ok {
		t.Error("expected key to exist before default TTL")
	}
	clk.t = clk.t.Add(time.Second)
	if ok, _ := c.Exists(ctx, "k"); ok {
		t.Error("expected key to be gone after default TTL")
	}
}

func TestCounter_FixedWindow(t *testing.T) {
	c, clk := newTestCache()
	defer c.Close()
	ctx := context.Background()

	n, resetAt, err := c.Increment(ctx, "rl:1.2.3.4", 1, 30*time.Second)
	if err != nil || n != 1 {
		t.Fatalf("Increment = %d, %v", n, err)
	}
	if !resetAt.Equal(clk.t.Add(30 * time.Second)) {
		t.Errorf("resetAt = %v", resetAt)
	}

	clk.t = clk.t.Add(10 * time.Second)
	n, resetAt2, _ := c.Increment(ctx, "rl:1.2.3.4", 2, 30*time.Second)
	if n != 3 || !resetAt2.Equal(resetAt) {
		t.Errorf("second Increment = %d reset %v, want 3 reset %v", n, resetAt2, resetAt)
	}

	clk.t = clk.t.Add(20 * time.Second)
	if got, _ := c.GetCount(ctx, "rl:1.2.3.4"); got != 0 {
		t.Errorf("GetCount after window = %d, want 0", got)
	}
	n, _, _ = c.Increment(ctx, "rl:1.2.3.4", 1, 30*time.Second)
	if n != 1 {
		t.Errorf("new window count = %d, want 1", n)
	}

	_ = c.Reset(ctx, "rl:1.2.3.4")
	if got, _ := c.GetCount(ctx, "rl:1.2.3.4"); got != 0 {
		t.Errorf("GetCount after Reset = %d", got)
	}
}

func TestCounterAndValueNamespacesAreSeparate(t *testing.T) {
	c, _ := newTestCache()
	defer c.Close()
	ctx := context.Background()

	_ = c.Set(ctx, "shared", []byte("v"), 0)
	_, _, _ = c.Increment(ctx, "shared", 5, 0)

	got, err := c.Get(ctx, "shared")
	if err != nil || string(got) != "v" {
		t.Errorf("value clobbered by counter: %q, %v", got, err)
	}
}

func TestRegisteredDriver(t *testing.T) {
	c, err := cache.NewFromConfig("memory", map[string]any{
		"memory": map[string]any{"default_ttl_seconds": 5},
	})
	if err != nil {
		t.Fatalf("NewFromConfig failed: %v", err)
	}
	defer c.Close()

	mc, ok := c.(*Cache)
	if !ok {
		t.Fatalf("unexpected driver type %T", c)
	}
	if mc.defaultTTL != 5*time.Second {
		t.Errorf("defaultTTL = %v, want 5s", mc.defaultTTL)
	}
}

func TestClose_Idempotent(t *testing.T) {
	c := New(time.Minute, time.Millisecond)
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
}
