package token_test

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/FlowBondTech/flowb-sub000/internal/components/token"
	"github.com/FlowBondTech/flowb-sub000/internal/components/trust"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newCodec(t *testing.T, secret string, clock *fakeClock) *token.Codec {
	t.Helper()
	c, err := token.New([]byte(secret), token.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return c
}

func TestIssueVerify_RoundTrip(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_750_000_000, 0)}
	c := newCodec(t, "test-secret", clock)

	signed, exp, err := c.Issue("telegram_42", "telegram", token.Extras{TelegramID: 42, Username: "alice"}, time.Hour)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if !exp.Equal(clock.t.Add(time.Hour)) {
		t.Errorf("expiresAt = %v, want %v", exp, clock.t.Add(time.Hour))
	}

	claims, err := c.Verify(signed)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if claims.Subject != "telegram_42" {
		t.Errorf("Subject = %q", claims.Subject)
	}
	if claims.Platform != "telegram" || claims.TelegramID != 42 || claims.Username != "alice" {
		t.Errorf("unexpected claims: %+v", claims)
	}
	if claims.IssuedAt.Unix() != clock.t.Unix() {
		t.Errorf("iat = %d, want %d", claims.IssuedAt.Unix(), clock.t.Unix())
	}
}

func TestVerify_ExpiresAfterTTL(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_750_000_000, 0)}
	c := newCodec(t, "test-secret", clock)

	signed, _, err := c.Issue("farcaster_7", "farcaster", token.Extras{FID: 7}, time.Hour)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	clock.Advance(59 * time.Minute)
	if _, err := c.Verify(signed); err != nil {
		t.Fatalf("Verify before expiry failed: %v", err)
	}

	// exp <= now is invalid.
	clock.Advance(time.Minute)
	if _, err := c.Verify(signed); !errors.Is(err, token.ErrInvalidToken) {
		t.Fatalf("Verify at expiry: got %v, want ErrInvalidToken", err)
	}
}

func TestIssue_DefaultTTL(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_750_000_000, 0)}
	c := newCodec(t, "test-secret", clock)

	_, exp, err := c.Issue("app_admin", "app", token.Extras{Role: "admin"}, 0)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if got := exp.Sub(clock.t); got != token.DefaultTTL {
		t.Errorf("ttl = %v, want %v", got, token.DefaultTTL)
	}
}

func TestIssue_Header(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_750_000_000, 0)}
	c := newCodec(t, "test-secret", clock)

	signed, _, err := c.Issue("app_ops", "app", token.Extras{}, time.Hour)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	parts := strings.Split(signed, ".")
	if len(parts) != 3 {
		t.Fatalf("expected 3 segments, got %d", len(parts))
	}
	header, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		t.Fatalf("decode header: %v", err)
	}
	if string(header) != `{"alg":"HS256","typ":"JWT"}` {
		t.Errorf("header = %s", header)
	}
}

func TestVerify_FailuresAreIndistinguishable(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_750_000_000, 0)}
	c := newCodec(t, "test-secret", clock)
	other := newCodec(t, "other-secret", clock)

	good, _, err := c.Issue("telegram_1", "telegram", token.Extras{}, time.Hour)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	foreign, _, err := other.Issue("telegram_1", "telegram", token.Extras{}, time.Hour)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	expired, _, err := c.Issue("telegram_1", "telegram", token.Extras{}, time.Second)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	parts := strings.Split(good, ".")
	tamperedPayload := parts[0] + "." + base64.RawURLEncoding.EncodeToString([]byte(`{"sub":"telegram_2","platform":"telegram","exp":9999999999,"iat":1}`)) + "." + parts[2]
	noneAlg := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`)) + "." + parts[1] + "."

	clock.Advance(2 * time.Second)

	cases := map[string]string{
		"empty":            "",
		"garbage":          "not-a-token",
		"wrong secret":     foreign,
		"expired":          expired,
		"tampered payload": tamperedPayload,
		"alg none":         noneAlg,
	}
	for name, tok := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := c.Verify(tok)
			if err != token.ErrInvalidToken {
				t.Errorf("got %v, want exactly ErrInvalidToken", err)
			}
		})
	}
}

func TestNew_EmptySecret(t *testing.T) {
	_, err := token.New(nil)
	if trust.KindOf(err) != trust.KindConfiguration {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestResolveSecret(t *testing.T) {
	secret, src, err := token.ResolveSecret("configured", "bot")
	if err != nil || src != token.SecretSourceConfigured || string(secret) != "configured" {
		t.Fatalf("configured: got %q %q %v", secret, src, err)
	}

	a, src, err := token.ResolveSecret("", "123:ABC")
	if err != nil || src != token.SecretSourceDerived {
		t.Fatalf("derived: got %q %v", src, err)
	}
	b, _, _ := token.ResolveSecret("", "123:ABC")
	if string(a) != string(b) {
		t.Error("derived secret is not deterministic")
	}
	if string(a) == "123:ABC" {
		t.Error("derived secret must not equal the bot token")
	}

	if _, _, err := token.ResolveSecret("", ""); trust.KindOf(err) != trust.KindConfiguration {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
