package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/FlowBondTech/flowb-sub000/internal/components/api"
	"github.com/FlowBondTech/flowb-sub000/internal/components/claims"
	"github.com/FlowBondTech/flowb-sub000/internal/components/identity"
	"github.com/FlowBondTech/flowb-sub000/internal/components/identity/telegram"
	"github.com/FlowBondTech/flowb-sub000/internal/components/trust"
	"github.com/FlowBondTech/flowb-sub000/internal/platform/appctx"
)

type fakeSubmitter struct {
	got claims.Claim
	err error
}

func (f *fakeSubmitter) Submit(_ context.Context, c claims.Claim) (*claims.Outcome, error) {
	f.got = c
	if f.err != nil {
		return nil, f.err
	}
	ic := c.(claims.IdentityClaim)
	return &claims.Outcome{Session: &claims.Session{
		Token:     "tok-" + string(ic.Platform),
		ExpiresAt: time.Unix(1700000000, 0),
		Identity:  &identity.Identity{Subject: identity.Subject(ic.Platform, "42"), Platform: ic.Platform},
	}}, nil
}

type fakeTotals map[string]int64

func (f fakeTotals) TotalPoints(_ context.Context, subject string) (int64, error) {
	return f[subject], nil
}

func newTestService(sub Submitter) *Service {
	c := &Config{}
	c.ApplyDefaults()
	return newService(c, sub, fakeTotals{"app_ops": 7}, nil, nil)
}

func post(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSignIn_RoutesToPlatform(t *testing.T) {
	tests := []struct {
		path     string
		body     string
		platform identity.Platform
		check    func(identity.Assertion) bool
	}{
		{"/telegram", `{"initData":"auth_date=1&hash=ab"}`, identity.PlatformTelegram,
			func(a identity.Assertion) bool { return a.InitData == "auth_date=1&hash=ab" }},
		{"/farcaster", `{"token":"jwt"}`, identity.PlatformFarcaster,
			func(a identity.Assertion) bool { return a.Token == "jwt" }},
		{"/app", `{"username":"ops","password":"pw"}`, identity.PlatformApp,
			func(a identity.Assertion) bool { return a.Username == "ops" && a.Password == "pw" }},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			sub := &fakeSubmitter{}
			rec := post(t, newTestService(sub).Handler(), tt.path, tt.body)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
			}
			ic, ok := sub.got.(claims.IdentityClaim)
			if !ok || ic.Platform != tt.platform || !tt.check(ic.Assertion) {
				t.Fatalf("submitted %+v", sub.got)
			}
			var resp SessionResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatal(err)
			}
			if resp.Token != "tok-"+string(tt.platform) || resp.ExpiresAt != 1700000000 {
				t.Errorf("response = %+v", resp)
			}
		})
	}
}

func TestSignIn_Errors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
		reason string
	}{
		{"invalid", `{"username":"ops","password":"x"}`, trust.Invalid(trust.ReasonInvalidCredentials), http.StatusUnauthorized, api.ReasonInvalidClaim},
		{"transient", `{"username":"ops","password":"x"}`, trust.Transient(trust.ReasonUpstreamTimeout, errors.New("timeout")), http.StatusServiceUnavailable, trust.ReasonUpstreamTimeout},
		{"bad json", `{`, nil, http.StatusBadRequest, api.ReasonBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(t, newTestService(&fakeSubmitter{err: tt.err}).Handler(), "/app", tt.body)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			var env api.ErrorEnvelope
			if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
				t.Fatal(err)
			}
			if env.Error.ReasonCode != tt.reason {
				t.Errorf("reason = %q, want %q", env.Error.ReasonCode, tt.reason)
			}
		})
	}
}

// telegramSubmitter runs identity claims through a real verifier.
type telegramSubmitter struct{ v *telegram.Verifier }

func (s telegramSubmitter) Submit(ctx context.Context, c claims.Claim) (*claims.Outcome, error) {
	id, err := s.v.Verify(ctx, c.(claims.IdentityClaim).Assertion)
	if err != nil {
		return nil, err
	}
	return &claims.Outcome{Session: &claims.Session{Token: "tok", Identity: id}}, nil
}

func TestSignIn_RejectionReasonNotDisclosed(t *testing.T) {
	const botToken = "123456:TEST-bot-token"
	now := time.Unix(1_760_000_000, 0)
	v, err := telegram.New(botToken, telegram.WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatal(err)
	}
	initData := func(authDate time.Time, signWith string) string {
		values := url.Values{}
		values.Set("auth_date", strconv.FormatInt(authDate.Unix(), 10))
		values.Set("user", `{"id":279058397,"first_name":"Alice"}`)
		values.Set("hash", telegram.Sign(values, signWith))
		return values.Encode()
	}

	tests := []struct {
		name     string
		initData string
	}{
		{"stale but authentic", initData(now.Add(-48*time.Hour), botToken)},
		{"fresh but forged", initData(now.Add(-time.Minute), "999:other-bot")},
	}
	var bodies []string
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, _ := json.Marshal(map[string]string{"initData": tt.initData})
			rec := post(t, newTestService(telegramSubmitter{v}).Handler(), "/telegram", string(body))
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", rec.Code)
			}
			var env api.ErrorEnvelope
			if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
				t.Fatal(err)
			}
			if env.Error.ReasonCode != api.ReasonInvalidClaim {
				t.Errorf("reason = %q, want %q", env.Error.ReasonCode, api.ReasonInvalidClaim)
			}
			bodies = append(bodies, rec.Body.String())
		})
	}
	if len(bodies) == 2 && bodies[0] != bodies[1] {
		t.Errorf("responses differ:\n%s\n%s", bodies[0], bodies[1])
	}
}

func TestSignIn_BodyTooLarge(t *testing.T) {
	s := newService(&Config{MaxBodyBytes: 16}, &fakeSubmitter{}, fakeTotals{}, nil, nil)
	rec := post(t, s.Handler(), "/app", `{"username":"ops","password":"a-long-password"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestMe(t *testing.T) {
	h := newTestService(&fakeSubmitter{}).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/me", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous status = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req = req.WithContext(appctx.WithPrincipal(req.Context(), &appctx.Principal{
		Subject: "app_ops", Platform: "app", Username: "ops", Role: "admin",
	}))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var me MeResponse
	if err := json.NewDecoder(rec.Body).Decode(&me); err != nil {
		t.Fatal(err)
	}
	if me.Subject != "app_ops" || me.Role != "admin" || me.Points != 7 {
		t.Errorf("me = %+v", me)
	}
}

func TestUnprotected(t *testing.T) {
	s := newTestService(&fakeSubmitter{})
	if s.Prefix() != "api/auth" {
		t.Errorf("prefix = %q", s.Prefix())
	}
	for _, p := range s.Unprotected() {
		if p == "/me" {
			t.Error("/me must require a session")
		}
	}
}
