package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/FlowBondTech/flowb-sub000/internal/platform/appctx"
	"github.com/FlowBondTech/flowb-sub000/internal/platform/cache/memory"
)

type failingCounter struct{}

func (failingCounter) Increment(context.Context, string, int64, time.Duration) (int64, time.Time, error) {
	return 0, time.Time{}, errors.New("cache down")
}
func (failingCounter) GetCount(context.Context, string) (int64, error) { return 0, nil }
func (failingCounter) Reset(context.Context, string) error            { return nil }

func staticIP(ip string) func(*http.Request) string {
	return func(*http.Request) string { return ip }
}

var ok = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

func request(subject string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/api/claims/checkins/proximity", nil)
	if subject != "" {
		r = r.WithContext(appctx.WithPrincipal(r.Context(), &appctx.Principal{Subject: subject}))
	}
	return r
}

func TestLimiter_BlocksAfterLimit(t *testing.T) {
	c := memory.New(time.Minute, 0)
	defer c.Close()
	l, err := NewLimiter(c, Config{RequestsPerWindow: 2, WindowSeconds: 60, KeyBy: KeyByIP}, staticIP("203.0.113.7"), nil)
	if err != nil {
		t.Fatal(err)
	}
	h := l.Wrap(ok)

	for i, want := range []int{200, 200, 429} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, request(""))
		if w.Code != want {
			t.Fatalf("request %d: status = %d, want %d", i+1, w.Code, want)
		}
		if want == 429 && w.Header().Get("Retry-After") == "" {
			t.Error("missing Retry-After")
		}
	}
}

func TestLimiter_SubjectKeying(t *testing.T) {
	c := memory.New(time.Minute, 0)
	defer c.Close()
	l, err := NewLimiter(c, Config{RequestsPerWindow: 1}, staticIP("203.0.113.7"), nil)
	if err != nil {
		t.Fatal(err)
	}
	h := l.Wrap(ok)

	// Two users behind one NAT get separate buckets.
	for _, sub := range []string{"telegram_1", "telegram_2"} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, request(sub))
		if w.Code != http.StatusOK {
			t.Errorf("%s: status = %d", sub, w.Code)
		}
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, request("telegram_1"))
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("repeat: status = %d", w.Code)
	}
	// Anonymous callers fall back to the IP bucket.
	w = httptest.NewRecorder()
	h.ServeHTTP(w, request(""))
	if w.Code != http.StatusOK {
		t.Errorf("anonymous: status = %d", w.Code)
	}
}

func TestLimiter_ScopesAreIndependent(t *testing.T) {
	c := memory.New(time.Minute, 0)
	defer c.Close()
	a, _ := NewLimiter(c, Config{RequestsPerWindow: 1, Scope: "auth"}, staticIP("198.51.100.1"), nil)
	b, _ := NewLimiter(c, Config{RequestsPerWindow: 1, Scope: "claims"}, staticIP("198.51.100.1"), nil)

	for _, h := range []http.Handler{a.Wrap(ok), b.Wrap(ok)} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, request(""))
		if w.Code != http.StatusOK {
			t.Errorf("status = %d", w.Code)
		}
	}
}

func TestLimiter_FailsOpen(t *testing.T) {
	l, err := NewLimiter(failingCounter{}, Config{RequestsPerWindow: 1}, staticIP("198.51.100.1"), nil)
	if err != nil {
		t.Fatal(err)
	}
	w := httptest.NewRecorder()
	l.Wrap(ok).ServeHTTP(w, request(""))
	if w.Code != http.StatusOK {
		t.Errorf("status = %d", w.Code)
	}
}

func TestNewLimiter_UnknownKeyBy(t *testing.T) {
	if _, err := NewLimiter(failingCounter{}, Config{KeyBy: "cookie"}, staticIP(""), nil); err == nil {
		t.Error("expected error")
	}
}
