package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/FlowBondTech/flowb-sub000/internal/components/token"
	"github.com/FlowBondTech/flowb-sub000/internal/frameworks/service"
	"github.com/FlowBondTech/flowb-sub000/internal/platform/config"
	"github.com/FlowBondTech/flowb-sub000/internal/platform/deps"
	"github.com/FlowBondTech/flowb-sub000/internal/platform/http/realip"
)

// trackingService answers 200 on every path and records Close order.
type trackingService struct {
	name        string
	prefix      string
	unprotected []string
	closeOrder  *[]string
	closeErr    error
}

func (t *trackingService) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Service", t.name)
		w.WriteHeader(http.StatusOK)
	})
}
func (t *trackingService) Prefix() string        { return t.prefix }
func (t *trackingService) Unprotected() []string { return t.unprotected }
func (t *trackingService) Close() error {
	if t.closeOrder != nil {
		*t.closeOrder = append(*t.closeOrder, t.name)
	}
	return t.closeErr
}

func setupTestSharedDeps(t *testing.T) *token.Codec {
	t.Helper()
	codec, err := token.New([]byte("server-test-secret"))
	if err != nil {
		t.Fatal(err)
	}
	deps.ResetDeps()
	deps.SetDeps(&deps.Deps{
		Config: config.DevConfig(),
		Tokens: codec,
		RealIP: realip.NewTrustedProxies(nil),
	})
	t.Cleanup(deps.ResetDeps)
	return codec
}

func testServices(order *[]string) []service.Service {
	return []service.Service{
		&trackingService{name: "health", prefix: "", unprotected: []string{"/healthz", "/metrics"}, closeOrder: order},
		&trackingService{name: "auth", prefix: "api/auth", unprotected: []string{"/telegram", "/farcaster", "/app"}, closeOrder: order},
		&trackingService{name: "claims", prefix: "api/claims", closeOrder: order},
	}
}

func TestNew_FailsWithNilSharedDeps(t *testing.T) {
	deps.ResetDeps()
	defer deps.ResetDeps()

	if _, err := New(config.DevConfig(), nil, nil); !errors.Is(err, ErrMissingSharedDeps) {
		t.Fatalf("err = %v, want ErrMissingSharedDeps", err)
	}
}

func TestRouting_AuthGate(t *testing.T) {
	codec := setupTestSharedDeps(t)
	srv, err := New(config.DevConfig(), nil, testServices(nil))
	if err != nil {
		t.Fatal(err)
	}
	valid, _, err := codec.Issue("app_ops", "app", token.Extras{Role: "admin"}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		method  string
		path    string
		bearer  string
		status  int
		service string
	}{
		{"healthz is public", http.MethodGet, "/healthz", "", 200, "health"},
		{"metrics is public", http.MethodGet, "/metrics", "", 200, "health"},
		{"sign-in is public", http.MethodPost, "/api/auth/telegram", "", 200, "auth"},
		{"me needs a token", http.MethodGet, "/api/auth/me", "", 401, ""},
		{"me with token", http.MethodGet, "/api/auth/me", valid, 200, "auth"},
		{"claims need a token", http.MethodPost, "/api/claims/sponsorships", "", 401, ""},
		{"claims reject a bad token", http.MethodPost, "/api/claims/sponsorships", "not-a-jwt", 401, ""},
		{"claims with token", http.MethodPost, "/api/claims/sponsorships", valid, 200, "claims"},
		{"unknown path needs a token", http.MethodGet, "/admin", "", 401, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.bearer != "" {
				r.Header.Set("Authorization", "Bearer "+tt.bearer)
			}
			w := httptest.NewRecorder()
			srv.Handler().ServeHTTP(w, r)
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d", w.Code, tt.status)
			}
			if got := w.Header().Get("X-Service"); got != tt.service {
				t.Errorf("served by %q, want %q", got, tt.service)
			}
		})
	}
}

func TestIsAuthRequired(t *testing.T) {
	svcs := testServices(nil)
	tests := []struct {
		path string
		want bool
	}{
		{"/healthz", false},
		{"/metrics", false},
		{"/api/auth/app", false},
		{"/api/auth/application", true},
		{"/api/auth/me", true},
		{"/api/claims/checkins/proximity", true},
		{"/api/claimsx", true},
		{"/", true},
	}
	for _, tt := range tests {
		if got := IsAuthRequired(tt.path, svcs); got != tt.want {
			t.Errorf("IsAuthRequired(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestShutdown_ClosesServicesInReverseOrder(t *testing.T) {
	setupTestSharedDeps(t)
	var order []string
	svcs := testServices(&order)
	svcs[1].(*trackingService).closeErr = errors.New("close failed")

	srv, err := New(config.DevConfig(), nil, svcs)
	if err != nil {
		t.Fatal(err)
	}
	if err := srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	want := []string{"claims", "auth", "health"}
	if len(order) != len(want) {
		t.Fatalf("close order = %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("close order = %v, want %v", order, want)
			break
		}
	}
}

func TestHTTPSRedirectHandler(t *testing.T) {
	tests := []struct {
		host string
		port int
		want string
	}{
		{"flowb.example:80", 443, "https://flowb.example/api/auth/me?x=1"},
		{"flowb.example", 8443, "https://flowb.example:8443/api/auth/me?x=1"},
		{"[::1]:80", 443, "https://[::1]/api/auth/me?x=1"},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/api/auth/me?x=1", nil)
		r.Host = tt.host
		w := httptest.NewRecorder()
		httpsRedirect(tt.port).ServeHTTP(w, r)
		if w.Code != http.StatusPermanentRedirect {
			t.Errorf("%s: status = %d", tt.host, w.Code)
		}
		if got := w.Header().Get("Location"); got != tt.want {
			t.Errorf("%s: Location = %q, want %q", tt.host, got, tt.want)
		}
	}
}
