package service

import (
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"testing"
)

type stubService struct {
	prefix string
	closed *[]string
}

func (s *stubService) Handler() http.Handler { return http.NotFoundHandler() }
func (s *stubService) Prefix() string        { return s.prefix }
func (s *stubService) Unprotected() []string { return nil }
func (s *stubService) Close() error {
	if s.closed != nil {
		*s.closed = append(*s.closed, s.prefix)
	}
	return nil
}

func stub(prefix string, closed *[]string) NewService {
	return func(map[string]any, *slog.Logger) (Service, error) {
		return &stubService{prefix: prefix, closed: closed}, nil
	}
}

func TestRegister(t *testing.T) {
	resetRegistry()
	t.Cleanup(resetRegistry)

	if err := Register("claims", stub("api/claims", nil)); err != nil {
		t.Fatal(err)
	}
	if Get("claims") == nil {
		t.Fatal("registered constructor not found")
	}
	if Get("ledger") != nil {
		t.Error("unregistered name returned a constructor")
	}
	if err := Register("claims", stub("api/claims", nil)); err == nil {
		t.Error("duplicate registration accepted")
	}
	if err := Register("nil", nil); err == nil {
		t.Error("nil constructor accepted")
	}
}

func TestMustRegister_PanicsOnDuplicate(t *testing.T) {
	resetRegistry()
	t.Cleanup(resetRegistry)

	MustRegister("auth", stub("api/auth", nil))
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	MustRegister("auth", stub("api/auth", nil))
}

func TestRegisteredServices_Sorted(t *testing.T) {
	resetRegistry()
	t.Cleanup(resetRegistry)

	for _, n := range []string{"health", "claims", "auth"} {
		MustRegister(n, stub(n, nil))
	}
	if got := RegisteredServices(); !slices.Equal(got, []string{"auth", "claims", "health"}) {
		t.Errorf("RegisteredServices() = %v", got)
	}
}

func TestBuild(t *testing.T) {
	resetRegistry()
	t.Cleanup(resetRegistry)

	var closed []string
	MustRegister("health", stub("", &closed))
	MustRegister("auth", stub("api/auth", &closed))
	MustRegister("broken", func(map[string]any, *slog.Logger) (Service, error) {
		return nil, errors.New("orchestrator not initialized")
	})

	var seen []string
	confFor := func(name string) map[string]any {
		seen = append(seen, name)
		return nil
	}

	svcs, err := Build([]string{"health", "auth"}, confFor, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(svcs) != 2 || svcs[1].Prefix() != "api/auth" {
		t.Fatalf("built %d services", len(svcs))
	}
	if !slices.Equal(seen, []string{"health", "auth"}) {
		t.Errorf("config requested for %v", seen)
	}

	_, err = Build([]string{"health", "auth", "broken"}, confFor, nil)
	if err == nil || !strings.Contains(err.Error(), `service "broken"`) {
		t.Fatalf("err = %v", err)
	}
	if !slices.Equal(closed, []string{"api/auth", ""}) {
		t.Errorf("closed = %v, want reverse build order", closed)
	}

	if _, err := Build([]string{"missing"}, confFor, nil); err == nil {
		t.Error("unregistered service built")
	}
}
