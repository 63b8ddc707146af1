package appauth_test

import (
	"context"
	"testing"

	"github.com/FlowBondTech/flowb-sub000/internal/components/identity"
	"github.com/FlowBondTech/flowb-sub000/internal/components/identity/appauth"
	"github.com/FlowBondTech/flowb-sub000/internal/components/trust"
)

func newVerifier(t *testing.T) *appauth.Verifier {
	t.Helper()
	v, err := appauth.New([]appauth.Account{
		{Username: "ops", Password: "correct horse", Role: identity.RoleAdmin},
		{Username: "demo", Password: "demo-pass"},
	}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return v
}

func TestVerify_ExactMatch(t *testing.T) {
	v := newVerifier(t)

	id, err := v.Verify(context.Background(), identity.Assertion{Username: "ops", Password: "correct horse"})
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if id.Subject != "app_ops" || id.Role != identity.RoleAdmin || id.Platform != identity.PlatformApp {
		t.Errorf("unexpected identity: %+v", id)
	}

	id, err = v.Verify(context.Background(), identity.Assertion{Username: "demo", Password: "demo-pass"})
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if id.Role != identity.RoleUser {
		t.Errorf("default role = %q, want user", id.Role)
	}
}

func TestVerify_FailuresAreGeneric(t *testing.T) {
	v := newVerifier(t)

	tests := []struct {
		name string
		a    identity.Assertion
	}{
		{"unknown user", identity.Assertion{Username: "root", Password: "correct horse"}},
		{"wrong password", identity.Assertion{Username: "ops", Password: "correct horsE"}},
		{"password prefix", identity.Assertion{Username: "ops", Password: "correct"}},
		{"username case", identity.Assertion{Username: "OPS", Password: "correct horse"}},
		{"swapped row", identity.Assertion{Username: "ops", Password: "demo-pass"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(context.Background(), tt.a)
			if trust.KindOf(err) != trust.KindInvalid {
				t.Fatalf("kind = %v, want invalid", trust.KindOf(err))
			}
			if trust.ReasonOf(err) != trust.ReasonInvalidCredentials {
				t.Errorf("reason = %q", trust.ReasonOf(err))
			}
		})
	}
}

func TestVerify_MissingFields(t *testing.T) {
	v := newVerifier(t)
	_, err := v.Verify(context.Background(), identity.Assertion{Username: "ops"})
	if trust.KindOf(err) != trust.KindMalformed {
		t.Errorf("kind = %v, want malformed", trust.KindOf(err))
	}
}

func TestNew_RejectsDuplicates(t *testing.T) {
	_, err := appauth.New([]appauth.Account{
		{Username: "ops", Password: "a"},
		{Username: "ops", Password: "b"},
	}, nil)
	if err == nil {
		t.Fatal("expected duplicate username error")
	}
}

func TestVerify_EmptyTable(t *testing.T) {
	v, err := appauth.New(nil, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	_, err = v.Verify(context.Background(), identity.Assertion{Username: "ops", Password: "x"})
	if trust.KindOf(err) != trust.KindInvalid {
		t.Errorf("kind = %v, want invalid", trust.KindOf(err))
	}
}
