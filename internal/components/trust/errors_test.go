package trust_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/FlowBondTech/flowb-sub000/internal/components/trust"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want trust.Kind
	}{
		{"nil", nil, trust.KindUnknown},
		{"plain", errors.New("boom"), trust.KindUnknown},
		{"invalid", trust.Invalid("hash_mismatch"), trust.KindInvalid},
		{"wrapped transient", fmt.Errorf("confirm: %w", trust.Transient(trust.ReasonUpstreamTimeout, errors.New("deadline"))), trust.KindTransient},
		{"configuration", trust.Configuration(trust.ReasonMissingConfig, "no secret"), trust.KindConfiguration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := trust.KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrorIs_MatchesKindAndReason(t *testing.T) {
	err := fmt.Errorf("wrap: %w", trust.Invalid("stale"))

	if !errors.Is(err, trust.Invalid("")) {
		t.Error("expected kind-only match")
	}
	if !errors.Is(err, trust.Invalid("stale")) {
		t.Error("expected kind+reason match")
	}
	if errors.Is(err, trust.Invalid("hash_mismatch")) {
		t.Error("unexpected match on different reason")
	}
	if errors.Is(err, trust.Malformed("", "")) {
		t.Error("unexpected match on different kind")
	}
}

func TestInvalid_MessageIsGeneric(t *testing.T) {
	a := trust.Invalid("hash_mismatch")
	b := trust.Invalid("stale")
	if a.Message != b.Message {
		t.Errorf("invalid messages differ: %q vs %q", a.Message, b.Message)
	}
}

func TestTransient_Unwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := trust.Transient(trust.ReasonUpstreamError, cause)
	if !errors.Is(err, cause) {
		t.Error("expected Unwrap to expose cause")
	}
	if !trust.IsTransient(err) {
		t.Error("expected IsTransient")
	}
	if trust.ReasonOf(err) != trust.ReasonUpstreamError {
		t.Errorf("ReasonOf() = %q", trust.ReasonOf(err))
	}
}
