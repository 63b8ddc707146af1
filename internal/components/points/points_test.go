package points_test

import (
	"context"
	"errors"
	"testing"

	"github.com/FlowBondTech/flowb-sub000/internal/components/points"
	"github.com/FlowBondTech/flowb-sub000/internal/platform/store/memory"
)

func newLedger() *points.StoreLedger {
	return points.New(memory.New(), map[string]int{
		points.ActionCheckin:             10,
		points.ActionSponsorshipVerified: 50,
	}, nil, nil)
}

func TestAward_AccumulatesTotal(t *testing.T) {
	l := newLedger()
	ctx := context.Background()

	for i, want := range []int64{10, 20} {
		res, err := l.Award(ctx, points.Award{Subject: "telegram_1", Platform: "telegram", Action: points.ActionCheckin})
		if err != nil {
			t.Fatalf("Award #%d: %v", i, err)
		}
		if !res.Awarded || res.Points != 10 || res.Total != want {
			t.Errorf("Award #%d = %+v, want awarded 10 total %d", i, res, want)
		}
	}
}

func TestAward_DedupKey(t *testing.T) {
	l := newLedger()
	ctx := context.Background()
	a := points.Award{
		Subject:  "telegram_1",
		Action:   points.ActionSponsorshipVerified,
		DedupKey: "sponsorship:abc",
		Metadata: map[string]any{"sponsorship_id": "abc"},
	}

	first, err := l.Award(ctx, a)
	if err != nil || !first.Awarded {
		t.Fatalf("first award = %+v, %v", first, err)
	}
	second, err := l.Award(ctx, a)
	if err != nil {
		t.Fatal(err)
	}
	if second.Awarded || second.Points != 0 || second.Total != 50 {
		t.Errorf("duplicate award = %+v, want not awarded with total 50", second)
	}
}

func TestAward_UnknownAction(t *testing.T) {
	_, err := newLedger().Award(context.Background(), points.Award{Subject: "s", Action: "nope"})
	if !errors.Is(err, points.ErrUnknownAction) {
		t.Errorf("expected ErrUnknownAction, got %v", err)
	}
}
