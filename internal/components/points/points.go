// Package points awards points for verified claims on an append-only ledger.
package points

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/FlowBondTech/flowb-sub000/internal/platform/logutil"
	"github.com/FlowBondTech/flowb-sub000/internal/platform/metrics"
	"github.com/FlowBondTech/flowb-sub000/internal/platform/store"
)

// Actions that earn points.
const (
	ActionLogin               = "login"
	ActionCheckin             = "checkin"
	ActionCheckinSponsored    = "checkin_sponsored"
	ActionSponsorshipVerified = "sponsorship_verified"
)

var ErrUnknownAction = errors.New("points: unknown action")

// Award asks the ledger to credit Subject for Action. A non-empty DedupKey
// makes the award happen at most once.
type Award struct {
	Subject  string
	Platform string
	Action   string
	Metadata map[string]any
	DedupKey string
}

// AwardResult reports what the ledger did.
type AwardResult struct {
	Awarded bool  `json:"awarded"`
	Points  int   `json:"points"`
	Total   int64 `json:"total"`
}

// Ledger is what the claim pipeline depends on.
type Ledger interface {
	Award(ctx context.Context, a Award) (AwardResult, error)
}

// StoreLedger is a Ledger backed by store.PointsStore.
type StoreLedger struct {
	store   store.PointsStore
	actions map[string]int
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// New builds a ledger with the per-action point values from config.
func New(s store.PointsStore, actions map[string]int, m *metrics.Metrics, logger *slog.Logger) *StoreLedger {
	table := make(map[string]int, len(actions))
	for k, v := range actions {
		table[k] = v
	}
	return &StoreLedger{
		store:   s,
		actions: table,
		metrics: m,
		logger:  logutil.NoopIfNil(logger),
		now:     time.Now,
	}
}

// Award appends a ledger entry and returns the subject's new total.
func (l *StoreLedger) Award(ctx context.Context, a Award) (AwardResult, error) {
	pts, ok := l.actions[a.Action]
	if !ok {
		return AwardResult{}, fmt.Errorf("%w: %s", ErrUnknownAction, a.Action)
	}

	entry := &store.PointsEntry{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Subject:   a.Subject,
		Platform:  a.Platform,
		Action:    a.Action,
		Points:    pts,
		CreatedAt: l.now().Unix(),
	}
	if a.DedupKey != "" {
		key := a.DedupKey
		entry.DedupKey = &key
	}
	if len(a.Metadata) > 0 {
		meta, err := json.Marshal(a.Metadata)
		if err != nil {
			return AwardResult{}, fmt.Errorf("points: metadata: %w", err)
		}
		entry.Metadata = string(meta)
	}

	awarded, err := l.store.AppendPoints(ctx, entry)
	if err != nil {
		return AwardResult{}, fmt.Errorf("points: append: %w", err)
	}
	total, err := l.store.TotalPoints(ctx, a.Subject)
	if err != nil {
		return AwardResult{}, fmt.Errorf("points: total: %w", err)
	}

	res := AwardResult{Awarded: awarded, Total: total}
	if awarded {
		res.Points = pts
		l.metrics.AddPoints(a.Action, pts)
		l.logger.Debug("points awarded", "subject", a.Subject, "action", a.Action, "points", pts)
	}
	return res, nil
}

var _ Ledger = (*StoreLedger)(nil)
