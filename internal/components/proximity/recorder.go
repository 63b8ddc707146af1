package proximity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/FlowBondTech/flowb-sub000/internal/components/identity"
	"github.com/FlowBondTech/flowb-sub000/internal/components/points"
	"github.com/FlowBondTech/flowb-sub000/internal/components/trust"
	"github.com/FlowBondTech/flowb-sub000/internal/platform/logutil"
	"github.com/FlowBondTech/flowb-sub000/internal/platform/metrics"
	"github.com/FlowBondTech/flowb-sub000/internal/platform/store"
)

const (
	DefaultDedupWindow = 30 * time.Minute
	DefaultCheckinTTL  = 2 * time.Hour
)

// Outcome is the result of recording a proximity claim. Matches is always
// the full match list, even when every check-in was a duplicate.
type Outcome struct {
	Matches    []Match          `json:"matches"`
	Checkins   []*store.Checkin `json:"checkins"`
	Duplicates int              `json:"duplicates"`
	Points     int              `json:"points_awarded"`
}

// Sponsored counts matched locations with accrued sponsorship.
func (o *Outcome) Sponsored() int {
	n := 0
	for i := range o.Matches {
		if o.Matches[i].Location.Sponsored() {
			n++
		}
	}
	return n
}

// Options tunes a Recorder.
type Options struct {
	DedupWindow time.Duration
	CheckinTTL  time.Duration
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
	Clock       func() time.Time
}

// Recorder writes check-ins for matched locations and awards points for
// the new ones.
type Recorder struct {
	checkins store.CheckinStore
	ledger   points.Ledger
	window   time.Duration
	ttl      time.Duration
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

func NewRecorder(checkins store.CheckinStore, ledger points.Ledger, opts Options) *Recorder {
	r := &Recorder{
		checkins: checkins,
		ledger:   ledger,
		window:   opts.DedupWindow,
		ttl:      opts.CheckinTTL,
		metrics:  opts.Metrics,
		logger:   logutil.NoopIfNil(opts.Logger),
		now:      opts.Clock,
	}
	if r.window <= 0 {
		r.window = DefaultDedupWindow
	}
	if r.ttl <= 0 {
		r.ttl = DefaultCheckinTTL
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// Record creates one check-in per (match, crew) unless the same
// (user, crew, location) already checked in inside the dedup window.
// An empty crews slice records a single crew-less check-in per match.
func (r *Recorder) Record(ctx context.Context, userID string, crews []string, matches []Match) (*Outcome, error) {
	out := &Outcome{Matches: matches, Checkins: []*store.Checkin{}}
	if out.Matches == nil {
		out.Matches = []Match{}
	}
	if len(crews) == 0 {
		crews = []string{""}
	}

	now := r.now()
	for _, m := range matches {
		for _, crew := range crews {
			id, err := uuid.NewV7()
			if err != nil {
				return nil, fmt.Errorf("generate checkin id: %w", err)
			}
			c := &store.Checkin{
				ID:         id.String(),
				UserID:     userID,
				CrewID:     crew,
				LocationID: m.Location.ID,
				VenueName:  m.Location.Name,
				Status:     store.CheckinHere,
				CreatedAt:  now.Unix(),
				ExpiresAt:  now.Add(r.ttl).Unix(),
			}
			created, err := r.checkins.CreateCheckinIfAbsent(ctx, c, r.window)
			if err != nil {
				return nil, fmt.Errorf("record checkin at %s: %w", m.Location.ID, err)
			}
			if !created {
				out.Duplicates++
				r.metrics.ObserveCheckin("duplicate")
				continue
			}
			r.metrics.ObserveCheckin("created")
			out.Checkins = append(out.Checkins, c)
			out.Points += r.award(ctx, userID, c, m.Location.Sponsored())
		}
	}
	return out, nil
}

// award is best effort: a ledger failure never undoes a check-in.
func (r *Recorder) award(ctx context.Context, userID string, c *store.Checkin, sponsored bool) int {
	if r.ledger == nil {
		return 0
	}
	action := points.ActionCheckin
	if sponsored {
		action = points.ActionCheckinSponsored
	}
	res, err := r.ledger.Award(ctx, points.Award{
		Subject:  userID,
		Platform: string(identity.PlatformOf(userID)),
		Action:   action,
		Metadata: map[string]any{"location_id": c.LocationID, "crew_id": c.CrewID, "checkin_id": c.ID},
		DedupKey: "checkin:" + c.ID,
	})
	if err != nil {
		r.logger.Warn("checkin points award failed", "user", userID, "checkin_id", c.ID, "error", err)
		return 0
	}
	return res.Points
}

// ResolveCrews turns the optional crew of a proximity claim into the
// crews to check in for. An empty requested crew means every crew the
// user belongs to; a named crew must be one of them.
func ResolveCrews(ctx context.Context, crews store.CrewStore, userID, requested string) ([]string, error) {
	member, err := crews.CrewsForUser(ctx, userID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("load crews for %s: %w", userID, err)
	}
	if requested == "" {
		return member, nil
	}
	if !slices.Contains(member, requested) {
		return nil, trust.Invalid(ReasonNotCrewMember)
	}
	return []string{requested}, nil
}
