// Package memory implements an in-process store driver. Data does not
// survive a restart; it backs dev mode and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/FlowBondTech/flowb-sub000/internal/platform/store"
)

func init() {
	store.Register("memory", func(*store.DriverConfig) (store.Driver, error) {
		return New(), nil
	})
}

type linkKey struct{ platform, platformID string }

// Driver keeps every table in maps under one mutex, which makes the
// conditional writes trivially atomic.
type Driver struct {
	mu           sync.Mutex
	sponsorships map[string]*store.Sponsorship
	txHashes     map[string]string
	checkins     []*store.Checkin
	locations    map[string]*store.Location
	crews        map[string]map[string]struct{} // user -> crews
	points       []*store.PointsEntry
	dedupKeys    map[string]struct{}
	links        map[linkKey]string
}

// New returns an empty driver.
func New() *Driver {
	return &Driver{
		sponsorships: make(map[string]*store.Sponsorship),
		txHashes:     make(map[string]string),
		locations:    make(map[string]*store.Location),
		crews:        make(map[string]map[string]struct{}),
		dedupKeys:    make(map[string]struct{}),
		links:        make(map[linkKey]string),
	}
}

func (d *Driver) Name() string { return "memory" }

func (d *Driver) Init(ctx context.Context) error { return nil }

func (d *Driver) Close() error { return nil }

func (d *Driver) CreateSponsorship(ctx context.Context, s *store.Sponsorship) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.sponsorships[s.ID]; ok {
		return store.ErrAlreadyExists
	}
	if _, ok := d.txHashes[s.TxHash]; ok {
		return store.ErrAlreadyExists
	}
	cp := *s
	d.sponsorships[s.ID] = &cp
	d.txHashes[s.TxHash] = s.ID
	return nil
}

func (d *Driver) GetSponsorship(ctx context.Context, id string) (*store.Sponsorship, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.sponsorships[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (d *Driver) ListPendingSponsorships(ctx context.Context, createdBefore int64, limit int) ([]*store.Sponsorship, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []*store.Sponsorship
	for _, s := range d.sponsorships {
		if s.Status == store.StatusPending && s.CreatedAt <= createdBefore {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (d *Driver) IncrementSponsorshipAttempts(ctx context.Context, id string) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.sponsorships[id]
	if !ok || s.Status != store.StatusPending {
		return 0, store.ErrNotFound
	}
	s.Attempts++
	return s.Attempts, nil
}

func (d *Driver) FinalizeSponsorship(ctx context.Context, f store.Finalization) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.sponsorships[f.ID]
	if !ok || s.Status != store.StatusPending {
		return false, nil
	}
	s.Status = f.Status
	s.Reason = f.Reason
	s.UpdatedAt = f.At
	if f.Status == store.StatusVerified {
		s.VerifiedAmount.Decimal = f.Amount
		s.VerifiedAmount.Valid = true
		at := f.At
		s.VerifiedAt = &at
		if s.TargetType == store.TargetLocation {
			if loc, ok := d.locations[s.TargetID]; ok {
				loc.SponsorAmount = loc.SponsorAmount.Add(f.Amount)
			}
		}
	}
	return true, nil
}

func (d *Driver) CreateCheckinIfAbsent(ctx context.Context, c *store.Checkin, window time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	since := c.CreatedAt - int64(window/time.Second)
	for _, e := range d.checkins {
		if e.UserID == c.UserID && e.CrewID == c.CrewID && e.LocationID == c.LocationID && e.CreatedAt >= since {
			return false, nil
		}
	}
	cp := *c
	d.checkins = append(d.checkins, &cp)
	return true, nil
}

func (d *Driver) ListCheckins(ctx context.Context, f store.CheckinFilter) ([]*store.Checkin, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []*store.Checkin
	for _, c := range d.checkins {
		if f.Matches(c) {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (d *Driver) UpsertLocation(ctx context.Context, l *store.Location) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := *l
	if prev, ok := d.locations[l.ID]; ok {
		cp.SponsorAmount = prev.SponsorAmount
	}
	d.locations[l.ID] = &cp
	return nil
}

func (d *Driver) GetLocation(ctx context.Context, id string) (*store.Location, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.locations[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *l
	return &cp, nil
}

func (d *Driver) ListActiveLocations(ctx context.Context) ([]*store.Location, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []*store.Location
	for _, l := range d.locations {
		if l.Active {
			cp := *l
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (d *Driver) AddCrewMember(ctx context.Context, crewID, userID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.crews[userID] == nil {
		d.crews[userID] = make(map[string]struct{})
	}
	d.crews[userID][crewID] = struct{}{}
	return nil
}

func (d *Driver) RemoveCrewMember(ctx context.Context, crewID, userID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.crews[userID][crewID]; !ok {
		return store.ErrNotFound
	}
	delete(d.crews[userID], crewID)
	return nil
}

func (d *Driver) CrewsForUser(ctx context.Context, userID string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.crews[userID]))
	for c := range d.crews[userID] {
		out = append(out, c)
	}
	sort.Strings(out)
	return out, nil
}

func (d *Driver) AppendPoints(ctx context.Context, e *store.PointsEntry) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e.DedupKey != nil {
		if _, ok := d.dedupKeys[*e.DedupKey]; ok {
			return false, nil
		}
		d.dedupKeys[*e.DedupKey] = struct{}{}
	}
	cp := *e
	d.points = append(d.points, &cp)
	return true, nil
}

func (d *Driver) TotalPoints(ctx context.Context, subject string) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var total int64
	for _, e := range d.points {
		if e.Subject == subject {
			total += int64(e.Points)
		}
	}
	return total, nil
}

func (d *Driver) UpsertAccountLink(ctx context.Context, l *store.AccountLink) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.links[linkKey{l.Platform, l.PlatformID}] = l.AccountID
	return nil
}

func (d *Driver) LinkedAccount(ctx context.Context, platform, platformID string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id, ok := d.links[linkKey{platform, platformID}]
	if !ok {
		return "", store.ErrNotFound
	}
	return id, nil
}

var _ store.Driver = (*Driver)(nil)
