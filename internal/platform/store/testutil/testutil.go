// Package testutil provides the shared conformance suite run against every
// store driver.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/FlowBondTech/flowb-sub000/internal/platform/store"
)

// Base is the fixed clock the suite builds records around (unix seconds).
const Base int64 = 1_760_000_000

// Location returns an active venue.
func Location(id string) *store.Location {
	return &store.Location{
		ID:            id,
		Name:          "Venue " + id,
		Latitude:      25.7907,
		Longitude:     -80.1300,
		RadiusM:       100,
		SponsorAmount: decimal.Zero,
		Active:        true,
	}
}

// PendingSponsorship returns a pending record targeting a location.
func PendingSponsorship(id, txHash, locationID string) *store.Sponsorship {
	return &store.Sponsorship{
		ID:             id,
		SponsorSubject: "telegram_42",
		TargetType:     store.TargetLocation,
		TargetID:       locationID,
		AmountClaimed:  decimal.RequireFromString("5.00"),
		TxHash:         txHash,
		Status:         store.StatusPending,
		CreatedAt:      Base,
		UpdatedAt:      Base,
	}
}

// Checkin returns a check-in created at the given unix time.
func Checkin(id, user, crew, location string, at int64) *store.Checkin {
	return &store.Checkin{
		ID:         id,
		UserID:     user,
		CrewID:     crew,
		LocationID: location,
		VenueName:  "Venue " + location,
		Status:     store.CheckinHere,
		CreatedAt:  at,
		ExpiresAt:  at + int64((2 * time.Hour).Seconds()),
	}
}

// RunDriverTests opens a driver from cfg and runs the conformance suite.
func RunDriverTests(t *testing.T, driverName string, cfg *store.DriverConfig) {
	ctx := context.Background()

	driver, err := store.New(cfg)
	if err != nil {
		t.Fatalf("failed to create %s driver: %v", driverName, err)
	}
	defer driver.Close()

	if err := driver.Init(ctx); err != nil {
		t.Fatalf("failed to init %s driver: %v", driverName, err)
	}
	if driver.Name() != driverName {
		t.Errorf("expected driver name %q, got %q", driverName, driver.Name())
	}

	t.Run("SponsorshipLifecycle", func(t *testing.T) { TestSponsorshipLifecycle(t, ctx, driver) })
	t.Run("FinalizeIsOnce", func(t *testing.T) { TestFinalizeIsOnce(t, ctx, driver) })
	t.Run("FinalizeConcurrent", func(t *testing.T) { TestFinalizeConcurrent(t, ctx, driver) })
	t.Run("CheckinDedupWindow", func(t *testing.T) { TestCheckinDedupWindow(t, ctx, driver) })
	t.Run("CheckinConcurrent", func(t *testing.T) { TestCheckinConcurrent(t, ctx, driver) })
	t.Run("Locations", func(t *testing.T) { TestLocations(t, ctx, driver) })
	t.Run("Crews", func(t *testing.T) { TestCrews(t, ctx, driver) })
	t.Run("Points", func(t *testing.T) { TestPoints(t, ctx, driver) })
	t.Run("AccountLinks", func(t *testing.T) { TestAccountLinks(t, ctx, driver) })
}

// TestSponsorshipLifecycle covers create, lookup, duplicate tx hash,
// pending listing and attempt counting.
func TestSponsorshipLifecycle(t *testing.T, ctx context.Context, d store.Driver) {
	s := PendingSponsorship("sp-life", "0xlife", "loc-life")
	if err := d.CreateSponsorship(ctx, s); err != nil {
		t.Fatalf("CreateSponsorship: %v", err)
	}

	got, err := d.GetSponsorship(ctx, "sp-life")
	if err != nil {
		t.Fatalf("GetSponsorship: %v", err)
	}
	if got.Status != store.StatusPending || !got.AmountClaimed.Equal(s.AmountClaimed) || got.TxHash != "0xlife" {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if got.VerifiedAmount.Valid {
		t.Error("pending record must not carry a verified amount")
	}

	dup := PendingSponsorship("sp-life-2", "0xlife", "loc-life")
	if err := d.CreateSponsorship(ctx, dup); !errors.Is(err, store.ErrAlreadyExists) {
		t.Errorf("reused tx hash: expected ErrAlreadyExists, got %v", err)
	}

	if _, err := d.GetSponsorship(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	pending, err := d.ListPendingSponsorships(ctx, Base, 0)
	if err != nil {
		t.Fatalf("ListPendingSponsorships: %v", err)
	}
	found := false
	for _, p := range pending {
		if p.ID == "sp-life" {
			found = true
		}
	}
	if !found {
		t.Error("pending record missing from ListPendingSponsorships")
	}
	if early, _ := d.ListPendingSponsorships(ctx, Base-1, 0); len(early) != 0 {
		t.Errorf("cutoff before creation should list nothing, got %d", len(early))
	}

	n, err := d.IncrementSponsorshipAttempts(ctx, "sp-life")
	if err != nil || n != 1 {
		t.Fatalf("IncrementSponsorshipAttempts = %d, %v; want 1", n, err)
	}
	n, _ = d.IncrementSponsorshipAttempts(ctx, "sp-life")
	if n != 2 {
		t.Errorf("second increment = %d, want 2", n)
	}
}

// TestFinalizeIsOnce checks the conditional transition and the location
// accumulation happen exactly once.
func TestFinalizeIsOnce(t *testing.T, ctx context.Context, d store.Driver) {
	if err := d.UpsertLocation(ctx, Location("loc-fin")); err != nil {
		t.Fatalf("UpsertLocation: %v", err)
	}
	if err := d.CreateSponsorship(ctx, PendingSponsorship("sp-fin", "0xfin", "loc-fin")); err != nil {
		t.Fatalf("CreateSponsorship: %v", err)
	}

	verify := store.Finalization{
		ID:     "sp-fin",
		Status: store.StatusVerified,
		Amount: decimal.RequireFromString("10.00"),
		At:     Base + 60,
	}
	applied, err := d.FinalizeSponsorship(ctx, verify)
	if err != nil || !applied {
		t.Fatalf("first finalize = %v, %v; want applied", applied, err)
	}
	applied, err = d.FinalizeSponsorship(ctx, verify)
	if err != nil || applied {
		t.Fatalf("second finalize = %v, %v; want not applied", applied, err)
	}
	applied, _ = d.FinalizeSponsorship(ctx, store.Finalization{ID: "sp-fin", Status: store.StatusRejected, Reason: "late", At: Base + 120})
	if applied {
		t.Fatal("a verified record must never be rejected afterwards")
	}

	got, _ := d.GetSponsorship(ctx, "sp-fin")
	if got.Status != store.StatusVerified {
		t.Errorf("status = %s, want verified", got.Status)
	}
	if !got.VerifiedAmount.Valid || !got.VerifiedAmount.Decimal.Equal(decimal.RequireFromString("10")) {
		t.Errorf("verified amount = %v, want 10", got.VerifiedAmount)
	}
	if got.VerifiedAt == nil || *got.VerifiedAt != Base+60 {
		t.Errorf("verified_at = %v, want %d", got.VerifiedAt, Base+60)
	}

	loc, _ := d.GetLocation(ctx, "loc-fin")
	if !loc.SponsorAmount.Equal(decimal.RequireFromString("10")) {
		t.Errorf("sponsor amount = %s, want 10 (accumulated once)", loc.SponsorAmount)
	}

	if _, err := d.IncrementSponsorshipAttempts(ctx, "sp-fin"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("attempts on a terminal record: expected ErrNotFound, got %v", err)
	}

	if err := d.CreateSponsorship(ctx, PendingSponsorship("sp-rej", "0xrej", "loc-fin")); err != nil {
		t.Fatal(err)
	}
	applied, _ = d.FinalizeSponsorship(ctx, store.Finalization{ID: "sp-rej", Status: store.StatusRejected, Reason: "below_minimum", At: Base + 60})
	if !applied {
		t.Fatal("rejection should apply to a pending record")
	}
	rej, _ := d.GetSponsorship(ctx, "sp-rej")
	if rej.Status != store.StatusRejected || rej.Reason != "below_minimum" || rej.VerifiedAmount.Valid {
		t.Errorf("rejected record = %+v", rej)
	}
	loc, _ = d.GetLocation(ctx, "loc-fin")
	if !loc.SponsorAmount.Equal(decimal.RequireFromString("10")) {
		t.Errorf("rejection changed sponsor amount to %s", loc.SponsorAmount)
	}

	reseeded := Location("loc-fin")
	reseeded.Name = "Reseeded"
	if err := d.UpsertLocation(ctx, reseeded); err != nil {
		t.Fatalf("UpsertLocation reseed: %v", err)
	}
	loc, _ = d.GetLocation(ctx, "loc-fin")
	if loc.Name != "Reseeded" || !loc.SponsorAmount.Equal(decimal.RequireFromString("10")) {
		t.Errorf("after reseed: name %q, sponsor amount %s; want Reseeded, 10", loc.Name, loc.SponsorAmount)
	}
}

// TestFinalizeConcurrent races finalizers on one record.
func TestFinalizeConcurrent(t *testing.T, ctx context.Context, d store.Driver) {
	if err := d.UpsertLocation(ctx, Location("loc-race")); err != nil {
		t.Fatal(err)
	}
	if err := d.CreateSponsorship(ctx, PendingSponsorship("sp-race", "0xrace", "loc-race")); err != nil {
		t.Fatal(err)
	}

	var applied atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := d.FinalizeSponsorship(ctx, store.Finalization{
				ID: "sp-race", Status: store.StatusVerified, Amount: decimal.RequireFromString("2.5"), At: Base,
			})
			if err != nil {
				t.Errorf("FinalizeSponsorship: %v", err)
			}
			if ok {
				applied.Add(1)
			}
		}()
	}
	wg.Wait()

	if applied.Load() != 1 {
		t.Errorf("applied %d times, want exactly 1", applied.Load())
	}
	loc, _ := d.GetLocation(ctx, "loc-race")
	if !loc.SponsorAmount.Equal(decimal.RequireFromString("2.5")) {
		t.Errorf("sponsor amount = %s, want 2.5", loc.SponsorAmount)
	}
}

// TestCheckinDedupWindow: 30 minutes later is absorbed, 31 minutes later is new.
func TestCheckinDedupWindow(t *testing.T, ctx context.Context, d store.Driver) {
	window := 30 * time.Minute

	created, err := d.CreateCheckinIfAbsent(ctx, Checkin("ci-1", "u1", "crew-a", "loc-ci", Base), window)
	if err != nil || !created {
		t.Fatalf("first check-in = %v, %v", created, err)
	}
	created, _ = d.CreateCheckinIfAbsent(ctx, Checkin("ci-2", "u1", "crew-a", "loc-ci", Base+30*60), window)
	if created {
		t.Error("check-in 30 minutes later should be absorbed")
	}
	created, _ = d.CreateCheckinIfAbsent(ctx, Checkin("ci-3", "u1", "crew-b", "loc-ci", Base+60), window)
	if !created {
		t.Error("a different crew is a different tuple")
	}
	created, _ = d.CreateCheckinIfAbsent(ctx, Checkin("ci-4", "u1", "crew-a", "loc-ci", Base+31*60), window)
	if !created {
		t.Error("check-in 31 minutes later should be recorded")
	}

	list, err := d.ListCheckins(ctx, store.CheckinFilter{UserID: "u1", CrewID: "crew-a", LocationID: "loc-ci"})
	if err != nil {
		t.Fatalf("ListCheckins: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 crew-a check-ins, got %d", len(list))
	}
	if list[0].ExpiresAt != Base+2*3600 {
		t.Errorf("expires_at = %d, want created + 2h", list[0].ExpiresAt)
	}
}

// TestCheckinConcurrent races identical check-ins.
func TestCheckinConcurrent(t *testing.T, ctx context.Context, d store.Driver) {
	var created atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := d.CreateCheckinIfAbsent(ctx, Checkin(fmt.Sprintf("race-%d", i), "u-race", "", "loc-race-ci", Base), 30*time.Minute)
			if err != nil {
				t.Errorf("CreateCheckinIfAbsent: %v", err)
			}
			if ok {
				created.Add(1)
			}
		}(i)
	}
	wg.Wait()
	if created.Load() != 1 {
		t.Errorf("created %d check-ins, want 1", created.Load())
	}
}

// TestLocations covers upsert and the active filter.
func TestLocations(t *testing.T, ctx context.Context, d store.Driver) {
	inactive := Location("loc-off")
	inactive.Active = false
	for _, l := range []*store.Location{Location("loc-on"), inactive} {
		if err := d.UpsertLocation(ctx, l); err != nil {
			t.Fatalf("UpsertLocation: %v", err)
		}
	}

	renamed := Location("loc-on")
	renamed.Name = "Renamed"
	if err := d.UpsertLocation(ctx, renamed); err != nil {
		t.Fatalf("UpsertLocation update: %v", err)
	}
	got, err := d.GetLocation(ctx, "loc-on")
	if err != nil || got.Name != "Renamed" {
		t.Errorf("GetLocation = %+v, %v", got, err)
	}

	active, err := d.ListActiveLocations(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for _, l := range active {
		if l.ID == "loc-off" {
			t.Error("inactive location listed")
		}
	}
	if _, err := d.GetLocation(ctx, "nope"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// TestCrews covers membership add, duplicate add, remove and lookup.
func TestCrews(t *testing.T, ctx context.Context, d store.Driver) {
	for _, c := range []string{"crew-b", "crew-a", "crew-a"} {
		if err := d.AddCrewMember(ctx, c, "u-crew"); err != nil {
			t.Fatalf("AddCrewMember: %v", err)
		}
	}
	crews, err := d.CrewsForUser(ctx, "u-crew")
	if err != nil {
		t.Fatal(err)
	}
	if len(crews) != 2 || crews[0] != "crew-a" || crews[1] != "crew-b" {
		t.Errorf("crews = %v, want [crew-a crew-b]", crews)
	}

	if err := d.RemoveCrewMember(ctx, "crew-b", "u-crew"); err != nil {
		t.Fatalf("RemoveCrewMember: %v", err)
	}
	if err := d.RemoveCrewMember(ctx, "crew-b", "u-crew"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("second remove: expected ErrNotFound, got %v", err)
	}
	if none, _ := d.CrewsForUser(ctx, "nobody"); len(none) != 0 {
		t.Errorf("expected no crews, got %v", none)
	}
}

// TestPoints covers dedup keys and totals.
func TestPoints(t *testing.T, ctx context.Context, d store.Driver) {
	key := "sponsorship:sp-1"
	entries := []*store.PointsEntry{
		{ID: "p1", Subject: "telegram_7", Action: "checkin", Points: 10, CreatedAt: Base},
		{ID: "p2", Subject: "telegram_7", Action: "checkin", Points: 10, CreatedAt: Base},
		{ID: "p3", Subject: "telegram_7", Action: "sponsorship_verified", Points: 50, DedupKey: &key, CreatedAt: Base},
		{ID: "p4", Subject: "telegram_7", Action: "sponsorship_verified", Points: 50, DedupKey: &key, CreatedAt: Base},
	}
	want := []bool{true, true, true, false}
	for i, e := range entries {
		ok, err := d.AppendPoints(ctx, e)
		if err != nil {
			t.Fatalf("AppendPoints(%s): %v", e.ID, err)
		}
		if ok != want[i] {
			t.Errorf("AppendPoints(%s) = %v, want %v", e.ID, ok, want[i])
		}
	}
	total, err := d.TotalPoints(ctx, "telegram_7")
	if err != nil || total != 70 {
		t.Errorf("TotalPoints = %d, %v; want 70", total, err)
	}
	if zero, _ := d.TotalPoints(ctx, "nobody"); zero != 0 {
		t.Errorf("TotalPoints(nobody) = %d", zero)
	}
}

// TestAccountLinks covers upsert and lookup.
func TestAccountLinks(t *testing.T, ctx context.Context, d store.Driver) {
	if _, err := d.LinkedAccount(ctx, "farcaster", "3"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	d.UpsertAccountLink(ctx, &store.AccountLink{Platform: "farcaster", PlatformID: "3", AccountID: "acct-1"})
	d.UpsertAccountLink(ctx, &store.AccountLink{Platform: "farcaster", PlatformID: "3", AccountID: "acct-2"})
	id, err := d.LinkedAccount(ctx, "farcaster", "3")
	if err != nil || id != "acct-2" {
		t.Errorf("LinkedAccount = %q, %v; want acct-2", id, err)
	}
}
