// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2026 FlowB Authors

// Package store provides persistence primitives and driver abstractions.
//
// The two writes that must be idempotent across process instances live here
// as conditional operations: FinalizeSponsorship (pending -> terminal, once)
// and CreateCheckinIfAbsent (one check-in per user/crew/location per window).
package store

import (
	"context"
	"errors"
	"time"
)

// Common errors for store operations.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrClosed        = errors.New("store closed")
)

// Driver defines the interface for a persistence backend.
// Implementations must be safe for concurrent use.
type Driver interface {
	// Init opens connections and creates tables.
	Init(ctx context.Context) error
	Close() error
	// Name returns the driver name (sqlite, postgres, memory).
	Name() string

	SponsorshipStore
	CheckinStore
	LocationStore
	CrewStore
	PointsStore
	AccountLinkStore
}

// SponsorshipStore persists payment claims and their confirmation outcome.
type SponsorshipStore interface {
	// CreateSponsorship inserts a pending record. A reused tx hash returns
	// ErrAlreadyExists.
	CreateSponsorship(ctx context.Context, s *Sponsorship) error
	GetSponsorship(ctx context.Context, id string) (*Sponsorship, error)
	// ListPendingSponsorships returns pending records created at or before
	// createdBefore (unix seconds), oldest first.
	ListPendingSponsorships(ctx context.Context, createdBefore int64, limit int) ([]*Sponsorship, error)
	// IncrementSponsorshipAttempts bumps the attempt counter of a pending
	// record and returns the new value.
	IncrementSponsorshipAttempts(ctx context.Context, id string) (int, error)
	// FinalizeSponsorship moves a record out of pending in one transaction.
	// It reports false, with no error, when the record was no longer pending.
	// A verified location sponsorship adds its amount to the location.
	FinalizeSponsorship(ctx context.Context, f Finalization) (bool, error)
}

// CheckinStore persists proximity check-ins.
type CheckinStore interface {
	// CreateCheckinIfAbsent inserts c unless a check-in for the same
	// (user, crew, location) was created within window before c.CreatedAt.
	// It reports whether c was inserted.
	CreateCheckinIfAbsent(ctx context.Context, c *Checkin, window time.Duration) (bool, error)
	ListCheckins(ctx context.Context, filter CheckinFilter) ([]*Checkin, error)
}

// LocationStore is the read side of the venue registry, plus an upsert used
// by seeding and tests. Upserting an existing location keeps its accrued
// SponsorAmount; only FinalizeSponsorship changes it.
type LocationStore interface {
	UpsertLocation(ctx context.Context, l *Location) error
	GetLocation(ctx context.Context, id string) (*Location, error)
	ListActiveLocations(ctx context.Context) ([]*Location, error)
}

// CrewStore resolves crew membership.
type CrewStore interface {
	AddCrewMember(ctx context.Context, crewID, userID string) error
	RemoveCrewMember(ctx context.Context, crewID, userID string) error
	CrewsForUser(ctx context.Context, userID string) ([]string, error)
}

// PointsStore is the append-only points ledger.
type PointsStore interface {
	// AppendPoints inserts e. An entry whose DedupKey already exists is
	// skipped and reported as false.
	AppendPoints(ctx context.Context, e *PointsEntry) (bool, error)
	TotalPoints(ctx context.Context, subject string) (int64, error)
}

// AccountLinkStore maps a platform identity to a custodial account.
type AccountLinkStore interface {
	UpsertAccountLink(ctx context.Context, l *AccountLink) error
	// LinkedAccount returns the account id or ErrNotFound.
	LinkedAccount(ctx context.Context, platform, platformID string) (string, error)
}
