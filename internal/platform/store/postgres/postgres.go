// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2026 FlowB Authors

// Package postgres implements the store driver on PostgreSQL via pgxpool.
//
// Amounts are NUMERIC columns read back as text, so values round-trip
// through shopspring/decimal without float conversion. Check-in dedup takes
// a transaction-scoped advisory lock keyed by (user, crew, location), which
// serializes concurrent claims across process instances.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/FlowBondTech/flowb-sub000/internal/platform/store"
)

func init() {
	store.Register("postgres", NewDriver)
}

const uniqueViolation = "23505"

const schema = `
CREATE TABLE IF NOT EXISTS sponsorships (
  id TEXT PRIMARY KEY,
  sponsor_subject TEXT NOT NULL,
  target_type TEXT NOT NULL,
  target_id TEXT NOT NULL,
  amount_claimed NUMERIC NOT NULL,
  verified_amount NUMERIC,
  tx_hash TEXT NOT NULL UNIQUE,
  status TEXT NOT NULL,
  reason TEXT NOT NULL DEFAULT '',
  attempts INTEGER NOT NULL DEFAULT 0,
  created_at BIGINT NOT NULL,
  updated_at BIGINT NOT NULL,
  verified_at BIGINT
);
CREATE INDEX IF NOT EXISTS idx_sponsorships_status_created ON sponsorships (status, created_at);
CREATE INDEX IF NOT EXISTS idx_sponsorships_sponsor ON sponsorships (sponsor_subject);

CREATE TABLE IF NOT EXISTS checkins (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  crew_id TEXT NOT NULL DEFAULT '',
  location_id TEXT NOT NULL,
  venue_name TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL,
  created_at BIGINT NOT NULL,
  expires_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_checkin_dedup ON checkins (user_id, crew_id, location_id, created_at);

CREATE TABLE IF NOT EXISTS locations (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL DEFAULT '',
  latitude DOUBLE PRECISION NOT NULL,
  longitude DOUBLE PRECISION NOT NULL,
  radius_m DOUBLE PRECISION NOT NULL DEFAULT 0,
  sponsor_amount NUMERIC NOT NULL DEFAULT 0,
  active BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS crew_members (
  crew_id TEXT NOT NULL,
  user_id TEXT NOT NULL,
  PRIMARY KEY (crew_id, user_id)
);
CREATE INDEX IF NOT EXISTS idx_crew_members_user ON crew_members (user_id);

CREATE TABLE IF NOT EXISTS points_entries (
  id TEXT PRIMARY KEY,
  subject TEXT NOT NULL,
  platform TEXT NOT NULL DEFAULT '',
  action TEXT NOT NULL,
  points INTEGER NOT NULL,
  metadata TEXT NOT NULL DEFAULT '',
  dedup_key TEXT UNIQUE,
  created_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_points_subject ON points_entries (subject);

CREATE TABLE IF NOT EXISTS account_links (
  platform TEXT NOT NULL,
  platform_id TEXT NOT NULL,
  account_id TEXT NOT NULL,
  PRIMARY KEY (platform, platform_id)
);
`

// Driver implements store.Driver on a pgx connection pool.
type Driver struct {
	dsn  string
	pool *pgxpool.Pool
}

// NewDriver creates a new Postgres driver instance.
func NewDriver(cfg *store.DriverConfig) (store.Driver, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("dsn is required for postgres driver")
	}
	return &Driver{dsn: cfg.DSN}, nil
}

func (d *Driver) Name() string { return "postgres" }

// Init connects and creates the schema.
func (d *Driver) Init(ctx context.Context) error {
	pool, err := pgxpool.New(ctx, d.dsn)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return fmt.Errorf("create schema: %w", err)
	}
	d.pool = pool
	return nil
}

func (d *Driver) Close() error {
	if d.pool != nil {
		d.pool.Close()
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// Sponsorships

const sponsorshipCols = `id, sponsor_subject, target_type, target_id, amount_claimed::text,
  verified_amount::text, tx_hash, status, reason, attempts, created_at, updated_at, verified_at`

func scanSponsorship(row pgx.Row) (*store.Sponsorship, error) {
	var (
		s        store.Sponsorship
		claimed  string
		verified *string
		status   string
	)
	err := row.Scan(&s.ID, &s.SponsorSubject, &s.TargetType, &s.TargetID, &claimed,
		&verified, &s.TxHash, &status, &s.Reason, &s.Attempts, &s.CreatedAt, &s.UpdatedAt, &s.VerifiedAt)
	if err != nil {
		return nil, err
	}
	s.Status = store.SponsorshipStatus(status)
	if s.AmountClaimed, err = decimal.NewFromString(claimed); err != nil {
		return nil, fmt.Errorf("sponsorship %s: amount_claimed: %w", s.ID, err)
	}
	if verified != nil {
		v, err := decimal.NewFromString(*verified)
		if err != nil {
			return nil, fmt.Errorf("sponsorship %s: verified_amount: %w", s.ID, err)
		}
		s.VerifiedAmount = decimal.NewNullDecimal(v)
	}
	return &s, nil
}

func (d *Driver) CreateSponsorship(ctx context.Context, s *store.Sponsorship) error {
	_, err := d.pool.Exec(ctx, `
INSERT INTO sponsorships (id, sponsor_subject, target_type, target_id, amount_claimed,
  tx_hash, status, reason, attempts, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5::text::numeric, $6, $7, $8, $9, $10, $11)`,
		s.ID, s.SponsorSubject, s.TargetType, s.TargetID, s.AmountClaimed.String(),
		s.TxHash, string(s.Status), s.Reason, s.Attempts, s.CreatedAt, s.UpdatedAt)
	if isUniqueViolation(err) {
		return store.ErrAlreadyExists
	}
	return err
}

func (d *Driver) GetSponsorship(ctx context.Context, id string) (*store.Sponsorship, error) {
	s, err := scanSponsorship(d.pool.QueryRow(ctx,
		`SELECT `+sponsorshipCols+` FROM sponsorships WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return s, nil
}

func (d *Driver) ListPendingSponsorships(ctx context.Context, createdBefore int64, limit int) ([]*store.Sponsorship, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := d.pool.Query(ctx, `SELECT `+sponsorshipCols+` FROM sponsorships
WHERE status = $1 AND created_at <= $2 ORDER BY created_at ASC LIMIT $3`,
		string(store.StatusPending), createdBefore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*store.Sponsorship
	for rows.Next() {
		s, err := scanSponsorship(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (d *Driver) IncrementSponsorshipAttempts(ctx context.Context, id string) (int, error) {
	var attempts int
	err := d.pool.QueryRow(ctx, `UPDATE sponsorships SET attempts = attempts + 1
WHERE id = $1 AND status = $2 RETURNING attempts`, id, string(store.StatusPending)).Scan(&attempts)
	return attempts, notFound(err)
}

func (d *Driver) FinalizeSponsorship(ctx context.Context, f store.Finalization) (bool, error) {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	var amount *string
	var verifiedAt *int64
	if f.Status == store.StatusVerified {
		s := f.Amount.String()
		amount = &s
		verifiedAt = &f.At
	}

	var targetType, targetID string
	err = tx.QueryRow(ctx, `
UPDATE sponsorships
SET status = $2, reason = $3, updated_at = $4, verified_amount = $5::text::numeric, verified_at = $6
WHERE id = $1 AND status = $7
RETURNING target_type, target_id`,
		f.ID, string(f.Status), f.Reason, f.At, amount, verifiedAt, string(store.StatusPending),
	).Scan(&targetType, &targetID)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if f.Status == store.StatusVerified && targetType == store.TargetLocation {
		if _, err := tx.Exec(ctx,
			`UPDATE locations SET sponsor_amount = sponsor_amount + $2::text::numeric WHERE id = $1`,
			targetID, f.Amount.String()); err != nil {
			return false, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Check-ins

func (d *Driver) CreateCheckinIfAbsent(ctx context.Context, c *store.Checkin, window time.Duration) (bool, error) {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	lockKey := c.UserID + "|" + c.CrewID + "|" + c.LocationID
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, lockKey); err != nil {
		return false, fmt.Errorf("checkin lock: %w", err)
	}

	var exists bool
	err = tx.QueryRow(ctx, `SELECT EXISTS (
  SELECT 1 FROM checkins
  WHERE user_id = $1 AND crew_id = $2 AND location_id = $3 AND created_at >= $4)`,
		c.UserID, c.CrewID, c.LocationID, c.CreatedAt-int64(window/time.Second)).Scan(&exists)
	if err != nil {
		return false, err
	}
	if exists {
		return false, tx.Commit(ctx)
	}

	if _, err := tx.Exec(ctx, `
INSERT INTO checkins (id, user_id, crew_id, location_id, venue_name, status, created_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.UserID, c.CrewID, c.LocationID, c.VenueName, string(c.Status), c.CreatedAt, c.ExpiresAt); err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (d *Driver) ListCheckins(ctx context.Context, f store.CheckinFilter) ([]*store.Checkin, error) {
	rows, err := d.pool.Query(ctx, `
SELECT id, user_id, crew_id, location_id, venue_name, status, created_at, expires_at
FROM checkins
WHERE ($1 = '' OR user_id = $1) AND ($2 = '' OR crew_id = $2) AND ($3 = '' OR location_id = $3)
ORDER BY created_at ASC`, f.UserID, f.CrewID, f.LocationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*store.Checkin
	for rows.Next() {
		var c store.Checkin
		var status string
		if err := rows.Scan(&c.ID, &c.UserID, &c.CrewID, &c.LocationID, &c.VenueName, &status, &c.CreatedAt, &c.ExpiresAt); err != nil {
			return nil, err
		}
		c.Status = store.CheckinStatus(status)
		out = append(out, &c)
	}
	return out, rows.Err()
}

// Locations

const locationCols = `id, name, latitude, longitude, radius_m, sponsor_amount::text, active`

func scanLocation(row pgx.Row) (*store.Location, error) {
	var l store.Location
	var amount string
	if err := row.Scan(&l.ID, &l.Name, &l.Latitude, &l.Longitude, &l.RadiusM, &amount, &l.Active); err != nil {
		return nil, err
	}
	v, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("location %s: sponsor_amount: %w", l.ID, err)
	}
	l.SponsorAmount = v
	return &l, nil
}

func (d *Driver) UpsertLocation(ctx context.Context, l *store.Location) error {
	_, err := d.pool.Exec(ctx, `
INSERT INTO locations (id, name, latitude, longitude, radius_m, sponsor_amount, active)
VALUES ($1, $2, $3, $4, $5, $6::text::numeric, $7)
ON CONFLICT (id) DO UPDATE SET
  name = EXCLUDED.name, latitude = EXCLUDED.latitude, longitude = EXCLUDED.longitude,
  radius_m = EXCLUDED.radius_m, active = EXCLUDED.active`,
		l.ID, l.Name, l.Latitude, l.Longitude, l.RadiusM, l.SponsorAmount.String(), l.Active)
	return err
}

func (d *Driver) GetLocation(ctx context.Context, id string) (*store.Location, error) {
	l, err := scanLocation(d.pool.QueryRow(ctx, `SELECT `+locationCols+` FROM locations WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return l, nil
}

func (d *Driver) ListActiveLocations(ctx context.Context) ([]*store.Location, error) {
	rows, err := d.pool.Query(ctx, `SELECT `+locationCols+` FROM locations WHERE active ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*store.Location
	for rows.Next() {
		l, err := scanLocation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// Crews

func (d *Driver) AddCrewMember(ctx context.Context, crewID, userID string) error {
	_, err := d.pool.Exec(ctx,
		`INSERT INTO crew_members (crew_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, crewID, userID)
	return err
}

func (d *Driver) RemoveCrewMember(ctx context.Context, crewID, userID string) error {
	tag, err := d.pool.Exec(ctx, `DELETE FROM crew_members WHERE crew_id = $1 AND user_id = $2`, crewID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (d *Driver) CrewsForUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := d.pool.Query(ctx, `SELECT crew_id FROM crew_members WHERE user_id = $1 ORDER BY crew_id`, userID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// Points

func (d *Driver) AppendPoints(ctx context.Context, e *store.PointsEntry) (bool, error) {
	tag, err := d.pool.Exec(ctx, `
INSERT INTO points_entries (id, subject, platform, action, points, metadata, dedup_key, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (dedup_key) DO NOTHING`,
		e.ID, e.Subject, e.Platform, e.Action, e.Points, e.Metadata, e.DedupKey, e.CreatedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (d *Driver) TotalPoints(ctx context.Context, subject string) (int64, error) {
	var total int64
	err := d.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(points), 0) FROM points_entries WHERE subject = $1`, subject).Scan(&total)
	return total, err
}

// Account links

func (d *Driver) UpsertAccountLink(ctx context.Context, l *store.AccountLink) error {
	_, err := d.pool.Exec(ctx, `
INSERT INTO account_links (platform, platform_id, account_id) VALUES ($1, $2, $3)
ON CONFLICT (platform, platform_id) DO UPDATE SET account_id = EXCLUDED.account_id`,
		l.Platform, l.PlatformID, l.AccountID)
	return err
}

func (d *Driver) LinkedAccount(ctx context.Context, platform, platformID string) (string, error) {
	var id string
	err := d.pool.QueryRow(ctx,
		`SELECT account_id FROM account_links WHERE platform = $1 AND platform_id = $2`,
		platform, platformID).Scan(&id)
	return id, notFound(err)
}

var _ store.Driver = (*Driver)(nil)
