// Package sqlite implements a SQLite-based persistence driver using GORM.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/FlowBondTech/flowb-sub000/internal/platform/store"
)

func init() {
	store.Register("sqlite", NewDriver)
}

// DBFile is the database file name inside data_dir.
const DBFile = "flowb.db"

// Driver implements the store.Driver interface using SQLite via GORM.
type Driver struct {
	dataDir string
	db      *gorm.DB
}

// NewDriver creates a new SQLite driver instance.
func NewDriver(cfg *store.DriverConfig) (store.Driver, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("data_dir is required for sqlite driver")
	}
	return &Driver{dataDir: cfg.DataDir}, nil
}

// Name returns the driver name.
func (d *Driver) Name() string {
	return "sqlite"
}

// Init opens the database and runs AutoMigrate.
func (d *Driver) Init(ctx context.Context) error {
	if err := os.MkdirAll(d.dataDir, 0o700); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(filepath.Join(d.dataDir, DBFile)), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// One connection serializes the read-then-write transactions below.
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	sqlDB.SetMaxOpenConns(1)

	d.db = db

	if err := db.WithContext(ctx).AutoMigrate(
		&store.Sponsorship{},
		&store.Checkin{},
		&store.Location{},
		&store.CrewMember{},
		&store.PointsEntry{},
		&store.AccountLink{},
	); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (d *Driver) Close() error {
	if d.db == nil {
		return nil
	}
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.ErrNotFound
	}
	return err
}

// Sponsorships

func (d *Driver) CreateSponsorship(ctx context.Context, s *store.Sponsorship) error {
	err := d.db.WithContext(ctx).Create(s).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return store.ErrAlreadyExists
	}
	return err
}

func (d *Driver) GetSponsorship(ctx context.Context, id string) (*store.Sponsorship, error) {
	var s store.Sponsorship
	if err := d.db.WithContext(ctx).First(&s, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

func (d *Driver) ListPendingSponsorships(ctx context.Context, createdBefore int64, limit int) ([]*store.Sponsorship, error) {
	var out []*store.Sponsorship
	q := d.db.WithContext(ctx).
		Where("status = ? AND created_at <= ?", store.StatusPending, createdBefore).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (d *Driver) IncrementSponsorshipAttempts(ctx context.Context, id string) (int, error) {
	var attempts int
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&store.Sponsorship{}).
			Where("id = ? AND status = ?", id, store.StatusPending).
			UpdateColumn("attempts", gorm.Expr("attempts + 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return store.ErrNotFound
		}
		var vals []int
		if err := tx.Model(&store.Sponsorship{}).Where("id = ?", id).Pluck("attempts", &vals).Error; err != nil {
			return err
		}
		if len(vals) == 1 {
			attempts = vals[0]
		}
		return nil
	})
	return attempts, err
}

func (d *Driver) FinalizeSponsorship(ctx context.Context, f store.Finalization) (bool, error) {
	applied := false
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]any{
			"status":     f.Status,
			"reason":     f.Reason,
			"updated_at": f.At,
		}
		if f.Status == store.StatusVerified {
			updates["verified_amount"] = decimal.NewNullDecimal(f.Amount)
			updates["verified_at"] = f.At
		}
		res := tx.Model(&store.Sponsorship{}).
			Where("id = ? AND status = ?", f.ID, store.StatusPending).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		applied = true

		if f.Status != store.StatusVerified {
			return nil
		}
		var s store.Sponsorship
		if err := tx.First(&s, "id = ?", f.ID).Error; err != nil {
			return err
		}
		if s.TargetType != store.TargetLocation {
			return nil
		}
		var loc store.Location
		if err := tx.First(&loc, "id = ?", s.TargetID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		return tx.Model(&store.Location{}).Where("id = ?", loc.ID).
			Update("sponsor_amount", loc.SponsorAmount.Add(f.Amount)).Error
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// Check-ins

func (d *Driver) CreateCheckinIfAbsent(ctx context.Context, c *store.Checkin, window time.Duration) (bool, error) {
	created := false
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		err := tx.Model(&store.Checkin{}).
			Where("user_id = ? AND crew_id = ? AND location_id = ? AND created_at >= ?",
				c.UserID, c.CrewID, c.LocationID, c.CreatedAt-int64(window/time.Second)).
			Count(&n).Error
		if err != nil {
			return err
		}
		if n > 0 {
			return nil
		}
		if err := tx.Create(c).Error; err != nil {
			return err
		}
		created = true
		return nil
	})
	return created, err
}

func (d *Driver) ListCheckins(ctx context.Context, f store.CheckinFilter) ([]*store.Checkin, error) {
	q := d.db.WithContext(ctx)
	if f.UserID != "" {
		q = q.Where("user_id = ?", f.UserID)
	}
	if f.CrewID != "" {
		q = q.Where("crew_id = ?", f.CrewID)
	}
	if f.LocationID != "" {
		q = q.Where("location_id = ?", f.LocationID)
	}
	var out []*store.Checkin
	if err := q.Order("created_at ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Locations

func (d *Driver) UpsertLocation(ctx context.Context, l *store.Location) error {
	return d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "latitude", "longitude", "radius_m", "active"}),
	}).Create(l).Error
}

func (d *Driver) GetLocation(ctx context.Context, id string) (*store.Location, error) {
	var l store.Location
	if err := d.db.WithContext(ctx).First(&l, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &l, nil
}

func (d *Driver) ListActiveLocations(ctx context.Context) ([]*store.Location, error) {
	var out []*store.Location
	if err := d.db.WithContext(ctx).Where("active = ?", true).Order("id").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Crews

func (d *Driver) AddCrewMember(ctx context.Context, crewID, userID string) error {
	return d.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).
		Create(&store.CrewMember{CrewID: crewID, UserID: userID}).Error
}

func (d *Driver) RemoveCrewMember(ctx context.Context, crewID, userID string) error {
	res := d.db.WithContext(ctx).Delete(&store.CrewMember{}, "crew_id = ? AND user_id = ?", crewID, userID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (d *Driver) CrewsForUser(ctx context.Context, userID string) ([]string, error) {
	var crews []string
	err := d.db.WithContext(ctx).Model(&store.CrewMember{}).
		Where("user_id = ?", userID).Order("crew_id").Pluck("crew_id", &crews).Error
	return crews, err
}

// Points

func (d *Driver) AppendPoints(ctx context.Context, e *store.PointsEntry) (bool, error) {
	res := d.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(e)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (d *Driver) TotalPoints(ctx context.Context, subject string) (int64, error) {
	var total int64
	err := d.db.WithContext(ctx).Model(&store.PointsEntry{}).
		Where("subject = ?", subject).
		Select("COALESCE(SUM(points), 0)").Scan(&total).Error
	return total, err
}

// Account links

func (d *Driver) UpsertAccountLink(ctx context.Context, l *store.AccountLink) error {
	return d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "platform"}, {Name: "platform_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"account_id"}),
	}).Create(l).Error
}

func (d *Driver) LinkedAccount(ctx context.Context, platform, platformID string) (string, error) {
	var l store.AccountLink
	if err := d.db.WithContext(ctx).First(&l, "platform = ? AND platform_id = ?", platform, platformID).Error; err != nil {
		return "", notFound(err)
	}
	return l.AccountID, nil
}

var _ store.Driver = (*Driver)(nil)
