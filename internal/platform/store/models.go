package store

import (
	"github.com/shopspring/decimal"
)

// SponsorshipStatus is the lifecycle state of a payment claim.
type SponsorshipStatus string

const (
	StatusPending  SponsorshipStatus = "pending"
	StatusVerified SponsorshipStatus = "verified"
	StatusRejected SponsorshipStatus = "rejected"
)

// Terminal reports whether the status can no longer change.
func (s SponsorshipStatus) Terminal() bool {
	return s == StatusVerified || s == StatusRejected
}

// Sponsorship target types.
const (
	TargetEvent    = "event"
	TargetLocation = "location"
)

// Sponsorship is a claimed payment attached to an event or a location.
// Amounts are token units with six decimal places.
type Sponsorship struct {
	ID             string              `json:"id" gorm:"primaryKey"`
	SponsorSubject string              `json:"sponsor_subject" gorm:"index;not null"`
	TargetType     string              `json:"target_type" gorm:"not null"`
	TargetID       string              `json:"target_id" gorm:"index;not null"`
	AmountClaimed  decimal.Decimal     `json:"amount_claimed" gorm:"type:text;not null"`
	VerifiedAmount decimal.NullDecimal `json:"verified_amount" gorm:"type:text"`
	TxHash         string              `json:"tx_hash" gorm:"uniqueIndex;not null"`
	Status         SponsorshipStatus   `json:"status" gorm:"index;not null"`
	Reason         string              `json:"reason,omitempty"`
	Attempts       int                 `json:"attempts"`
	CreatedAt      int64               `json:"created_at"`
	UpdatedAt      int64               `json:"updated_at"`
	VerifiedAt     *int64              `json:"verified_at,omitempty"`
}

// Finalization is the terminal outcome applied by FinalizeSponsorship.
type Finalization struct {
	ID     string
	Status SponsorshipStatus
	// Amount is the on-chain amount; ignored for rejections.
	Amount decimal.Decimal
	Reason string
	At     int64
}

// CheckinStatus is what a check-in says about the user.
type CheckinStatus string

const (
	CheckinHere    CheckinStatus = "here"
	CheckinHeading CheckinStatus = "heading"
	CheckinLeaving CheckinStatus = "leaving"
)

// Checkin is a confirmed proximity claim. CrewID is empty for a user who
// belongs to no crew.
type Checkin struct {
	ID         string        `json:"id" gorm:"primaryKey"`
	UserID     string        `json:"user_id" gorm:"index:idx_checkin_dedup,priority:1;not null"`
	CrewID     string        `json:"crew_id" gorm:"index:idx_checkin_dedup,priority:2"`
	LocationID string        `json:"location_id" gorm:"index:idx_checkin_dedup,priority:3;not null"`
	VenueName  string        `json:"venue_name"`
	Status     CheckinStatus `json:"status"`
	CreatedAt  int64         `json:"created_at" gorm:"index:idx_checkin_dedup,priority:4"`
	ExpiresAt  int64         `json:"expires_at"`
}

// CheckinFilter selects check-ins; empty fields match everything.
type CheckinFilter struct {
	UserID     string
	CrewID     string
	LocationID string
}

// Matches reports whether c satisfies the filter.
func (f CheckinFilter) Matches(c *Checkin) bool {
	return (f.UserID == "" || f.UserID == c.UserID) &&
		(f.CrewID == "" || f.CrewID == c.CrewID) &&
		(f.LocationID == "" || f.LocationID == c.LocationID)
}

// Location is a venue with coordinates and a geofence radius.
type Location struct {
	ID            string          `json:"id" gorm:"primaryKey"`
	Name          string          `json:"name"`
	Latitude      float64         `json:"latitude"`
	Longitude     float64         `json:"longitude"`
	RadiusM       float64         `json:"radius_m"`
	SponsorAmount decimal.Decimal `json:"sponsor_amount" gorm:"type:text;not null;default:'0'"`
	Active        bool            `json:"active" gorm:"index"`
}

// Sponsored reports whether verified sponsorships have accrued on l.
func (l *Location) Sponsored() bool {
	return l.SponsorAmount.IsPositive()
}

// CrewMember is one membership row.
type CrewMember struct {
	CrewID string `json:"crew_id" gorm:"primaryKey"`
	UserID string `json:"user_id" gorm:"primaryKey;index"`
}

// PointsEntry is one ledger line. A non-nil DedupKey is unique.
type PointsEntry struct {
	ID        string  `json:"id" gorm:"primaryKey"`
	Subject   string  `json:"subject" gorm:"index;not null"`
	Platform  string  `json:"platform"`
	Action    string  `json:"action" gorm:"not null"`
	Points    int     `json:"points"`
	Metadata  string  `json:"metadata"`
	DedupKey  *string `json:"dedup_key,omitempty" gorm:"uniqueIndex"`
	CreatedAt int64   `json:"created_at"`
}

// AccountLink ties a platform identity to a custodial-wallet account.
type AccountLink struct {
	Platform   string `json:"platform" gorm:"primaryKey"`
	PlatformID string `json:"platform_id" gorm:"primaryKey"`
	AccountID  string `json:"account_id" gorm:"not null"`
}
