// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2026 FlowB Authors

// Package claims routes identity, payment and proximity claims to their
// verifiers and drives the effects of a successful verification.
package claims

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/FlowBondTech/flowb-sub000/internal/components/identity"
	"github.com/FlowBondTech/flowb-sub000/internal/components/proximity"
	"github.com/FlowBondTech/flowb-sub000/internal/platform/store"
)

// Claim is one externally asserted fact. The set of claim types is closed.
type Claim interface {
	claimType() string
}

// IdentityClaim asserts a platform identity.
type IdentityClaim struct {
	Platform  identity.Platform
	Assertion identity.Assertion
}

// PaymentClaim asserts an on-chain payment sponsoring an event or location.
type PaymentClaim struct {
	SponsorID     string
	TargetType    string
	TargetID      string
	AmountClaimed decimal.Decimal
	TxHash        string
}

// ProximityClaim asserts that UserID is at (Lat, Lon). An empty CrewIDs
// means every crew the user belongs to.
type ProximityClaim struct {
	UserID  string
	Lat     float64
	Lon     float64
	CrewIDs []string
}

func (IdentityClaim) claimType() string  { return "identity" }
func (PaymentClaim) claimType() string   { return "payment" }
func (ProximityClaim) claimType() string { return "proximity" }

// Session is the result of a verified identity claim.
type Session struct {
	Token     string             `json:"token"`
	ExpiresAt time.Time          `json:"expires_at"`
	Identity  *identity.Identity `json:"identity"`
}

// Outcome holds the result for whichever claim type was submitted.
type Outcome struct {
	Session     *Session           `json:"session,omitempty"`
	Sponsorship *store.Sponsorship `json:"sponsorship,omitempty"`
	Proximity   *proximity.Outcome `json:"proximity,omitempty"`
}
