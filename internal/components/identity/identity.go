// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2026 FlowB Authors

// Package identity defines the identity shape produced by every platform
// verifier and the interface the orchestrator dispatches through.
package identity

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/FlowBondTech/flowb-sub000/internal/components/token"
)

// Platform names an identity provider.
type Platform string

const (
	PlatformTelegram  Platform = "telegram"
	PlatformFarcaster Platform = "farcaster"
	PlatformApp       Platform = "app"
)

// Roles carried in session tokens.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// ParsePlatform validates a platform name.
func ParsePlatform(s string) (Platform, error) {
	switch p := Platform(strings.ToLower(strings.TrimSpace(s))); p {
	case PlatformTelegram, PlatformFarcaster, PlatformApp:
		return p, nil
	default:
		return "", fmt.Errorf("unknown platform %q", s)
	}
}

// Assertion is the raw, unverified input for an identity claim.
// Each verifier reads only the fields of its own platform.
type Assertion struct {
	// Telegram WebApp initData query string.
	InitData string
	// Farcaster quick-auth bearer token.
	Token string
	// Farcaster legacy sign-in message and signature.
	Message   string
	Signature string
	// App account credentials.
	Username string
	Password string
}

// Identity is a verified platform identity.
type Identity struct {
	Subject     string   `json:"subject"`
	Platform    Platform `json:"platform"`
	TelegramID  int64    `json:"telegram_id,omitempty"`
	FID         uint64   `json:"fid,omitempty"`
	Username    string   `json:"username,omitempty"`
	DisplayName string   `json:"display_name,omitempty"`
	PfpURL      string   `json:"pfp_url,omitempty"`
	Role        string   `json:"role,omitempty"`

	// LinkedAccountID is a custodial-wallet account linked to the same
	// platform identity, when one was found.
	LinkedAccountID string `json:"linked_account_id,omitempty"`
}

// TokenExtras returns the optional session token fields for id.
func (id *Identity) TokenExtras() token.Extras {
	role := id.Role
	if role == "" {
		role = RoleUser
	}
	return token.Extras{
		TelegramID: id.TelegramID,
		FID:        id.FID,
		Username:   id.Username,
		Role:       role,
	}
}

// Subject builds a platform-namespaced subject, e.g. "telegram_42".
func Subject(p Platform, id string) string {
	return string(p) + "_" + id
}

// SubjectFromInt is Subject for numeric platform ids.
func SubjectFromInt(p Platform, id uint64) string {
	return Subject(p, strconv.FormatUint(id, 10))
}

// Verifier checks one platform's identity assertions.
// Errors are *trust.Error values.
type Verifier interface {
	Platform() Platform
	Verify(ctx context.Context, a Assertion) (*Identity, error)
}

// Verifiers is the dispatch table from platform to verifier.
type Verifiers map[Platform]Verifier

// NewVerifiers builds a dispatch table. Nil verifiers are skipped so
// unconfigured platforms can be left out.
func NewVerifiers(vs ...Verifier) Verifiers {
	t := make(Verifiers, len(vs))
	for _, v := range vs {
		if v == nil {
			continue
		}
		t[v.Platform()] = v
	}
	return t
}

// Platforms returns the configured platforms, sorted.
func (t Verifiers) Platforms() []Platform {
	out := make([]Platform, 0, len(t))
	for p := range t {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// PlatformOf returns the platform prefix of a subject built by Subject, or
// "" when the subject carries no known prefix.
func PlatformOf(subject string) Platform {
	prefix, _, ok := strings.Cut(subject, "_")
	if !ok {
		return ""
	}
	p, err := ParsePlatform(prefix)
	if err != nil {
		return ""
	}
	return p
}
