// Package telegram verifies Telegram WebApp initData payloads.
//
// The payload is a URL-encoded query string signed by Telegram with a key
// derived from the bot token. See
// https://core.telegram.org/bots/webapps#validating-data-received-via-the-mini-app
package telegram

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/FlowBondTech/flowb-sub000/internal/components/identity"
	"github.com/FlowBondTech/flowb-sub000/internal/components/trust"
	"github.com/FlowBondTech/flowb-sub000/internal/platform/logutil"
)

// Reason codes. Logged, never shown to callers.
const (
	ReasonMalformed       = "malformed"
	ReasonMissingHash     = "missing_hash"
	ReasonMissingAuthDate = "missing_auth_date"
	ReasonStale           = "stale"
	ReasonHashMismatch    = "hash_mismatch"
	ReasonMissingUser     = "missing_user"
	ReasonInvalidUser     = "invalid_user"
)

const (
	// DefaultMaxAge is the replay window for auth_date.
	DefaultMaxAge = 24 * time.Hour

	// maxFutureSkew tolerates client clocks slightly ahead of ours.
	maxFutureSkew = 5 * time.Minute

	webAppDataKey = "WebAppData"
)

// WebAppUser is the "user" object embedded in initData.
type WebAppUser struct {
	ID           int64  `json:"id"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name,omitempty"`
	Username     string `json:"username,omitempty"`
	LanguageCode string `json:"language_code,omitempty"`
	PhotoURL     string `json:"photo_url,omitempty"`
}

// Verifier validates initData against a bot token.
type Verifier struct {
	secretKey []byte
	maxAge    time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithMaxAge overrides DefaultMaxAge.
func WithMaxAge(d time.Duration) Option {
	return func(v *Verifier) {
		if d > 0 {
			v.maxAge = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) { v.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(v *Verifier) { v.logger = l }
}

// New creates a Verifier. The bot token never leaves the server.
func New(botToken string, opts ...Option) (*Verifier, error) {
	if botToken == "" {
		return nil, trust.Configuration(trust.ReasonMissingConfig, "auth.telegram_bot_token is not set")
	}
	v := &Verifier{
		secretKey: hmacSHA256([]byte(webAppDataKey), []byte(botToken)),
		maxAge:    DefaultMaxAge,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	v.logger = logutil.NoopIfNil(v.logger)
	return v, nil
}

// Platform implements identity.Verifier.
func (v *Verifier) Platform() identity.Platform { return identity.PlatformTelegram }

// Verify implements identity.Verifier.
func (v *Verifier) Verify(_ context.Context, a identity.Assertion) (*identity.Identity, error) {
	if strings.TrimSpace(a.InitData) == "" {
		return nil, trust.Malformed(trust.ReasonMissingField, "initData is required")
	}
	user, err := v.VerifyInitData(a.InitData)
	if err != nil {
		v.logger.Info("telegram initData rejected", "reason", trust.ReasonOf(err))
		return nil, err
	}

	displayName := strings.TrimSpace(user.FirstName + " " + user.LastName)
	return &identity.Identity{
		Subject:     identity.Subject(identity.PlatformTelegram, strconv.FormatInt(user.ID, 10)),
		Platform:    identity.PlatformTelegram,
		TelegramID:  user.ID,
		Username:    user.Username,
		DisplayName: displayName,
		PfpURL:      user.PhotoURL,
	}, nil
}

// VerifyInitData checks the hash and freshness of initData and returns the
// embedded user. Every failure is a trust.Invalid with a reason code.
func (v *Verifier) VerifyInitData(initData string) (*WebAppUser, error) {
	values, err := url.ParseQuery(initData)
	if err != nil {
		return nil, trust.Invalid(ReasonMalformed)
	}

	supplied := values.Get("hash")
	if supplied == "" {
		return nil, trust.Invalid(ReasonMissingHash)
	}
	values.Del("hash")

	// Freshness is judged before the hash so a stale payload is reported
	// as stale whether or not it is authentic.
	rawAuthDate := values.Get("auth_date")
	if rawAuthDate == "" {
		return nil, trust.Invalid(ReasonMissingAuthDate)
	}
	authUnix, err := strconv.ParseInt(rawAuthDate, 10, 64)
	if err != nil {
		return nil, trust.Invalid(ReasonMalformed)
	}
	now := v.now()
	authDate := time.Unix(authUnix, 0)
	if now.Sub(authDate) > v.maxAge || authDate.Sub(now) > maxFutureSkew {
		return nil, trust.Invalid(ReasonStale)
	}

	expected := hex.EncodeToString(hmacSHA256(v.secretKey, []byte(DataCheckString(values))))
	if !hmac.Equal([]byte(expected), []byte(supplied)) {
		return nil, trust.Invalid(ReasonHashMismatch)
	}

	rawUser := values.Get("user")
	if rawUser == "" {
		return nil, trust.Invalid(ReasonMissingUser)
	}
	var user WebAppUser
	if err := json.Unmarshal([]byte(rawUser), &user); err != nil || user.ID == 0 {
		return nil, trust.Invalid(ReasonInvalidUser)
	}
	return &user, nil
}

// DataCheckString builds the canonical string Telegram signs: every
// key=value pair except hash, sorted by key, joined by newlines.
func DataCheckString(values url.Values) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		if k == "hash" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(values.Get(k))
	}
	return b.String()
}

// Sign computes the initData hash for values with botToken. Used by tests
// and local tooling that need to mint valid payloads.
func Sign(values url.Values, botToken string) string {
	secret := hmacSHA256([]byte(webAppDataKey), []byte(botToken))
	return hex.EncodeToString(hmacSHA256(secret, []byte(DataCheckString(values))))
}

func hmacSHA256(key, msg []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(msg)
	return mac.Sum(nil)
}
