// Package appauth verifies operator and demo accounts against a fixed table.
//
// This is the weakest identity path. Credentials come from the server config
// in plaintext and are not password-hashed at rest; it is a hard-coded
// bootstrap mechanism for a handful of operator accounts, not a general
// authentication scheme. Do not add end-user accounts here.
package appauth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/crypto/blake2b"

	"github.com/FlowBondTech/flowb-sub000/internal/components/identity"
	"github.com/FlowBondTech/flowb-sub000/internal/components/trust"
	"github.com/FlowBondTech/flowb-sub000/internal/platform/logutil"
)

// Account is one row of the credential table.
type Account struct {
	Username string
	Password string
	Role     string
}

type entry struct {
	user     [blake2b.Size256]byte
	pass     [blake2b.Size256]byte
	username string
	role     string
}

// Verifier checks (username, password) against an immutable table.
type Verifier struct {
	key     []byte
	entries []entry
	logger  *slog.Logger
}

// New builds the table. Usernames must be unique and non-empty.
func New(accounts []Account, logger *slog.Logger) (*Verifier, error) {
	logger = logutil.NoopIfNil(logger)

	// The digests only need to be comparable within this process.
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate table key: %w", err)
	}

	v := &Verifier{key: key, logger: logger}
	seen := make(map[string]bool, len(accounts))
	for _, a := range accounts {
		if a.Username == "" || a.Password == "" {
			return nil, errors.New("app account username and password are required")
		}
		if seen[a.Username] {
			return nil, fmt.Errorf("duplicate app account %q", a.Username)
		}
		seen[a.Username] = true

		role := a.Role
		if role == "" {
			role = identity.RoleUser
		}
		v.entries = append(v.entries, entry{
			user:     v.digest(a.Username),
			pass:     v.digest(a.Password),
			username: a.Username,
			role:     role,
		})
	}
	if len(v.entries) > 0 {
		logger.Warn("app account login enabled; credentials are static and unhashed", "accounts", len(v.entries))
	}
	return v, nil
}

// Platform implements identity.Verifier.
func (v *Verifier) Platform() identity.Platform { return identity.PlatformApp }

// Verify implements identity.Verifier. Unknown usernames and wrong passwords
// produce the same invalid_credentials result.
func (v *Verifier) Verify(_ context.Context, a identity.Assertion) (*identity.Identity, error) {
	if a.Username == "" || a.Password == "" {
		return nil, trust.Malformed(trust.ReasonMissingField, "username and password are required")
	}

	u := v.digest(a.Username)
	p := v.digest(a.Password)

	// Scan the whole table so timing does not depend on the row that matched.
	var match *entry
	for i := range v.entries {
		e := &v.entries[i]
		ok := subtle.ConstantTimeCompare(u[:], e.user[:]) & subtle.ConstantTimeCompare(p[:], e.pass[:])
		if ok == 1 && match == nil {
			match = e
		}
	}
	if match == nil {
		v.logger.Info("app login rejected", "reason", trust.ReasonInvalidCredentials)
		return nil, trust.Invalid(trust.ReasonInvalidCredentials)
	}

	return &identity.Identity{
		Subject:  identity.Subject(identity.PlatformApp, match.username),
		Platform: identity.PlatformApp,
		Username: match.username,
		Role:     match.role,
	}, nil
}

func (v *Verifier) digest(s string) [blake2b.Size256]byte {
	h, err := blake2b.New256(v.key)
	if err != nil {
		// Only fails for keys longer than 64 bytes.
		panic(err)
	}
	h.Write([]byte(s))
	var out [blake2b.Size256]byte
	copy(out[:], h.Sum(nil))
	return out
}
