package token

import (
	"crypto/sha256"

	"github.com/FlowBondTech/flowb-sub000/internal/components/trust"
)

// SecretSource records where the signing secret came from.
type SecretSource string

const (
	SecretSourceConfigured SecretSource = "configured"
	// SecretSourceDerived is weaker: anyone holding the bot token can mint
	// session tokens, so leaking the bot token also leaks every session.
	SecretSourceDerived SecretSource = "derived"
)

const derivedSecretLabel = "flowb-session:"

// ResolveSecret picks the session signing secret. A configured secret wins;
// otherwise the secret is derived from the Telegram bot token.
func ResolveSecret(configured, botToken string) ([]byte, SecretSource, error) {
	if configured != "" {
		return []byte(configured), SecretSourceConfigured, nil
	}
	if botToken == "" {
		return nil, "", trust.Configuration(trust.ReasonMissingConfig, "auth.token_secret or auth.telegram_bot_token must be set")
	}
	sum := sha256.Sum256([]byte(derivedSecretLabel + botToken))
	return sum[:], SecretSourceDerived, nil
}
