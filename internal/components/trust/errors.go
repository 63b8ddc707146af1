// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2026 FlowB Authors

// Package trust defines the error taxonomy shared by every claim verifier.
package trust

import (
	"errors"
	"fmt"
)

// Kind classifies a verification failure for retry and status-code decisions.
type Kind int

const (
	// KindUnknown is an unclassified error (treated as internal).
	KindUnknown Kind = iota
	// KindConfiguration means a secret or endpoint is missing. Fatal, never retried.
	KindConfiguration
	// KindMalformed means a required field is missing or unparseable.
	KindMalformed
	// KindInvalid means the claim was judged false (hash, signature, expiry, chain check).
	KindInvalid
	// KindTransient means an upstream was unreachable; the claim may succeed later.
	KindTransient
	// KindConflict means the claim collides with an existing record.
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindMalformed:
		return "malformed"
	case KindInvalid:
		return "invalid"
	case KindTransient:
		return "transient"
	case KindConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// Reason codes shared across verifiers. Verifier packages add their own.
const (
	ReasonMissingConfig      = "missing_config"
	ReasonMissingField       = "missing_field"
	ReasonInvalidField       = "invalid_field"
	ReasonInvalidCredentials = "invalid_credentials"
	ReasonUpstreamError      = "upstream_error"
	ReasonUpstreamTimeout    = "upstream_timeout"
	ReasonAlreadyClaimed     = "already_claimed"
)

// Error wraps a failure with its kind and a machine-readable reason.
// Reason is for logs and clients; Message is safe to show to callers.
type Error struct {
	Kind    Kind
	Reason  string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Kind, e.Reason, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Reason, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error by kind (and reason when the target sets one),
// so errors.Is(err, trust.Invalid("")) works as a kind test.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Reason == "" || t.Reason == e.Reason
}

// Configuration returns a KindConfiguration error.
func Configuration(reason, message string) *Error {
	return &Error{Kind: KindConfiguration, Reason: reason, Message: message}
}

// Malformed returns a KindMalformed error.
func Malformed(reason, message string) *Error {
	return &Error{Kind: KindMalformed, Reason: reason, Message: message}
}

// Invalid returns a KindInvalid error.
func Invalid(reason string) *Error {
	return &Error{Kind: KindInvalid, Reason: reason, Message: "verification failed"}
}

// Transient returns a KindTransient error wrapping cause.
func Transient(reason string, cause error) *Error {
	return &Error{Kind: KindTransient, Reason: reason, Message: "verification temporarily unavailable, try again", Cause: cause}
}

// Conflict returns a KindConflict error.
func Conflict(reason, message string) *Error {
	return &Error{Kind: KindConflict, Reason: reason, Message: message}
}

// KindOf returns the kind of err, or KindUnknown if err is not a *Error.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindUnknown
}

// ReasonOf returns the reason code of err, or "" if err is not a *Error.
func ReasonOf(err error) string {
	var te *Error
	if errors.As(err, &te) {
		return te.Reason
	}
	return ""
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	return KindOf(err) == KindTransient
}
