// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2026 FlowB Authors

// Package api provides common HTTP API utilities including error handling.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/FlowBondTech/flowb-sub000/internal/components/trust"
	"github.com/FlowBondTech/flowb-sub000/internal/platform/appctx"
)

// Deterministic reason codes for stable error classification.
// Claim failures carry the trust reason code instead.
const (
	ReasonUnauthenticated = "unauthenticated"
	ReasonSessionExpired  = "session_expired"
	ReasonForbidden       = "forbidden"
	ReasonRateLimited     = "rate_limited"
	ReasonBadRequest      = "bad_request"
	ReasonNotFound        = "not_found"
	ReasonInternalError   = "internal_error"
	ReasonUnavailable     = "unavailable"
	ReasonInvalidClaim    = "invalid_claim"
)

// RetryAfterSeconds is sent with 503 responses for transient claim failures.
const RetryAfterSeconds = 5

// ErrorEnvelope is the standard error response format.
type ErrorEnvelope struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the error information.
type ErrorDetail struct {
	Code       string `json:"code"`        // HTTP status text (e.g., "Forbidden")
	ReasonCode string `json:"reason_code"` // Deterministic reason code
	Message    string `json:"message"`     // Human-readable message
}

// WriteError writes a standardized JSON error response.
func WriteError(w http.ResponseWriter, statusCode int, reasonCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	_ = json.NewEncoder(w).Encode(ErrorEnvelope{
		Error: ErrorDetail{
			Code:       http.StatusText(statusCode),
			ReasonCode: reasonCode,
			Message:    message,
		},
	})
}

// WriteJSON writes v as a JSON body with the given status.
func WriteJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteUnauthorized writes a 401 Unauthorized error.
func WriteUnauthorized(w http.ResponseWriter, reasonCode, message string) {
	WriteError(w, http.StatusUnauthorized, reasonCode, message)
}

// WriteForbidden writes a 403 Forbidden error.
func WriteForbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, ReasonForbidden, message)
}

// WriteNotFound writes a 404 Not Found error.
func WriteNotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, ReasonNotFound, message)
}

// WriteBadRequest writes a 400 Bad Request error.
func WriteBadRequest(w http.ResponseWriter, reasonCode, message string) {
	WriteError(w, http.StatusBadRequest, reasonCode, message)
}

// WriteTooManyRequests writes a 429 Too Many Requests error.
func WriteTooManyRequests(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusTooManyRequests, ReasonRateLimited, message)
}

// WriteInternalError writes a 500 Internal Server Error.
// Be careful not to leak sensitive information in the message.
func WriteInternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, ReasonInternalError, message)
}

// StatusFor maps a claim error to its HTTP status. invalidStatus is used for
// KindInvalid: 401 for sign-in, 403 once the caller is authenticated.
func StatusFor(err error, invalidStatus int) int {
	switch trust.KindOf(err) {
	case trust.KindMalformed:
		return http.StatusBadRequest
	case trust.KindInvalid:
		return invalidStatus
	case trust.KindConflict:
		return http.StatusConflict
	case trust.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// WriteTrustError writes the envelope for an error returned by a verifier or
// the orchestrator. Invalid claims get a generic message and the
// ReasonInvalidClaim code; the verifier's reason is only logged.
func WriteTrustError(w http.ResponseWriter, r *http.Request, err error, invalidStatus int) {
	log := appctx.GetLogger(r.Context())
	status := StatusFor(err, invalidStatus)

	var te *trust.Error
	if !errors.As(err, &te) {
		log.Error("claim processing failed", "error", err)
		WriteInternalError(w, "internal error")
		return
	}

	reason, message := te.Reason, te.Message
	switch te.Kind {
	case trust.KindInvalid:
		reason, message = ReasonInvalidClaim, "verification failed"
		log.Info("claim rejected", "reason", te.Reason)
	case trust.KindTransient:
		w.Header().Set("Retry-After", strconv.Itoa(RetryAfterSeconds))
		message = "upstream temporarily unavailable, retry later"
		log.Warn("claim deferred", "reason", te.Reason, "error", te.Cause)
	case trust.KindConfiguration:
		log.Error("claim hit configuration error", "reason", te.Reason, "error", err)
	default:
		log.Debug("claim refused", "kind", te.Kind.String(), "reason", te.Reason)
	}
	WriteError(w, status, reason, message)
}
