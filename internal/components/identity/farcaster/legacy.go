package farcaster

import (
	"context"
	"errors"
	"strings"

	"github.com/FlowBondTech/flowb-sub000/internal/components/identity"
	"github.com/FlowBondTech/flowb-sub000/internal/components/trust"
	"github.com/FlowBondTech/flowb-sub000/internal/platform/http/client"
)

type attestationRequest struct {
	Message   string `json:"message"`
	Signature string `json:"signature"`
	Domain    string `json:"domain,omitempty"`
}

type attestationResponse struct {
	Valid       bool   `json:"valid"`
	FID         uint64 `json:"fid"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	PfpURL      string `json:"pfpUrl"`
}

func (v *Verifier) verifyLegacy(ctx context.Context, message, signature string) (*identity.Identity, error) {
	if strings.TrimSpace(message) == "" || strings.TrimSpace(signature) == "" {
		return nil, trust.Malformed(trust.ReasonMissingField, "token, or message and signature, are required")
	}
	if v.settings.LegacyVerifyURL == "" {
		return nil, trust.Configuration(trust.ReasonMissingConfig, "farcaster.legacy_verify_url is not set")
	}

	var resp attestationResponse
	err := v.client.PostJSON(ctx, v.settings.LegacyVerifyURL, nil,
		attestationRequest{Message: message, Signature: signature, Domain: v.audience}, &resp)
	if err != nil {
		return nil, classifyUpstream(err)
	}
	if !resp.Valid || resp.FID == 0 {
		return nil, trust.Invalid(ReasonAttestationInvalid)
	}

	id := &identity.Identity{
		Subject:     identity.SubjectFromInt(identity.PlatformFarcaster, resp.FID),
		Platform:    identity.PlatformFarcaster,
		FID:         resp.FID,
		Username:    resp.Username,
		DisplayName: resp.DisplayName,
		PfpURL:      resp.PfpURL,
	}
	if acct, err := v.linkedAccount(ctx, resp.FID); err != nil {
		v.logger.Warn("linked account lookup failed", "fid", resp.FID, "error", err)
	} else {
		id.LinkedAccountID = acct
	}
	return id, nil
}

// classifyUpstream maps an attestation call failure onto the taxonomy.
func classifyUpstream(err error) error {
	switch {
	case client.IsSSRFError(err):
		return trust.Configuration(trust.ReasonMissingConfig, "farcaster.legacy_verify_url is not reachable under the outbound policy")
	case errors.Is(err, context.DeadlineExceeded):
		return trust.Transient(trust.ReasonUpstreamTimeout, err)
	case client.IsServerError(err):
		return trust.Transient(trust.ReasonUpstreamError, err)
	default:
		return trust.Invalid(ReasonAttestationInvalid)
	}
}
