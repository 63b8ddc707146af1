package farcaster

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/FlowBondTech/flowb-sub000/internal/components/identity"
	"github.com/FlowBondTech/flowb-sub000/internal/platform/cache"
	"github.com/FlowBondTech/flowb-sub000/internal/platform/store"
)

// Profile is the public profile of a FID.
type Profile struct {
	FID         uint64 `json:"fid"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	PfpURL      string `json:"pfp_url"`
}

type bulkUsersResponse struct {
	Users []Profile `json:"users"`
}

var errProfileNotFound = errors.New("profile not found")

// enrich fills profile fields and the linked account. Both lookups are
// best effort and run concurrently.
func (v *Verifier) enrich(ctx context.Context, id *identity.Identity) {
	var (
		profile *Profile
		linked  string
		g       errgroup.Group
	)
	g.Go(func() error {
		p, err := v.profile(ctx, id.FID)
		if err != nil {
			v.logger.Warn("farcaster profile lookup failed", "fid", id.FID, "error", err)
			return nil
		}
		profile = p
		return nil
	})
	g.Go(func() error {
		acct, err := v.linkedAccount(ctx, id.FID)
		if err != nil {
			v.logger.Warn("linked account lookup failed", "fid", id.FID, "error", err)
			return nil
		}
		linked = acct
		return nil
	})
	_ = g.Wait()

	if profile != nil {
		id.Username = profile.Username
		id.DisplayName = profile.DisplayName
		id.PfpURL = profile.PfpURL
	}
	id.LinkedAccountID = linked
}

func (v *Verifier) profile(ctx context.Context, fid uint64) (*Profile, error) {
	if v.settings.ProfileAPIURL == "" {
		return nil, nil
	}
	key := "farcaster:profile:" + strconv.FormatUint(fid, 10)
	if v.cache != nil {
		var p Profile
		if err := cache.GetJSON(ctx, v.cache, key, &p); err == nil {
			return &p, nil
		}
	}

	u := strings.TrimSuffix(v.settings.ProfileAPIURL, "/") + "/v2/farcaster/user/bulk?fids=" + url.QueryEscape(strconv.FormatUint(fid, 10))
	header := http.Header{}
	if v.settings.ProfileAPIKey != "" {
		header.Set("x-api-key", v.settings.ProfileAPIKey)
	}
	var resp bulkUsersResponse
	if err := v.client.GetJSON(ctx, u, header, &resp); err != nil {
		return nil, fmt.Errorf("profile api: %w", err)
	}
	for i := range resp.Users {
		if resp.Users[i].FID == fid {
			p := resp.Users[i]
			if v.cache != nil {
				_ = cache.SetJSON(ctx, v.cache, key, &p, cache.TTLProfile)
			}
			return &p, nil
		}
	}
	return nil, errProfileNotFound
}

func (v *Verifier) linkedAccount(ctx context.Context, fid uint64) (string, error) {
	if v.links == nil {
		return "", nil
	}
	acct, err := v.links.LinkedAccount(ctx, string(identity.PlatformFarcaster), strconv.FormatUint(fid, 10))
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	return acct, err
}
