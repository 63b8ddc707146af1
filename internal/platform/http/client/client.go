// Package client is the outbound HTTP client for third-party calls: the
// Quick Auth JWKS, the profile API, the legacy attestation service, the
// chain RPC endpoint and the notification webhook.
//
// In strict SSRF mode it refuses non-public destinations, both before the
// request and at dial time. Redirects are followed by hand: same host only,
// never from https to http, GET and HEAD only.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/FlowBondTech/flowb-sub000/internal/platform/config"
)

var (
	ErrSSRFBlocked         = errors.New("request blocked by SSRF protection")
	ErrHostUnresolvable    = errors.New("host could not be resolved")
	ErrInvalidURL          = errors.New("invalid URL")
	ErrResponseTooLarge    = errors.New("response body too large")
	ErrTooManyRedirects    = errors.New("too many redirects")
	ErrRedirectBlocked     = errors.New("redirect blocked by policy")
	ErrRedirectNotSameHost = errors.New("redirect to different host blocked")
	ErrRedirectDowngrade   = errors.New("redirect from https to http blocked")
)

// StatusError is a non-2xx answer from GetJSON or PostJSON.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string { return fmt.Sprintf("unexpected status %d", e.StatusCode) }

// forwardedHeaders survive a same-host redirect. Authorization and cookies
// do not.
var forwardedHeaders = []string{"User-Agent", "Accept", "X-Api-Key"}

const userAgent = "flowbd/1"

// Client wraps an *http.Client with the outbound policy.
type Client struct {
	cfg       *config.OutboundHTTPConfig
	strict    bool
	resolver  Resolver
	transport *http.Transport
	hc        *http.Client
}

// New builds a client. A nil cfg uses the strict preset. Proxy environment
// variables are ignored.
func New(cfg *config.OutboundHTTPConfig) *Client {
	if cfg == nil {
		preset := config.StrictConfig().OutboundHTTP
		cfg = &preset
	}
	c := &Client{cfg: cfg, strict: cfg.SSRFMode == "strict", resolver: net.DefaultResolver}

	dialer := &net.Dialer{Timeout: time.Duration(cfg.ConnectTimeoutMS) * time.Millisecond}
	c.transport = &http.Transport{
		Proxy: nil,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			if c.strict {
				if err := c.guardAddr(ctx, addr); err != nil {
					return nil, err
				}
			}
			return dialer.DialContext(ctx, network, addr)
		},
		TLSClientConfig: &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify},
		MaxIdleConns:    10,
		IdleConnTimeout: 30 * time.Second,
	}
	c.hc = &http.Client{
		Transport: c.transport,
		Timeout:   time.Duration(cfg.TimeoutMS) * time.Millisecond,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return c
}

// SetResolver replaces the DNS resolver.
func (c *Client) SetResolver(r Resolver) {
	if r == nil {
		r = net.DefaultResolver
	}
	c.resolver = r
}

// StandardClient exposes the guarded transport as a plain *http.Client for
// libraries that want one (the chain RPC dialer). It refuses all redirects.
func (c *Client) StandardClient() *http.Client {
	return &http.Client{
		Transport: c.transport,
		Timeout:   c.hc.Timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return ErrRedirectBlocked
		},
	}
}

// Do sends req under the outbound policy.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if c.strict {
		if err := c.guard(req.Context(), req.URL.Hostname()); err != nil {
			return nil, err
		}
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", userAgent)
	}

	limit := c.cfg.MaxRedirects
	if limit <= 0 {
		limit = 1
	}
	for hops := 0; ; hops++ {
		resp, err := c.hc.Do(req)
		if err != nil {
			return nil, err
		}
		if !isRedirect(resp.StatusCode) {
			return resp, nil
		}
		resp.Body.Close()
		if req.Method != http.MethodGet && req.Method != http.MethodHead {
			return nil, fmt.Errorf("%w: %s answered with %d", ErrRedirectBlocked, req.Method, resp.StatusCode)
		}
		if hops >= limit {
			return nil, fmt.Errorf("%w: limit is %d", ErrTooManyRedirects, limit)
		}
		if req, err = c.redirectRequest(req, resp.Header.Get("Location")); err != nil {
			return nil, err
		}
	}
}

func (c *Client) redirectRequest(prev *http.Request, location string) (*http.Request, error) {
	if location == "" {
		return nil, fmt.Errorf("%w: missing Location", ErrRedirectBlocked)
	}
	ref, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("%w: bad Location: %v", ErrRedirectBlocked, err)
	}
	next := prev.URL.ResolveReference(ref)
	if prev.URL.Scheme == "https" && next.Scheme != "https" {
		return nil, fmt.Errorf("%w: to %s", ErrRedirectDowngrade, next.Scheme)
	}
	if !isSameHost(prev.URL, next) {
		return nil, fmt.Errorf("%w: %s to %s", ErrRedirectNotSameHost, prev.URL.Host, next.Host)
	}
	if c.strict {
		if err := c.guard(prev.Context(), next.Hostname()); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(prev.Context(), prev.Method, next.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedirectBlocked, err)
	}
	for _, h := range forwardedHeaders {
		if v := prev.Header.Get(h); v != "" {
			req.Header.Set(h, v)
		}
	}
	return req, nil
}

// isSameHost compares hostnames case-insensitively and ports with scheme
// defaults filled in.
func isSameHost(a, b *url.URL) bool {
	return strings.EqualFold(a.Hostname(), b.Hostname()) && portOf(a) == portOf(b)
}

func portOf(u *url.URL) string {
	if p := u.Port(); p != "" {
		return p
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		return "443"
	case "http":
		return "80"
	}
	return ""
}

func isRedirect(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// Get sends a GET to rawURL.
func (c *Client) Get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := newRequest(ctx, http.MethodGet, rawURL, nil, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

// GetJSON decodes a 2xx JSON answer into out. Other statuses yield
// *StatusError.
func (c *Client) GetJSON(ctx context.Context, rawURL string, header http.Header, out any) error {
	req, err := newRequest(ctx, http.MethodGet, rawURL, header, nil)
	if err != nil {
		return err
	}
	return c.roundTripJSON(req, out)
}

// PostJSON sends body as JSON and decodes a 2xx answer into out, which may
// be nil.
func (c *Client) PostJSON(ctx context.Context, rawURL string, header http.Header, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := newRequest(ctx, http.MethodPost, rawURL, header, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.roundTripJSON(req, out)
}

func newRequest(ctx context.Context, method, rawURL string, header http.Header, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	for k, vs := range header {
		req.Header[k] = vs
	}
	return req, nil
}

func (c *Client) roundTripJSON(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxResponseBytes+1))
	if err != nil {
		return err
	}
	if int64(len(body)) > c.cfg.MaxResponseBytes {
		return ErrResponseTooLarge
	}
	if resp.StatusCode/100 != 2 {
		return &StatusError{StatusCode: resp.StatusCode, Body: body}
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, out)
}

// IsSSRFError reports a destination refused by the strict policy.
func IsSSRFError(err error) bool {
	return errors.Is(err, ErrSSRFBlocked) || errors.Is(err, ErrHostUnresolvable)
}

// IsRedirectError reports a redirect the policy refused.
func IsRedirectError(err error) bool {
	for _, target := range []error{ErrRedirectBlocked, ErrRedirectNotSameHost, ErrRedirectDowngrade, ErrTooManyRedirects} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsServerError reports an upstream fault worth retrying: a 5xx
// StatusError, or a transport failure that is not a policy refusal.
func IsServerError(err error) bool {
	if err == nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= 500
	}
	return !IsSSRFError(err) && !IsRedirectError(err)
}
