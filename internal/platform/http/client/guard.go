package client

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strings"
)

// Resolver resolves hostnames. Tests substitute a fixed or failing one.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// blockedPrefixes are never dialed in strict mode, on top of the
// loopback, private, link-local, multicast and unspecified classes.
var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("192.0.0.0/24"),
	netip.MustParsePrefix("198.18.0.0/15"),
	netip.MustParsePrefix("64:ff9b:1::/48"),
}

// allowedAddr reports whether a is publicly routable.
func allowedAddr(a netip.Addr) bool {
	a = a.Unmap()
	if !a.IsValid() || a.IsLoopback() || a.IsPrivate() || a.IsUnspecified() ||
		a.IsLinkLocalUnicast() || a.IsLinkLocalMulticast() || a.IsMulticast() {
		return false
	}
	for _, p := range blockedPrefixes {
		if p.Contains(a) {
			return false
		}
	}
	return true
}

func isLocalName(host string) bool {
	h := strings.TrimSuffix(strings.ToLower(host), ".")
	return h == "localhost" || h == "localhost.localdomain" || strings.HasSuffix(h, ".localhost")
}

// guard is the strict-mode check. It runs before the request and again at
// dial time, so a DNS answer that changes in between is still caught.
func (c *Client) guard(ctx context.Context, host string) error {
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	if isLocalName(host) {
		return fmt.Errorf("%w: %s", ErrSSRFBlocked, host)
	}
	if a, err := netip.ParseAddr(host); err == nil {
		if !allowedAddr(a) {
			return fmt.Errorf("%w: address %s", ErrSSRFBlocked, a)
		}
		return nil
	}

	addrs, err := c.resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrHostUnresolvable, host, err)
	}
	if len(addrs) == 0 {
		return fmt.Errorf("%w: %s: no addresses", ErrHostUnresolvable, host)
	}
	for _, ia := range addrs {
		a, ok := netip.AddrFromSlice(ia.IP)
		if !ok || !allowedAddr(a) {
			return fmt.Errorf("%w: %s resolves to %s", ErrSSRFBlocked, host, ia.IP)
		}
	}
	return nil
}

func (c *Client) guardAddr(ctx context.Context, addr string) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	return c.guard(ctx, host)
}
