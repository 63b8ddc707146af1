// Package realip resolves the client address behind trusted reverse proxies.
package realip

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// TrustedProxies manages IP-based trusted proxy detection.
type TrustedProxies struct {
	prefixes []netip.Prefix
}

// NewTrustedProxies creates a TrustedProxies from CIDRs or bare IPs.
// Invalid entries are skipped.
func NewTrustedProxies(cidrs []string) *TrustedProxies {
	tp := &TrustedProxies{}
	for _, s := range cidrs {
		s = strings.TrimSpace(s)
		if p, err := netip.ParsePrefix(s); err == nil {
			tp.prefixes = append(tp.prefixes, p.Masked())
			continue
		}
		if a, err := netip.ParseAddr(s); err == nil {
			a = a.Unmap()
			tp.prefixes = append(tp.prefixes, netip.PrefixFrom(a, a.BitLen()))
		}
	}
	return tp
}

// IsTrusted reports whether addr falls inside any trusted range. A nil
// receiver trusts nothing.
func (tp *TrustedProxies) IsTrusted(addr netip.Addr) bool {
	if tp == nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range tp.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// GetClientIP returns the client address. X-Forwarded-For is honored only
// when the direct peer is trusted; the chain is walked right to left and the
// first untrusted hop wins, so a client cannot spoof itself by prepending.
func (tp *TrustedProxies) GetClientIP(r *http.Request) (netip.Addr, bool) {
	direct, ok := parseRemoteAddr(r.RemoteAddr)
	if !ok || !tp.IsTrusted(direct) {
		return direct, ok
	}

	xff := r.Header.Values("X-Forwarded-For")
	var hops []string
	for _, h := range xff {
		hops = append(hops, strings.Split(h, ",")...)
	}
	for i := len(hops) - 1; i >= 0; i-- {
		a, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
		if err != nil {
			break
		}
		a = a.Unmap()
		if !tp.IsTrusted(a) {
			return a, true
		}
		direct = a
	}
	return direct, true
}

// GetClientIPString returns the client IP as a string for logging/rate limiting.
func (tp *TrustedProxies) GetClientIPString(r *http.Request) string {
	a, ok := tp.GetClientIP(r)
	if !ok {
		return "unknown"
	}
	return a.String()
}

func parseRemoteAddr(addr string) (netip.Addr, bool) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	a, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false
	}
	return a.Unmap(), true
}
