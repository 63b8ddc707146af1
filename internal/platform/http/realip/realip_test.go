package realip

import (
	"net/http/httptest"
	"net/netip"
	"testing"
)

func TestTrustedProxies_IsTrusted(t *testing.T) {
	tp := NewTrustedProxies([]string{"127.0.0.0/8", "::1/128", "10.0.0.0/8", "192.0.2.7", "not-an-ip"})

	tests := []struct {
		ip      string
		trusted bool
	}{
		{"127.0.0.1", true},
		{"10.255.255.255", true},
		{"192.0.2.7", true},
		{"192.0.2.8", false},
		{"8.8.8.8", false},
		{"::1", true},
		{"::2", false},
		{"::ffff:10.0.0.1", true},
	}

	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			if got := tp.IsTrusted(netip.MustParseAddr(tt.ip)); got != tt.trusted {
				t.Errorf("IsTrusted(%s) = %v, want %v", tt.ip, got, tt.trusted)
			}
		})
	}
}

func TestTrustedProxies_GetClientIPString(t *testing.T) {
	tp := NewTrustedProxies([]string{"127.0.0.0/8", "10.0.0.0/8"})

	tests := []struct {
		name   string
		remote string
		xff    string
		want   string
	}{
		{"direct untrusted ignores xff", "192.168.1.100:12345", "8.8.8.8", "192.168.1.100"},
		{"trusted peer uses xff", "127.0.0.1:12345", "8.8.8.8", "8.8.8.8"},
		{"skips trusted hops from the right", "127.0.0.1:1", "8.8.8.8, 10.0.0.1", "8.8.8.8"},
		{"spoofed left entry ignored", "127.0.0.1:1", "1.1.1.1, 9.9.9.9", "9.9.9.9"},
		{"trusted peer without xff", "127.0.0.1:1", "", "127.0.0.1"},
		{"garbage hop stops walk", "127.0.0.1:1", "garbage", "127.0.0.1"},
		{"ipv6 remote", "[2001:db8::1]:443", "", "2001:db8::1"},
		{"unparseable remote", "nonsense", "", "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remote
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if got := tp.GetClientIPString(req); got != tt.want {
				t.Errorf("GetClientIPString = %q, want %q", got, tt.want)
			}
		})
	}
}
