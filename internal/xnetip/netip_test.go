package xnetip

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLastAddr(t *testing.T) {
	tests := []struct {
		name     string
		prefix   string
		expected string
	}{
		{"synthetic ipv4 pool /29", "192.0.0.0/29", "192.0.0.7"},
		{"ipv4 tun host address", "192.0.0.4/32", "192.0.0.4"},
		{"nat64 /96", "64:ff9b::/96", "64:ff9b::ffff:ffff"},
		{"nat64 /96 at a non-zero-padded embed", "2001:db8:64::/96", "2001:db8:64::ffff:ffff"},
		{"uplink /64", "2001:db8:1:2::/64", "2001:db8:1:2:ffff:ffff:ffff:ffff"},
		{"whole ipv4 space", "0.0.0.0/0", "255.255.255.255"},
		{"whole ipv6 space", "::/0", "ffff:ffff:ffff:ffff:ffff:ffff:ffff:ffff"},
		{"ipv4 host prefix", "192.168.1.1/32", "192.168.1.1"},
		{"ipv6 host prefix", "2001:db8::1/128", "2001:db8::1"},
		{"just before the 64-bit split", "2001:db8:1234:5678::/63", "2001:db8:1234:5679:ffff:ffff:ffff:ffff"},
		{"just after the 64-bit split", "2001:db8:1234:5678:8000::/65", "2001:db8:1234:5678:ffff:ffff:ffff:ffff"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prefix, err := netip.ParsePrefix(tt.prefix)
			require.NoError(t, err)
			expected, err := netip.ParseAddr(tt.expected)
			require.NoError(t, err)

			assert.Equal(t, expected, LastAddr(prefix))
		})
	}
}

func TestLastAddrContainedInPrefix(t *testing.T) {
	prefixes := []string{
		"192.0.0.0/29",
		"64:ff9b::/96",
		"2001:db8::/32",
		"2001:db8:1234:5678::/64",
	}

	for _, p := range prefixes {
		t.Run(p, func(t *testing.T) {
			prefix := netip.MustParsePrefix(p)
			last := LastAddr(prefix)

			assert.True(t, prefix.Contains(last))
			assert.NotEqual(t, prefix.Addr(), last, "non-host prefix must not collapse to the network address")
		})
	}
}
