package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAdjustMTU(t *testing.T) {
	tests := []struct {
		name     string
		mtu      uint32
		expected uint32
	}{
		{name: "below minimum", mtu: 1279, expected: 1252},
		{name: "at minimum", mtu: 1280, expected: 1252},
		{name: "just above minimum", mtu: 1281, expected: 1253},
		{name: "typical ethernet mtu", mtu: 1500, expected: 1472},
		{name: "at maximum", mtu: 1528, expected: 1500},
		{name: "above maximum", mtu: 1529, expected: 1500},
		{name: "far above maximum", mtu: 9000, expected: 1500},
		{name: "zero", mtu: 0, expected: 1252},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, AdjustMTU(tt.mtu))
		})
	}
}

func TestIsNAT64Prefix(t *testing.T) {
	tests := []struct {
		name     string
		prefix   string
		expected bool
	}{
		{name: "valid /96", prefix: "2001:db8:64::/96", expected: true},
		{name: "too wide", prefix: "2001:db8:64::/64", expected: false},
		{name: "too narrow", prefix: "2001:db8:64::/104", expected: false},
		{name: "ipv4 prefix", prefix: "192.0.2.0/24", expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := mustParsePrefix(t, tt.prefix)
			assert.Equal(t, tt.expected, IsNAT64Prefix(p))
		})
	}
}
