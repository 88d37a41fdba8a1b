package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFwmark(t *testing.T) {
	tests := []struct {
		name     string
		netID    uint32
		expected uint32
	}{
		{name: "zero net id", netID: 0, expected: 0x000F0000},
		{name: "small net id", netID: 0x1234, expected: 0x000F1234},
		{name: "upper bits discarded", netID: 0xABCD1234, expected: 0x000F1234},
		{name: "max 16-bit net id", netID: 0xFFFF, expected: 0x000FFFFF},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Fwmark(tt.netID))
		})
	}
}
