package tracker

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
)

func sampleTracker() Tracker {
	return Tracker{
		UplinkIface:   "wlan0",
		UplinkIfindex: 3,
		V4Iface:       "v4-wlan0",
		V4Ifindex:     9,
		V4:            netip.MustParseAddr("192.0.0.4"),
		V6:            netip.MustParseAddr("2001:db8:64::1"),
		Pfx96:         netip.MustParsePrefix("2001:db8:64::/96"),
		DaemonPID:     1234,
		Cookie:        42,
		MTU:           1472,
	}
}

func TestTrackerEqual(t *testing.T) {
	a := sampleTracker()
	b := sampleTracker()
	assert.True(t, a.Equal(b))

	b.Cookie = 43
	assert.False(t, a.Equal(b))
}

func TestTrackerString(t *testing.T) {
	s := sampleTracker().String()
	assert.Contains(t, s, "wlan0")
	assert.Contains(t, s, "v4-wlan0")
	assert.Contains(t, s, "192.0.0.4")
	assert.Contains(t, s, "2001:db8:64::1")
}

func TestV4IfaceNamingInvariant(t *testing.T) {
	tr := sampleTracker()
	assert.Equal(t, "v4-"+tr.UplinkIface, tr.V4Iface)
}
