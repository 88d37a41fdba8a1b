// Package tracker holds the immutable record of a running CLAT instance.
package tracker

import (
	"fmt"
	"net/netip"
)

// Tracker is the authoritative snapshot of a running CLAT instance. It is
// value-only: every field is a plain Go value, never a handle the tracker
// itself must release. Kernel-side ownership of the map entries, filters,
// qdisc, daemon and TUN interface is released explicitly by the
// coordinator's Stop sequence, not by the Tracker.
type Tracker struct {
	// UplinkIface is the IPv6-only interface being CLATed.
	UplinkIface string
	// UplinkIfindex is the kernel interface index of UplinkIface.
	UplinkIfindex uint32
	// V4Iface is always "v4-" + UplinkIface.
	V4Iface string
	// V4Ifindex is the kernel interface index of the TUN device.
	V4Ifindex uint32
	// V4 is the translator's synthetic IPv4 source address.
	V4 netip.Addr
	// V6 is the translator's IPv6 source address inside Pfx96.
	V6 netip.Addr
	// Pfx96 is the NAT64 prefix; always a /96.
	Pfx96 netip.Prefix
	// DaemonPID is the process id of the running clatd.
	DaemonPID int
	// Cookie is the kernel socket cookie of the write socket, used as the
	// accounting-tag key.
	Cookie uint64
	// MTU is the post-adjustment MTU configured on the TUN interface.
	MTU uint32
}

// Equal reports whether two trackers describe the same running instance.
func (t Tracker) Equal(other Tracker) bool {
	return t.UplinkIface == other.UplinkIface &&
		t.UplinkIfindex == other.UplinkIfindex &&
		t.V4Iface == other.V4Iface &&
		t.V4Ifindex == other.V4Ifindex &&
		t.V4 == other.V4 &&
		t.V6 == other.V6 &&
		t.Pfx96 == other.Pfx96 &&
		t.DaemonPID == other.DaemonPID &&
		t.Cookie == other.Cookie &&
		t.MTU == other.MTU
}

// String renders a single diagnostic line describing the tracker.
func (t Tracker) String() string {
	return fmt.Sprintf(
		"%s (%d) -> %s (%d): v4=%s v6=%s pfx96=%s mtu=%d pid=%d cookie=%d",
		t.UplinkIface, t.UplinkIfindex,
		t.V4Iface, t.V4Ifindex,
		t.V4, t.V6, t.Pfx96,
		t.MTU, t.DaemonPID, t.Cookie,
	)
}
