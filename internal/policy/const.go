// Package policy holds the pure, side-effect-free rules that shape how the
// CLAT coordinator configures the kernel: firewall-mark encoding and MTU
// normalization.
package policy

import "net/netip"

// AIDClat is the reserved UID under which clatd's own traffic is accounted.
const AIDClat = 1029

// MTUDelta is the difference between the IPv6 overhead (40B header + 8B
// fragment header) and the IPv4 header (20B) that the translator strips.
const MTUDelta = 28

// IPv6MinMTU is the smallest MTU the IPv6 link layer guarantees.
const IPv6MinMTU = 1280

// ClatMaxMTU is the largest post-probe MTU accepted before clamping
// (1500 IPv4 MTU + 28B of IPv6/fragment overhead).
const ClatMaxMTU = 1500 + MTUDelta

// PrioClat is the tc filter priority used for both the ingress and egress
// CLAT classifiers.
const PrioClat = 4

// InitV4Addr is the seed address of the pool CLAT selects its synthetic
// IPv4 source from (RFC 7335).
const InitV4Addr = "192.0.0.4"

// InitV4AddrPrefix is the prefix length of the synthetic IPv4 pool.
const InitV4AddrPrefix = 29

// MTUProbeTarget is the IPv4 address embedded into the NAT64 prefix when
// probing path MTU.
const MTUProbeTarget = "8.8.8.8"

// TunIfacePrefix is prepended to the uplink interface name to derive the
// TUN interface name.
const TunIfacePrefix = "v4-"

// TunIfaceName derives the TUN interface name for an uplink interface.
func TunIfaceName(uplinkIface string) string {
	return TunIfacePrefix + uplinkIface
}

// Pinned BPF object paths, bit-exact per the control-plane ABI.
const (
	PinnedIngress6Map     = "/sys/fs/bpf/net_shared/map_clatd_clat_ingress6_map"
	PinnedEgress4Map      = "/sys/fs/bpf/net_shared/map_clatd_clat_egress4_map"
	PinnedCookieTagMap    = "/sys/fs/bpf/netd_shared/map_netd_cookie_tag_map"
	PinnedEgress4Prog     = "/sys/fs/bpf/net_shared/prog_clatd_schedcls_egress4_clat_rawip"
	PinnedIngress6ProgEth = "/sys/fs/bpf/net_shared/prog_clatd_schedcls_ingress6_clat_ether"
	PinnedIngress6ProgRaw = "/sys/fs/bpf/net_shared/prog_clatd_schedcls_ingress6_clat_rawip"
)

// permissionNetwork and permissionSystem are the two permission bits ORed
// into every fwmark the coordinator creates; CLAT sockets always run with
// both network and system permission.
const (
	permissionNetwork = 1 << 0
	permissionSystem  = 1 << 1
)

const (
	explicitlySelectedBit = 1 << 16
	protectedFromVPNBit   = 1 << 17
	permissionShift       = 18
)

// Fwmark encodes a netId and the CLAT-fixed flag bits into a firewall mark:
//
//	bits 0..15  netId
//	bit  16     explicitlySelected
//	bit  17     protectedFromVpn
//	bits 18..19 permission (NETWORK | SYSTEM)
func Fwmark(netID uint32) uint32 {
	mark := netID & 0xFFFF
	mark |= explicitlySelectedBit
	mark |= protectedFromVPNBit
	mark |= uint32(permissionNetwork|permissionSystem) << permissionShift
	return mark
}

// AdjustMTU clamps a probed MTU to [IPv6MinMTU, ClatMaxMTU] and then
// subtracts MTUDelta to obtain the MTU clatd should configure on the IPv4
// TUN interface.
func AdjustMTU(mtu uint32) uint32 {
	if mtu < IPv6MinMTU {
		mtu = IPv6MinMTU
	}
	if mtu > ClatMaxMTU {
		mtu = ClatMaxMTU
	}
	return mtu - MTUDelta
}

// IsNAT64Prefix reports whether prefix is a valid /96, the only prefix
// length the translator can embed an IPv4 address into.
func IsNAT64Prefix(prefix netip.Prefix) bool {
	return prefix.IsValid() && prefix.Addr().Is6() && prefix.Bits() == 96
}
