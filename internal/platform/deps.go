// Package platform is the façade over every OS-visible primitive the
// coordinator needs: socket creation, interface lookup, TUN creation,
// anycast/packet-socket configuration, daemon spawn/kill, qdisc and filter
// management, and the netd collaborator. Apart from the BPF map handles
// (internal/bpfmap), the coordinator reaches the OS only through this
// façade; this boundary exists so that tests can inject an entirely in-memory
// implementation (see platformmock) instead of touching the kernel.
package platform

import (
	"context"
	"net/netip"
)

// InvalidIfindex is returned by InterfaceIndex when the named interface
// does not exist.
const InvalidIfindex uint32 = 0

// Dependencies enumerates every OS-visible primitive the coordinator
// drives during Start and Stop. It is realized as an interface rather than
// a struct hierarchy precisely so fault injection (platformmock.Mock) can
// stand in for it in tests without any kernel access.
type Dependencies interface {
	// Netd returns the configuration-daemon client used for interface
	// attribute changes.
	Netd() NetdClient

	// InterfaceIndex returns the kernel interface index for name, or
	// InvalidIfindex if the interface does not exist.
	InterfaceIndex(name string) (uint32, error)

	// CreateTunInterface creates a TUN interface named name and returns
	// its control file descriptor. It fails if the name already exists.
	CreateTunInterface(name string) (*OwnedFd, error)

	// SelectIPv4Address returns the first unused address in seed/prefixLen.
	SelectIPv4Address(seed string, prefixLen int) (netip.Addr, error)

	// GenerateIPv6Address returns the translator's IPv6 source address
	// inside pfx96::/96. The Linux implementation derives the IID from a
	// hash of its inputs; it is not checksum-neutral and is not checked for
	// collisions on the network.
	GenerateIPv6Address(iface string, v4 netip.Addr, pfx96 netip.Prefix, fwmark uint32) (netip.Addr, error)

	// DetectMTU probes path MTU toward ipv4Target embedded into pfx96.
	DetectMTU(pfx96 netip.Prefix, ipv4Target netip.Addr, fwmark uint32) (uint32, error)

	// OpenPacketSocket opens an AF_PACKET socket for reading IPv6 frames.
	OpenPacketSocket() (*OwnedFd, error)

	// OpenRawSocket6 opens an AF_INET6/SOCK_RAW socket with SO_MARK set
	// to fwmark.
	OpenRawSocket6(fwmark uint32) (*OwnedFd, error)

	// AddAnycastSetsockopt joins the IPv6 anycast address v6 on fd's
	// socket, scoped to ifindex.
	AddAnycastSetsockopt(fd *OwnedFd, v6 netip.Addr, ifindex uint32) error

	// ConfigurePacketSocket installs a classic BPF filter on fd matching
	// frames destined to v6. The Linux implementation does not filter or
	// bind on ifindex.
	ConfigurePacketSocket(fd *OwnedFd, v6 netip.Addr, ifindex uint32) error

	// StartClatd spawns the translator daemon. The daemon receives
	// duplicated copies of tunFd, readFd and writeFd; the caller may
	// (and does) close its own copies once this returns.
	StartClatd(tunFd, readFd, writeFd *OwnedFd, iface string, pfx96 netip.Prefix, v4, v6 netip.Addr) (int, error)

	// StopClatd terminates the daemon running as pid.
	StopClatd(pid int) error

	// GetSocketCookie returns the kernel socket cookie for fd.
	GetSocketCookie(fd *OwnedFd) (uint64, error)

	// IsEthernet reports whether iface uses an Ethernet L2 header.
	IsEthernet(iface string) (bool, error)

	// TCQdiscAddClsact attaches a clsact qdisc to ifindex. Not assumed
	// idempotent by the coordinator: a failure may leave no qdisc at all.
	TCQdiscAddClsact(ifindex uint32) error

	// TCFilterAddBPF attaches a direct-action BPF classifier at prio on
	// ifindex, matching proto, loaded from the object pinned at
	// pinnedPath.
	TCFilterAddBPF(ifindex uint32, ingress bool, prio uint16, proto uint16, pinnedPath string) error

	// TCFilterDel detaches the filter installed by TCFilterAddBPF.
	TCFilterDel(ifindex uint32, ingress bool, prio uint16, proto uint16) error
}

// NetdClient is the configuration-daemon collaborator used only for
// interface attribute changes; its RPC implementation is out of this
// coordinator's scope (spec §1), so only the three calls the start
// sequence actually issues are exposed here.
type NetdClient interface {
	InterfaceSetEnableIPv6(ctx context.Context, iface string, enable bool) error
	InterfaceSetMTU(ctx context.Context, iface string, mtu uint32) error
	InterfaceSetCfg(ctx context.Context, cfg InterfaceConfiguration) error
}

// InterfaceFlag is one of the link flags netd can set on an interface.
type InterfaceFlag string

// IfStateUp is the only flag the CLAT start sequence ever sets.
const IfStateUp InterfaceFlag = "up"

// InterfaceConfiguration is the parcel netd's InterfaceSetCfg expects.
type InterfaceConfiguration struct {
	IfName    string
	IPv4Addr  netip.Addr
	PrefixLen int
	HwAddr    string
	Flags     []InterfaceFlag
}
