//go:build linux

package platform

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"os/exec"
	"syscall"
	"unsafe"

	"github.com/cilium/ebpf"
	"github.com/vishvananda/netlink"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/464xlat/clatd-coordinator/internal/xnetip"
)

type ifReq struct {
	name  [unix.IFNAMSIZ]byte
	flags uint16
	_     [22]byte
}

var _ Dependencies = (*Linux)(nil)

// Linux is the production Dependencies implementation, grounded on
// golang.org/x/sys/unix for raw syscalls with no netlink-library
// equivalent and github.com/vishvananda/netlink for everything that is
// link/qdisc/filter shaped.
type Linux struct {
	netd NetdClient
	log  *zap.SugaredLogger
}

// NewLinux builds the production façade. netd is injected rather than
// dialed here so callers control its lifecycle independently of the
// coordinator's.
func NewLinux(netd NetdClient, log *zap.SugaredLogger) *Linux {
	return &Linux{netd: netd, log: log}
}

func (l *Linux) Netd() NetdClient { return l.netd }

func (l *Linux) InterfaceIndex(name string) (uint32, error) {
	link, err := netlink.LinkByName(name)
	if err != nil {
		if _, ok := err.(netlink.LinkNotFoundError); ok { //nolint:errorlint // netlink has no sentinel for this
			return InvalidIfindex, nil
		}
		return InvalidIfindex, fmt.Errorf("looking up interface %q: %w", name, err)
	}
	return uint32(link.Attrs().Index), nil
}

const tunDevicePath = "/dev/net/tun"

// CreateTunInterface opens /dev/net/tun and issues TUNSETIFF with
// IFF_TUN|IFF_NO_PI, failing if name already exists as a link.
func (l *Linux) CreateTunInterface(name string) (*OwnedFd, error) {
	if ifindex, err := l.InterfaceIndex(name); err != nil {
		return nil, err
	} else if ifindex != InvalidIfindex {
		return nil, fmt.Errorf("creating tun interface %q: already exists", name)
	}

	fd, err := unix.Open(tunDevicePath, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", tunDevicePath, err)
	}

	var ifr ifReq
	copy(ifr.name[:], name)
	ifr.flags = unix.IFF_TUN | unix.IFF_NO_PI

	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(unix.TUNSETIFF), uintptr(unsafe.Pointer(&ifr))); errno != 0 {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("TUNSETIFF on %q: %w", name, errno)
	}

	return AdoptFd(fd), nil
}

func (l *Linux) SelectIPv4Address(seed string, prefixLen int) (netip.Addr, error) {
	base, err := netip.ParseAddr(seed)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("parsing seed address %q: %w", seed, err)
	}
	prefix := netip.PrefixFrom(base, prefixLen).Masked()

	used := map[netip.Addr]bool{}
	links, err := netlink.LinkList()
	if err != nil {
		return netip.Addr{}, fmt.Errorf("listing links: %w", err)
	}
	for _, link := range links {
		addrs, err := netlink.AddrList(link, netlink.FAMILY_V4)
		if err != nil {
			continue
		}
		for _, a := range addrs {
			if addr, ok := netip.AddrFromSlice(a.IP.To4()); ok {
				used[addr] = true
			}
		}
	}

	last := xnetip.LastAddr(prefix)
	for addr := prefix.Addr(); ; addr = addr.Next() {
		if !used[addr] {
			return addr, nil
		}
		if addr == last {
			break
		}
	}
	return netip.Addr{}, fmt.Errorf("no free address in %s", prefix)
}

// GenerateIPv6Address derives a deterministic interface identifier inside
// pfx96::/96. The real translator uses a checksum-neutral derivation
// (spec.md's explicit non-goal: "supplying the translation algorithm"); the
// coordinator only needs *some* stable, collision-resistant address to bind
// its anycast socket to before clatd takes over, so it hashes the inputs
// that make the binding unique per interface/instance.
func (l *Linux) GenerateIPv6Address(iface string, v4 netip.Addr, pfx96 netip.Prefix, fwmark uint32) (netip.Addr, error) {
	if !pfx96.IsValid() || pfx96.Bits() != 96 {
		return netip.Addr{}, fmt.Errorf("nat64 prefix %s is not a /96", pfx96)
	}

	var iid [4]byte
	h := fnv32a(iface, v4, fwmark)
	binary.BigEndian.PutUint32(iid[:], h)

	pfxBytes := pfx96.Addr().As16()
	var out [16]byte
	copy(out[:12], pfxBytes[:12])
	copy(out[12:], iid[:])
	return netip.AddrFrom16(out), nil
}

func fnv32a(iface string, v4 netip.Addr, fwmark uint32) uint32 {
	const (
		offsetBasis = 2166136261
		prime       = 16777619
	)
	h := uint32(offsetBasis)
	mix := func(b byte) {
		h ^= uint32(b)
		h *= prime
	}
	for i := 0; i < len(iface); i++ {
		mix(iface[i])
	}
	for _, b := range v4.AsSlice() {
		mix(b)
	}
	var fm [4]byte
	binary.BigEndian.PutUint32(fm[:], fwmark)
	for _, b := range fm {
		mix(b)
	}
	return h
}

// DetectMTU probes path MTU toward ipv4Target synthesized into pfx96 by
// connecting a marked UDP socket and reading back IPV6_MTU.
func (l *Linux) DetectMTU(pfx96 netip.Prefix, ipv4Target netip.Addr, fwmark uint32) (uint32, error) {
	target, err := synthesize(pfx96, ipv4Target)
	if err != nil {
		return 0, err
	}

	fd, err := unix.Socket(unix.AF_INET6, unix.SOCK_DGRAM, unix.IPPROTO_UDP)
	if err != nil {
		return 0, fmt.Errorf("opening mtu-probe socket: %w", err)
	}
	defer unix.Close(fd)

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_MARK, int(fwmark)); err != nil {
		return 0, fmt.Errorf("setting SO_MARK on mtu-probe socket: %w", err)
	}

	sa := &unix.SockaddrInet6{Port: 53, Addr: target.As16()}
	if err := unix.Connect(fd, sa); err != nil {
		return 0, fmt.Errorf("connecting mtu-probe socket: %w", err)
	}

	mtu, err := unix.GetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_MTU)
	if err != nil {
		return 0, fmt.Errorf("reading IPV6_MTU: %w", err)
	}
	return uint32(mtu), nil
}

func synthesize(pfx96 netip.Prefix, ipv4 netip.Addr) (netip.Addr, error) {
	if !ipv4.Is4() {
		return netip.Addr{}, fmt.Errorf("synthesize target: %s is not IPv4", ipv4)
	}
	pfxBytes := pfx96.Addr().As16()
	var out [16]byte
	copy(out[:12], pfxBytes[:12])
	copy(out[12:], ipv4.AsSlice())
	return netip.AddrFrom16(out), nil
}

func (l *Linux) OpenPacketSocket() (*OwnedFd, error) {
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(htons(unix.ETH_P_IPV6)))
	if err != nil {
		return nil, fmt.Errorf("opening packet socket: %w", err)
	}
	return AdoptFd(fd), nil
}

func (l *Linux) OpenRawSocket6(fwmark uint32) (*OwnedFd, error) {
	fd, err := unix.Socket(unix.AF_INET6, unix.SOCK_RAW, unix.IPPROTO_RAW)
	if err != nil {
		return nil, fmt.Errorf("opening raw ipv6 socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_MARK, int(fwmark)); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("setting SO_MARK: %w", err)
	}
	return AdoptFd(fd), nil
}

func (l *Linux) AddAnycastSetsockopt(fd *OwnedFd, v6 netip.Addr, ifindex uint32) error {
	mreq := unix.IPv6Mreq{Multiaddr: v6.As16(), Interface: ifindex}
	if err := unix.SetsockoptIPv6Mreq(fd.FD(), unix.IPPROTO_IPV6, unix.IPV6_JOIN_ANYCAST, &mreq); err != nil {
		return fmt.Errorf("joining anycast address %s on ifindex %d: %w", v6, ifindex, err)
	}
	return nil
}

func (l *Linux) ConfigurePacketSocket(fd *OwnedFd, v6 netip.Addr, ifindex uint32) error {
	prog := buildV6DestFilter(v6)
	if err := unix.SetsockoptSockFprog(fd.FD(), unix.SOL_SOCKET, unix.SO_ATTACH_FILTER, prog); err != nil {
		return fmt.Errorf("attaching packet filter for %s: %w", v6, err)
	}
	return nil
}

// buildV6DestFilter builds a classic BPF program that matches IPv6 frames
// whose destination address equals v6, used to restrict the packet socket
// clatd reads translation candidates from.
func buildV6DestFilter(v6 netip.Addr) *unix.SockFprog {
	addr := v6.As16()
	const ethHdrLen = 14
	const v6DstOffset = ethHdrLen + 24 // IPv6 header destination address offset

	insns := []unix.SockFilter{
		{Code: unix.BPF_LD | unix.BPF_H | unix.BPF_ABS, K: 12}, // ethertype
	}
	for i := 0; i < 16; i += 4 {
		word := binary.BigEndian.Uint32(addr[i : i+4])
		insns = append(insns,
			unix.SockFilter{Code: unix.BPF_LD | unix.BPF_W | unix.BPF_ABS, K: uint32(v6DstOffset + i)},
			unix.SockFilter{Code: unix.BPF_JMP | unix.BPF_JEQ | unix.BPF_K, K: word, Jt: 0, Jf: uint8(7 - i/2)},
		)
	}
	insns = append(insns,
		unix.SockFilter{Code: unix.BPF_RET | unix.BPF_K, K: 0xFFFFFFFF},
		unix.SockFilter{Code: unix.BPF_RET | unix.BPF_K, K: 0},
	)

	return &unix.SockFprog{
		Len:    uint16(len(insns)),
		Filter: &insns[0],
	}
}

func (l *Linux) StartClatd(tunFd, readFd, writeFd *OwnedFd, iface string, pfx96 netip.Prefix, v4, v6 netip.Addr) (int, error) {
	cmd := exec.Command("/system/bin/clatd",
		"-i", iface,
		"-p", pfx96.String(),
		"-4", v4.String(),
		"-6", v6.String(),
	)
	cmd.ExtraFiles = []*os.File{
		os.NewFile(uintptr(tunFd.FD()), "tun"),
		os.NewFile(uintptr(readFd.FD()), "read"),
		os.NewFile(uintptr(writeFd.FD()), "write"),
	}
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("starting clatd: %w", err)
	}
	return cmd.Process.Pid, nil
}

func (l *Linux) StopClatd(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding clatd process %d: %w", pid, err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signaling clatd process %d: %w", pid, err)
	}
	return nil
}

func (l *Linux) GetSocketCookie(fd *OwnedFd) (uint64, error) {
	cookie, err := unix.GetsockoptUint64(fd.FD(), unix.SOL_SOCKET, unix.SO_COOKIE)
	if err != nil {
		return 0, fmt.Errorf("reading socket cookie: %w", err)
	}
	return cookie, nil
}

func (l *Linux) IsEthernet(iface string) (bool, error) {
	link, err := netlink.LinkByName(iface)
	if err != nil {
		return false, fmt.Errorf("looking up interface %q: %w", iface, err)
	}
	return link.Attrs().EncapType == "ether", nil
}

// TCQdiscAddClsact adds a clsact qdisc to ifindex. A clsact qdisc already
// present (EEXIST) is not an error: its lifetime is tied to the interface,
// not to any one CLAT instance, so a previous instance (or a previous,
// unterminated Start) may have left one in place.
func (l *Linux) TCQdiscAddClsact(ifindex uint32) error {
	qdisc := &netlink.GenericQdisc{
		QdiscAttrs: netlink.QdiscAttrs{
			LinkIndex: int(ifindex),
			Handle:    netlink.MakeHandle(0xffff, 0),
			Parent:    netlink.HANDLE_CLSACT,
		},
		QdiscType: "clsact",
	}
	if err := netlink.QdiscAdd(qdisc); err != nil {
		if errors.Is(err, syscall.EEXIST) || os.IsExist(err) {
			return nil
		}
		return fmt.Errorf("adding clsact qdisc on ifindex %d: %w", ifindex, err)
	}
	return nil
}

func (l *Linux) TCFilterAddBPF(ifindex uint32, ingress bool, prio uint16, proto uint16, pinnedPath string) error {
	prog, err := ebpf.LoadPinnedProgram(pinnedPath, nil)
	if err != nil {
		return fmt.Errorf("loading pinned program %s: %w", pinnedPath, err)
	}
	defer prog.Close()

	parent := uint32(netlink.HANDLE_MIN_EGRESS)
	if ingress {
		parent = netlink.HANDLE_MIN_INGRESS
	}

	filter := &netlink.BpfFilter{
		FilterAttrs: netlink.FilterAttrs{
			LinkIndex: int(ifindex),
			Parent:    parent,
			Handle:    netlink.MakeHandle(0, 1),
			Protocol:  proto,
			Priority:  prio,
		},
		Fd:           prog.FD(),
		Name:         pinnedPath,
		DirectAction: true,
	}
	if err := netlink.FilterAdd(filter); err != nil {
		return fmt.Errorf("attaching bpf filter on ifindex %d (ingress=%v prio=%d): %w", ifindex, ingress, prio, err)
	}
	return nil
}

func (l *Linux) TCFilterDel(ifindex uint32, ingress bool, prio uint16, proto uint16) error {
	parent := uint32(netlink.HANDLE_MIN_EGRESS)
	if ingress {
		parent = netlink.HANDLE_MIN_INGRESS
	}

	link := &netlink.GenericLink{LinkAttrs: netlink.LinkAttrs{Index: int(ifindex)}}
	filters, err := netlink.FilterList(link, parent)
	if err != nil {
		return fmt.Errorf("listing filters on ifindex %d: %w", ifindex, err)
	}

	for _, f := range filters {
		attrs := f.Attrs()
		if attrs.Priority == prio && attrs.Protocol == proto {
			if err := netlink.FilterDel(f); err != nil {
				return fmt.Errorf("deleting bpf filter on ifindex %d (ingress=%v prio=%d): %w", ifindex, ingress, prio, err)
			}
			return nil
		}
	}
	return fmt.Errorf("filter not found on ifindex %d (ingress=%v prio=%d)", ifindex, ingress, prio)
}

func htons(v uint16) uint16 {
	return (v << 8) | (v >> 8)
}
