// Package platformmock is a recording, fault-injectable stand-in for
// platform.Dependencies. It implements every façade method in plain Go —
// no cgo, no kernel access — so that the coordinator's unwind tests can
// assert exactly which steps ran and fail any one of them on demand.
package platformmock

import (
	"context"
	"net/netip"
	"sync"

	"github.com/464xlat/clatd-coordinator/internal/platform"
)

var _ platform.Dependencies = (*Mock)(nil)

// Call records one invocation of a façade method.
type Call struct {
	Method string
	Args   []any
}

// Mock is a fault-injectable platform.Dependencies implementation.
type Mock struct {
	mu sync.Mutex

	calls   []Call
	failOn  map[string]error
	closed  map[int]bool
	nextFd  int
	nextPid int

	// Overridable canned responses; New fills in happy-path defaults.
	Ifindexes   map[string]uint32
	SelectedV4  netip.Addr
	GeneratedV6 netip.Addr
	ProbedMTU   uint32
	Cookie      uint64
	EthernetIfs map[string]bool
	NetdImpl    platform.NetdClient
}

// New creates a Mock with benign canned values suitable for the happy path.
// Ifindexes starts empty, so every InterfaceIndex lookup returns
// InvalidIfindex until the caller registers the uplink and its TUN.
func New() *Mock {
	return &Mock{
		failOn:      map[string]error{},
		closed:      map[int]bool{},
		nextFd:      100,
		nextPid:     1000,
		Ifindexes:   map[string]uint32{},
		EthernetIfs: map[string]bool{},
		SelectedV4:  netip.MustParseAddr("192.0.0.4"),
		GeneratedV6: netip.MustParseAddr("2001:db8:64::1"),
		ProbedMTU:   1500,
		Cookie:      42,
		NetdImpl:    &noopNetd{},
	}
}

// FailOn configures method to fail with err the next time (and every
// subsequent time) it is called.
func (m *Mock) FailOn(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failOn[method] = err
}

// Calls returns the ordered log of every method invocation so far.
func (m *Mock) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// ClosedFds returns the set of fds that have been marked closed through
// CloseFd.
func (m *Mock) ClosedFds() map[int]bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[int]bool, len(m.closed))
	for k, v := range m.closed {
		out[k] = v
	}
	return out
}

func (m *Mock) record(method string, args ...any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: method, Args: args})
	return m.failOn[method]
}

func (m *Mock) newFd() *platform.OwnedFd {
	m.mu.Lock()
	fd := m.nextFd
	m.nextFd++
	m.mu.Unlock()
	return platform.AdoptFd(fd)
}

// Netd returns the configured netd collaborator stand-in.
func (m *Mock) Netd() platform.NetdClient { return m.NetdImpl }

func (m *Mock) InterfaceIndex(name string) (uint32, error) {
	if err := m.record("InterfaceIndex", name); err != nil {
		return platform.InvalidIfindex, err
	}
	if idx, ok := m.Ifindexes[name]; ok {
		return idx, nil
	}
	return platform.InvalidIfindex, nil
}

func (m *Mock) CreateTunInterface(name string) (*platform.OwnedFd, error) {
	if err := m.record("CreateTunInterface", name); err != nil {
		return nil, err
	}
	return m.newFd(), nil
}

func (m *Mock) SelectIPv4Address(seed string, prefixLen int) (netip.Addr, error) {
	if err := m.record("SelectIPv4Address", seed, prefixLen); err != nil {
		return netip.Addr{}, err
	}
	return m.SelectedV4, nil
}

func (m *Mock) GenerateIPv6Address(iface string, v4 netip.Addr, pfx96 netip.Prefix, fwmark uint32) (netip.Addr, error) {
	if err := m.record("GenerateIPv6Address", iface, v4, pfx96, fwmark); err != nil {
		return netip.Addr{}, err
	}
	return m.GeneratedV6, nil
}

func (m *Mock) DetectMTU(pfx96 netip.Prefix, ipv4Target netip.Addr, fwmark uint32) (uint32, error) {
	if err := m.record("DetectMTU", pfx96, ipv4Target, fwmark); err != nil {
		return 0, err
	}
	return m.ProbedMTU, nil
}

func (m *Mock) OpenPacketSocket() (*platform.OwnedFd, error) {
	if err := m.record("OpenPacketSocket"); err != nil {
		return nil, err
	}
	return m.newFd(), nil
}

func (m *Mock) OpenRawSocket6(fwmark uint32) (*platform.OwnedFd, error) {
	if err := m.record("OpenRawSocket6", fwmark); err != nil {
		return nil, err
	}
	return m.newFd(), nil
}

func (m *Mock) AddAnycastSetsockopt(fd *platform.OwnedFd, v6 netip.Addr, ifindex uint32) error {
	return m.record("AddAnycastSetsockopt", fd.FD(), v6, ifindex)
}

func (m *Mock) ConfigurePacketSocket(fd *platform.OwnedFd, v6 netip.Addr, ifindex uint32) error {
	return m.record("ConfigurePacketSocket", fd.FD(), v6, ifindex)
}

func (m *Mock) StartClatd(tunFd, readFd, writeFd *platform.OwnedFd, iface string, pfx96 netip.Prefix, v4, v6 netip.Addr) (int, error) {
	if err := m.record("StartClatd", tunFd.FD(), readFd.FD(), writeFd.FD(), iface, pfx96, v4, v6); err != nil {
		return 0, err
	}
	m.mu.Lock()
	pid := m.nextPid
	m.nextPid++
	m.mu.Unlock()
	return pid, nil
}

func (m *Mock) StopClatd(pid int) error {
	return m.record("StopClatd", pid)
}

func (m *Mock) GetSocketCookie(fd *platform.OwnedFd) (uint64, error) {
	if err := m.record("GetSocketCookie", fd.FD()); err != nil {
		return 0, err
	}
	return m.Cookie, nil
}

func (m *Mock) IsEthernet(iface string) (bool, error) {
	if err := m.record("IsEthernet", iface); err != nil {
		return false, err
	}
	return m.EthernetIfs[iface], nil
}

func (m *Mock) TCQdiscAddClsact(ifindex uint32) error {
	return m.record("TCQdiscAddClsact", ifindex)
}

func (m *Mock) TCFilterAddBPF(ifindex uint32, ingress bool, prio uint16, proto uint16, pinnedPath string) error {
	return m.record("TCFilterAddBPF", ifindex, ingress, prio, proto, pinnedPath)
}

func (m *Mock) TCFilterDel(ifindex uint32, ingress bool, prio uint16, proto uint16) error {
	return m.record("TCFilterDel", ifindex, ingress, prio, proto)
}

// CloseFd marks fd as closed in the set ClosedFds reports. The coordinator
// closes its descriptors through OwnedFd.Close, which does not call this.
func (m *Mock) CloseFd(fd int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed[fd] = true
}

type noopNetd struct{}

func (noopNetd) InterfaceSetEnableIPv6(ctx context.Context, iface string, enable bool) error {
	return nil
}
func (noopNetd) InterfaceSetMTU(ctx context.Context, iface string, mtu uint32) error { return nil }
func (noopNetd) InterfaceSetCfg(ctx context.Context, cfg platform.InterfaceConfiguration) error {
	return nil
}
