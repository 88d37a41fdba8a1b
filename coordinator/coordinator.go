// Package coordinator implements the CLAT control-plane state machine:
// bringing up (and tearing down) a single 464XLAT translator instance on
// top of one IPv6-only uplink interface.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"sync"

	"go.uber.org/zap"

	"github.com/464xlat/clatd-coordinator/internal/bpfmap"
	"github.com/464xlat/clatd-coordinator/internal/platform"
	"github.com/464xlat/clatd-coordinator/internal/policy"
	"github.com/464xlat/clatd-coordinator/internal/tracker"
)

// ErrAlreadyRunning is returned by Start when a CLAT instance is already
// running.
var ErrAlreadyRunning = errors.New("coordinator: already running")

// ErrNotRunning is returned by Stop, Dump and DumpRawMap when no CLAT
// instance is running.
var ErrNotRunning = errors.New("coordinator: not running")

// ErrInvalidPrefixLength is returned by Start when the supplied NAT64
// prefix is not a /96.
var ErrInvalidPrefixLength = errors.New("coordinator: nat64 prefix must be a /96")

type options struct {
	Log *zap.SugaredLogger
}

func newOptions() *options {
	return &options{
		Log: zap.NewNop().Sugar(),
	}
}

// Option configures the CLAT coordinator.
type Option func(*options)

// WithLog sets the logger for the coordinator.
func WithLog(log *zap.SugaredLogger) Option {
	return func(o *options) {
		o.Log = log
	}
}

const (
	ethPIP   = 0x0800
	ethPIPv6 = 0x86DD
)

// Coordinator drives a single 464XLAT translator instance through its
// Idle/Running lifecycle. It is not internally reentrant: the owner must
// serialize Start, Stop and Dump calls from one scheduling context. The
// mutex below guards field access against concurrent readers (Dump,
// GetTracker); it is not a substitute for that external discipline, since
// Start and Stop perform long blocking syscalls while holding it.
type Coordinator struct {
	deps      platform.Dependencies
	ingress6  bpfmap.Ingress6Table
	egress4   bpfmap.Egress4Table
	cookieTag bpfmap.CookieTagTable
	bpf       bpfConfig
	log       *zap.SugaredLogger

	mu      sync.Mutex
	running bool
	tr      tracker.Tracker
}

// bpfConfig names the pinned program paths used by the hardware
// acceleration fast path; the maps themselves are injected as already-open
// table handles (or nil, when the fast path is unavailable).
type bpfConfig struct {
	Egress4Prog     string
	Ingress6ProgEth string
	Ingress6ProgRaw string
}

// NewCoordinator builds a Coordinator. ingress6 and egress4 may be nil
// when the corresponding pinned map is unavailable, in which case the
// coordinator degrades to daemon-only translation: the hardware fast path
// is never attempted.
func NewCoordinator(
	deps platform.Dependencies,
	ingress6 bpfmap.Ingress6Table,
	egress4 bpfmap.Egress4Table,
	cookieTag bpfmap.CookieTagTable,
	egress4Prog, ingress6ProgEth, ingress6ProgRaw string,
	opts ...Option,
) *Coordinator {
	o := newOptions()
	for _, opt := range opts {
		opt(o)
	}
	return &Coordinator{
		deps:      deps,
		ingress6:  ingress6,
		egress4:   egress4,
		cookieTag: cookieTag,
		bpf: bpfConfig{
			Egress4Prog:     egress4Prog,
			Ingress6ProgEth: ingress6ProgEth,
			Ingress6ProgRaw: ingress6ProgRaw,
		},
		log: o.Log,
	}
}

// Start brings up a CLAT instance on iface, tagging its traffic with
// netID's firewall mark and translating through nat64Prefix. It returns
// the translator's synthetic IPv6 source address on success.
//
// Start performs a strictly ordered sequence of fallible steps; any
// failure unwinds every side effect already committed by earlier steps, in
// reverse order, and returns the original error. The coordinator remains
// Idle until every step has committed.
func (c *Coordinator) Start(ctx context.Context, iface string, netID uint32, nat64Prefix netip.Prefix) (netip.Addr, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return netip.Addr{}, ErrAlreadyRunning
	}
	if !policy.IsNAT64Prefix(nat64Prefix) {
		return netip.Addr{}, ErrInvalidPrefixLength
	}

	var undo []func()
	defer func() {
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
	}()

	fwmark := policy.Fwmark(netID)

	v4, err := c.deps.SelectIPv4Address(policy.InitV4Addr, policy.InitV4AddrPrefix)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("selecting ipv4 address: %w", err)
	}

	v6, err := c.deps.GenerateIPv6Address(iface, v4, nat64Prefix, fwmark)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("generating ipv6 address: %w", err)
	}

	readFd, err := c.deps.OpenPacketSocket()
	if err != nil {
		return netip.Addr{}, fmt.Errorf("opening packet socket: %w", err)
	}
	undo = append(undo, func() { _ = readFd.Close() })

	writeFd, err := c.deps.OpenRawSocket6(fwmark)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("opening raw ipv6 socket: %w", err)
	}
	undo = append(undo, func() { _ = writeFd.Close() })

	uplinkIfindex, err := c.deps.InterfaceIndex(iface)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("looking up uplink interface %q: %w", iface, err)
	}
	if uplinkIfindex == platform.InvalidIfindex {
		return netip.Addr{}, fmt.Errorf("uplink interface %q does not exist", iface)
	}

	if err := c.deps.AddAnycastSetsockopt(writeFd, v6, uplinkIfindex); err != nil {
		return netip.Addr{}, fmt.Errorf("joining anycast address %s: %w", v6, err)
	}

	cookie, err := c.deps.GetSocketCookie(writeFd)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("reading socket cookie: %w", err)
	}
	if err := c.cookieTag.Insert(
		bpfmap.CookieTagKey{Cookie: cookie},
		bpfmap.CookieTagValue{UID: policy.AIDClat, Tag: 0},
	); err != nil {
		return netip.Addr{}, fmt.Errorf("tagging socket cookie %d: %w", cookie, err)
	}
	undo = append(undo, func() {
		if err := c.cookieTag.Delete(bpfmap.CookieTagKey{Cookie: cookie}); err != nil {
			c.log.Warnw("failed to untag socket cookie during unwind", "cookie", cookie, "error", err)
		}
	})

	if err := c.deps.ConfigurePacketSocket(readFd, v6, uplinkIfindex); err != nil {
		return netip.Addr{}, fmt.Errorf("configuring packet socket filter: %w", err)
	}

	tunName := policy.TunIfaceName(iface)
	tunFd, err := c.deps.CreateTunInterface(tunName)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("creating tun interface %q: %w", tunName, err)
	}
	undo = append(undo, func() { _ = tunFd.Close() })

	v4Ifindex, err := c.deps.InterfaceIndex(tunName)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("looking up tun interface %q: %w", tunName, err)
	}
	if v4Ifindex == platform.InvalidIfindex {
		return netip.Addr{}, fmt.Errorf("tun interface %q does not exist after creation", tunName)
	}

	if err := c.deps.Netd().InterfaceSetEnableIPv6(ctx, tunName, false); err != nil {
		return netip.Addr{}, fmt.Errorf("disabling ipv6 on %q: %w", tunName, err)
	}

	probedMTU, err := c.deps.DetectMTU(nat64Prefix, netip.MustParseAddr(policy.MTUProbeTarget), fwmark)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("detecting path mtu: %w", err)
	}
	mtu := policy.AdjustMTU(probedMTU)

	if err := c.deps.Netd().InterfaceSetMTU(ctx, tunName, mtu); err != nil {
		return netip.Addr{}, fmt.Errorf("setting mtu on %q: %w", tunName, err)
	}

	if err := c.deps.Netd().InterfaceSetCfg(ctx, platform.InterfaceConfiguration{
		IfName:    tunName,
		IPv4Addr:  v4,
		PrefixLen: 32,
		Flags:     []platform.InterfaceFlag{platform.IfStateUp},
	}); err != nil {
		return netip.Addr{}, fmt.Errorf("configuring %q: %w", tunName, err)
	}

	pid, err := c.deps.StartClatd(tunFd, readFd, writeFd, iface, nat64Prefix, v4, v6)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("starting clatd: %w", err)
	}

	tr := tracker.Tracker{
		UplinkIface:   iface,
		UplinkIfindex: uplinkIfindex,
		V4Iface:       tunName,
		V4Ifindex:     v4Ifindex,
		V4:            v4,
		V6:            v6,
		Pfx96:         nat64Prefix,
		DaemonPID:     pid,
		Cookie:        cookie,
		MTU:           mtu,
	}

	// From here the instance is committed: the daemon is running and the
	// Tracker is about to be stored. Nothing past this point can fail
	// Start, so undo is cleared and the deferred unwind becomes a no-op.
	undo = nil
	c.running = true
	c.tr = tr

	c.maybeStartBPF(tr)

	// The daemon owns duplicates of every fd from here on.
	readFd.Close()
	writeFd.Close()
	tunFd.Close()

	c.log.Infow("clat instance started", "tracker", tr.String())

	return v6, nil
}

// maybeStartBPF attempts to install the hardware acceleration fast path.
// Its failures never fail Start: the daemon is already running and
// translation proceeds through it regardless. It is a no-op if either map
// handle is unavailable.
func (c *Coordinator) maybeStartBPF(tr tracker.Tracker) {
	if c.ingress6 == nil || c.egress4 == nil {
		return
	}

	isEthernet, err := c.deps.IsEthernet(tr.UplinkIface)
	if err != nil {
		c.log.Warnw("bpf fast path disabled: failed to determine uplink link type", "error", err)
		return
	}

	var oifIsEthernet uint16
	if isEthernet {
		oifIsEthernet = 1
	}

	egressKey := bpfmap.Egress4Key{IIf: tr.V4Ifindex, Local4: tr.V4.As4()}
	egressValue := bpfmap.Egress4Value{
		OIf:           tr.UplinkIfindex,
		Local6:        tr.V6.As16(),
		Pfx96:         tr.Pfx96.Addr().As16(),
		OifIsEthernet: oifIsEthernet,
	}
	if err := c.egress4.Insert(egressKey, egressValue); err != nil {
		c.log.Warnw("bpf fast path disabled: failed to insert egress4 entry", "error", err)
		return
	}

	ingressKey := bpfmap.Ingress6Key{IIf: tr.UplinkIfindex, Pfx96: tr.Pfx96.Addr().As16(), Local6: tr.V6.As16()}
	ingressValue := bpfmap.Ingress6Value{OIf: tr.V4Ifindex, Local4: tr.V4.As4()}
	if err := c.ingress6.Insert(ingressKey, ingressValue); err != nil {
		c.log.Warnw("bpf fast path disabled: failed to insert ingress6 entry", "error", err)
		if derr := c.egress4.Delete(egressKey); derr != nil {
			c.log.Warnw("failed to undo egress4 insert", "error", derr)
		}
		return
	}

	if err := c.deps.TCQdiscAddClsact(tr.V4Ifindex); err != nil {
		c.log.Warnw("bpf fast path disabled: failed to add clsact qdisc", "error", err)
		c.undoMapInserts(ingressKey, egressKey)
		return
	}

	if err := c.deps.TCFilterAddBPF(tr.V4Ifindex, false, policy.PrioClat, ethPIP, c.bpf.Egress4Prog); err != nil {
		c.log.Warnw("bpf fast path disabled: failed to attach egress4 filter", "error", err)
		c.undoMapInserts(ingressKey, egressKey)
		// The clsact qdisc is not removed: its lifetime is tied to the
		// interface, not to this CLAT instance.
		return
	}

	ingressProg := c.bpf.Ingress6ProgRaw
	if isEthernet {
		ingressProg = c.bpf.Ingress6ProgEth
	}
	if err := c.deps.TCFilterAddBPF(tr.UplinkIfindex, true, policy.PrioClat, ethPIPv6, ingressProg); err != nil {
		c.log.Warnw("bpf fast path disabled: failed to attach ingress6 filter", "error", err)
		if derr := c.deps.TCFilterDel(tr.V4Ifindex, false, policy.PrioClat, ethPIP); derr != nil {
			c.log.Warnw("failed to undo egress4 filter", "error", derr)
		}
		c.undoMapInserts(ingressKey, egressKey)
		return
	}

	c.log.Infow("bpf fast path installed", "v4_ifindex", tr.V4Ifindex, "uplink_ifindex", tr.UplinkIfindex)
}

func (c *Coordinator) undoMapInserts(ingressKey bpfmap.Ingress6Key, egressKey bpfmap.Egress4Key) {
	if err := c.ingress6.Delete(ingressKey); err != nil {
		c.log.Warnw("failed to undo ingress6 insert", "error", err)
	}
	if err := c.egress4.Delete(egressKey); err != nil {
		c.log.Warnw("failed to undo egress4 insert", "error", err)
	}
}

// Stop tears down the running CLAT instance. Every hardware fast-path
// teardown step is best-effort (log-only); the daemon kill and the
// cookie-tag delete are attempted regardless of each other's outcome, and
// the first error either produces is returned. Either way, the coordinator
// has transitioned back to Idle by the time Stop returns: a failed Stop
// must not leave the instance stuck Running, since the caller has no way to
// retry a Stop against an already-idle coordinator.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return ErrNotRunning
	}
	tr := c.tr

	c.maybeStopBPF(tr)

	var firstErr error

	if err := c.deps.StopClatd(tr.DaemonPID); err != nil {
		firstErr = fmt.Errorf("stopping clatd pid %d: %w", tr.DaemonPID, err)
	}

	if err := c.cookieTag.Delete(bpfmap.CookieTagKey{Cookie: tr.Cookie}); err != nil {
		err = fmt.Errorf("untagging socket cookie %d: %w", tr.Cookie, err)
		if firstErr == nil {
			firstErr = err
		} else {
			c.log.Warnw("additional error stopping clat instance", "error", err)
		}
	}

	c.running = false
	c.tr = tracker.Tracker{}

	if firstErr != nil {
		c.log.Errorw("clat instance stopped with errors", "uplink_iface", tr.UplinkIface, "error", firstErr)
		return firstErr
	}

	c.log.Infow("clat instance stopped", "uplink_iface", tr.UplinkIface)
	return nil
}

// maybeStopBPF reverses maybeStartBPF. Every step swallows its own error:
// teardown is best-effort, and maps are cleaned up last so that scanning
// them after a partial failure reveals exactly what still needs cleanup.
func (c *Coordinator) maybeStopBPF(tr tracker.Tracker) {
	if c.ingress6 == nil || c.egress4 == nil {
		return
	}

	if err := c.deps.TCFilterDel(tr.UplinkIfindex, true, policy.PrioClat, ethPIPv6); err != nil {
		c.log.Warnw("failed to remove ingress6 filter", "error", err)
	}
	if err := c.deps.TCFilterDel(tr.V4Ifindex, false, policy.PrioClat, ethPIP); err != nil {
		c.log.Warnw("failed to remove egress4 filter", "error", err)
	}
	if err := c.egress4.Delete(bpfmap.Egress4Key{IIf: tr.V4Ifindex, Local4: tr.V4.As4()}); err != nil {
		c.log.Warnw("failed to remove egress4 map entry", "error", err)
	}
	if err := c.ingress6.Delete(bpfmap.Ingress6Key{IIf: tr.UplinkIfindex, Pfx96: tr.Pfx96.Addr().As16(), Local6: tr.V6.As16()}); err != nil {
		c.log.Warnw("failed to remove ingress6 map entry", "error", err)
	}
}

// GetTracker returns the current Tracker and whether a CLAT instance is
// running. It is intended primarily for tests and the RPC control surface.
func (c *Coordinator) GetTracker() (tracker.Tracker, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tr, c.running
}

// Dump writes a human-readable rendering of the running instance followed
// by one line per BPF fast-path map entry.
func (c *Coordinator) Dump(w io.Writer) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return ErrNotRunning
	}

	if _, err := io.WriteString(w, c.tr.String()+"\n"); err != nil {
		return fmt.Errorf("writing tracker summary: %w", err)
	}

	if _, err := io.WriteString(w, "BPF ingress map:\n"); err != nil {
		return fmt.Errorf("writing ingress header: %w", err)
	}
	if c.ingress6 != nil {
		if err := c.ingress6.Iterate(func(k bpfmap.Ingress6Key, v bpfmap.Ingress6Value) error {
			_, err := fmt.Fprintf(w, "  ifindex=%d pfx96=%x local6=%x -> oif=%d local4=%x packets=%d bytes=%d\n",
				k.IIf, k.Pfx96, k.Local6, v.OIf, v.Local4, v.Packets, v.Bytes)
			return err
		}); err != nil {
			return fmt.Errorf("dumping ingress map: %w", err)
		}
	}

	if _, err := io.WriteString(w, "BPF egress map:\n"); err != nil {
		return fmt.Errorf("writing egress header: %w", err)
	}
	if c.egress4 != nil {
		if err := c.egress4.Iterate(func(k bpfmap.Egress4Key, v bpfmap.Egress4Value) error {
			_, err := fmt.Fprintf(w, "  ifindex=%d local4=%x -> oif=%d local6=%x pfx96=%x ethernet=%d packets=%d bytes=%d\n",
				k.IIf, k.Local4, v.OIf, v.Local6, v.Pfx96, v.OifIsEthernet, v.Packets, v.Bytes)
			return err
		}); err != nil {
			return fmt.Errorf("dumping egress map: %w", err)
		}
	}

	return nil
}

// DumpRawMap writes "<base64(key)>,<base64(value)>" one line per entry of
// either the egress4 map (isEgress4=true) or the ingress6 map, for
// regression tooling that compares raw kernel map contents byte for byte.
func (c *Coordinator) DumpRawMap(w io.Writer, isEgress4 bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return ErrNotRunning
	}

	if isEgress4 {
		if c.egress4 == nil {
			return nil
		}
		return c.egress4.DumpRawBase64(w)
	}
	if c.ingress6 == nil {
		return nil
	}
	return c.ingress6.DumpRawBase64(w)
}
