package coordinator

import (
	"bytes"
	"context"
	"errors"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/464xlat/clatd-coordinator/internal/bpfmap"
	"github.com/464xlat/clatd-coordinator/internal/platform/platformmock"
)

const (
	testIface = "wlan0"
	testNetID = uint32(100)
)

var testPfx96 = netip.MustParsePrefix("2001:db8:64::/96")

type harness struct {
	mock      *platformmock.Mock
	ingress6  *bpfmap.FakeIngress6Map
	egress4   *bpfmap.FakeEgress4Map
	cookieTag *bpfmap.FakeCookieTagMap
	coord     *Coordinator
}

func newHarness() *harness {
	m := platformmock.New()
	m.Ifindexes[testIface] = 7
	m.Ifindexes["v4-"+testIface] = 8
	m.EthernetIfs[testIface] = true

	ingress6 := bpfmap.NewFakeIngress6Map()
	egress4 := bpfmap.NewFakeEgress4Map()
	cookieTag := bpfmap.NewFakeCookieTagMap()

	coord := NewCoordinator(m, ingress6, egress4, cookieTag,
		"egress4-prog", "ingress6-prog-eth", "ingress6-prog-raw")

	return &harness{mock: m, ingress6: ingress6, egress4: egress4, cookieTag: cookieTag, coord: coord}
}

func TestStartSuccess(t *testing.T) {
	h := newHarness()

	v6, err := h.coord.Start(context.Background(), testIface, testNetID, testPfx96)
	require.NoError(t, err)
	assert.Equal(t, h.mock.GeneratedV6, v6)

	tr, running := h.coord.GetTracker()
	assert.True(t, running)
	assert.Equal(t, testIface, tr.UplinkIface)
	assert.Equal(t, uint32(7), tr.UplinkIfindex)
	assert.Equal(t, "v4-"+testIface, tr.V4Iface)
	assert.Equal(t, uint32(8), tr.V4Ifindex)
	assert.NotZero(t, tr.MTU)

	assert.True(t, h.cookieTag.Has(bpfmap.CookieTagKey{Cookie: h.mock.Cookie}))
	assert.True(t, h.egress4.Has(bpfmap.Egress4Key{IIf: tr.V4Ifindex, Local4: tr.V4.As4()}))
	assert.True(t, h.ingress6.Has(bpfmap.Ingress6Key{IIf: tr.UplinkIfindex, Pfx96: tr.Pfx96.Addr().As16(), Local6: tr.V6.As16()}))
}

func TestStartRejectsAlreadyRunning(t *testing.T) {
	h := newHarness()
	_, err := h.coord.Start(context.Background(), testIface, testNetID, testPfx96)
	require.NoError(t, err)

	_, err = h.coord.Start(context.Background(), testIface, testNetID, testPfx96)
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestStartRejectsBadPrefixLength(t *testing.T) {
	h := newHarness()
	bad := netip.MustParsePrefix("2001:db8:64::/64")

	_, err := h.coord.Start(context.Background(), testIface, testNetID, bad)
	assert.ErrorIs(t, err, ErrInvalidPrefixLength)

	_, running := h.coord.GetTracker()
	assert.False(t, running)
}

// TestStartUnwindsOnFailure exercises spec property 9: a failure at step N
// undoes exactly the side effects of steps 1..N-1.
func TestStartUnwindsOnFailure(t *testing.T) {
	t.Run("fails at OpenRawSocket6: nothing committed", func(t *testing.T) {
		h := newHarness()
		h.mock.FailOn("OpenRawSocket6", errors.New("boom"))

		_, err := h.coord.Start(context.Background(), testIface, testNetID, testPfx96)
		require.Error(t, err)

		_, running := h.coord.GetTracker()
		assert.False(t, running)
		assert.False(t, h.cookieTag.Has(bpfmap.CookieTagKey{Cookie: h.mock.Cookie}))
	})

	t.Run("fails at GetSocketCookie: no tracker", func(t *testing.T) {
		h := newHarness()
		h.mock.FailOn("GetSocketCookie", errors.New("boom"))

		_, err := h.coord.Start(context.Background(), testIface, testNetID, testPfx96)
		require.Error(t, err)

		_, running := h.coord.GetTracker()
		assert.False(t, running)
	})

	t.Run("fails at StartClatd: cookie tag entry is untagged", func(t *testing.T) {
		h := newHarness()
		h.mock.FailOn("StartClatd", errors.New("boom"))

		_, err := h.coord.Start(context.Background(), testIface, testNetID, testPfx96)
		require.Error(t, err)

		_, running := h.coord.GetTracker()
		assert.False(t, running)
		assert.False(t, h.cookieTag.Has(bpfmap.CookieTagKey{Cookie: h.mock.Cookie}))
	})

	t.Run("fails at DetectMTU: cookie tag entry is untagged", func(t *testing.T) {
		h := newHarness()
		h.mock.FailOn("DetectMTU", errors.New("boom"))

		_, err := h.coord.Start(context.Background(), testIface, testNetID, testPfx96)
		require.Error(t, err)

		assert.False(t, h.cookieTag.Has(bpfmap.CookieTagKey{Cookie: h.mock.Cookie}))
	})
}

func TestBPFFastPathFailureDoesNotFailStart(t *testing.T) {
	h := newHarness()
	h.mock.FailOn("TCQdiscAddClsact", errors.New("no permission"))

	v6, err := h.coord.Start(context.Background(), testIface, testNetID, testPfx96)
	require.NoError(t, err)
	assert.True(t, v6.IsValid())

	_, running := h.coord.GetTracker()
	assert.True(t, running)

	// The map inserts made before the qdisc failure must have been undone.
	empty6, _ := h.ingress6.IsEmpty()
	empty4, _ := h.egress4.IsEmpty()
	assert.True(t, empty6)
	assert.True(t, empty4)
}

func TestBPFFastPathSkippedWhenMapsAbsent(t *testing.T) {
	m := platformmock.New()
	m.Ifindexes[testIface] = 7
	m.Ifindexes["v4-"+testIface] = 8

	cookieTag := bpfmap.NewFakeCookieTagMap()
	coord := NewCoordinator(m, nil, nil, cookieTag, "", "", "")

	_, err := coord.Start(context.Background(), testIface, testNetID, testPfx96)
	require.NoError(t, err)

	for _, call := range m.Calls() {
		assert.NotEqual(t, "TCQdiscAddClsact", call.Method)
		assert.NotEqual(t, "TCFilterAddBPF", call.Method)
	}
}

func TestStopTearsDownAllState(t *testing.T) {
	h := newHarness()
	_, err := h.coord.Start(context.Background(), testIface, testNetID, testPfx96)
	require.NoError(t, err)

	tr, _ := h.coord.GetTracker()

	err = h.coord.Stop(context.Background())
	require.NoError(t, err)

	_, running := h.coord.GetTracker()
	assert.False(t, running)
	assert.False(t, h.cookieTag.Has(bpfmap.CookieTagKey{Cookie: tr.Cookie}))
	assert.False(t, h.egress4.Has(bpfmap.Egress4Key{IIf: tr.V4Ifindex, Local4: tr.V4.As4()}))
	assert.False(t, h.ingress6.Has(bpfmap.Ingress6Key{IIf: tr.UplinkIfindex, Pfx96: tr.Pfx96.Addr().As16(), Local6: tr.V6.As16()}))
}

func TestStopRejectsWhenNotRunning(t *testing.T) {
	h := newHarness()
	err := h.coord.Stop(context.Background())
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestStopSurfacesStopClatdError(t *testing.T) {
	h := newHarness()
	_, err := h.coord.Start(context.Background(), testIface, testNetID, testPfx96)
	require.NoError(t, err)

	h.mock.FailOn("StopClatd", errors.New("kill failed"))

	err = h.coord.Stop(context.Background())
	assert.Error(t, err)

	// A surfaced Stop error still transitions the coordinator to Idle: the
	// daemon kill/cookie-tag delete are attempted regardless, and there is
	// no way to retry a Stop against an already-idle coordinator.
	_, running := h.coord.GetTracker()
	assert.False(t, running)
}

func TestStopSurfacesCookieTagDeleteErrorAfterStopClatdSucceeds(t *testing.T) {
	h := newHarness()
	_, err := h.coord.Start(context.Background(), testIface, testNetID, testPfx96)
	require.NoError(t, err)

	tr, _ := h.coord.GetTracker()
	require.NoError(t, h.cookieTag.Delete(bpfmap.CookieTagKey{Cookie: tr.Cookie}))

	err = h.coord.Stop(context.Background())
	assert.Error(t, err)

	_, running := h.coord.GetTracker()
	assert.False(t, running)
}

func TestDumpWhenNotRunning(t *testing.T) {
	h := newHarness()
	var buf bytes.Buffer
	err := h.coord.Dump(&buf)
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestDumpRendersTrackerAndMaps(t *testing.T) {
	h := newHarness()
	_, err := h.coord.Start(context.Background(), testIface, testNetID, testPfx96)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, h.coord.Dump(&buf))
	out := buf.String()
	assert.Contains(t, out, testIface)
	assert.Contains(t, out, "BPF ingress map:")
	assert.Contains(t, out, "BPF egress map:")
}

func TestDumpRawMap(t *testing.T) {
	h := newHarness()
	_, err := h.coord.Start(context.Background(), testIface, testNetID, testPfx96)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, h.coord.DumpRawMap(&buf, true))
	assert.NotEmpty(t, buf.String())

	buf.Reset()
	require.NoError(t, h.coord.DumpRawMap(&buf, false))
	assert.NotEmpty(t, buf.String())
}
