package rpc

import (
	"context"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/464xlat/clatd-coordinator/coordinator"
	"github.com/464xlat/clatd-coordinator/internal/bpfmap"
	"github.com/464xlat/clatd-coordinator/internal/platform/platformmock"
)

const (
	testIface = "wlan0"
	testNetID = uint32(100)
)

var testPfx96 = netip.MustParsePrefix("2001:db8:64::/96")

func newTestServer() *Server {
	m := platformmock.New()
	m.Ifindexes[testIface] = 7
	m.Ifindexes["v4-"+testIface] = 8
	m.EthernetIfs[testIface] = true

	coord := coordinator.NewCoordinator(
		m, bpfmap.NewFakeIngress6Map(), bpfmap.NewFakeEgress4Map(), bpfmap.NewFakeCookieTagMap(),
		"egress4-prog", "ingress6-prog-eth", "ingress6-prog-raw",
	)
	return NewServer(coord, nil)
}

func TestStartStopRoundTrip(t *testing.T) {
	s := newTestServer()
	ctx := context.Background()

	resp, err := s.start(ctx, &StartRequest{
		Iface: testIface, NetID: testNetID, NAT64Prefix: testPfx96.String(),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.V6)

	tr, err := s.getTracker(ctx, &GetTrackerRequest{})
	require.NoError(t, err)
	assert.True(t, tr.Running)
	assert.Equal(t, testIface, tr.UplinkIface)

	d, err := s.dump(ctx, &DumpRequest{})
	require.NoError(t, err)
	assert.Contains(t, d.Text, testIface)

	_, err = s.stop(ctx, &StopRequest{})
	require.NoError(t, err)

	tr, err = s.getTracker(ctx, &GetTrackerRequest{})
	require.NoError(t, err)
	assert.False(t, tr.Running)
}

func TestStartRejectsBadPrefix(t *testing.T) {
	s := newTestServer()
	_, err := s.start(context.Background(), &StartRequest{
		Iface: testIface, NetID: testNetID, NAT64Prefix: "not-a-prefix",
	})
	require.Error(t, err)
}

func TestStopWithoutStartFails(t *testing.T) {
	s := newTestServer()
	_, err := s.stop(context.Background(), &StopRequest{})
	require.Error(t, err)
}
