package coordinator

import (
	"net/netip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/464xlat/clatd-coordinator/internal/policy"
)

func TestDefaultConfigPinnedPaths(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, policy.PinnedIngress6Map, cfg.BPF.Ingress6Map)
	assert.Equal(t, policy.PinnedEgress4Map, cfg.BPF.Egress4Map)
	assert.Equal(t, policy.PinnedCookieTagMap, cfg.BPF.CookieTagMap)
	assert.NotEmpty(t, cfg.NetdEndpoint)
	assert.NotEmpty(t, cfg.RPC.Endpoint)
}

func TestValidateRejectsMissingUplink(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NAT64Prefix = netip.MustParsePrefix("64:ff9b::/96")
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsBadPrefixLength(t *testing.T) {
	cfg := DefaultConfig()
	cfg.UplinkIface = "wlan0"
	cfg.NAT64Prefix = netip.MustParsePrefix("64:ff9b::/64")
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsEmptyNetdEndpoint(t *testing.T) {
	cfg := DefaultConfig()
	cfg.UplinkIface = "wlan0"
	cfg.NAT64Prefix = netip.MustParsePrefix("64:ff9b::/96")
	cfg.NetdEndpoint = ""
	require.Error(t, cfg.Validate())
}

func TestValidateAccepts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.UplinkIface = "wlan0"
	cfg.NAT64Prefix = netip.MustParsePrefix("64:ff9b::/96")
	require.NoError(t, cfg.Validate())
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
uplink_iface: wlan0
net_id: 100
nat64_prefix: 64:ff9b::/96
netd_endpoint: unix:///tmp/netd.sock
bpf:
  ingress6_map: ""
  egress4_map: ""
  cookie_tag_map: /sys/fs/bpf/netd_shared/map_netd_cookie_tag_map
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "wlan0", cfg.UplinkIface)
	assert.Equal(t, uint32(100), cfg.NetID)
	assert.Equal(t, "unix:///tmp/netd.sock", cfg.NetdEndpoint)
	assert.Empty(t, cfg.BPF.Ingress6Map)
	// RPC endpoint was not set in the file, so the default survives the merge.
	assert.Equal(t, DefaultConfig().RPC.Endpoint, cfg.RPC.Endpoint)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("net_id: 1\n"), 0o644))

	_, err := LoadConfig(path)
	require.Error(t, err)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig("/nonexistent/path.yaml")
	require.Error(t, err)
}
