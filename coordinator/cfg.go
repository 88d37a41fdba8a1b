package coordinator

import (
	"fmt"
	"net/netip"
	"os"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/464xlat/clatd-coordinator/internal/logging"
	"github.com/464xlat/clatd-coordinator/internal/policy"
)

// Config represents the main configuration structure for the coordinator.
type Config struct {
	// UplinkIface is the IPv6-only interface to run CLAT on top of.
	UplinkIface string `yaml:"uplink_iface"`
	// NetID identifies the network this CLAT instance belongs to; it is
	// encoded into the firewall mark used for every socket and route
	// lookup the coordinator issues.
	NetID uint32 `yaml:"net_id"`
	// NAT64Prefix is the /96 prefix the translator embeds IPv4 addresses
	// into.
	NAT64Prefix netip.Prefix `yaml:"nat64_prefix"`
	// BPF holds the pinned map and program paths for the hardware
	// acceleration fast path.
	BPF BPFConfig `yaml:"bpf"`
	// NetdEndpoint is the gRPC endpoint of the configuration daemon.
	NetdEndpoint string `yaml:"netd_endpoint"`
	// Logging configures the process-wide logger.
	Logging logging.Config `yaml:"logging"`
	// RPC configures the optional control surface.
	RPC RPCConfig `yaml:"rpc"`
}

// BPFConfig names the pinned BPF objects the hardware fast path attaches.
// Every field defaults to the control-plane ABI's well-known path; an
// empty string disables that particular map or program.
type BPFConfig struct {
	Ingress6Map     string `yaml:"ingress6_map"`
	Egress4Map      string `yaml:"egress4_map"`
	CookieTagMap    string `yaml:"cookie_tag_map"`
	Egress4Prog     string `yaml:"egress4_prog"`
	Ingress6ProgEth string `yaml:"ingress6_prog_ether"`
	Ingress6ProgRaw string `yaml:"ingress6_prog_rawip"`
}

// RPCConfig configures the optional gRPC control surface.
type RPCConfig struct {
	Endpoint string `yaml:"endpoint"`
}

// LoadConfig loads configuration from a YAML file at the specified path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns the default configuration. UplinkIface and
// NAT64Prefix have no sensible default and must be set explicitly.
func DefaultConfig() *Config {
	return &Config{
		BPF: BPFConfig{
			Ingress6Map:     policy.PinnedIngress6Map,
			Egress4Map:      policy.PinnedEgress4Map,
			CookieTagMap:    policy.PinnedCookieTagMap,
			Egress4Prog:     policy.PinnedEgress4Prog,
			Ingress6ProgEth: policy.PinnedIngress6ProgEth,
			Ingress6ProgRaw: policy.PinnedIngress6ProgRaw,
		},
		NetdEndpoint: "unix:///dev/socket/netd-clat.sock",
		Logging: logging.Config{
			Level:     zapcore.InfoLevel,
			Component: "clatd-coordinator",
		},
		RPC: RPCConfig{
			Endpoint: "[::1]:50153",
		},
	}
}

// Validate checks the configuration for internal consistency, duplicating
// (deliberately) the runtime prefix-length check the coordinator itself
// performs on every Start call: a config-time error gives the operator a
// better message, but the runtime check remains the authoritative guard.
func (c *Config) Validate() error {
	if c.UplinkIface == "" {
		return fmt.Errorf("uplink_iface must not be empty")
	}
	if !policy.IsNAT64Prefix(c.NAT64Prefix) {
		return fmt.Errorf("nat64_prefix %s is not a valid /96", c.NAT64Prefix)
	}
	if c.NetdEndpoint == "" {
		return fmt.Errorf("netd_endpoint must not be empty")
	}
	return nil
}
