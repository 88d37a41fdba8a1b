// Package netd is a thin gRPC client for the configuration-daemon RPC
// surface the coordinator depends on for interface attribute changes
// (spec §1 names the daemon's own RPC surface as an external collaborator,
// out of scope for this repository). Rather than depending on
// protoc-generated stubs this package registers a small JSON codec so the
// real github.com/grpc-go connection machinery (dialing, retries,
// deadlines) can be exercised without vendoring generated code.
package netd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"

	"github.com/464xlat/clatd-coordinator/internal/platform"
)

// JSONCodecName is the gRPC content-subtype name clients must request
// (via grpc.CallContentSubtype) to use this package's JSON codec.
const JSONCodecName = "clatjson"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec lets grpc.ClientConn.Invoke marshal plain Go structs without
// requiring protoc-generated proto.Message implementations.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return JSONCodecName }

type setEnableIPv6Request struct {
	IfName string `json:"if_name"`
	Enable bool   `json:"enable"`
}

type setMTURequest struct {
	IfName string `json:"if_name"`
	MTU    uint32 `json:"mtu"`
}

type setCfgRequest struct {
	IfName    string   `json:"if_name"`
	IPv4Addr  string   `json:"ipv4_addr"`
	PrefixLen int      `json:"prefix_len"`
	HwAddr    string   `json:"hw_addr"`
	Flags     []string `json:"flags"`
}

type emptyResponse struct{}

// Client is the production NetdClient, dialing the configuration daemon
// over a local gRPC endpoint.
type Client struct {
	conn *grpc.ClientConn
	log  *zap.SugaredLogger
}

// Dial connects to the netd gRPC endpoint (typically a unix socket such as
// "unix:///dev/socket/netd-clat.sock").
func Dial(endpoint string, log *zap.SugaredLogger) (*Client, error) {
	conn, err := grpc.NewClient(
		endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(JSONCodecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("dialing netd at %s: %w", endpoint, err)
	}
	return &Client{conn: conn, log: log}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) invoke(ctx context.Context, method string, req, resp any) error {
	op := func() (struct{}, error) {
		return struct{}{}, c.conn.Invoke(ctx, method, req, resp)
	}
	_, err := backoff.Retry(ctx, op, backoff.WithMaxTries(3))
	if err != nil {
		return fmt.Errorf("invoking %s: %w", method, err)
	}
	return nil
}

// InterfaceSetEnableIPv6 toggles IPv6 autoconfiguration on iface. The start
// sequence calls this to disable IPv6 on the IPv4-only TUN interface.
func (c *Client) InterfaceSetEnableIPv6(ctx context.Context, iface string, enable bool) error {
	return c.invoke(ctx, "/netd.NetdService/InterfaceSetEnableIPv6",
		&setEnableIPv6Request{IfName: iface, Enable: enable}, &emptyResponse{})
}

// InterfaceSetMTU configures the MTU of iface.
func (c *Client) InterfaceSetMTU(ctx context.Context, iface string, mtu uint32) error {
	return c.invoke(ctx, "/netd.NetdService/InterfaceSetMTU",
		&setMTURequest{IfName: iface, MTU: mtu}, &emptyResponse{})
}

// InterfaceSetCfg applies an address/flags configuration to an interface.
func (c *Client) InterfaceSetCfg(ctx context.Context, cfg platform.InterfaceConfiguration) error {
	flags := make([]string, 0, len(cfg.Flags))
	for _, f := range cfg.Flags {
		flags = append(flags, string(f))
	}
	req := &setCfgRequest{
		IfName:    cfg.IfName,
		IPv4Addr:  cfg.IPv4Addr.String(),
		PrefixLen: cfg.PrefixLen,
		HwAddr:    cfg.HwAddr,
		Flags:     flags,
	}
	return c.invoke(ctx, "/netd.NetdService/InterfaceSetCfg", req, &emptyResponse{})
}
