package rpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
)

// Client calls a running coordinator's control surface over gRPC.
type Client struct {
	conn *grpc.ClientConn
}

// NewClient wraps an already-dialed connection. The caller is responsible
// for dialing with grpc.WithDefaultCallOptions(grpc.CallContentSubtype(...))
// set to the JSON codec name internal/platform/netd registers, since this
// package defines no codec of its own.
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

func (c *Client) Start(ctx context.Context, iface string, netID uint32, nat64Prefix string) (string, error) {
	resp := new(StartResponse)
	if err := c.conn.Invoke(ctx, fmt.Sprintf("/%s/Start", ServiceName),
		&StartRequest{Iface: iface, NetID: netID, NAT64Prefix: nat64Prefix}, resp); err != nil {
		return "", fmt.Errorf("invoking Start: %w", err)
	}
	return resp.V6, nil
}

func (c *Client) Stop(ctx context.Context) error {
	if err := c.conn.Invoke(ctx, fmt.Sprintf("/%s/Stop", ServiceName), &StopRequest{}, new(StopResponse)); err != nil {
		return fmt.Errorf("invoking Stop: %w", err)
	}
	return nil
}

func (c *Client) Dump(ctx context.Context) (string, error) {
	resp := new(DumpResponse)
	if err := c.conn.Invoke(ctx, fmt.Sprintf("/%s/Dump", ServiceName), &DumpRequest{}, resp); err != nil {
		return "", fmt.Errorf("invoking Dump: %w", err)
	}
	return resp.Text, nil
}

func (c *Client) GetTracker(ctx context.Context) (*GetTrackerResponse, error) {
	resp := new(GetTrackerResponse)
	if err := c.conn.Invoke(ctx, fmt.Sprintf("/%s/GetTracker", ServiceName), &GetTrackerRequest{}, resp); err != nil {
		return nil, fmt.Errorf("invoking GetTracker: %w", err)
	}
	return resp, nil
}
