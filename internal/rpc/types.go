// Package rpc exposes the coordinator's Start/Stop/Dump/GetTracker
// lifecycle over gRPC so that a connectivity service can drive it from a
// separate process instead of in-process Go calls. No .proto toolchain is
// run for this repository, so the service is described by hand: a plain
// google.golang.org/grpc.ServiceDesc with request/response structs
// marshaled by the same JSON codec internal/platform/netd registers.
package rpc

import "net/netip"

// StartRequest is the payload for the Start RPC.
type StartRequest struct {
	Iface       string `json:"iface"`
	NetID       uint32 `json:"net_id"`
	NAT64Prefix string `json:"nat64_prefix"`
}

// StartResponse is the result of a successful Start RPC.
type StartResponse struct {
	V6 string `json:"v6"`
}

// StopRequest is the payload for the Stop RPC; it carries no fields since
// the coordinator manages exactly one instance.
type StopRequest struct{}

// StopResponse is the (empty) result of a successful Stop RPC.
type StopResponse struct{}

// DumpRequest is the payload for the Dump RPC.
type DumpRequest struct{}

// DumpResponse carries the rendered text of a Dump call.
type DumpResponse struct {
	Text string `json:"text"`
}

// GetTrackerRequest is the payload for the GetTracker RPC.
type GetTrackerRequest struct{}

// GetTrackerResponse mirrors tracker.Tracker over the wire.
type GetTrackerResponse struct {
	Running       bool   `json:"running"`
	UplinkIface   string `json:"uplink_iface"`
	UplinkIfindex uint32 `json:"uplink_ifindex"`
	V4Iface       string `json:"v4_iface"`
	V4Ifindex     uint32 `json:"v4_ifindex"`
	V4            string `json:"v4"`
	V6            string `json:"v6"`
	Pfx96         string `json:"pfx96"`
	DaemonPID     int    `json:"daemon_pid"`
	Cookie        uint64 `json:"cookie"`
	MTU           uint32 `json:"mtu"`
}

func parsePrefix(s string) (netip.Prefix, error) {
	return netip.ParsePrefix(s)
}
