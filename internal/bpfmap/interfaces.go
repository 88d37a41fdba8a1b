package bpfmap

import "io"

// Ingress6Table is the map from (uplink ifindex, NAT64 prefix, IPv6 local
// address) to the TUN redirect target, pinned at policy.PinnedIngress6Map.
type Ingress6Table interface {
	Insert(key Ingress6Key, value Ingress6Value) error
	Delete(key Ingress6Key) error
	IsEmpty() (bool, error)
	Iterate(fn func(Ingress6Key, Ingress6Value) error) error
	DumpRawBase64(w io.Writer) error
	Close() error
}

// Egress4Table is the map from (TUN ifindex, IPv4 local address) to the
// uplink redirect target, pinned at policy.PinnedEgress4Map.
type Egress4Table interface {
	Insert(key Egress4Key, value Egress4Value) error
	Delete(key Egress4Key) error
	IsEmpty() (bool, error)
	Iterate(fn func(Egress4Key, Egress4Value) error) error
	DumpRawBase64(w io.Writer) error
	Close() error
}

// CookieTagTable is the UID-accounting tag map shared with the traffic
// metering BPF subsystem, pinned at policy.PinnedCookieTagMap.
type CookieTagTable interface {
	Insert(key CookieTagKey, value CookieTagValue) error
	Delete(key CookieTagKey) error
	Close() error
}
