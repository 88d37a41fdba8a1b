package bpfmap

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Ingress6Key is the ingress6 map key: the uplink interface index, the
// NAT64 prefix, and the translator's chosen IPv6 source, keyed together so
// that multiple CLAT instances on the same host would never collide (only
// one instance per coordinator is supported, but the kernel map format is
// shared with the BPF program and fixed regardless).
type Ingress6Key struct {
	IIf    uint32
	Pfx96  [16]byte
	Local6 [16]byte
}

// Ingress6Value is the ingress6 map value: the TUN interface index to
// redirect translated packets to, the synthetic IPv4 local address, and
// the in-kernel packet/byte counters. The counters are never written by
// the coordinator; Insert always starts a fresh entry at zero and the
// kernel program accumulates from there.
type Ingress6Value struct {
	OIf     uint32
	Local4  [4]byte
	Packets uint64
	Bytes   uint64
}

func (k Ingress6Key) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(36)
	if err := binary.Write(&buf, binary.NativeEndian, k); err != nil {
		return nil, fmt.Errorf("marshaling ingress6 key: %w", err)
	}
	return buf.Bytes(), nil
}

func (v Ingress6Value) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.NativeEndian, v); err != nil {
		return nil, fmt.Errorf("marshaling ingress6 value: %w", err)
	}
	return buf.Bytes(), nil
}

func unmarshalIngress6Key(raw []byte) (Ingress6Key, error) {
	var k Ingress6Key
	if err := binary.Read(bytes.NewReader(raw), binary.NativeEndian, &k); err != nil {
		return Ingress6Key{}, fmt.Errorf("unmarshaling ingress6 key: %w", err)
	}
	return k, nil
}

func unmarshalIngress6Value(raw []byte) (Ingress6Value, error) {
	var v Ingress6Value
	if err := binary.Read(bytes.NewReader(raw), binary.NativeEndian, &v); err != nil {
		return Ingress6Value{}, fmt.Errorf("unmarshaling ingress6 value: %w", err)
	}
	return v, nil
}

// Egress4Key is the egress4 map key: the TUN interface index and the
// synthetic IPv4 local address assigned to the translator.
type Egress4Key struct {
	IIf    uint32
	Local4 [4]byte
}

// Egress4Value is the egress4 map value: where to redirect translated
// packets (the uplink interface), the translator's IPv6 source and the
// NAT64 prefix to embed the destination into, whether the uplink requires
// an Ethernet header on the rewritten frame, and the in-kernel counters.
type Egress4Value struct {
	OIf           uint32
	Local6        [16]byte
	Pfx96         [16]byte
	OifIsEthernet uint16
	_             [2]byte // matches C struct padding before the 8-byte-aligned counters
	Packets       uint64
	Bytes         uint64
}

func (k Egress4Key) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.NativeEndian, k); err != nil {
		return nil, fmt.Errorf("marshaling egress4 key: %w", err)
	}
	return buf.Bytes(), nil
}

func (v Egress4Value) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.NativeEndian, v); err != nil {
		return nil, fmt.Errorf("marshaling egress4 value: %w", err)
	}
	return buf.Bytes(), nil
}

func unmarshalEgress4Key(raw []byte) (Egress4Key, error) {
	var k Egress4Key
	if err := binary.Read(bytes.NewReader(raw), binary.NativeEndian, &k); err != nil {
		return Egress4Key{}, fmt.Errorf("unmarshaling egress4 key: %w", err)
	}
	return k, nil
}

func unmarshalEgress4Value(raw []byte) (Egress4Value, error) {
	var v Egress4Value
	if err := binary.Read(bytes.NewReader(raw), binary.NativeEndian, &v); err != nil {
		return Egress4Value{}, fmt.Errorf("unmarshaling egress4 value: %w", err)
	}
	return v, nil
}

// CookieTagKey is the cookie-tag map key: the kernel socket cookie.
type CookieTagKey struct {
	Cookie uint64
}

// CookieTagValue attributes a socket's traffic to a UID and an
// application-chosen tag. The coordinator always writes tag 0 under
// AIDClat so that clatd's own raw-socket traffic lands in the CLAT
// accounting bucket instead of being double-counted against whichever
// app's traffic it is translating.
type CookieTagValue struct {
	UID uint32
	Tag uint32
}

func (k CookieTagKey) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.NativeEndian, k); err != nil {
		return nil, fmt.Errorf("marshaling cookie-tag key: %w", err)
	}
	return buf.Bytes(), nil
}

func (v CookieTagValue) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.NativeEndian, v); err != nil {
		return nil, fmt.Errorf("marshaling cookie-tag value: %w", err)
	}
	return buf.Bytes(), nil
}

func unmarshalCookieTagKey(raw []byte) (CookieTagKey, error) {
	var k CookieTagKey
	if err := binary.Read(bytes.NewReader(raw), binary.NativeEndian, &k); err != nil {
		return CookieTagKey{}, fmt.Errorf("unmarshaling cookie-tag key: %w", err)
	}
	return k, nil
}

func unmarshalCookieTagValue(raw []byte) (CookieTagValue, error) {
	var v CookieTagValue
	if err := binary.Read(bytes.NewReader(raw), binary.NativeEndian, &v); err != nil {
		return CookieTagValue{}, fmt.Errorf("unmarshaling cookie-tag value: %w", err)
	}
	return v, nil
}
