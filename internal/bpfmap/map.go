// Package bpfmap provides typed, pinned-path access to the three kernel
// BPF maps the CLAT fast path depends on, backed by github.com/cilium/ebpf.
package bpfmap

import (
	"encoding"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/cilium/ebpf"
)

// OpenIngress6Map opens the pinned ingress6 map. It returns (nil, nil) if
// the pinned path does not exist: the coordinator degrades to
// daemon-only translation when the fast-path maps are unavailable rather
// than treating their absence as fatal.
func OpenIngress6Map(path string) (*Ingress6Map, error) {
	m, err := openPinnedOrAbsent(path)
	if err != nil || m == nil {
		return nil, err
	}
	return &Ingress6Map{m: m}, nil
}

// OpenEgress4Map opens the pinned egress4 map, or returns (nil, nil) if
// the pinned path is absent.
func OpenEgress4Map(path string) (*Egress4Map, error) {
	m, err := openPinnedOrAbsent(path)
	if err != nil || m == nil {
		return nil, err
	}
	return &Egress4Map{m: m}, nil
}

// OpenCookieTagMap opens the pinned cookie-tag map, or returns (nil, nil)
// if the pinned path is absent.
func OpenCookieTagMap(path string) (*CookieTagMap, error) {
	m, err := openPinnedOrAbsent(path)
	if err != nil || m == nil {
		return nil, err
	}
	return &CookieTagMap{m: m}, nil
}

func openPinnedOrAbsent(path string) (*ebpf.Map, error) {
	m, err := ebpf.LoadPinnedMap(path, nil)
	if err != nil {
		if errors.Is(err, ebpf.ErrNotExist) || os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("loading pinned map %s: %w", path, err)
	}
	return m, nil
}

func insertRaw(m *ebpf.Map, key, value encoding.BinaryMarshaler) error {
	kb, err := key.MarshalBinary()
	if err != nil {
		return err
	}
	vb, err := value.MarshalBinary()
	if err != nil {
		return err
	}
	if err := m.Update(kb, vb, ebpf.UpdateNoExist); err != nil {
		if errors.Is(err, ebpf.ErrKeyExist) {
			return ErrKeyExists
		}
		return fmt.Errorf("inserting map entry: %w", err)
	}
	return nil
}

func deleteRaw(m *ebpf.Map, key encoding.BinaryMarshaler) error {
	kb, err := key.MarshalBinary()
	if err != nil {
		return err
	}
	if err := m.Delete(kb); err != nil {
		if errors.Is(err, ebpf.ErrKeyNotExist) {
			return ErrKeyNotFound
		}
		return fmt.Errorf("deleting map entry: %w", err)
	}
	return nil
}

func isEmptyRaw(m *ebpf.Map) (bool, error) {
	var key, value []byte
	it := m.Iterate()
	empty := !it.Next(&key, &value)
	if err := it.Err(); err != nil {
		return false, fmt.Errorf("iterating map: %w", err)
	}
	return empty, nil
}

func dumpRawBase64(m *ebpf.Map, w io.Writer) error {
	var key, value []byte
	it := m.Iterate()
	for it.Next(&key, &value) {
		line := fmt.Sprintf("%s,%s\n",
			base64.StdEncoding.EncodeToString(key),
			base64.StdEncoding.EncodeToString(value),
		)
		if _, err := io.WriteString(w, line); err != nil {
			return fmt.Errorf("writing dump line: %w", err)
		}
	}
	if err := it.Err(); err != nil {
		return fmt.Errorf("iterating map: %w", err)
	}
	return nil
}

// Ingress6Map is the cilium/ebpf-backed Ingress6Table implementation.
type Ingress6Map struct {
	m *ebpf.Map
}

func (t *Ingress6Map) Insert(key Ingress6Key, value Ingress6Value) error {
	return insertRaw(t.m, key, value)
}

func (t *Ingress6Map) Delete(key Ingress6Key) error {
	return deleteRaw(t.m, key)
}

func (t *Ingress6Map) IsEmpty() (bool, error) {
	return isEmptyRaw(t.m)
}

func (t *Ingress6Map) Iterate(fn func(Ingress6Key, Ingress6Value) error) error {
	var kb, vb []byte
	it := t.m.Iterate()
	for it.Next(&kb, &vb) {
		key, err := unmarshalIngress6Key(kb)
		if err != nil {
			return err
		}
		value, err := unmarshalIngress6Value(vb)
		if err != nil {
			return err
		}
		if err := fn(key, value); err != nil {
			return err
		}
	}
	if err := it.Err(); err != nil {
		return fmt.Errorf("iterating ingress6 map: %w", err)
	}
	return nil
}

func (t *Ingress6Map) DumpRawBase64(w io.Writer) error {
	return dumpRawBase64(t.m, w)
}

func (t *Ingress6Map) Close() error {
	return t.m.Close()
}

// Egress4Map is the cilium/ebpf-backed Egress4Table implementation.
type Egress4Map struct {
	m *ebpf.Map
}

func (t *Egress4Map) Insert(key Egress4Key, value Egress4Value) error {
	return insertRaw(t.m, key, value)
}

func (t *Egress4Map) Delete(key Egress4Key) error {
	return deleteRaw(t.m, key)
}

func (t *Egress4Map) IsEmpty() (bool, error) {
	return isEmptyRaw(t.m)
}

func (t *Egress4Map) Iterate(fn func(Egress4Key, Egress4Value) error) error {
	var kb, vb []byte
	it := t.m.Iterate()
	for it.Next(&kb, &vb) {
		key, err := unmarshalEgress4Key(kb)
		if err != nil {
			return err
		}
		value, err := unmarshalEgress4Value(vb)
		if err != nil {
			return err
		}
		if err := fn(key, value); err != nil {
			return err
		}
	}
	if err := it.Err(); err != nil {
		return fmt.Errorf("iterating egress4 map: %w", err)
	}
	return nil
}

func (t *Egress4Map) DumpRawBase64(w io.Writer) error {
	return dumpRawBase64(t.m, w)
}

func (t *Egress4Map) Close() error {
	return t.m.Close()
}

// CookieTagMap is the cilium/ebpf-backed CookieTagTable implementation.
type CookieTagMap struct {
	m *ebpf.Map
}

func (t *CookieTagMap) Insert(key CookieTagKey, value CookieTagValue) error {
	return insertRaw(t.m, key, value)
}

func (t *CookieTagMap) Delete(key CookieTagKey) error {
	return deleteRaw(t.m, key)
}

func (t *CookieTagMap) Close() error {
	return t.m.Close()
}
