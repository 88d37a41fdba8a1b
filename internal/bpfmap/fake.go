package bpfmap

import (
	"encoding/base64"
	"fmt"
	"io"
)

// FakeIngress6Map is an in-memory Ingress6Table used by tests that would
// otherwise need a pinned kernel map.
type FakeIngress6Map struct {
	entries map[Ingress6Key]Ingress6Value
	closed  bool
}

// NewFakeIngress6Map creates an empty in-memory ingress6 table.
func NewFakeIngress6Map() *FakeIngress6Map {
	return &FakeIngress6Map{entries: map[Ingress6Key]Ingress6Value{}}
}

func (t *FakeIngress6Map) Insert(key Ingress6Key, value Ingress6Value) error {
	if _, ok := t.entries[key]; ok {
		return ErrKeyExists
	}
	t.entries[key] = value
	return nil
}

func (t *FakeIngress6Map) Delete(key Ingress6Key) error {
	if _, ok := t.entries[key]; !ok {
		return ErrKeyNotFound
	}
	delete(t.entries, key)
	return nil
}

func (t *FakeIngress6Map) IsEmpty() (bool, error) {
	return len(t.entries) == 0, nil
}

func (t *FakeIngress6Map) Iterate(fn func(Ingress6Key, Ingress6Value) error) error {
	for k, v := range t.entries {
		if err := fn(k, v); err != nil {
			return err
		}
	}
	return nil
}

func (t *FakeIngress6Map) DumpRawBase64(w io.Writer) error {
	for k, v := range t.entries {
		kb, _ := k.MarshalBinary()
		vb, _ := v.MarshalBinary()
		if _, err := fmt.Fprintf(w, "%s,%s\n", base64.StdEncoding.EncodeToString(kb), base64.StdEncoding.EncodeToString(vb)); err != nil {
			return err
		}
	}
	return nil
}

func (t *FakeIngress6Map) Close() error {
	t.closed = true
	return nil
}

// Has reports whether key is present; used by tests to assert on
// unwind/cleanup behavior without a fn callback.
func (t *FakeIngress6Map) Has(key Ingress6Key) bool {
	_, ok := t.entries[key]
	return ok
}

// FakeEgress4Map is an in-memory Egress4Table used by tests.
type FakeEgress4Map struct {
	entries map[Egress4Key]Egress4Value
	closed  bool
}

// NewFakeEgress4Map creates an empty in-memory egress4 table.
func NewFakeEgress4Map() *FakeEgress4Map {
	return &FakeEgress4Map{entries: map[Egress4Key]Egress4Value{}}
}

func (t *FakeEgress4Map) Insert(key Egress4Key, value Egress4Value) error {
	if _, ok := t.entries[key]; ok {
		return ErrKeyExists
	}
	t.entries[key] = value
	return nil
}

func (t *FakeEgress4Map) Delete(key Egress4Key) error {
	if _, ok := t.entries[key]; !ok {
		return ErrKeyNotFound
	}
	delete(t.entries, key)
	return nil
}

func (t *FakeEgress4Map) IsEmpty() (bool, error) {
	return len(t.entries) == 0, nil
}

func (t *FakeEgress4Map) Iterate(fn func(Egress4Key, Egress4Value) error) error {
	for k, v := range t.entries {
		if err := fn(k, v); err != nil {
			return err
		}
	}
	return nil
}

func (t *FakeEgress4Map) DumpRawBase64(w io.Writer) error {
	for k, v := range t.entries {
		kb, _ := k.MarshalBinary()
		vb, _ := v.MarshalBinary()
		if _, err := fmt.Fprintf(w, "%s,%s\n", base64.StdEncoding.EncodeToString(kb), base64.StdEncoding.EncodeToString(vb)); err != nil {
			return err
		}
	}
	return nil
}

func (t *FakeEgress4Map) Close() error {
	t.closed = true
	return nil
}

func (t *FakeEgress4Map) Has(key Egress4Key) bool {
	_, ok := t.entries[key]
	return ok
}

// FakeCookieTagMap is an in-memory CookieTagTable used by tests.
type FakeCookieTagMap struct {
	entries map[CookieTagKey]CookieTagValue
	closed  bool
}

// NewFakeCookieTagMap creates an empty in-memory cookie-tag table.
func NewFakeCookieTagMap() *FakeCookieTagMap {
	return &FakeCookieTagMap{entries: map[CookieTagKey]CookieTagValue{}}
}

func (t *FakeCookieTagMap) Insert(key CookieTagKey, value CookieTagValue) error {
	if _, ok := t.entries[key]; ok {
		return ErrKeyExists
	}
	t.entries[key] = value
	return nil
}

func (t *FakeCookieTagMap) Delete(key CookieTagKey) error {
	if _, ok := t.entries[key]; !ok {
		return ErrKeyNotFound
	}
	delete(t.entries, key)
	return nil
}

func (t *FakeCookieTagMap) Close() error {
	t.closed = true
	return nil
}

func (t *FakeCookieTagMap) Has(key CookieTagKey) bool {
	_, ok := t.entries[key]
	return ok
}
