package bpfmap

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIngress6KeyCodecRoundTrip(t *testing.T) {
	key := Ingress6Key{IIf: 3, Pfx96: [16]byte{0x20, 0x01, 0x0d, 0xb8}, Local6: [16]byte{1, 2, 3}}
	raw, err := key.MarshalBinary()
	require.NoError(t, err)

	got, err := unmarshalIngress6Key(raw)
	require.NoError(t, err)
	assert.Equal(t, key, got)
}

func TestEgress4ValueCodecRoundTrip(t *testing.T) {
	value := Egress4Value{OIf: 9, Local6: [16]byte{1}, Pfx96: [16]byte{2}, OifIsEthernet: 1, Packets: 10, Bytes: 2000}
	raw, err := value.MarshalBinary()
	require.NoError(t, err)

	got, err := unmarshalEgress4Value(raw)
	require.NoError(t, err)
	assert.Equal(t, value, got)
}

func TestFakeIngress6MapInsertRejectsDuplicate(t *testing.T) {
	m := NewFakeIngress6Map()
	key := Ingress6Key{IIf: 1}
	require.NoError(t, m.Insert(key, Ingress6Value{OIf: 2}))

	err := m.Insert(key, Ingress6Value{OIf: 3})
	assert.ErrorIs(t, err, ErrKeyExists)
}

func TestFakeIngress6MapDeleteMissing(t *testing.T) {
	m := NewFakeIngress6Map()
	err := m.Delete(Ingress6Key{IIf: 1})
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestFakeEgress4MapIsEmpty(t *testing.T) {
	m := NewFakeEgress4Map()
	empty, err := m.IsEmpty()
	require.NoError(t, err)
	assert.True(t, empty)

	require.NoError(t, m.Insert(Egress4Key{IIf: 1}, Egress4Value{OIf: 2}))
	empty, err = m.IsEmpty()
	require.NoError(t, err)
	assert.False(t, empty)
}

func TestFakeEgress4MapDumpRawBase64(t *testing.T) {
	m := NewFakeEgress4Map()
	require.NoError(t, m.Insert(Egress4Key{IIf: 1, Local4: [4]byte{192, 0, 0, 4}}, Egress4Value{OIf: 2}))

	var buf bytes.Buffer
	require.NoError(t, m.DumpRawBase64(&buf))
	assert.NotEmpty(t, buf.String())
	assert.Contains(t, buf.String(), ",")
}

func TestFakeCookieTagMapInsertDelete(t *testing.T) {
	m := NewFakeCookieTagMap()
	key := CookieTagKey{Cookie: 7}
	require.NoError(t, m.Insert(key, CookieTagValue{UID: 1029, Tag: 0}))
	assert.True(t, m.Has(key))

	require.NoError(t, m.Delete(key))
	assert.False(t, m.Has(key))

	assert.ErrorIs(t, m.Delete(key), ErrKeyNotFound)
}
