package nslcd

import (
	"bytes"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInt32RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	require.NoError(t, w.WriteInt32(Version))
	require.NoError(t, w.WriteInt32(-1))
	require.NoError(t, w.WriteInt32(0x000d0005))

	r := NewReader(&buf)
	v, err := r.ReadInt32()
	require.NoError(t, err)
	assert.Equal(t, Version, v)

	v, err = r.ReadInt32()
	require.NoError(t, err)
	assert.Equal(t, int32(-1), v)

	v, err = r.ReadInt32()
	require.NoError(t, err)
	assert.Equal(t, ActionPAMPwMod, v)
}

func TestStringRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"simple", "alice"},
		{"empty", ""},
		{"dn", "uid=alice,ou=people,dc=example,dc=com"},
		{"utf8", "grüße"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, NewWriter(&buf).WriteString(tt.value, MaxUserDNLen))

			got, err := NewReader(&buf).ReadString(MaxUserDNLen)
			require.NoError(t, err)
			assert.Equal(t, tt.value, got)
			assert.Zero(t, buf.Len(), "stream fully consumed")
		})
	}
}

func TestWriteStringOverflow(t *testing.T) {
	var buf bytes.Buffer
	long := string(bytes.Repeat([]byte{'a'}, MaxSecretLen+1))

	err := NewWriter(&buf).WriteString(long, MaxSecretLen)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFieldOverflow)
	// Nothing may reach the stream for an overflowing value.
	assert.Zero(t, buf.Len())
}

func TestReadStringBadLength(t *testing.T) {
	t.Run("NegativeLength", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, NewWriter(&buf).WriteInt32(-5))

		_, err := NewReader(&buf).ReadString(64)
		assert.ErrorIs(t, err, ErrInvalidLength)
	})

	t.Run("LengthBeyondCapacity", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, NewWriter(&buf).WriteInt32(65))

		_, err := NewReader(&buf).ReadString(64)
		assert.ErrorIs(t, err, ErrInvalidLength)
	})

	t.Run("TruncatedPayload", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, NewWriter(&buf).WriteInt32(10))
		buf.WriteString("short")

		_, err := NewReader(&buf).ReadString(64)
		assert.Error(t, err)
	})
}

func TestAddressRoundTripIPv4(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewWriter(&buf).WriteAddress("192.0.2.1"))

	r := NewReader(&buf)
	family, err := r.ReadInt32()
	require.NoError(t, err)
	assert.Equal(t, FamilyInet, family)

	n, err := r.ReadInt32()
	require.NoError(t, err)
	assert.Equal(t, int32(net.IPv4len), n)

	raw := make([]byte, n)
	_, err = buf.Read(raw)
	require.NoError(t, err)
	assert.Equal(t, net.ParseIP("192.0.2.1").To4(), net.IP(raw))
}

func TestAddressRoundTripIPv6(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewWriter(&buf).WriteAddress("2001:db8::1"))

	ip, err := NewReader(&buf).ReadAddress()
	require.NoError(t, err)
	assert.Equal(t, net.ParseIP("2001:db8::1").To16(), ip.To16())
}

func TestAddressUnparseable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewWriter(&buf).WriteAddress("not-an-address"))

	// The writer blanks the entry instead of failing the record.
	r := NewReader(bytes.NewReader(buf.Bytes()))
	family, err := r.ReadInt32()
	require.NoError(t, err)
	assert.Equal(t, FamilyInvalid, family)

	n, err := r.ReadInt32()
	require.NoError(t, err)
	assert.Zero(t, n)

	// Decoding the blank entry is an error, not a retry.
	_, err = NewReader(bytes.NewReader(buf.Bytes())).ReadAddress()
	assert.ErrorIs(t, err, ErrBadAddress)
}

func TestReadAddressBadLength(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.WriteInt32(FamilyInet))
	require.NoError(t, w.WriteInt32(17))

	_, err := NewReader(&buf).ReadAddress()
	assert.ErrorIs(t, err, ErrInvalidLength)
}
