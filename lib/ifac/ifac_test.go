package ifac

import (
	"errors"
	"testing"

	"github.com/go-i2p/go-rns/lib/common"
	"github.com/go-i2p/go-rns/lib/packet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplePacket(t *testing.T) []byte {
	t.Helper()
	p := &packet.Packet{
		Type:            packet.Data,
		DestinationType: packet.Plain,
		Hops:            2,
		Destination:     common.AddressHash{1, 2, 3},
		Data:            []byte("payload bytes"),
	}
	raw, err := p.Encode()
	require.NoError(t, err)
	return raw
}

func TestApplyOpenRoundTrip(t *testing.T) {
	for _, size := range []int{1, 8, 16, 64} {
		a, err := New("mesh", "secret", size)
		require.NoError(t, err)
		raw := samplePacket(t)

		masked, err := a.Apply(raw)
		require.NoError(t, err)
		assert.Len(t, masked, len(raw)+size)
		assert.True(t, HasFlag(masked))
		assert.NotEqual(t, raw[2:], masked[2+size:], "payload is masked")

		opened, err := a.Open(masked)
		require.NoError(t, err)
		assert.Equal(t, raw, opened)

		p, err := packet.Decode(opened)
		require.NoError(t, err)
		assert.Equal(t, byte(2), p.Hops)
	}
}

func TestDeterministicKeying(t *testing.T) {
	a, err := New("mesh", "secret", 16)
	require.NoError(t, err)
	b, err := New("mesh", "secret", 16)
	require.NoError(t, err)

	raw := samplePacket(t)
	fromA, err := a.Apply(raw)
	require.NoError(t, err)
	fromB, err := b.Apply(raw)
	require.NoError(t, err)
	assert.Equal(t, fromA, fromB)

	opened, err := b.Open(fromA)
	require.NoError(t, err)
	assert.Equal(t, raw, opened)
}

func TestOpenRejects(t *testing.T) {
	a, err := New("mesh", "secret", 16)
	require.NoError(t, err)
	other, err := New("mesh", "wrong", 16)
	require.NoError(t, err)
	raw := samplePacket(t)
	masked, err := a.Apply(raw)
	require.NoError(t, err)

	_, err = other.Open(masked)
	assert.True(t, errors.Is(err, ErrUnauthenticated))

	_, err = a.Open(raw)
	assert.True(t, errors.Is(err, ErrUnauthenticated), "missing flag")

	tampered := append([]byte(nil), masked...)
	tampered[len(tampered)-1] ^= 0x01
	_, err = a.Open(tampered)
	assert.True(t, errors.Is(err, ErrUnauthenticated))

	_, err = a.Open(masked[:10])
	assert.True(t, errors.Is(err, ErrUnauthenticated))
	assert.False(t, HasFlag(raw))
	assert.False(t, HasFlag(nil))
}

func TestNewValidation(t *testing.T) {
	_, err := New("", "", 16)
	assert.True(t, errors.Is(err, ErrNoCredentials))
	_, err = New("mesh", "", 0)
	assert.True(t, errors.Is(err, ErrInvalidSize))
	_, err = New("", "pass", 65)
	assert.True(t, errors.Is(err, ErrInvalidSize))

	onlyName, err := New("mesh", "", 8)
	require.NoError(t, err)
	withPass, err := New("mesh", "pass", 8)
	require.NoError(t, err)
	assert.NotEqual(t, onlyName.key, withPass.key)
}
