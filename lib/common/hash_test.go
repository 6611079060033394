package common

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddressHashFromBytes(t *testing.T) {
	raw := make([]byte, AddressHashLength)
	for i := range raw {
		raw[i] = byte(i)
	}

	h, err := AddressHashFromBytes(raw)
	require.NoError(t, err)
	assert.Equal(t, raw, h.Bytes())

	_, err = AddressHashFromBytes(raw[:15])
	assert.True(t, errors.Is(err, ErrInvalidHashSize))
	_, err = AddressHashFromBytes(append(raw, 0))
	assert.True(t, errors.Is(err, ErrInvalidHashSize))
}

func TestAddressHashHexRoundTrip(t *testing.T) {
	h := AddressHash{0xde, 0xad, 0xbe, 0xef}
	parsed, err := ParseAddressHash(h.String())
	require.NoError(t, err)
	assert.Equal(t, h, parsed)
	assert.Equal(t, "deadbeef", h.Short())

	_, err = ParseAddressHash("zz")
	assert.Error(t, err)
}

func TestAddressHashZero(t *testing.T) {
	var h AddressHash
	assert.True(t, h.IsZero())
	h[15] = 1
	assert.False(t, h.IsZero())
	assert.True(t, h.Equal(h))
}

func TestAddressHashBytesIsCopy(t *testing.T) {
	h := AddressHash{1}
	b := h.Bytes()
	b[0] = 9
	assert.Equal(t, byte(1), h[0])
}
