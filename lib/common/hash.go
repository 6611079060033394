package common

import (
	"crypto/subtle"
	"encoding/hex"
	"errors"

	"github.com/samber/oops"
)

/*
[Address Hash]

Description
The first 128 bits of a SHA-256 digest. Used as the address of identities,
destinations, links and transport instances. Must be compared using
constant-time operations when used for authentication decisions.

Contents
16 bytes
*/

// AddressHashLength is the width of every address on the wire.
const AddressHashLength = 16

var ErrInvalidHashSize = errors.New("invalid address hash size")

// AddressHash is a truncated SHA-256 digest identifying an endpoint.
type AddressHash [AddressHashLength]byte

// AddressHashFromBytes copies exactly AddressHashLength bytes into an AddressHash.
func AddressHashFromBytes(data []byte) (AddressHash, error) {
	var h AddressHash
	if len(data) != AddressHashLength {
		return h, oops.Wrapf(ErrInvalidHashSize, "got %d bytes, want %d", len(data), AddressHashLength)
	}
	copy(h[:], data)
	return h, nil
}

// ParseAddressHash decodes a hex encoded address hash.
func ParseAddressHash(s string) (AddressHash, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		var h AddressHash
		return h, oops.Wrapf(err, "decoding address hash %q", s)
	}
	return AddressHashFromBytes(raw)
}

// Bytes returns a copy of the hash as a slice.
func (h AddressHash) Bytes() []byte {
	out := make([]byte, AddressHashLength)
	copy(out, h[:])
	return out
}

// Equal compares two hashes in constant time.
func (h AddressHash) Equal(other AddressHash) bool {
	return subtle.ConstantTimeCompare(h[:], other[:]) == 1
}

// IsZero returns true if the hash is all zeros.
func (h AddressHash) IsZero() bool {
	var zero AddressHash
	return h.Equal(zero)
}

func (h AddressHash) String() string {
	return hex.EncodeToString(h[:])
}

// Short returns the first 8 hex characters, for log fields.
func (h AddressHash) Short() string {
	return h.String()[:8]
}
