package crypto

import (
	"github.com/go-i2p/go-rns/lib/common"
	sha256 "github.com/minio/sha256-simd"
)

const (
	// HashLength is the width of a full SHA-256 digest.
	HashLength = 32
	// TruncatedHashLength is the address width on the wire.
	TruncatedHashLength = common.AddressHashLength
	// NameHashLength is the width of a destination name hash.
	NameHashLength = 10
)

// addresses must be strictly narrower than the digest they are cut from
var _ [HashLength - TruncatedHashLength - 1]struct{}

// FullHash returns SHA-256 over the concatenation of parts.
func FullHash(parts ...[]byte) []byte {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

// TruncatedHash returns the first 128 bits of SHA-256 over parts.
func TruncatedHash(parts ...[]byte) common.AddressHash {
	var out common.AddressHash
	copy(out[:], FullHash(parts...))
	return out
}

// NameHash returns the first NameHashLength bytes of SHA-256 over an
// already expanded dotted name such as "app.aspect1.aspect2".
func NameHash(expandedName string) []byte {
	return FullHash([]byte(expandedName))[:NameHashLength]
}
