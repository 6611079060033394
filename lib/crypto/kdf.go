package crypto

import (
	"io"

	sha256 "github.com/minio/sha256-simd"
	"github.com/samber/oops"
	"golang.org/x/crypto/hkdf"
)

// HKDF derives length bytes from secret using RFC 5869 with SHA-256.
// A nil salt is equivalent to HashLength zero bytes and a nil info to an
// empty context, matching the reference derivation.
func HKDF(length int, secret, salt, info []byte) ([]byte, error) {
	if length < 1 {
		return nil, oops.Errorf("invalid hkdf output length %d", length)
	}
	if len(secret) == 0 {
		return nil, oops.Errorf("hkdf requires a non-empty secret")
	}
	if len(salt) == 0 {
		salt = make([]byte, HashLength)
	}
	out := make([]byte, length)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, info), out); err != nil {
		return nil, oops.Wrapf(err, "hkdf expand")
	}
	return out, nil
}
