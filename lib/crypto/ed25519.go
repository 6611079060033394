package crypto

import (
	"crypto/ed25519"

	"github.com/samber/oops"
)

const (
	Ed25519PublicKeySize = ed25519.PublicKeySize
	Ed25519SeedSize      = ed25519.SeedSize
	SignatureSize        = ed25519.SignatureSize
)

// GenerateEd25519 creates a new signing key.
func GenerateEd25519() (ed25519.PrivateKey, error) {
	seed, err := RandomBytes(Ed25519SeedSize)
	if err != nil {
		return nil, err
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

// Ed25519FromSeed expands a 32 byte seed into a signing key.
func Ed25519FromSeed(seed []byte) (ed25519.PrivateKey, error) {
	if len(seed) != Ed25519SeedSize {
		return nil, oops.Wrapf(ErrInvalidKeyLength, "ed25519 seed must be %d bytes, got %d",
			Ed25519SeedSize, len(seed))
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

// Verify reports whether sig is a valid signature of msg by pub.
// Malformed keys or signatures yield false, never a panic.
func Verify(pub, msg, sig []byte) bool {
	if len(pub) != Ed25519PublicKeySize || len(sig) != SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), msg, sig)
}
