package crypto

import (
	"github.com/samber/oops"
	"golang.org/x/crypto/curve25519"
)

// X25519KeySize is the size of X25519 public and private keys.
const X25519KeySize = curve25519.ScalarSize

// GenerateX25519 returns a new X25519 private key and its public key.
func GenerateX25519() (private, public []byte, err error) {
	private, err = RandomBytes(X25519KeySize)
	if err != nil {
		return nil, nil, err
	}
	public, err = X25519Public(private)
	if err != nil {
		return nil, nil, err
	}
	return private, public, nil
}

// X25519Public derives the public key for a private scalar.
func X25519Public(private []byte) ([]byte, error) {
	if len(private) != X25519KeySize {
		return nil, oops.Wrapf(ErrInvalidKeyLength, "x25519 private key must be %d bytes, got %d",
			X25519KeySize, len(private))
	}
	pub, err := curve25519.X25519(private, curve25519.Basepoint)
	if err != nil {
		return nil, oops.Wrapf(err, "x25519 public key")
	}
	return pub, nil
}

// X25519Shared performs the key agreement. Low order peer points are
// rejected by the underlying implementation and reported as an error.
func X25519Shared(private, peerPublic []byte) ([]byte, error) {
	if len(private) != X25519KeySize || len(peerPublic) != X25519KeySize {
		return nil, oops.Wrapf(ErrInvalidKeyLength, "x25519 keys must be %d bytes", X25519KeySize)
	}
	shared, err := curve25519.X25519(private, peerPublic)
	if err != nil {
		return nil, oops.Wrapf(ErrCryptoVerificationFailed, "x25519 agreement: %v", err)
	}
	return shared, nil
}
