// Package identity implements the long-lived key pair that makes a
// participant addressable: an X25519 agreement key and an Ed25519 signing key.
package identity

import (
	"crypto/ed25519"

	"github.com/go-i2p/go-rns/lib/common"
	"github.com/go-i2p/go-rns/lib/crypto"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

const (
	// PublicKeySize is x25519_pub(32) || ed25519_pub(32).
	PublicKeySize = crypto.X25519KeySize + crypto.Ed25519PublicKeySize
	// PrivateKeySize is x25519_prv(32) || ed25519_seed(32).
	PrivateKeySize = crypto.X25519KeySize + crypto.Ed25519SeedSize
	// DerivedKeyLength is the token key length produced for identity
	// encryption and link sessions (AES-256 mode).
	DerivedKeyLength = crypto.TokenKeyLength256
)

/*
[Identity]

Description
A signing keypair and a key agreement keypair. The address of an identity is
the first 16 bytes of SHA-256 over its 64 byte public key. Identities are
immutable once constructed; an identity built from a public key alone can
verify and encrypt but not sign or decrypt.
*/
type Identity struct {
	encPub  []byte
	sigPub  ed25519.PublicKey
	encPriv []byte
	sigPriv ed25519.PrivateKey
	hash    common.AddressHash
}

// New generates a fresh identity.
func New() (*Identity, error) {
	encPriv, encPub, err := crypto.GenerateX25519()
	if err != nil {
		return nil, oops.Wrapf(err, "generating agreement key")
	}
	sigPriv, err := crypto.GenerateEd25519()
	if err != nil {
		return nil, oops.Wrapf(err, "generating signing key")
	}
	id := &Identity{
		encPub:  encPub,
		encPriv: encPriv,
		sigPriv: sigPriv,
		sigPub:  sigPriv.Public().(ed25519.PublicKey),
	}
	id.hash = HashFromPublicKey(id.PublicKey())
	log.WithFields(logger.Fields{
		"at":   "identity.New",
		"hash": id.hash.Short(),
	}).Debug("generated identity")
	return id, nil
}

// FromPrivateBytes restores an identity from x25519_prv || ed25519_seed.
func FromPrivateBytes(data []byte) (*Identity, error) {
	if len(data) != PrivateKeySize {
		return nil, oops.Wrapf(ErrInvalidPrivate, "got %d bytes, want %d", len(data), PrivateKeySize)
	}
	encPriv := append([]byte(nil), data[:crypto.X25519KeySize]...)
	encPub, err := crypto.X25519Public(encPriv)
	if err != nil {
		return nil, oops.Wrapf(ErrInvalidPrivate, "%v", err)
	}
	sigPriv, err := crypto.Ed25519FromSeed(data[crypto.X25519KeySize:])
	if err != nil {
		return nil, oops.Wrapf(ErrInvalidPrivate, "%v", err)
	}
	id := &Identity{
		encPub:  encPub,
		encPriv: encPriv,
		sigPriv: sigPriv,
		sigPub:  sigPriv.Public().(ed25519.PublicKey),
	}
	id.hash = HashFromPublicKey(id.PublicKey())
	return id, nil
}

// FromPublicKey builds a verify/encrypt only identity from a 64 byte public key.
func FromPublicKey(pub []byte) (*Identity, error) {
	if len(pub) != PublicKeySize {
		return nil, oops.Wrapf(ErrInvalidPublicKey, "got %d bytes, want %d", len(pub), PublicKeySize)
	}
	id := &Identity{
		encPub: append([]byte(nil), pub[:crypto.X25519KeySize]...),
		sigPub: append(ed25519.PublicKey(nil), pub[crypto.X25519KeySize:]...),
	}
	id.hash = HashFromPublicKey(pub)
	return id, nil
}

// HashFromPublicKey computes the identity address for a public key.
func HashFromPublicKey(pub []byte) common.AddressHash {
	return crypto.TruncatedHash(pub)
}

// PublicKey returns x25519_pub || ed25519_pub.
func (id *Identity) PublicKey() []byte {
	out := make([]byte, 0, PublicKeySize)
	out = append(out, id.encPub...)
	return append(out, id.sigPub...)
}

func (id *Identity) EncryptionPublicKey() []byte {
	return append([]byte(nil), id.encPub...)
}

func (id *Identity) SigningPublicKey() []byte {
	return append([]byte(nil), id.sigPub...)
}

// PrivateBytes returns x25519_prv || ed25519_seed, or nil for a public-only identity.
func (id *Identity) PrivateBytes() []byte {
	if !id.HasPrivateKey() {
		return nil
	}
	out := make([]byte, 0, PrivateKeySize)
	out = append(out, id.encPriv...)
	return append(out, id.sigPriv.Seed()...)
}

func (id *Identity) Hash() common.AddressHash {
	return id.hash
}

func (id *Identity) HasPrivateKey() bool {
	return id.encPriv != nil && id.sigPriv != nil
}

// Public returns a copy of the identity without private material.
func (id *Identity) Public() *Identity {
	return &Identity{
		encPub: id.EncryptionPublicKey(),
		sigPub: ed25519.PublicKey(id.SigningPublicKey()),
		hash:   id.hash,
	}
}

// Sign signs msg with the identity signing key.
func (id *Identity) Sign(msg []byte) ([]byte, error) {
	if id.sigPriv == nil {
		return nil, ErrNoPrivateKey
	}
	return ed25519.Sign(id.sigPriv, msg), nil
}

// Verify checks sig over msg against the identity signing key.
func (id *Identity) Verify(msg, sig []byte) bool {
	return crypto.Verify(id.sigPub, msg, sig)
}

// DeriveSharedSecret runs X25519 between our agreement key and peerPub.
func (id *Identity) DeriveSharedSecret(peerPub []byte) ([]byte, error) {
	if id.encPriv == nil {
		return nil, ErrNoPrivateKey
	}
	return crypto.X25519Shared(id.encPriv, peerPub)
}

// DeriveSessionKey expands a shared secret into a DerivedKeyLength token key.
func DeriveSessionKey(shared, salt, context []byte) ([]byte, error) {
	return crypto.HKDF(DerivedKeyLength, shared, salt, context)
}

// Encrypt seals plaintext for this identity: a fresh ephemeral X25519 key
// is agreed with the identity's key, expanded with the identity hash as
// salt, and the result is eph_pub(32) || token.
func (id *Identity) Encrypt(plaintext []byte) ([]byte, error) {
	ephPriv, ephPub, err := crypto.GenerateX25519()
	if err != nil {
		return nil, err
	}
	shared, err := crypto.X25519Shared(ephPriv, id.encPub)
	if err != nil {
		return nil, err
	}
	tok, err := id.token(shared)
	if err != nil {
		return nil, err
	}
	sealed, err := tok.Encrypt(plaintext)
	if err != nil {
		return nil, err
	}
	return append(ephPub, sealed...), nil
}

// Decrypt opens a ciphertext produced by Encrypt. Any failure, including a
// malformed ephemeral key, is crypto.ErrCryptoVerificationFailed.
func (id *Identity) Decrypt(ciphertext []byte) ([]byte, error) {
	if id.encPriv == nil {
		return nil, ErrNoPrivateKey
	}
	if len(ciphertext) <= crypto.X25519KeySize {
		return nil, oops.Wrapf(crypto.ErrCryptoVerificationFailed, "ciphertext of %d bytes too short", len(ciphertext))
	}
	shared, err := crypto.X25519Shared(id.encPriv, ciphertext[:crypto.X25519KeySize])
	if err != nil {
		return nil, err
	}
	tok, err := id.token(shared)
	if err != nil {
		return nil, err
	}
	plain, err := tok.Decrypt(ciphertext[crypto.X25519KeySize:])
	if err != nil {
		log.WithFields(logger.Fields{
			"at":   "(Identity) Decrypt",
			"hash": id.hash.Short(),
		}).Debug("identity decryption failed")
		return nil, err
	}
	return plain, nil
}

func (id *Identity) token(shared []byte) (*crypto.Token, error) {
	key, err := DeriveSessionKey(shared, id.hash.Bytes(), nil)
	if err != nil {
		return nil, err
	}
	return crypto.NewToken(key)
}

func (id *Identity) String() string {
	return "<" + id.hash.String() + ">"
}
