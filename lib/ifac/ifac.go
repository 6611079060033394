// Package ifac implements interface access codes: a per interface
// authentication tag derived from a network name and passphrase, with the
// packet masked so that nodes without the code cannot parse it.
package ifac

import (
	"crypto/subtle"
	"encoding/hex"
	"errors"

	"github.com/go-i2p/go-rns/lib/crypto"
	"github.com/go-i2p/go-rns/lib/identity"
	"github.com/go-i2p/go-rns/lib/packet"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

var log = logger.GetGoI2PLogger()

var (
	ErrNoCredentials = errors.New("access codes need a network name or passphrase")
	ErrInvalidSize   = errors.New("invalid access code size")
	// ErrUnauthenticated is returned for packets without a valid access code.
	ErrUnauthenticated = errors.New("packet failed access code check")
)

const (
	// MaxSize is the largest tag, a full Ed25519 signature.
	MaxSize = crypto.SignatureSize

	flagIFAC byte = 0x80
)

// salt is the fixed HKDF salt for access code keys.
var salt = mustHex("adf54d882c9a9b80771eb4995d702d4a3e733391b2a0f53f416d9f907e55cff8")

func mustHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}

/*
[Authenticator]

Description
Derives the access code key as

	HKDF(64, SHA-256(SHA-256(network_name) || SHA-256(passphrase)), salt)

and uses it as the private key of a signing identity. The tag of a packet is
the last size bytes of that identity's signature over the packet; the
header and payload are then XORed with a mask expanded from the tag.
*/
type Authenticator struct {
	size     int
	key      []byte
	identity *identity.Identity
}

// New creates an authenticator from a network name and passphrase, either
// of which may be empty but not both.
func New(networkName, passphrase string, size int) (*Authenticator, error) {
	if networkName == "" && passphrase == "" {
		return nil, ErrNoCredentials
	}
	if size < packet.IFACMinSize || size > MaxSize {
		return nil, oops.Wrapf(ErrInvalidSize, "size %d not in [%d, %d]", size, packet.IFACMinSize, MaxSize)
	}
	var origin []byte
	if networkName != "" {
		origin = append(origin, crypto.FullHash([]byte(networkName))...)
	}
	if passphrase != "" {
		origin = append(origin, crypto.FullHash([]byte(passphrase))...)
	}
	key, err := crypto.HKDF(identity.PrivateKeySize, crypto.FullHash(origin), salt, nil)
	if err != nil {
		return nil, err
	}
	id, err := identity.FromPrivateBytes(key)
	if err != nil {
		return nil, err
	}
	return &Authenticator{size: size, key: key, identity: id}, nil
}

// Size is the tag length carried by every packet.
func (a *Authenticator) Size() int {
	return a.size
}

func (a *Authenticator) tag(raw []byte) ([]byte, error) {
	sig, err := a.identity.Sign(raw)
	if err != nil {
		return nil, err
	}
	return sig[len(sig)-a.size:], nil
}

func (a *Authenticator) mask(tag []byte, n int) ([]byte, error) {
	return crypto.HKDF(n, tag, a.key, nil)
}

// Apply inserts the access code into an encoded packet and masks it.
func (a *Authenticator) Apply(raw []byte) ([]byte, error) {
	if len(raw) < packet.HeaderMinSize {
		return nil, oops.Wrapf(packet.ErrTruncated, "%d bytes", len(raw))
	}
	tag, err := a.tag(raw)
	if err != nil {
		return nil, err
	}
	mask, err := a.mask(tag, len(raw)+a.size)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(raw)+a.size)
	out = append(out, raw[0]|flagIFAC, raw[1])
	out = append(out, tag...)
	out = append(out, raw[2:]...)
	for i := range out {
		switch {
		case i == 0:
			out[i] = (out[i] ^ mask[i]) | flagIFAC
		case i == 1 || i > a.size+1:
			out[i] ^= mask[i]
		}
	}
	return out, nil
}

// Open verifies and strips the access code, returning the packet as it was
// before Apply. Packets without the IFAC flag or with a wrong tag are
// ErrUnauthenticated.
func (a *Authenticator) Open(raw []byte) ([]byte, error) {
	if len(raw) <= 2+a.size || raw[0]&flagIFAC == 0 {
		return nil, ErrUnauthenticated
	}
	tag := raw[2 : 2+a.size]
	mask, err := a.mask(tag, len(raw))
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(raw)-a.size)
	out = append(out, (raw[0]^mask[0])&^flagIFAC, raw[1]^mask[1])
	for i := 2 + a.size; i < len(raw); i++ {
		out = append(out, raw[i]^mask[i])
	}
	expected, err := a.tag(out)
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare(tag, expected) != 1 {
		log.WithFields(logger.Fields{
			"at":     "(Authenticator) Open",
			"reason": "tag_mismatch",
		}).Debug("dropping packet with invalid access code")
		return nil, ErrUnauthenticated
	}
	return out, nil
}

// HasFlag reports whether raw carries the IFAC flag, used to drop access
// coded packets on interfaces that have none configured.
func HasFlag(raw []byte) bool {
	return len(raw) > 0 && raw[0]&flagIFAC != 0
}
