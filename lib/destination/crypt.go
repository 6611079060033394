package destination

import (
	"github.com/go-i2p/go-rns/lib/crypto"
	"github.com/go-i2p/go-rns/lib/packet"
	"github.com/samber/oops"
)

// CreateGroupKey generates and installs a fresh AES-256 group key.
func (d *Destination) CreateGroupKey() ([]byte, error) {
	key, err := crypto.GenerateTokenKey()
	if err != nil {
		return nil, err
	}
	if err := d.SetGroupKey(key); err != nil {
		return nil, err
	}
	return key, nil
}

// SetGroupKey installs a shared 32 or 64 byte key on a group destination.
func (d *Destination) SetGroupKey(key []byte) error {
	if d.Type != packet.Group {
		return oops.Wrapf(ErrInvalidType, "group key on %s destination", d.Type)
	}
	tok, err := crypto.NewToken(key)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.groupKey = append([]byte(nil), key...)
	d.groupToken = tok
	return nil
}

// GroupKey returns the installed group key, or nil.
func (d *Destination) GroupKey() []byte {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]byte(nil), d.groupKey...)
}

// Encrypt prepares plaintext for transmission to this destination.
func (d *Destination) Encrypt(plaintext []byte) ([]byte, error) {
	switch d.Type {
	case packet.Plain:
		return append([]byte(nil), plaintext...), nil
	case packet.Single:
		return d.identity.Encrypt(plaintext)
	case packet.Group:
		tok, err := d.token()
		if err != nil {
			return nil, err
		}
		return tok.Encrypt(plaintext)
	}
	return nil, oops.Wrapf(ErrCannotEncrypt, "%s destination", d.Type)
}

// Decrypt opens a payload received for this destination.
func (d *Destination) Decrypt(ciphertext []byte) ([]byte, error) {
	switch d.Type {
	case packet.Plain:
		return append([]byte(nil), ciphertext...), nil
	case packet.Single:
		return d.identity.Decrypt(ciphertext)
	case packet.Group:
		tok, err := d.token()
		if err != nil {
			return nil, err
		}
		return tok.Decrypt(ciphertext)
	}
	return nil, oops.Wrapf(ErrCannotEncrypt, "%s destination", d.Type)
}

func (d *Destination) token() (*crypto.Token, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.groupToken == nil {
		return nil, ErrNoGroupKey
	}
	return d.groupToken, nil
}
