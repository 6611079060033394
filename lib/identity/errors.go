package identity

import "errors"

var (
	ErrNoPrivateKey     = errors.New("identity has no private key")
	ErrInvalidPublicKey = errors.New("invalid identity public key")
	ErrInvalidPrivate   = errors.New("invalid identity private key")
)
