package destination

import "errors"

var (
	ErrIdentityRequired   = errors.New("single destinations require an identity")
	ErrUnexpectedIdentity = errors.New("destination type does not take an identity")
	ErrInvalidName        = errors.New("invalid destination name")
	ErrInvalidType        = errors.New("invalid destination type")
	ErrNotAnnounceable    = errors.New("destination cannot be announced")
	ErrInvalidAnnounce    = errors.New("invalid announce")
	ErrNoGroupKey         = errors.New("group destination has no key")
	ErrCannotEncrypt      = errors.New("destination type does not encrypt")
)
