package announce

import "errors"

var (
	// ErrNotAnnounceable is returned for destinations that cannot announce:
	// anything other than an inbound single destination.
	ErrNotAnnounceable = errors.New("destination cannot be announced")
	ErrUnknown         = errors.New("destination not scheduled")
	ErrRunning         = errors.New("scheduler already running")
	ErrInvalidInterval = errors.New("announce interval must be positive")
)
