package transport

import "errors"

var (
	// ErrDestinationUnreachable is returned when no path is known and a path
	// request timed out.
	ErrDestinationUnreachable = errors.New("destination unreachable")
	// ErrTableCapacityExceeded is returned when a table invariant would be
	// violated, such as a colliding link id.
	ErrTableCapacityExceeded = errors.New("routing table capacity exceeded")

	ErrUnknownInterface     = errors.New("unknown interface")
	ErrDuplicateInterface   = errors.New("interface already attached")
	ErrUnknownDestination   = errors.New("destination not registered")
	ErrDuplicateDestination = errors.New("destination already registered")
	ErrInvalidDestination   = errors.New("destination cannot be registered")
	ErrUnknownLink          = errors.New("unknown link")
	ErrMTUExceeded          = errors.New("packet exceeds interface mtu")
	ErrClosed               = errors.New("transport closed")
)
