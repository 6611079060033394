package link

import "errors"

var (
	// ErrHandshakeFailed is returned when a link proof does not verify.
	ErrHandshakeFailed = errors.New("link handshake failed")
	// ErrHandshakeTimeout is returned when no valid proof arrived in time.
	ErrHandshakeTimeout = errors.New("link handshake timed out")
	// ErrStaleSequence rejects a replayed or out of window channel sequence.
	ErrStaleSequence = errors.New("stale link sequence")
	// ErrReplayedData rejects unsequenced link data already delivered.
	ErrReplayedData = errors.New("replayed link data")

	ErrLinkClosed       = errors.New("link closed")
	ErrNotActive        = errors.New("link not active")
	ErrInvalidState     = errors.New("invalid link state for operation")
	ErrInvalidRequest   = errors.New("invalid link request")
	ErrInvalidProof     = errors.New("invalid link proof")
	ErrUnsupportedMode  = errors.New("unsupported link mode")
	ErrPayloadTooLarge  = errors.New("payload exceeds link mdu")
	ErrMalformedPayload = errors.New("malformed link payload")
)
