package packet

import (
	"errors"
	"fmt"
)

// ErrDecode is the root of every framing error. Malformed packets are
// dropped by callers; they are never fatal.
var ErrDecode = errors.New("packet decode error")

var (
	ErrTruncated    = fmt.Errorf("%w: truncated packet", ErrDecode)
	ErrInvalidFlags = fmt.Errorf("%w: invalid flag combination", ErrDecode)
	ErrOversized    = fmt.Errorf("%w: packet exceeds mtu", ErrDecode)
)
