package crypto

import (
	"github.com/go-i2p/crypto/rand"
	"github.com/samber/oops"
)

// RandomBytes returns n bytes from the system CSPRNG.
func RandomBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, oops.Wrapf(ErrRandomFailure, "%v", err)
	}
	return buf, nil
}
