package util

import (
	"errors"
	"os"

	"github.com/go-i2p/logger"
)

// ErrNoHome is returned when neither the OS nor the environment names a
// home directory.
var ErrNoHome = errors.New("home directory unknown")

// UserHome returns the home directory of the current user, consulting
// $HOME and %USERPROFILE% when the OS lookup fails.
func UserHome() (string, error) {
	home, err := os.UserHomeDir()
	if err == nil {
		return home, nil
	}
	for _, env := range []string{"HOME", "USERPROFILE"} {
		if v := os.Getenv(env); v != "" {
			log.WithFields(logger.Fields{
				"at":       "UserHome",
				"reason":   "os_lookup_failed",
				"fallback": env,
			}).WithError(err).Warn("using home directory from environment")
			return v, nil
		}
	}
	return "", ErrNoHome
}
