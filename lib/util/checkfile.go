package util

import (
	"errors"
	"io/fs"
	"os"

	"github.com/samber/oops"
)

// RegularFileExists reports whether path names a regular file. A missing
// path is not an error; any other stat failure is returned.
func RegularFileExists(path string) (bool, error) {
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	case err != nil:
		return false, oops.Wrapf(err, "stat %s", path)
	case info.IsDir():
		return false, oops.Errorf("%s is a directory", path)
	}
	return true, nil
}
