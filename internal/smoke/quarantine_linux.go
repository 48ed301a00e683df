package smoke

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Linux only accepts namespaced attribute names, so com.apple.quarantine
// is normally rejected as unsupported; a copy of a macOS tree can still
// carry it under user.
func removeQuarantine(path string) (bool, error) {
	for _, name := range []string{QuarantineAttr, "user." + QuarantineAttr} {
		err := unix.Lremovexattr(path, name)
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, unix.ENODATA), errors.Is(err, unix.EOPNOTSUPP), errors.Is(err, unix.EPERM):
		default:
			return false, fmt.Errorf("%s: %w", path, err)
		}
	}
	return false, nil
}
