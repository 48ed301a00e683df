package smoke

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

func removeQuarantine(path string) (bool, error) {
	err := unix.Lremovexattr(path, QuarantineAttr)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, unix.ENOATTR):
		return false, nil
	default:
		return false, fmt.Errorf("%s: %w", path, err)
	}
}
