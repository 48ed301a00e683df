package smoke

import (
	"io/fs"
	"path/filepath"
)

// QuarantineAttr is the extended attribute macOS Gatekeeper uses to
// mark downloaded files.
const QuarantineAttr = "com.apple.quarantine"

// StripQuarantine removes the quarantine attribute from root and
// everything below it, without following symlinks. It returns how many
// entries had the attribute. Platforms without the attribute succeed
// with zero.
func StripQuarantine(root string) (int, error) {
	removed := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		ok, err := removeQuarantine(path)
		if err != nil {
			return err
		}
		if ok {
			removed++
		}
		return nil
	})
	return removed, err
}
