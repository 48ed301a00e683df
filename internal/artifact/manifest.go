package artifact

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

// Manifest describes one published archive.
type Manifest struct {
	Name      string    `json:"name"`
	File      string    `json:"file"`
	Size      int64     `json:"size"`
	Digest    string    `json:"digest"` // hex blake3 of the archive
	Version   string    `json:"version,omitempty"`
	Signed    bool      `json:"signed"`
	RunID     string    `json:"runId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// ErrDigestMismatch means the stored bytes do not hash to Manifest.Digest.
var ErrDigestMismatch = errors.New("artifact digest mismatch")

// ErrNotFound is returned for an empty slot.
var ErrNotFound = errors.New("artifact not found")

var ErrInvalidName = errors.New("invalid artifact name")

var slotName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// ValidName reports whether name can be used as a slot name.
func ValidName(name string) error {
	if !slotName.MatchString(name) {
		return fmt.Errorf("%w %q", ErrInvalidName, name)
	}
	return nil
}

// FileName is the archive file name for a slot.
func FileName(name string) string { return name + ".zip" }
