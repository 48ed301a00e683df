package secrets

import (
	"fmt"
	"os"
	"sort"
	"strings"
)

// Names of the signing credentials, in validation order.
const (
	Certificate         = "APPLE_CERTIFICATE"
	CertificatePassword = "APPLE_CERTIFICATE_PASSWORD"
	AccountID           = "APPLE_ID"
	AccountPassword     = "APPLE_PASSWORD"
	TeamID              = "APPLE_TEAM_ID"
)

// Required lists every credential a signed run needs.
var Required = []string{Certificate, CertificatePassword, AccountID, AccountPassword, TeamID}

// Bundle maps credential names to opaque values.
type Bundle map[string]string

// MissingError names the first credential that is absent or empty.
type MissingError struct {
	Name string
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("missing required secret %s", e.Name)
}

// FromEnv reads the required credentials with lookup, usually os.LookupEnv.
func FromEnv(lookup func(string) (string, bool)) Bundle {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	b := make(Bundle, len(Required))
	for _, name := range Required {
		if v, ok := lookup(name); ok {
			b[name] = v
		}
	}
	return b
}

// Validate checks every required credential in order and stops at the
// first missing one.
func (b Bundle) Validate() error {
	for _, name := range Required {
		if b[name] == "" {
			return &MissingError{Name: name}
		}
	}
	return nil
}

// Env returns the credentials as environment bindings for a command.
func (b Bundle) Env() map[string]string {
	env := make(map[string]string, len(b))
	for k, v := range b {
		env[k] = v
	}
	return env
}

// Redact masks every credential value in s.
func (b Bundle) Redact(s string) string {
	if len(b) == 0 || s == "" {
		return s
	}
	values := make([]string, 0, len(b))
	for _, v := range b {
		if len(v) >= minRedactLen {
			values = append(values, v)
		}
	}
	// longest first so a value containing another is masked whole
	sort.Slice(values, func(i, j int) bool { return len(values[i]) > len(values[j]) })
	pairs := make([]string, 0, 2*len(values))
	for _, v := range values {
		pairs = append(pairs, v, "***")
	}
	return strings.NewReplacer(pairs...).Replace(s)
}

// values shorter than this would mask ordinary words in build output
const minRedactLen = 4
