// Package version rewrites the version declared in project manifests.
//
// JSON files (package.json, tauri.conf.json, optionally with comments)
// have their top-level "version" string replaced. TOML files
// (Cargo.toml) have the version key of the [package] table, or of the
// top level when there is no such table, replaced. Everything else in
// the file is left byte-for-byte intact.
package version

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/tidwall/jsonc"
)

// ErrNoDeclaration is returned when a file has no version to rewrite.
var ErrNoDeclaration = errors.New("no version declaration found")

// Normalize validates v as a semantic version. A single leading "v",
// as in git tags, is dropped.
func Normalize(v string) (string, error) {
	v = strings.TrimPrefix(strings.TrimSpace(v), "v")
	sv, err := semver.StrictNewVersion(v)
	if err != nil {
		return "", fmt.Errorf("invalid semantic version %q: %w", v, err)
	}
	// a trailing "-" or "+" parses but names an empty identifier
	if sv.String() != v {
		return "", fmt.Errorf("invalid semantic version %q", v)
	}
	return v, nil
}

// Update rewrites every file to version and returns the ones whose
// content changed. It stops at the first failure.
func Update(paths []string, version string) ([]string, error) {
	var changed []string
	for _, p := range paths {
		ok, err := UpdateFile(p, version)
		if err != nil {
			return changed, err
		}
		if ok {
			changed = append(changed, p)
		}
	}
	return changed, nil
}

// UpdateFile rewrites the version declared in path. It reports false
// without touching the file when the version is already current.
func UpdateFile(path, version string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", path, err)
	}

	var start, end int
	var quoted []byte
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json", ".jsonc", ".json5":
		start, end, err = jsonVersionSpan(data)
		quoted, _ = json.Marshal(version)
	case ".toml":
		start, end, err = tomlVersionSpan(data)
		if err == nil {
			// keep the basic or literal string style of the file
			q := string(data[start])
			quoted = []byte(q + version + q)
		}
	default:
		return false, fmt.Errorf("%s: unsupported manifest type %q", path, ext)
	}
	if err != nil {
		return false, fmt.Errorf("%s: %w", path, err)
	}

	if bytes.Equal(data[start:end], quoted) {
		return false, nil
	}

	out := make([]byte, 0, len(data)-(end-start)+len(quoted))
	out = append(out, data[:start]...)
	out = append(out, quoted...)
	out = append(out, data[end:]...)

	if err := writeAtomic(path, out); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}

// jsonVersionSpan returns the byte range of the quoted top-level
// "version" value. Offsets are computed on a comment-stripped copy,
// which jsonc keeps the same length as the input.
func jsonVersionSpan(data []byte) (int, int, error) {
	clean := jsonc.ToJSON(data)
	dec := json.NewDecoder(bytes.NewReader(clean))

	tok, err := dec.Token()
	if err != nil {
		return 0, 0, fmt.Errorf("parse json: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return 0, 0, errors.New("top-level json value is not an object")
	}

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return 0, 0, fmt.Errorf("parse json: %w", err)
		}
		key, _ := tok.(string)
		keyEnd := int(dec.InputOffset())

		if key != "version" {
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return 0, 0, fmt.Errorf("parse json: %w", err)
			}
			continue
		}

		val, err := dec.Token()
		if err != nil {
			return 0, 0, fmt.Errorf("parse json: %w", err)
		}
		if _, ok := val.(string); !ok {
			return 0, 0, errors.New(`"version" is not a string`)
		}
		end := int(dec.InputOffset())
		colon := bytes.IndexByte(clean[keyEnd:end], ':')
		quote := bytes.IndexByte(clean[keyEnd+colon:end], '"')
		if colon < 0 || quote < 0 {
			return 0, 0, errors.New("malformed version value")
		}
		return keyEnd + colon + quote, end, nil
	}
	return 0, 0, ErrNoDeclaration
}

var (
	tomlTable   = regexp.MustCompile(`(?m)^[ \t]*(\[\[?)[ \t]*([^\[\]\n]+?)[ \t]*\]\]?[ \t]*(?:#.*)?$`)
	tomlVersion = regexp.MustCompile(`(?m)^[ \t]*version[ \t]*=[ \t]*("[^"\n]*"|'[^'\n]*')`)
)

// tomlVersionSpan returns the byte range of the quoted version value
// in the [package] table, or at top level when that table is absent.
// Array tables such as [[bin]] end the table before them.
func tomlVersionSpan(data []byte) (int, int, error) {
	tables := tomlTable.FindAllSubmatchIndex(data, -1)

	lo, hi := 0, len(data)
	if len(tables) > 0 {
		hi = tables[0][0]
	}
	for i, t := range tables {
		if string(data[t[2]:t[3]]) != "[" || string(data[t[4]:t[5]]) != "package" {
			continue
		}
		lo, hi = t[1], len(data)
		if i+1 < len(tables) {
			hi = tables[i+1][0]
		}
		break
	}

	m := tomlVersion.FindSubmatchIndex(data[lo:hi])
	if m == nil {
		return 0, 0, ErrNoDeclaration
	}
	return lo + m[2], lo + m[3], nil
}

// writeAtomic replaces path through a temp file in the same directory
// so a failed write never leaves a partial file or a backup behind.
func writeAtomic(path string, data []byte) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	f.Close()

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), info.Mode().Perm()); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
