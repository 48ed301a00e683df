package artifact

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/zeebo/blake3"
)

// Store keeps the latest archive for each slot name. A Put replaces
// whatever the slot held before.
type Store interface {
	Put(ctx context.Context, m Manifest, r io.Reader) (Manifest, error)
}

// NewStore picks an HTTPStore for http(s) targets and a DirStore otherwise.
func NewStore(target string) Store {
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		return NewHTTPStore(target, nil)
	}
	return NewDirStore(target)
}

// DirStore keeps slots as <name>.zip plus <name>.json in Root.
type DirStore struct {
	Root string
}

func NewDirStore(root string) *DirStore {
	return &DirStore{Root: root}
}

// Put streams r into the slot, computing size and digest on the way.
// When m.Digest is set the content must match it.
func (s *DirStore) Put(ctx context.Context, m Manifest, r io.Reader) (Manifest, error) {
	if err := ValidName(m.Name); err != nil {
		return m, err
	}
	if err := os.MkdirAll(s.Root, 0o755); err != nil {
		return m, fmt.Errorf("create store dir: %w", err)
	}

	tmp, err := os.CreateTemp(s.Root, "."+m.Name+".*.part")
	if err != nil {
		return m, err
	}
	defer os.Remove(tmp.Name())

	h := blake3.New()
	n, err := io.Copy(io.MultiWriter(tmp, h), contextReader{ctx, r})
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return m, fmt.Errorf("store %s: %w", m.Name, err)
	}

	digest := hex.EncodeToString(h.Sum(nil))
	if m.Digest != "" && !strings.EqualFold(m.Digest, digest) {
		return m, fmt.Errorf("%w: expected %s, got %s", ErrDigestMismatch, m.Digest, digest)
	}
	m.Digest = digest
	m.Size = n
	m.File = FileName(m.Name)
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	if err := os.Rename(tmp.Name(), filepath.Join(s.Root, m.File)); err != nil {
		return m, fmt.Errorf("store %s: %w", m.Name, err)
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return m, err
	}
	if err := os.WriteFile(filepath.Join(s.Root, m.Name+".json"), append(data, '\n'), 0o644); err != nil {
		return m, fmt.Errorf("write manifest: %w", err)
	}
	return m, nil
}

// Manifest reads the manifest of a slot.
func (s *DirStore) Manifest(name string) (Manifest, error) {
	var m Manifest
	if err := ValidName(name); err != nil {
		return m, err
	}
	data, err := os.ReadFile(filepath.Join(s.Root, name+".json"))
	if errors.Is(err, fs.ErrNotExist) {
		return m, ErrNotFound
	}
	if err != nil {
		return m, err
	}
	err = json.Unmarshal(data, &m)
	return m, err
}

// Open returns the archive of a slot and its manifest.
func (s *DirStore) Open(name string) (*os.File, Manifest, error) {
	m, err := s.Manifest(name)
	if err != nil {
		return nil, m, err
	}
	f, err := os.Open(filepath.Join(s.Root, m.File))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, m, ErrNotFound
	}
	return f, m, err
}

// List returns every slot manifest sorted by name.
func (s *DirStore) List() ([]Manifest, error) {
	entries, err := os.ReadDir(s.Root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []Manifest
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), ".json")
		if !ok || e.IsDir() {
			continue
		}
		m, err := s.Manifest(name)
		if err != nil {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Header names carrying manifest fields on HTTP uploads.
const (
	HeaderDigest  = "X-Artifact-Digest"
	HeaderVersion = "X-Artifact-Version"
	HeaderSigned  = "X-Artifact-Signed"
	HeaderRunID   = "X-Artifact-Run"
)

// HTTPStore uploads slots to an artifact server.
type HTTPStore struct {
	BaseURL string
	Client  *http.Client
}

func NewHTTPStore(baseURL string, client *http.Client) *HTTPStore {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Minute}
	}
	return &HTTPStore{BaseURL: strings.TrimRight(baseURL, "/"), Client: client}
}

// Put uploads r with PUT /artifacts/{name}; the server answers with the
// stored manifest.
func (s *HTTPStore) Put(ctx context.Context, m Manifest, r io.Reader) (Manifest, error) {
	if err := ValidName(m.Name); err != nil {
		return m, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.BaseURL+"/artifacts/"+m.Name, r)
	if err != nil {
		return m, err
	}
	req.Header.Set("Content-Type", "application/zip")
	if m.Size > 0 {
		req.ContentLength = m.Size
	}
	if m.Digest != "" {
		req.Header.Set(HeaderDigest, m.Digest)
	}
	if m.Version != "" {
		req.Header.Set(HeaderVersion, m.Version)
	}
	if m.RunID != "" {
		req.Header.Set(HeaderRunID, m.RunID)
	}
	req.Header.Set(HeaderSigned, strconv.FormatBool(m.Signed))

	resp, err := s.Client.Do(req)
	if err != nil {
		return m, fmt.Errorf("upload %s: %w", m.Name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return m, fmt.Errorf("upload %s: read response: %w", m.Name, err)
	}
	if resp.StatusCode/100 != 2 {
		return m, fmt.Errorf("upload %s: server returned %s: %s", m.Name, resp.Status, strings.TrimSpace(string(body)))
	}
	var stored Manifest
	if err := json.Unmarshal(body, &stored); err != nil {
		return m, fmt.Errorf("upload %s: decode manifest: %w", m.Name, err)
	}
	return stored, nil
}

// contextReader stops a long copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
