package artifact

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
)

// Publisher archives an application bundle and puts it into a fixed slot.
type Publisher struct {
	Store   Store
	Name    string
	TempDir string // scratch space for the archive
	Logger  *zap.Logger
}

// Publish zips bundleDir and stores it under p.Name. meta supplies the
// descriptive manifest fields (version, signed, run id).
func (p *Publisher) Publish(ctx context.Context, bundleDir string, meta Manifest) (Manifest, error) {
	log := p.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if err := ValidName(p.Name); err != nil {
		return meta, err
	}

	tmp, err := os.CreateTemp(p.TempDir, FileName(p.Name)+".*")
	if err != nil {
		return meta, fmt.Errorf("create archive: %w", err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	if err := ZipDir(bundleDir, tmp); err != nil {
		return meta, err
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return meta, err
	}
	digest, size, err := Digest(tmp)
	if err != nil {
		return meta, fmt.Errorf("digest archive: %w", err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return meta, err
	}

	m := meta
	m.Name = p.Name
	m.File = FileName(p.Name)
	m.Size = size
	m.Digest = digest

	stored, err := p.Store.Put(ctx, m, tmp)
	if err != nil {
		return m, err
	}
	log.Info("artifact published",
		zap.String("name", stored.Name),
		zap.Int64("size", stored.Size),
		zap.String("digest", stored.Digest),
	)
	return stored, nil
}
