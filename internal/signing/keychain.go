// Package signing prepares the machine for code signing by importing
// the signing certificate into a dedicated keychain.
package signing

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"shipit/internal/core"
	"shipit/internal/secrets"
)

// Keychain imports a certificate by running Commands in order. Each
// command sees CERT_PATH, CERT_PASSWORD, KEYCHAIN and KEYCHAIN_PASSWORD.
type Keychain struct {
	Name     string
	Commands []string
	Exec     core.Executor
	TempDir  string // where the decoded certificate lives while importing
}

// DecodeCertificate decodes a base64 certificate blob. Line breaks and
// spaces, as left by copy-pasting into a secret store, are ignored.
func DecodeCertificate(blob string) ([]byte, error) {
	clean := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		}
		return r
	}, blob)
	if clean == "" {
		return nil, errors.New("certificate is empty")
	}
	data, err := base64.StdEncoding.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("certificate is not valid base64: %w", err)
	}
	return data, nil
}

// Install imports the certificate held in b. The decoded certificate is
// removed before Install returns, whatever the outcome.
func (k *Keychain) Install(ctx context.Context, b secrets.Bundle, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	if len(k.Commands) == 0 {
		return errors.New("no keychain commands configured")
	}

	cert, err := DecodeCertificate(b[secrets.Certificate])
	if err != nil {
		return err
	}

	f, err := os.CreateTemp(k.TempDir, "certificate-*.p12")
	if err != nil {
		return fmt.Errorf("stage certificate: %w", err)
	}
	certPath := f.Name()
	defer os.Remove(certPath)

	if err := f.Chmod(0o600); err != nil {
		f.Close()
		return fmt.Errorf("stage certificate: %w", err)
	}
	if _, err := f.Write(cert); err != nil {
		f.Close()
		return fmt.Errorf("stage certificate: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("stage certificate: %w", err)
	}

	keychainPassword := uuid.NewString()
	env := map[string]string{
		"CERT_PATH":         certPath,
		"CERT_PASSWORD":     b[secrets.CertificatePassword],
		"KEYCHAIN":          k.Name,
		"KEYCHAIN_PASSWORD": keychainPassword,
	}
	redact := func(s string) string {
		return strings.ReplaceAll(b.Redact(s), keychainPassword, "***")
	}

	for i, script := range k.Commands {
		out, err := k.Exec.Run(ctx, core.Command{Script: script, Env: env})
		if err != nil {
			return fmt.Errorf("keychain command %d of %d: %w: %s", i+1, len(k.Commands), err, redact(strings.TrimSpace(out)))
		}
	}
	log.Info("certificate imported", zap.String("keychain", k.Name), zap.Int("bytes", len(cert)))
	return nil
}
