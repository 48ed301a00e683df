package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWhenMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), DefaultFile), false)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, 2, cfg.Package.Attempts)
	assert.Equal(t, 5*time.Second, cfg.Package.Backoff.Std())
	assert.Equal(t, 5*time.Second, cfg.Smoke.Window.Std())
	assert.NoError(t, cfg.Validate())
}

func TestLoadRequiredMissingFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), true)
	assert.Error(t, err)
}

func TestLoadParsesYamlOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFile)
	configYAML := strings.TrimSpace(`
app:
  name: Lumen
  bundle: out/Lumen.app
version:
  files:
    - Cargo.toml
build:
  command: go build -o bin/server ./cmd/server
  binary: bin/server
  destination: out/Lumen.app/Contents/Resources/server
package:
  command: ./scripts/bundle.sh
  attempts: 3
  backoff: 2s
artifact:
  target: https://artifacts.example.com
smoke:
  window: 1500ms
`)
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o644))

	cfg, err := Load(path, true)
	require.NoError(t, err)

	assert.Equal(t, "Lumen", cfg.App.Name)
	assert.Equal(t, []string{"Cargo.toml"}, cfg.Version.Files)
	assert.Equal(t, "go build -o bin/server ./cmd/server", cfg.Build.Command)
	assert.Empty(t, cfg.Build.Dir)
	assert.Equal(t, 3, cfg.Package.Attempts)
	assert.Equal(t, 2*time.Second, cfg.Package.Backoff.Std())
	assert.Equal(t, 1500*time.Millisecond, cfg.Smoke.Window.Std())
	// untouched keys keep defaults
	assert.Equal(t, "npm ci", cfg.Deps.Command)
	assert.Equal(t, "macos-app", cfg.Artifact.Name)
	assert.Equal(t, DefaultKeychainCommands, cfg.Signing.Commands)
}

func TestParseRejectsBadValues(t *testing.T) {
	cfg := Default()
	err := Parse([]byte("package:\n  attempts: 0\n"), cfg)
	assert.ErrorContains(t, err, "package.attempts")

	cfg = Default()
	err = Parse([]byte("smoke:\n  window: soon\n"), cfg)
	assert.Error(t, err)

	cfg = Default()
	err = Parse([]byte("artifact:\n  name: \"\"\n"), cfg)
	assert.ErrorContains(t, err, "artifact.name")
}

func TestResolveAndSmokeExecutable(t *testing.T) {
	cfg := Default()
	cfg.Resolve("/work")

	assert.Equal(t, "/work/src-tauri/target/release/bundle/macos/Peace.app", cfg.App.Bundle)
	assert.Equal(t, "/work/server", cfg.Build.Dir)
	assert.Equal(t, "/work/artifacts", cfg.Artifact.Target)
	assert.Equal(t, "/work", cfg.Deps.Dir)
	assert.Equal(t, "/work/src-tauri/target/release/bundle/macos/Peace.app/Contents/MacOS/Peace", cfg.SmokeExecutable())

	cfg.Artifact.Target = "http://localhost:8080"
	cfg.Resolve("/work")
	assert.Equal(t, "http://localhost:8080", cfg.Artifact.Target)
}

func TestExampleFileMatchesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "release.example.yaml"), true)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestCommandOverrideDropsDefaultDir(t *testing.T) {
	cfg := Default()
	require.NoError(t, Parse([]byte("build:\n  command: make server\n"), cfg))
	assert.Equal(t, "make server", cfg.Build.Command)
	assert.Empty(t, cfg.Build.Dir)
	assert.Equal(t, "server/target/release/server", cfg.Build.Binary)

	cfg = Default()
	require.NoError(t, Parse([]byte("build:\n  command: make server\n  dir: backend\n"), cfg))
	assert.Equal(t, "backend", cfg.Build.Dir)

	cfg = Default()
	require.NoError(t, Parse([]byte("build:\n  binary: out/server\n"), cfg))
	assert.Equal(t, "server", cfg.Build.Dir)
	assert.Equal(t, "cargo build --release --bin server", cfg.Build.Command)

	cfg = Default()
	cfg.Deps.Dir = "web"
	require.NoError(t, Parse([]byte("deps:\n  command: pnpm install --frozen-lockfile\n"), cfg))
	assert.Empty(t, cfg.Deps.Dir)

	cfg = Default()
	require.NoError(t, Parse(nil, cfg))
	assert.Equal(t, Default(), cfg)
}
