package cli

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shipit/internal/core"
	"shipit/internal/ledger"
	"shipit/internal/secrets"
	"shipit/internal/security"
	"shipit/pkg/utils"
)

func clearRunEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{EnvVersion, EnvSigning, EnvQuickTest} {
		t.Setenv(name, "")
		os.Unsetenv(name)
	}
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := NewRootCommand()
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	code := execute(root, args)
	return code, stdout.String(), stderr.String()
}

func TestReadInputDefaults(t *testing.T) {
	clearRunEnv(t)
	cmd := NewRunCommand()
	require.NoError(t, cmd.ParseFlags(nil))

	in, err := readInput(cmd)
	require.NoError(t, err)
	assert.Equal(t, core.DefaultInput(), in)
	assert.True(t, in.QuickTest)
	assert.False(t, in.Signing)
}

func TestReadInputEnvThenFlags(t *testing.T) {
	clearRunEnv(t)
	t.Setenv(EnvVersion, "1.2.3")
	t.Setenv(EnvSigning, "true")
	t.Setenv(EnvQuickTest, "false")

	cmd := NewRunCommand()
	require.NoError(t, cmd.ParseFlags(nil))
	in, err := readInput(cmd)
	require.NoError(t, err)
	assert.Equal(t, core.Input{Version: "1.2.3", Signing: true, QuickTest: false}, in)

	cmd = NewRunCommand()
	require.NoError(t, cmd.ParseFlags([]string{"--version", "2.0.0", "--quick-test"}))
	in, err = readInput(cmd)
	require.NoError(t, err)
	assert.Equal(t, core.Input{Version: "2.0.0", Signing: true, QuickTest: true}, in)
}

func TestReadInputRejectsBadBoolean(t *testing.T) {
	clearRunEnv(t)
	t.Setenv(EnvSigning, "maybe")

	cmd := NewRunCommand()
	require.NoError(t, cmd.ParseFlags(nil))
	_, err := readInput(cmd)
	var ue usageError
	require.True(t, errors.As(err, &ue))
	assert.Contains(t, err.Error(), EnvSigning)
}

func TestUnknownFlagIsUsageError(t *testing.T) {
	code, _, stderr := runCLI(t, "run", "--no-such-flag")
	assert.Equal(t, int(core.ExitUsage), code)
	assert.Contains(t, stderr, "no-such-flag")
}

func TestMissingExplicitConfigIsUsageError(t *testing.T) {
	clearRunEnv(t)
	root := t.TempDir()
	code, _, stderr := runCLI(t, "run", "--root", root, "--config", "missing.yaml")
	assert.Equal(t, int(core.ExitUsage), code)
	assert.Contains(t, stderr, "missing.yaml")
}

// writeProject lays out a tiny project whose build and packaging steps
// are plain shell scripts.
func writeProject(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"package.json": `{"name": "app", "version": "0.1.0"}`,
		"build.sh":     "mkdir -p out && printf 'server' > out/server\n",
		"package.sh": "mkdir -p App.app/Contents/MacOS\n" +
			"printf '#!/bin/sh\\nsleep 30\\n' > App.app/Contents/MacOS/App\n" +
			"chmod +x App.app/Contents/MacOS/App\n",
		"release.yaml": `app:
  name: App
  bundle: App.app
version:
  files: [package.json]
build:
  command: sh build.sh
  binary: out/server
  destination: bin/server
deps:
  command: "true"
package:
  command: sh package.sh
  backoff: 10ms
artifact:
  name: app
  target: artifacts
smoke:
  window: 300ms
  poll: 50ms
logging:
  level: debug
  file: logs/shipit.log
`,
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte(content), 0o644))
	}
	return root
}

func TestRunUnsignedReleaseEndToEnd(t *testing.T) {
	clearRunEnv(t)
	root := writeProject(t)

	code, _, stderr := runCLI(t, "run", "--root", root, "--version", "v1.4.0")
	require.Equal(t, int(core.ExitOK), code, stderr)

	data, err := os.ReadFile(filepath.Join(root, "package.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"version": "1.4.0"`)
	assert.FileExists(t, filepath.Join(root, "bin", "server"))
	assert.FileExists(t, filepath.Join(root, "artifacts", "app.zip"))
	assert.FileExists(t, filepath.Join(root, "logs", "shipit.log"))

	l, err := ledger.OpenLedger(filepath.Join(root, ".shipit", "ledger.jsonl"))
	require.NoError(t, err)
	require.NoError(t, l.VerifyChain())
	statuses := map[string]ledger.Status{}
	for _, r := range l.Records() {
		statuses[r.Step] = r.Status
	}
	assert.Equal(t, ledger.StatusSkipped, statuses["validate-secrets"])
	assert.Equal(t, ledger.StatusSkipped, statuses["package-signed"])
	assert.Equal(t, ledger.StatusSucceeded, statuses["smoke-test"])
}

func TestRunSignedWithoutSecretsExitsEarly(t *testing.T) {
	clearRunEnv(t)
	for _, name := range secrets.Required {
		t.Setenv(name, "")
	}
	t.Setenv(secrets.Certificate, "Y2VydA==")
	root := writeProject(t)

	code, _, _ := runCLI(t, "run", "--root", root, "--version", "1.4.0", "--signing")
	assert.Equal(t, int(core.ExitMissingSecret), code)

	data, err := os.ReadFile(filepath.Join(root, "package.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"version": "0.1.0"`)
	assert.NoDirExists(t, filepath.Join(root, "out"))
}

func TestRunInvalidVersionExitCode(t *testing.T) {
	clearRunEnv(t)
	root := writeProject(t)

	code, _, _ := runCLI(t, "run", "--root", root, "--version", "not-a-version")
	assert.Equal(t, int(core.ExitVersion), code)
	assert.NoDirExists(t, filepath.Join(root, "out"))
}

func TestKeygenAndSignedLedgerVerify(t *testing.T) {
	dir := t.TempDir()
	code, out, stderr := runCLI(t, "keygen", "--out", dir)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, out, filepath.Join(dir, security.PrivateKeyFile))

	priv, err := security.LoadPrivateKey(filepath.Join(dir, security.PrivateKeyFile))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "ledger.jsonl")
	l, err := ledger.OpenLedger(path)
	require.NoError(t, err)
	logPath := filepath.Join(t.TempDir(), "01_build.log")
	require.NoError(t, os.WriteFile(logPath, []byte("compiled\n"), 0o644))
	_, err = l.Add(ledger.Entry{RunID: "run-1", Step: "build-server", Status: ledger.StatusSucceeded, Attempts: 1,
		LogPath: logPath, LogHash: hashOf(t, logPath)}, priv)
	require.NoError(t, err)
	_, err = l.Add(ledger.Entry{RunID: "run-1", Step: "smoke-test", Status: ledger.StatusFailed, Attempts: 1}, priv)
	require.NoError(t, err)

	pubPath := filepath.Join(dir, security.PublicKeyFile)
	code, out, stderr = runCLI(t, "ledger", "verify", "--ledger", path, "--pub", pubPath, "--check-logs")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, out, "ledger OK (2 records)")

	code, out, _ = runCLI(t, "ledger", "inspect", "--ledger", path)
	require.Equal(t, 0, code)
	assert.Contains(t, out, "build-server")
	assert.Contains(t, out, "failed")

	require.NoError(t, os.WriteFile(logPath, []byte("tampered\n"), 0o644))
	code, _, stderr = runCLI(t, "ledger", "verify", "--ledger", path, "--check-logs")
	assert.Equal(t, int(core.ExitInternal), code)
	assert.Contains(t, stderr, "was modified")
}

func TestLedgerInspectFiltersByRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.jsonl")
	l, err := ledger.OpenLedger(path)
	require.NoError(t, err)
	for _, run := range []string{"aaaa1111", "bbbb2222"} {
		_, err := l.Add(ledger.Entry{RunID: run, Step: "step-" + run[:4], Status: ledger.StatusSkipped}, nil)
		require.NoError(t, err)
	}

	var buf bytes.Buffer
	renderRecords(&buf, l.Records(), "bbbb2222")
	assert.Contains(t, buf.String(), "step-bbbb")
	assert.NotContains(t, buf.String(), "step-aaaa")

	buf.Reset()
	renderRecords(&buf, l.Records(), "nope")
	assert.True(t, strings.Contains(buf.String(), "no records"))
}

func hashOf(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return utils.HashString(string(data))
}
