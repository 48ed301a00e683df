// Package release assembles the build-and-release pipeline: validate
// secrets, bump versions, compile the server, place it in the bundle,
// prepare signing, install front-end dependencies, package with retries,
// publish the archive and smoke-test the result.
package release

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"shipit/internal/artifact"
	"shipit/internal/config"
	"shipit/internal/core"
	"shipit/internal/retry"
	"shipit/internal/secrets"
	"shipit/internal/signing"
	"shipit/internal/smoke"
	"shipit/internal/version"
)

// Step names, in pipeline order.
const (
	StepValidateSecrets   = "validate-secrets"
	StepUpdateVersion     = "update-version"
	StepBuildServer       = "build-server"
	StepCopyBinary        = "copy-binary"
	StepImportCertificate = "import-certificate"
	StepInstallDeps       = "install-deps"
	StepPackageUnsigned   = "package-unsigned"
	StepPackageSigned     = "package-signed"
	StepPublishArtifact   = "publish-artifact"
	StepSmokeTest         = "smoke-test"
)

// Deps is everything Plan needs to build the steps.
type Deps struct {
	Config  *config.Config
	Secrets secrets.Bundle // empty unless signing
	Exec    core.Executor
	Store   artifact.Store
	TempDir string // scratch space for certificates and archives

	// Sleep replaces the packaging backoff wait, nil for a real timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Plan returns the fixed, ordered release pipeline.
func Plan(d Deps) []core.Step {
	cfg := d.Config

	packagePolicy := &retry.Policy{
		Attempts: cfg.Package.Attempts,
		Backoff:  cfg.Package.Backoff.Std(),
		Sleep:    d.Sleep,
	}
	// signed and unsigned packaging share the command and the policy;
	// only the injected credentials differ
	unsigned := core.Command{Script: cfg.Package.Command, Dir: cfg.Package.Dir}
	signed := unsigned
	signed.Env = d.Secrets.Env()

	keychain := &signing.Keychain{
		Name:     cfg.Signing.Keychain,
		Commands: cfg.Signing.Commands,
		Exec:     d.Exec,
		TempDir:  d.TempDir,
	}
	publisher := &artifact.Publisher{Store: d.Store, Name: cfg.Artifact.Name, TempDir: d.TempDir}

	return []core.Step{
		{
			Name:   StepValidateSecrets,
			Guard:  core.Signing,
			Action: func(context.Context, *core.RunContext) error { return d.Secrets.Validate() },
			Code:   core.ExitMissingSecret,
		},
		{
			Name:   StepUpdateVersion,
			Guard:  core.HasVersion,
			Action: updateVersion(cfg.Version.Files),
			Code:   core.ExitVersion,
		},
		{
			Name:    StepBuildServer,
			Command: core.Command{Script: cfg.Build.Command, Dir: cfg.Build.Dir},
			Code:    core.ExitCompile,
		},
		{
			Name: StepCopyBinary,
			Action: func(_ context.Context, rc *core.RunContext) error {
				if err := CopyBinary(cfg.Build.Binary, cfg.Build.Destination); err != nil {
					return err
				}
				rc.Logger.Info("binary copied", zap.String("to", cfg.Build.Destination))
				return nil
			},
			Code: core.ExitCopy,
		},
		{
			Name:  StepImportCertificate,
			Guard: core.Signing,
			Action: func(ctx context.Context, rc *core.RunContext) error {
				return keychain.Install(ctx, d.Secrets, rc.Logger)
			},
			Code: core.ExitCertificate,
		},
		{
			Name:    StepInstallDeps,
			Command: core.Command{Script: cfg.Deps.Command, Dir: cfg.Deps.Dir},
			Code:    core.ExitDependencies,
		},
		{
			Name:    StepPackageUnsigned,
			Guard:   core.Unsigned,
			Command: unsigned,
			Retry:   packagePolicy,
			Code:    core.ExitPackaging,
		},
		{
			Name:    StepPackageSigned,
			Guard:   core.Signing,
			Command: signed,
			Retry:   packagePolicy,
			Code:    core.ExitPackaging,
		},
		{
			Name: StepPublishArtifact,
			Action: func(ctx context.Context, rc *core.RunContext) error {
				publisher.Logger = rc.Logger
				_, err := publisher.Publish(ctx, cfg.App.Bundle, artifact.Manifest{
					Version: normalized(rc.Input.Version),
					Signed:  rc.Input.Signing,
					RunID:   rc.RunID,
				})
				return err
			},
			Code: core.ExitPublish,
		},
		{
			Name:  StepSmokeTest,
			Guard: core.QuickTest,
			Action: func(ctx context.Context, rc *core.RunContext) error {
				return smoke.Run(ctx, smoke.Options{
					Bundle:     cfg.App.Bundle,
					Executable: cfg.SmokeExecutable(),
					Window:     cfg.Smoke.Window.Std(),
					Poll:       cfg.Smoke.Poll.Std(),
					Logger:     rc.Logger,
				})
			},
			Code: core.ExitSmoke,
		},
	}
}

func updateVersion(files []string) core.Action {
	return func(_ context.Context, rc *core.RunContext) error {
		v, err := version.Normalize(rc.Input.Version)
		if err != nil {
			return err
		}
		changed, err := version.Update(files, v)
		if err != nil {
			return err
		}
		rc.Logger.Info("version updated", zap.String("version", v), zap.Strings("changed", changed))
		return nil
	}
}

func normalized(v string) string {
	if n, err := version.Normalize(v); err == nil {
		return n
	}
	return v
}

// CopyBinary copies the built binary to dst, replacing any previous
// copy and keeping it executable.
func CopyBinary(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("built binary missing, did the build produce it? %w", err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("built binary %s is not a regular file", src)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(out.Name())

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	if err := out.Chmod(info.Mode().Perm() | 0o111); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Rename(out.Name(), dst)
}
