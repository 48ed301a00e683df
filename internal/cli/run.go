package cli

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"shipit/internal/artifact"
	"shipit/internal/config"
	"shipit/internal/core"
	"shipit/internal/ledger"
	"shipit/internal/logging"
	"shipit/internal/release"
	"shipit/internal/secrets"
	"shipit/internal/security"
	"shipit/internal/storage"
)

// Environment fallbacks for the run flags.
const (
	EnvVersion   = "SHIPIT_VERSION"
	EnvSigning   = "SHIPIT_SIGNING"
	EnvQuickTest = "SHIPIT_QUICK_TEST"
)

// NewRunCommand creates the run command
func NewRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the release pipeline once",
		Args:  cobra.NoArgs,
		RunE:  runPipeline,
	}

	cmd.Flags().String("version", "", "version to write into the manifests (env "+EnvVersion+")")
	cmd.Flags().Bool("signing", false, "sign and notarize the bundle (env "+EnvSigning+")")
	cmd.Flags().Bool("quick-test", true, "launch the packaged app as a smoke test (env "+EnvQuickTest+")")
	cmd.Flags().StringP("config", "c", config.DefaultFile, "release configuration file")
	cmd.Flags().String("root", ".", "project root that relative paths are resolved against")
	cmd.Flags().String("log-level", "", "override logging.level from the configuration")

	return cmd
}

// readInput applies flags over environment over defaults.
func readInput(cmd *cobra.Command) (core.Input, error) {
	in := core.DefaultInput()
	flags := cmd.Flags()

	if v, ok := os.LookupEnv(EnvVersion); ok {
		in.Version = v
	}
	if flags.Changed("version") {
		in.Version, _ = flags.GetString("version")
	}

	for _, b := range []struct {
		flag, env string
		dst       *bool
	}{
		{"signing", EnvSigning, &in.Signing},
		{"quick-test", EnvQuickTest, &in.QuickTest},
	} {
		if v, ok := os.LookupEnv(b.env); ok && v != "" {
			parsed, err := strconv.ParseBool(v)
			if err != nil {
				return in, usagef("%s=%q is not a boolean", b.env, v)
			}
			*b.dst = parsed
		}
		if flags.Changed(b.flag) {
			*b.dst, _ = flags.GetBool(b.flag)
		}
	}
	return in, nil
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	rootFlag, _ := cmd.Flags().GetString("root")
	root, err := filepath.Abs(rootFlag)
	if err != nil {
		return nil, usagef("root: %v", err)
	}
	path, _ := cmd.Flags().GetString("config")
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	cfg, err := config.Load(path, cmd.Flags().Changed("config"))
	if err != nil {
		return nil, usageError{err}
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.Logging.Level = lvl
	}
	cfg.Resolve(root)
	return cfg, nil
}

func runPipeline(cmd *cobra.Command, _ []string) error {
	in, err := readInput(cmd)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Logging, os.Stderr)
	if err != nil {
		return usageError{err}
	}
	defer logger.Sync()

	runID := uuid.NewString()
	log := logger.With(zap.String("run_id", runID))

	var bundle secrets.Bundle
	if in.Signing {
		bundle = secrets.FromEnv(os.LookupEnv)
	}

	var key []byte
	if cfg.Ledger.Key != "" {
		priv, err := security.LoadPrivateKey(cfg.Ledger.Key)
		if err != nil {
			return usagef("ledger key: %v", err)
		}
		key = priv
	}

	exec := core.NewExecutor(cfg.Execution.Timeout.Std())
	runner := core.NewRunner(exec, logger, runID)
	runner.LogStorage = storage.NewLogStorage(cfg.Ledger.LogsDir)
	runner.LedgerKey = key
	runner.Output = os.Stdout
	runner.Redact = bundle.Redact

	// the ledger is an audit aid; a broken one must not block a release
	if l, err := ledger.OpenLedger(cfg.Ledger.Path); err != nil {
		log.Warn("cannot open ledger", zap.String("path", cfg.Ledger.Path), zap.Error(err))
	} else {
		runner.Ledger = l
	}

	tmp, err := os.MkdirTemp("", "shipit-"+runID[:8]+"-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmp)

	steps := release.Plan(release.Deps{
		Config:  cfg,
		Secrets: bundle,
		Exec:    exec,
		Store:   artifact.NewStore(cfg.Artifact.Target),
		TempDir: tmp,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res := runner.Run(ctx, steps, in)
	switch {
	case res.OK():
		return nil
	case res.ExitCode == core.ExitUsage:
		return usageError{res.Err}
	default:
		return res.Err
	}
}
