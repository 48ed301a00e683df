package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"shipit/internal/artifact"
	"shipit/internal/config"
	"shipit/internal/logging"
)

func main() {
	if err := newCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "artifact-server",
		Short:        "Serve published release bundles over HTTP",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE:         serve,
	}
	cmd.Flags().String("addr", ":8080", "listen address")
	cmd.Flags().String("dir", "./artifacts", "directory holding the artifact slots")
	cmd.Flags().String("ledger", "", "ledger file exposed at /ledger/verify")
	cmd.Flags().String("log-level", "info", "log level")
	return cmd
}

func serve(cmd *cobra.Command, _ []string) error {
	addr, _ := cmd.Flags().GetString("addr")
	dir, _ := cmd.Flags().GetString("dir")
	ledgerPath, _ := cmd.Flags().GetString("ledger")
	level, _ := cmd.Flags().GetString("log-level")

	logger, err := logging.New(config.LoggingConfig{Level: level}, os.Stderr)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	server := artifact.NewServer(artifact.NewDirStore(dir), logger)
	if ledgerPath != "" {
		server.WithLedger(ledgerPath)
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("artifact server listening", zap.String("addr", addr), zap.String("dir", dir))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}
	logger.Info("shutting down artifact server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
