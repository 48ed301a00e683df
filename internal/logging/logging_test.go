package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"shipit/internal/config"
)

func TestNewWritesConsoleAndFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "logs", "shipit.log")
	var console bytes.Buffer

	logger, err := New(config.LoggingConfig{Level: "info", File: file, MaxSizeMB: 1}, &console)
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("step completed", zap.String("step", "build-server"))
	require.NoError(t, logger.Sync())

	assert.Contains(t, console.String(), "INFO")
	assert.Contains(t, console.String(), "step completed")
	assert.Contains(t, console.String(), "build-server")
	assert.NotContains(t, console.String(), "hidden")

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), "step completed")
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(config.LoggingConfig{Level: "chatty"}, &bytes.Buffer{})
	assert.Error(t, err)
}
