package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LogStorage saves the captured output of each step to its own file.
type LogStorage struct {
	BaseDir string
}

// NewLogStorage creates a new log storage handler
func NewLogStorage(baseDir string) *LogStorage {
	return &LogStorage{BaseDir: baseDir}
}

// RunDir is the directory holding every log of one run.
func (ls *LogStorage) RunDir(runID string) string {
	return filepath.Join(ls.BaseDir, sanitize(runID))
}

// SaveLog writes the output of the step at position index (1-based)
// and returns the file path.
func (ls *LogStorage) SaveLog(runID string, index int, step, output string) (string, error) {
	dir := ls.RunDir(runID)
	if err := os.MkdirAll(dir, 0o775); err != nil {
		return "", fmt.Errorf("create log dir: %w", err)
	}

	filename := fmt.Sprintf("%02d_%s.log", index, sanitize(step))
	filePath := filepath.Join(dir, filename)

	if err := os.WriteFile(filePath, []byte(output), 0o644); err != nil {
		return "", fmt.Errorf("write log: %w", err)
	}
	return filePath, nil
}

// sanitize removes special characters from step names for filenames
func sanitize(name string) string {
	var clean strings.Builder
	for _, r := range name {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_':
			clean.WriteRune(r)
		case r == ' ' || r == '/' || r == '.':
			clean.WriteRune('-')
		}
	}
	if clean.Len() == 0 {
		return "step"
	}
	return clean.String()
}
