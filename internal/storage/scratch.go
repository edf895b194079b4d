package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

var unsafeName = regexp.MustCompile(`[^a-zA-Z0-9\-_]`)

// ScratchManager manages the per-run working directories under a scratch root
type ScratchManager struct {
	baseDir string
	logger  *zap.Logger
}

// NewScratchManager creates a new ScratchManager
func NewScratchManager(baseDir string, logger *zap.Logger) *ScratchManager {
	return &ScratchManager{
		baseDir: baseDir,
		logger:  logger,
	}
}

// BaseDir returns the scratch root
func (m *ScratchManager) BaseDir() string {
	return m.baseDir
}

// Create creates scratch/{runID}/ and returns its path
func (m *ScratchManager) Create(runID string) (string, error) {
	safeName := m.SanitizeName(runID)
	if safeName == "" {
		return "", errors.New("cannot create scratch directory: empty run ID")
	}

	dir := filepath.Join(m.baseDir, safeName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		m.logger.Error("Failed to create scratch directory",
			zap.String("run_id", runID),
			zap.String("path", dir),
			zap.Error(err))
		return "", fmt.Errorf("failed to create scratch directory: %w", err)
	}

	m.logger.Debug("Created scratch directory",
		zap.String("run_id", runID),
		zap.String("path", dir))

	return dir, nil
}

// Path returns the scratch directory of a run without creating it
func (m *ScratchManager) Path(runID string) string {
	return filepath.Join(m.baseDir, m.SanitizeName(runID))
}

// Exists checks if the run's scratch directory exists
func (m *ScratchManager) Exists(runID string) bool {
	info, err := os.Stat(m.Path(runID))
	if err != nil {
		return false
	}
	return info.IsDir()
}

// Remove deletes a run's scratch directory and its contents. Missing directories are fine.
func (m *ScratchManager) Remove(runID string) error {
	if m.SanitizeName(runID) == "" {
		return nil
	}
	dir := m.Path(runID)

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil
	}

	if err := os.RemoveAll(dir); err != nil {
		m.logger.Error("Failed to remove scratch directory",
			zap.String("run_id", runID),
			zap.String("path", dir),
			zap.Error(err))
		return fmt.Errorf("failed to remove scratch directory: %w", err)
	}

	m.logger.Debug("Removed scratch directory",
		zap.String("run_id", runID),
		zap.String("path", dir))

	return nil
}

// SanitizeName returns a filesystem-safe directory name.
// Only ASCII letters, digits, hyphens and underscores survive.
func (m *ScratchManager) SanitizeName(name string) string {
	name = strings.ReplaceAll(name, "..", "")
	return unsafeName.ReplaceAllString(name, "")
}
