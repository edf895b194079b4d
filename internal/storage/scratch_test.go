package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestScratchManager_Create(t *testing.T) {
	tempDir := t.TempDir()
	sm := NewScratchManager(tempDir, zap.NewNop())

	t.Run("creates directory for a run UUID", func(t *testing.T) {
		runID := "6a3847a3-14f5-4c7e-a5d1-26c7fb0bf6ef"

		dir, err := sm.Create(runID)

		require.NoError(t, err)
		assert.DirExists(t, dir)
		assert.Equal(t, filepath.Join(tempDir, runID), dir)
	})

	t.Run("returns existing directory on second call", func(t *testing.T) {
		dir1, err := sm.Create("RUN-1")
		require.NoError(t, err)
		dir2, err := sm.Create("RUN-1")
		require.NoError(t, err)
		assert.Equal(t, dir1, dir2)
	})

	t.Run("rejects empty run ID", func(t *testing.T) {
		_, err := sm.Create("")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "empty")

		_, err = sm.Create("../..")
		assert.Error(t, err)
	})
}

func TestScratchManager_PathAndExists(t *testing.T) {
	tempDir := t.TempDir()
	sm := NewScratchManager(tempDir, zap.NewNop())

	path := sm.Path("NOT-YET")
	assert.Equal(t, filepath.Join(tempDir, "NOT-YET"), path)
	assert.NoDirExists(t, path)
	assert.False(t, sm.Exists("NOT-YET"))

	_, err := sm.Create("NOT-YET")
	require.NoError(t, err)
	assert.True(t, sm.Exists("NOT-YET"))
	assert.Equal(t, tempDir, sm.BaseDir())
}

func TestScratchManager_Remove(t *testing.T) {
	tempDir := t.TempDir()
	sm := NewScratchManager(tempDir, zap.NewNop())

	t.Run("removes directory and contents", func(t *testing.T) {
		dir, err := sm.Create("DELETE-ME")
		require.NoError(t, err)
		require.NoError(t, os.MkdirAll(filepath.Join(dir, "lo-profile", "user"), 0755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "working.xlsx"), []byte("PK"), 0644))

		require.NoError(t, sm.Remove("DELETE-ME"))
		assert.NoDirExists(t, dir)
	})

	t.Run("missing directory is not an error", func(t *testing.T) {
		assert.NoError(t, sm.Remove("NEVER-EXISTED"))
	})

	t.Run("empty name never removes the root", func(t *testing.T) {
		assert.NoError(t, sm.Remove(""))
		assert.DirExists(t, tempDir)
	})
}

func TestScratchManager_SanitizeName(t *testing.T) {
	sm := NewScratchManager(t.TempDir(), zap.NewNop())

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"keeps valid characters", "ABC123-XYZ", "ABC123-XYZ"},
		{"removes path separators", "../../../etc/passwd", "etcpasswd"},
		{"removes special characters", "test<>:\"|?*run", "testrun"},
		{"preserves underscores and hyphens", "run_id-1", "run_id-1"},
		{"drops non-ASCII", "注文書run", "run"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, sm.SanitizeName(tt.input))
		})
	}
}

func TestScratchManager_PathTraversalPrevention(t *testing.T) {
	tempDir := t.TempDir()
	sm := NewScratchManager(tempDir, zap.NewNop())

	for _, id := range []string{"../../../etc/passwd", "/etc/passwd"} {
		dir, err := sm.Create(id)
		require.NoError(t, err)
		assert.True(t, filepath.HasPrefix(dir, tempDir))
		assert.NotContains(t, dir, "..")
	}
}
