// internal/storage/file_storage_test.go
package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLocalFileStorage_SaveFile(t *testing.T) {
	tempDir := t.TempDir()
	fs := NewLocalFileStorage(tempDir, zap.NewNop())

	t.Run("saves file successfully", func(t *testing.T) {
		fullPath := filepath.Join(tempDir, "2508", "注文書_2508.pdf")
		content := []byte("%PDF-1.4")

		require.NoError(t, fs.SaveFile(fullPath, content))

		saved, err := os.ReadFile(fullPath)
		require.NoError(t, err)
		assert.Equal(t, content, saved)
	})

	t.Run("overwrites existing file and leaves no temp files", func(t *testing.T) {
		dir := filepath.Join(tempDir, "overwrite")
		fullPath := filepath.Join(dir, "book.xlsx")

		require.NoError(t, fs.SaveFile(fullPath, []byte("original")))
		require.NoError(t, fs.SaveFile(fullPath, []byte("updated")))

		content, _ := os.ReadFile(fullPath)
		assert.Equal(t, []byte("updated"), content)

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	})

	t.Run("saves empty file", func(t *testing.T) {
		fullPath := filepath.Join(tempDir, "empty.txt")
		require.NoError(t, fs.SaveFile(fullPath, []byte{}))

		info, err := os.Stat(fullPath)
		require.NoError(t, err)
		assert.Equal(t, int64(0), info.Size())
	})
}

func TestLocalFileStorage_Place(t *testing.T) {
	tempDir := t.TempDir()
	fs := NewLocalFileStorage("", zap.NewNop())

	t.Run("moves file and creates parents", func(t *testing.T) {
		src := filepath.Join(tempDir, "scratch", "final.xlsx")
		require.NoError(t, os.MkdirAll(filepath.Dir(src), 0755))
		require.NoError(t, os.WriteFile(src, []byte("PK final"), 0644))
		dst := filepath.Join(tempDir, "out", "nested", "テラ【株式会社ネクストビッツ御中】注文検収書_2508.xlsx")

		require.NoError(t, fs.Place(src, dst))

		assert.NoFileExists(t, src)
		content, err := os.ReadFile(dst)
		require.NoError(t, err)
		assert.Equal(t, []byte("PK final"), content)
	})

	t.Run("replaces existing destination", func(t *testing.T) {
		src := filepath.Join(tempDir, "new.pdf")
		dst := filepath.Join(tempDir, "old.pdf")
		require.NoError(t, os.WriteFile(src, []byte("new"), 0644))
		require.NoError(t, os.WriteFile(dst, []byte("old"), 0644))

		require.NoError(t, fs.Place(src, dst))
		content, _ := os.ReadFile(dst)
		assert.Equal(t, []byte("new"), content)
	})

	t.Run("missing source fails", func(t *testing.T) {
		err := fs.Place(filepath.Join(tempDir, "absent.xlsx"), filepath.Join(tempDir, "x.xlsx"))
		assert.Error(t, err)
		assert.NoFileExists(t, filepath.Join(tempDir, "x.xlsx"))
	})
}

func TestLocalFileStorage_ValidatePath(t *testing.T) {
	tempDir := t.TempDir()
	fs := NewLocalFileStorage(tempDir, zap.NewNop())

	t.Run("accepts valid path within base", func(t *testing.T) {
		assert.NoError(t, fs.ValidatePath(filepath.Join(tempDir, "run", "file.pdf")))
	})

	t.Run("rejects path outside base directory", func(t *testing.T) {
		err := fs.ValidatePath("/etc/passwd")
		assert.ErrorIs(t, err, ErrPathEscapesBase)
	})

	t.Run("rejects path traversal attempt", func(t *testing.T) {
		assert.Error(t, fs.ValidatePath(filepath.Join(tempDir, "..", "..", "etc", "passwd")))
	})

	t.Run("rejects path with similar prefix", func(t *testing.T) {
		err := fs.ValidatePath(tempDir + "_malicious/file.txt")
		assert.ErrorIs(t, err, ErrPathEscapesBase)
	})

	t.Run("unrestricted without base", func(t *testing.T) {
		assert.NoError(t, NewLocalFileStorage("", zap.NewNop()).ValidatePath("/etc/passwd"))
	})
}

func TestFileTypeOf(t *testing.T) {
	assert.Equal(t, FileTypePDF, FileTypeOf("a/注文書_2508.PDF"))
	assert.Equal(t, FileTypeWorkbook, FileTypeOf("book.xlsx"))
	assert.Equal(t, FileTypeGeneric, FileTypeOf("notes.txt"))
	assert.Equal(t, "workbook", FileTypeWorkbook.String())
}
