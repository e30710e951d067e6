package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRotatingWriter(t *testing.T) {
	t.Run("should create the directory and append", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "nested", "grove.log")

		w, err := NewRotatingWriter(logFile, 1, 0, false)
		require.NoError(t, err)

		_, err = w.Write([]byte("one\n"))
		require.NoError(t, err)
		_, err = w.Write([]byte("two\n"))
		require.NoError(t, err)
		require.NoError(t, w.Close())

		data, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Equal(t, "one\ntwo\n", string(data))
	})

	t.Run("should rotate past the size limit", func(t *testing.T) {
		dir := t.TempDir()
		logFile := filepath.Join(dir, "grove.log")

		w, err := NewRotatingWriter(logFile, 1, 0, false)
		require.NoError(t, err)

		chunk := []byte(strings.Repeat("x", 600*1024))
		_, err = w.Write(chunk)
		require.NoError(t, err)
		_, err = w.Write(chunk)
		require.NoError(t, err)
		require.NoError(t, w.Close())

		rotated, err := filepath.Glob(logFile + ".*")
		require.NoError(t, err)
		assert.Len(t, rotated, 1)

		info, err := os.Stat(logFile)
		require.NoError(t, err)
		assert.Equal(t, int64(len(chunk)), info.Size())
	})

	t.Run("should compress rotated files", func(t *testing.T) {
		dir := t.TempDir()
		logFile := filepath.Join(dir, "grove.log")

		w, err := NewRotatingWriter(logFile, 1, 0, true)
		require.NoError(t, err)

		chunk := []byte(strings.Repeat("x", 600*1024))
		_, err = w.Write(chunk)
		require.NoError(t, err)
		_, err = w.Write(chunk)
		require.NoError(t, err)
		require.NoError(t, w.Close())

		compressed, err := filepath.Glob(logFile + ".*.gz")
		require.NoError(t, err)
		assert.Len(t, compressed, 1)
	})

	t.Run("should never rotate without a limit", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "grove.log")

		w, err := NewRotatingWriter(logFile, 0, 0, false)
		require.NoError(t, err)
		_, err = w.Write([]byte(strings.Repeat("x", 2048)))
		require.NoError(t, err)
		require.NoError(t, w.Close())

		rotated, _ := filepath.Glob(logFile + ".*")
		assert.Empty(t, rotated)
	})

	t.Run("should remove expired rotated files", func(t *testing.T) {
		dir := t.TempDir()
		logFile := filepath.Join(dir, "grove.log")
		old := logFile + ".20200101-000000.000"
		require.NoError(t, os.WriteFile(old, []byte("old"), 0644))
		past := time.Now().AddDate(0, 0, -30)
		require.NoError(t, os.Chtimes(old, past, past))

		w, err := NewRotatingWriter(logFile, 1, 7, false)
		require.NoError(t, err)
		require.NoError(t, w.Close())

		_, err = os.Stat(old)
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("should tolerate a double close", func(t *testing.T) {
		w, err := NewRotatingWriter(filepath.Join(t.TempDir(), "grove.log"), 1, 0, false)
		require.NoError(t, err)
		require.NoError(t, w.Close())
		assert.NoError(t, w.Close())
	})
}
