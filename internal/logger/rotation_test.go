package logger

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRotatingWriter(t *testing.T) {
	t.Run("should create the file and its directory", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "subdir", "test.log")

		rw, err := NewRotatingWriter(RotationConfig{Filename: logFile, MaxBytes: 1024})
		require.NoError(t, err)
		defer rw.Close()

		assert.FileExists(t, logFile)
	})

	t.Run("should reject a non-positive size", func(t *testing.T) {
		_, err := NewRotatingWriter(RotationConfig{Filename: filepath.Join(t.TempDir(), "x.log")})
		assert.Error(t, err)
	})
}

func TestRotatingWriterRotation(t *testing.T) {
	t.Run("should rotate once the size limit is exceeded", func(t *testing.T) {
		tmpDir := t.TempDir()
		logFile := filepath.Join(tmpDir, "test.log")

		rw, err := NewRotatingWriter(RotationConfig{Filename: logFile, MaxBytes: 100})
		require.NoError(t, err)

		line := []byte(strings.Repeat("a", 60) + "\n")
		for i := 0; i < 3; i++ {
			n, err := rw.Write(line)
			require.NoError(t, err)
			assert.Equal(t, len(line), n)
		}
		require.NoError(t, rw.Close())

		rotated, err := filepath.Glob(logFile + ".*")
		require.NoError(t, err)
		assert.Len(t, rotated, 2)

		content, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Equal(t, string(line), string(content))
	})

	t.Run("should compress rotated files", func(t *testing.T) {
		tmpDir := t.TempDir()
		logFile := filepath.Join(tmpDir, "test.log")

		rw, err := NewRotatingWriter(RotationConfig{Filename: logFile, MaxBytes: 10, Compress: true})
		require.NoError(t, err)
		_, err = rw.Write([]byte("first entry\n"))
		require.NoError(t, err)
		_, err = rw.Write([]byte("second entry\n"))
		require.NoError(t, err)
		require.NoError(t, rw.Close())

		compressed, err := filepath.Glob(logFile + ".*.gz")
		require.NoError(t, err)
		assert.Len(t, compressed, 1)
	})

	t.Run("should be safe for concurrent writers", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "test.log")
		rw, err := NewRotatingWriter(RotationConfig{Filename: logFile, MaxBytes: 1 << 20})
		require.NoError(t, err)

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 50; j++ {
					_, _ = rw.Write([]byte("line\n"))
				}
			}()
		}
		wg.Wait()
		require.NoError(t, rw.Close())

		content, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Equal(t, 400, strings.Count(string(content), "line\n"))
	})

	t.Run("should fail writes after close", func(t *testing.T) {
		rw, err := NewRotatingWriter(RotationConfig{Filename: filepath.Join(t.TempDir(), "t.log"), MaxBytes: 10})
		require.NoError(t, err)
		require.NoError(t, rw.Close())

		_, err = rw.Write([]byte("late"))
		assert.ErrorIs(t, err, os.ErrClosed)
	})
}

func TestCompressFile(t *testing.T) {
	testFile := filepath.Join(t.TempDir(), "test.txt")
	require.NoError(t, os.WriteFile(testFile, []byte("test content"), 0644))

	require.NoError(t, compressFile(testFile))

	assert.FileExists(t, testFile+".gz")
	_, err := os.Stat(testFile)
	assert.True(t, os.IsNotExist(err))
}

func TestCleanup(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "test.log")

	oldFile := logFile + ".20200101-120000.000000"
	require.NoError(t, os.WriteFile(oldFile, []byte("old log"), 0644))
	oldTime := time.Now().AddDate(0, 0, -10)
	require.NoError(t, os.Chtimes(oldFile, oldTime, oldTime))

	recentFile := logFile + ".20990101-120000.000000"
	require.NoError(t, os.WriteFile(recentFile, []byte("recent log"), 0644))

	rw, err := NewRotatingWriter(RotationConfig{Filename: logFile, MaxBytes: 1024, MaxAge: 7})
	require.NoError(t, err)
	defer rw.Close()

	_, err = os.Stat(oldFile)
	assert.True(t, os.IsNotExist(err))
	assert.FileExists(t, recentFile)
}
