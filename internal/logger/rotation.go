package logger

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// RotationConfig configures a RotatingWriter
type RotationConfig struct {
	Filename string
	MaxBytes int64
	MaxAge   int // days, 0 keeps rotated files forever
	Compress bool
}

// RotatingWriter is a size-rotating log file. It is safe for concurrent use.
type RotatingWriter struct {
	cfg RotationConfig

	mu          sync.Mutex
	currentFile *os.File
	currentSize int64
	background  sync.WaitGroup
}

// NewRotatingWriter opens the log file, creating its directory if needed
func NewRotatingWriter(cfg RotationConfig) (*RotatingWriter, error) {
	if cfg.MaxBytes <= 0 {
		return nil, fmt.Errorf("max bytes must be positive, got %d", cfg.MaxBytes)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Filename), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(cfg.Filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat log file: %w", err)
	}

	rw := &RotatingWriter{
		cfg:         cfg,
		currentFile: file,
		currentSize: info.Size(),
	}
	rw.cleanup()

	return rw, nil
}

// Write appends p, rotating first when it would push the file past MaxBytes
func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.currentFile == nil {
		return 0, os.ErrClosed
	}

	if w.currentSize > 0 && w.currentSize+int64(len(p)) > w.cfg.MaxBytes {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}

	n, err := w.currentFile.Write(p)
	w.currentSize += int64(n)
	return n, err
}

// Close closes the current file and waits for pending compression
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	var err error
	if w.currentFile != nil {
		err = w.currentFile.Close()
		w.currentFile = nil
	}
	w.mu.Unlock()

	w.background.Wait()
	return err
}

// rotate renames the current file with a timestamp suffix. Caller holds w.mu.
func (w *RotatingWriter) rotate() error {
	if err := w.currentFile.Close(); err != nil {
		return err
	}

	rotatedName := fmt.Sprintf("%s.%s", w.cfg.Filename, time.Now().Format("20060102-150405.000000"))
	if err := os.Rename(w.cfg.Filename, rotatedName); err != nil {
		return err
	}

	if w.cfg.Compress {
		w.background.Add(1)
		go func() {
			defer w.background.Done()
			if err := compressFile(rotatedName); err != nil {
				fmt.Fprintf(os.Stderr, "log rotation: failed to compress %s: %v\n", rotatedName, err)
			}
		}()
	}

	file, err := os.OpenFile(w.cfg.Filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}

	w.currentFile = file
	w.currentSize = 0
	w.cleanup()

	return nil
}

func compressFile(filename string) error {
	src, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(filename + ".gz")
	if err != nil {
		return err
	}

	gzw := gzip.NewWriter(dst)
	if _, err := io.Copy(gzw, src); err != nil {
		gzw.Close()
		dst.Close()
		return err
	}
	if err := gzw.Close(); err != nil {
		dst.Close()
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}

	return os.Remove(filename)
}

// cleanup removes rotated files older than MaxAge
func (w *RotatingWriter) cleanup() {
	if w.cfg.MaxAge <= 0 {
		return
	}

	files, err := filepath.Glob(w.cfg.Filename + ".*")
	if err != nil {
		return
	}

	cutoff := time.Now().AddDate(0, 0, -w.cfg.MaxAge)
	for _, file := range files {
		info, err := os.Stat(file)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			os.Remove(file)
			if !strings.HasSuffix(file, ".gz") {
				os.Remove(file + ".gz")
			}
		}
	}
}
