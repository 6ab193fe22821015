// Package logger configures the process-wide zerolog logger.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger owns the configured zerolog logger and its file sink
type Logger struct {
	logger   zerolog.Logger
	sink     io.Closer
	redactor *Redactor
}

// Config holds logger configuration
type Config struct {
	Level          string   // debug, info, warn, error
	File           string   // log file path, empty disables the file sink
	Console        bool     // mirror logs to the console
	Pretty         bool     // human-readable console format
	Redaction      bool     // redact API keys and other secrets
	RedactPatterns []string // extra expressions redacted with the built-in ones
	MaxSize        int      // MB before rotation, 0 disables rotation
	MaxAge         int      // days to keep rotated files
	Compress       bool     // gzip rotated files

	// Console output; defaults to stderr so logs never interleave with chat output
	Output io.Writer
}

// New creates a logger and installs it as the global zerolog logger
func New(cfg Config) (*Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	var redactor *Redactor
	if cfg.Redaction {
		redactor = NewRedactor()
		for _, pattern := range cfg.RedactPatterns {
			if err := redactor.AddPattern(pattern); err != nil {
				return nil, fmt.Errorf("invalid redaction pattern %q: %w", pattern, err)
			}
		}
	}

	var writers []io.Writer

	if cfg.Console {
		out := cfg.Output
		if out == nil {
			out = os.Stderr
		}
		if cfg.Pretty {
			out = zerolog.ConsoleWriter{
				Out:        out,
				TimeFormat: time.RFC3339,
			}
		}
		writers = append(writers, out)
	}

	var sink io.WriteCloser
	if cfg.File != "" {
		sink, err = openSink(cfg)
		if err != nil {
			return nil, err
		}
		writers = append(writers, sink)
	}

	var writer io.Writer
	switch len(writers) {
	case 0:
		writer = io.Discard
	case 1:
		writer = writers[0]
	default:
		writer = zerolog.MultiLevelWriter(writers...)
	}

	if redactor != nil {
		writer = redactor.Wrap(writer)
	}

	logger := zerolog.New(writer).
		Level(level).
		With().
		Timestamp().
		Logger()

	log.Logger = logger
	zerolog.DefaultContextLogger = &log.Logger

	l := &Logger{
		logger:   logger,
		redactor: redactor,
	}
	if sink != nil {
		l.sink = sink
	}
	return l, nil
}

func openSink(cfg Config) (io.WriteCloser, error) {
	if cfg.MaxSize > 0 {
		return NewRotatingWriter(RotationConfig{
			Filename: cfg.File,
			MaxBytes: int64(cfg.MaxSize) * 1024 * 1024,
			MaxAge:   cfg.MaxAge,
			Compress: cfg.Compress,
		})
	}

	if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return file, nil
}

// Close closes the file sink
func (l *Logger) Close() error {
	if l.sink != nil {
		return l.sink.Close()
	}
	return nil
}

// With creates a child logger context
func (l *Logger) With() zerolog.Context {
	return l.logger.With()
}

// GetZerolog returns the underlying zerolog.Logger
func (l *Logger) GetZerolog() zerolog.Logger {
	return l.logger
}

// DefaultConfig returns default logger configuration
func DefaultConfig() Config {
	return Config{
		Level:     "info",
		Console:   false,
		Pretty:    true,
		Redaction: true,
		MaxSize:   100,
		MaxAge:    7,
		Compress:  true,
	}
}
