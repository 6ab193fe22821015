// Package history persists the interactive prompt's input lines in SQLite.
//
// Lines are appended in memory while the session runs and written in one
// transaction by Flush, which the shutdown sequence calls as its
// best-effort persistence step.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultLimit is the number of lines kept on disk when none is configured
const DefaultLimit = 1000

// ErrClosed is returned by operations on a closed store
var ErrClosed = errors.New("history store is closed")

// Config configures a Store
type Config struct {
	Path   string
	Limit  int
	Logger *zerolog.Logger
}

type entry struct {
	line string
	at   time.Time
}

// Store is the input-history store
type Store struct {
	db     *sql.DB
	limit  int
	logger zerolog.Logger

	mu      sync.Mutex
	pending []entry
	closed  bool
}

// Open opens or creates the history database
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("history path is required")
	}
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultLimit
	}
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	if dir := filepath.Dir(cfg.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS input_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			line TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{
		db:     db,
		limit:  cfg.Limit,
		logger: logger.With().Str("component", "history").Logger(),
	}, nil
}

// Append records a line. Blank lines and repeats of the previous line are skipped.
func (s *Store) Append(line string) {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if n := len(s.pending); n > 0 && s.pending[n-1].line == line {
		return
	}
	s.pending = append(s.pending, entry{line: line, at: time.Now()})
}

// Pending returns how many lines are waiting to be flushed
func (s *Store) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Recent returns up to n lines, oldest first, including unflushed ones
func (s *Store) Recent(ctx context.Context, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	pending := make([]string, 0, len(s.pending))
	for _, e := range s.pending {
		pending = append(pending, e.line)
	}
	s.mu.Unlock()

	if len(pending) >= n {
		return pending[len(pending)-n:], nil
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT line FROM input_history ORDER BY id DESC LIMIT ?", n-len(pending))
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var stored []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		stored = append(stored, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}

	lines := make([]string, 0, len(stored)+len(pending))
	for i := len(stored) - 1; i >= 0; i-- {
		lines = append(lines, stored[i])
	}
	return append(lines, pending...), nil
}

// Flush writes pending lines and trims the table to the configured limit.
// Lines stay pending if the write fails.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	if err := s.write(ctx, batch); err != nil {
		s.mu.Lock()
		s.pending = append(batch, s.pending...)
		s.mu.Unlock()
		return err
	}

	s.logger.Debug().Int("lines", len(batch)).Msg("History flushed")
	return nil
}

func (s *Store) write(ctx context.Context, batch []entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO input_history (line, created_at) VALUES (?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range batch {
		if _, err := stmt.ExecContext(ctx, e.line, e.at.Unix()); err != nil {
			return fmt.Errorf("failed to insert history line: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		DELETE FROM input_history
		WHERE id NOT IN (SELECT id FROM input_history ORDER BY id DESC LIMIT ?)`, s.limit)
	if err != nil {
		return fmt.Errorf("failed to trim history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit history: %w", err)
	}
	return nil
}

// Close closes the database. Unflushed lines are dropped.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	dropped := len(s.pending)
	s.pending = nil
	s.mu.Unlock()

	if dropped > 0 {
		s.logger.Warn().Int("lines", dropped).Msg("Closing history with unflushed lines")
	}
	return s.db.Close()
}
