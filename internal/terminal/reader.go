package terminal

import (
	"bufio"
	"context"
	"io"
	"sync"
)

type lineResult struct {
	line string
	err  error
}

// LineReader reads lines from one input on a single goroutine so both the
// prompt loop and confirmation requests can wait on it with a context
type LineReader struct {
	scanner *bufio.Scanner
	lines   chan lineResult
	once    sync.Once

	mu  sync.Mutex
	err error
}

// NewLineReader creates a reader over in
func NewLineReader(in io.Reader) *LineReader {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	return &LineReader{
		scanner: scanner,
		lines:   make(chan lineResult),
	}
}

func (r *LineReader) start() {
	go func() {
		for r.scanner.Scan() {
			r.lines <- lineResult{line: r.scanner.Text()}
		}
		err := r.scanner.Err()
		if err == nil {
			err = io.EOF
		}
		r.lines <- lineResult{err: err}
		close(r.lines)
	}()
}

// ReadLine returns the next line. A line arriving after ctx ended is kept
// for the next caller. It returns io.EOF once input is exhausted.
func (r *LineReader) ReadLine(ctx context.Context) (string, error) {
	r.once.Do(r.start)

	r.mu.Lock()
	if r.err != nil {
		err := r.err
		r.mu.Unlock()
		return "", err
	}
	r.mu.Unlock()

	select {
	case res, ok := <-r.lines:
		if !ok {
			return "", io.EOF
		}
		if res.err != nil {
			r.mu.Lock()
			r.err = res.err
			r.mu.Unlock()
			return "", res.err
		}
		return res.line, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
