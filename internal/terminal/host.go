// Package terminal renders worker activity on a terminal and collects
// operator confirmations.
package terminal

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/harun/agentenv/pkg/worker"
)

var palette = []color.Attribute{
	color.FgCyan,
	color.FgGreen,
	color.FgMagenta,
	color.FgBlue,
	color.FgYellow,
	color.FgWhite,
	color.FgRed,
}

// Config configures a Host
type Config struct {
	Out     io.Writer
	Input   *LineReader
	NoColor bool
	// Verbose prints every state transition, not only failures
	Verbose bool
}

type workerView struct {
	name      string
	color     *color.Color
	streaming bool
}

// Host is a worker.Host writing to a terminal
type Host struct {
	out     io.Writer
	input   *LineReader
	verbose bool
	dim     *color.Color
	warn    *color.Color
	fail    *color.Color

	mu      sync.Mutex
	workers map[string]*workerView
	order   int

	// one confirmation prompt at a time
	confirm sync.Mutex
}

// NewHost creates a terminal host
func NewHost(cfg Config) *Host {
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.NoColor {
		color.NoColor = true
	}

	return &Host{
		out:     cfg.Out,
		input:   cfg.Input,
		verbose: cfg.Verbose,
		dim:     color.New(color.FgHiBlack),
		warn:    color.New(color.FgYellow, color.Bold),
		fail:    color.New(color.FgRed, color.Bold),
		workers: make(map[string]*workerView),
	}
}

// AddWorker assigns the worker a display name and the next palette color
func (h *Host) AddWorker(w *worker.Worker) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.workers[w.ID()]; ok {
		return
	}
	h.workers[w.ID()] = &workerView{
		name:  w.Name(),
		color: color.New(palette[h.order%len(palette)], color.Bold),
	}
	h.order++
}

// view returns the worker's view, registering unknown ids under their id.
// Caller holds h.mu.
func (h *Host) view(workerID string) *workerView {
	v, ok := h.workers[workerID]
	if !ok {
		v = &workerView{
			name:  shortID(workerID),
			color: color.New(palette[h.order%len(palette)], color.Bold),
		}
		h.workers[workerID] = v
		h.order++
	}
	return v
}

// WorkerStateChanged ends an open response stream and reports failures
func (h *Host) WorkerStateChanged(workerID string, state worker.State) {
	h.mu.Lock()
	defer h.mu.Unlock()

	v := h.view(workerID)
	if v.streaming && state != worker.Receiving {
		fmt.Fprintln(h.out)
		v.streaming = false
	}

	switch {
	case state == worker.InactiveFailed:
		fmt.Fprintf(h.out, "%s %s\n", v.color.Sprintf("%s ›", v.name), h.fail.Sprint("failed"))
	case h.verbose:
		fmt.Fprintln(h.out, h.dim.Sprintf("[%s] %s", v.name, state))
	}
}

// ResponseChunkReceived streams model output under the worker's prefix
func (h *Host) ResponseChunkReceived(workerID string, chunk string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	v := h.view(workerID)
	if !v.streaming {
		fmt.Fprintf(h.out, "%s ", v.color.Sprintf("%s ›", v.name))
		v.streaming = true
	}
	fmt.Fprint(h.out, chunk)
}

// RequestConfirmation prints the prompt and waits for one input line
func (h *Host) RequestConfirmation(ctx context.Context, workerID string, prompt string) (string, error) {
	if h.input == nil {
		return "", fmt.Errorf("no terminal input available")
	}

	h.confirm.Lock()
	defer h.confirm.Unlock()

	h.mu.Lock()
	v := h.view(workerID)
	if v.streaming {
		fmt.Fprintln(h.out)
		v.streaming = false
	}
	fmt.Fprintf(h.out, "%s %s ", v.color.Sprintf("%s ›", v.name), h.warn.Sprint(prompt))
	h.mu.Unlock()

	line, err := h.input.ReadLine(ctx)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// Println writes a line outside any response stream
func (h *Host) Println(a ...any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.endStreams()
	fmt.Fprintln(h.out, a...)
}

// Notice writes a dimmed informational line
func (h *Host) Notice(format string, a ...any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.endStreams()
	fmt.Fprintln(h.out, h.dim.Sprintf(format, a...))
}

// Prompt writes the input prompt for the focused worker
func (h *Host) Prompt(workerID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.endStreams()
	v := h.view(workerID)
	fmt.Fprint(h.out, v.color.Sprintf("you → %s › ", v.name))
}

// endStreams terminates open response lines. Caller holds h.mu.
func (h *Host) endStreams() {
	for _, v := range h.workers {
		if v.streaming {
			fmt.Fprintln(h.out)
			v.streaming = false
		}
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
