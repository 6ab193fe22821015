package environment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/harun/agentenv/pkg/worker"
)

const historyPreview = 10

const helpText = `commands:
  /workers              list workers and their states
  /jobs                 list retained jobs
  /focus <n>            send prompts to worker n
  /add <name>           add a worker
  /compact [focus]      compact the focused worker's conversation
  /history              show recent input
  /quit                 shut down`

// loop is the interactive read-dispatch loop
type loop struct {
	env     *Environment
	workers []*worker.Worker
	focus   int
}

func newLoop(env *Environment, workers []*worker.Worker) *loop {
	return &loop{env: env, workers: workers}
}

func (l *loop) focused() *worker.Worker {
	return l.workers[l.focus]
}

func (l *loop) run(ctx context.Context) {
	e := l.env
	for {
		// prompts never compete with confirmations from running jobs
		if err := e.session.WaitForAllJobs(ctx); err != nil {
			return
		}

		e.terminal.Prompt(l.focused().ID())
		e.coordinator.SetAwaitingInput(true)
		line, err := e.input.ReadLine(ctx)
		e.coordinator.SetAwaitingInput(false)

		if err != nil {
			if errors.Is(err, io.EOF) {
				e.terminal.Println()
				e.coordinator.RequestShutdown()
			}
			return
		}
		if line == "" {
			continue
		}
		if e.history != nil {
			e.history.Append(line)
		}

		if !l.dispatch(ctx, line) {
			e.coordinator.RequestShutdown()
			return
		}
	}
}

// dispatch handles one input line and reports whether the loop continues
func (l *loop) dispatch(ctx context.Context, line string) bool {
	e := l.env
	if !strings.HasPrefix(line, "/") {
		if _, err := e.launchPrompt(l.focused(), line); err != nil {
			e.terminal.Notice("cannot start job: %v", err)
		}
		return true
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/quit", "/exit":
		return false
	case "/help":
		e.terminal.Println(helpText)
	case "/workers":
		l.listWorkers()
	case "/jobs":
		l.listJobs()
	case "/focus":
		l.setFocus(arg)
	case "/add":
		l.addWorker(arg)
	case "/compact":
		if _, err := e.launchCompact(l.focused(), arg); err != nil {
			e.terminal.Notice("cannot compact: %v", err)
		}
	case "/history":
		l.showHistory(ctx)
	default:
		e.terminal.Notice("unknown command %s, try /help", cmd)
	}
	return true
}

func (l *loop) listWorkers() {
	for i, w := range l.workers {
		marker := " "
		if i == l.focus {
			marker = "*"
		}
		line := fmt.Sprintf("%s %d %s [%s]", marker, i+1, w.Name(), w.State())
		if msg, ok := w.LastFailure(); ok {
			line += " " + msg
		}
		l.env.terminal.Println(line)
	}
}

func (l *loop) listJobs() {
	active, inactive := l.env.session.JobCounts()
	l.env.terminal.Notice("%d active, %d retained", active, inactive)

	for _, j := range l.env.session.Jobs() {
		status := "pending"
		select {
		case <-j.Finished():
			// the outcome latches right after the finished signal
			<-j.Continuations().Done()
			outcome, _ := j.Continuations().Outcome()
			status = outcome.String()
		default:
			if j.IsActive() {
				status = "active"
			}
		}
		l.env.terminal.Println(fmt.Sprintf("  %s %s %s", j.ID(), j.Worker().Name(), status))
	}
}

func (l *loop) setFocus(arg string) {
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 || n > len(l.workers) {
		l.env.terminal.Notice("usage: /focus <1-%d>", len(l.workers))
		return
	}
	l.focus = n - 1
	l.env.terminal.Notice("focused %s", l.focused().Name())
}

func (l *loop) addWorker(name string) {
	if name == "" {
		name = fmt.Sprintf("worker-%d", len(l.workers)+1)
	}
	l.workers = append(l.workers, l.env.addWorker(name))
	l.focus = len(l.workers) - 1
	l.env.terminal.Notice("added %s", name)
}

func (l *loop) showHistory(ctx context.Context) {
	if l.env.history == nil {
		l.env.terminal.Notice("input history is disabled")
		return
	}
	lines, err := l.env.history.Recent(ctx, historyPreview)
	if err != nil {
		l.env.terminal.Notice("cannot read history: %v", err)
		return
	}
	for _, line := range lines {
		l.env.terminal.Println("  " + line)
	}
}
