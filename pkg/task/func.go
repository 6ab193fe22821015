package task

import (
	"context"

	"github.com/harun/agentenv/pkg/worker"
)

// MetaFuncCompletion holds the completion state of the last Func task
const MetaFuncCompletion = "func.completion_state"

// Func adapts a plain function into a Task. The worker is moved to Working
// before fn runs and settled afterwards.
type Func struct {
	worker *worker.Worker
	host   worker.Host
	fn     func(ctx context.Context) error
}

// NewFunc creates a Func task
func NewFunc(w *worker.Worker, host worker.Host, fn func(ctx context.Context) error) *Func {
	return &Func{worker: w, host: hostOrNop(host), fn: fn}
}

// Worker returns the owning worker
func (f *Func) Worker() *worker.Worker {
	return f.worker
}

// Run executes fn between checkpoints
func (f *Func) Run(ctx context.Context) (err error) {
	defer func() { settle(ctx, f.worker, f.host, MetaFuncCompletion, err) }()

	if err := Checkpoint(ctx); err != nil {
		return err
	}
	f.worker.ClearFailure()
	f.worker.SetState(worker.Working, f.host)

	return f.fn(ctx)
}
