package task

import (
	"context"
	"errors"

	"github.com/harun/agentenv/pkg/worker"
)

// Task is one unit of work bound to a worker. Run must poll ctx at every safe
// checkpoint and return promptly once it is done. On every return path the
// worker is left in a terminal state, with a failure message recorded when
// the task failed.
type Task interface {
	Worker() *worker.Worker
	Run(ctx context.Context) error
}

// ErrCancelled is returned by tasks that stopped at a checkpoint
var ErrCancelled = errors.New("task cancelled")

// Checkpoint returns ErrCancelled once ctx is done
func Checkpoint(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ErrCancelled
	default:
		return nil
	}
}

// IsCancellation reports whether err came from cancellation rather than failure
func IsCancellation(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}

// settle moves the worker into its terminal state for err and records the
// completion state under metaKey.
func settle(ctx context.Context, w *worker.Worker, host worker.Host, metaKey string, err error) {
	switch {
	case err == nil:
		w.SetMetadata(metaKey, CompletionCompleted)
		w.SetState(worker.Inactive, host)
	case ctx.Err() != nil || IsCancellation(err):
		w.SetMetadata(metaKey, CompletionCancelled)
		w.SetState(worker.Inactive, host)
	default:
		w.SetFailure(err.Error())
		w.SetMetadata(metaKey, CompletionFailed)
		w.SetState(worker.InactiveFailed, host)
	}
}

// Completion states stored in worker metadata
const (
	CompletionCompleted = "completed"
	CompletionCancelled = "cancelled"
	CompletionFailed    = "failed"
)

func hostOrNop(host worker.Host) worker.Host {
	if host == nil {
		return worker.NopHost{}
	}
	return host
}
