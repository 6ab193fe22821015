package worker

import "context"

// Host is the UI-facing side of a worker. Tasks call it from their own
// goroutines, so implementations must be safe for concurrent use and should
// return as soon as the notification is recorded.
type Host interface {
	// WorkerStateChanged is called synchronously on every state transition
	WorkerStateChanged(workerID string, state State)

	// ResponseChunkReceived is called for each streamed chunk of model output
	ResponseChunkReceived(workerID string, chunk string)

	// RequestConfirmation asks the operator for text input. It returns the
	// context's error if ctx is cancelled first.
	RequestConfirmation(ctx context.Context, workerID string, prompt string) (string, error)
}

// NopHost discards notifications and declines every confirmation
type NopHost struct{}

func (NopHost) WorkerStateChanged(string, State)   {}
func (NopHost) ResponseChunkReceived(string, string) {}

func (NopHost) RequestConfirmation(ctx context.Context, _ string, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return "n", nil
}
