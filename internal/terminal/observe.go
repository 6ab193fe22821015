package terminal

import (
	"context"

	"github.com/harun/agentenv/pkg/events"
	"github.com/harun/agentenv/pkg/worker"
)

// StateRecorder receives worker state metrics
type StateRecorder interface {
	WorkerStateChanged(state string)
}

type observedHost struct {
	inner   worker.Host
	metrics StateRecorder
	events  *events.Bus
}

// Observe wraps a host so every state transition is also counted and
// published. Either metrics or bus may be nil.
func Observe(inner worker.Host, metrics StateRecorder, bus *events.Bus) worker.Host {
	if inner == nil {
		inner = worker.NopHost{}
	}
	return &observedHost{inner: inner, metrics: metrics, events: bus}
}

func (o *observedHost) WorkerStateChanged(workerID string, state worker.State) {
	o.inner.WorkerStateChanged(workerID, state)
	if o.metrics != nil {
		o.metrics.WorkerStateChanged(state.String())
	}
	o.events.Emit(events.Event{
		Type:     events.WorkerStateChanged,
		WorkerID: workerID,
		Data:     map[string]string{"state": state.String()},
	})
}

func (o *observedHost) ResponseChunkReceived(workerID string, chunk string) {
	o.inner.ResponseChunkReceived(workerID, chunk)
}

func (o *observedHost) RequestConfirmation(ctx context.Context, workerID string, prompt string) (string, error) {
	return o.inner.RequestConfirmation(ctx, workerID, prompt)
}
