package worker

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/harun/agentenv/pkg/provider"
)

// Worker is the persistent identity of one agent. A worker is reused across
// jobs but only one task drives it at a time.
type Worker struct {
	id        string
	name      string
	provider  provider.Provider
	createdAt time.Time

	stateMu sync.RWMutex
	state   State

	failureMu sync.RWMutex
	failure   string

	conversationMu sync.RWMutex
	conversation   []provider.Message

	metadataMu sync.RWMutex
	metadata   map[string]string
}

// New creates an inactive worker bound to the given provider
func New(name string, p provider.Provider) *Worker {
	return &Worker{
		id:        uuid.New().String(),
		name:      name,
		provider:  p,
		createdAt: time.Now(),
		state:     Inactive,
		metadata:  make(map[string]string),
	}
}

// ID returns the worker's unique id
func (w *Worker) ID() string {
	return w.id
}

// Name returns the display name
func (w *Worker) Name() string {
	return w.name
}

// Provider returns the shared model-access handle
func (w *Worker) Provider() provider.Provider {
	return w.provider
}

// CreatedAt returns when the worker was built
func (w *Worker) CreatedAt() time.Time {
	return w.createdAt
}

// State returns the current state
func (w *Worker) State() State {
	w.stateMu.RLock()
	defer w.stateMu.RUnlock()
	return w.state
}

// SetState records the new state and then notifies the host. The host call
// happens outside the lock so a slow UI never blocks readers.
func (w *Worker) SetState(state State, host Host) {
	w.stateMu.Lock()
	w.state = state
	w.stateMu.Unlock()

	if host != nil {
		host.WorkerStateChanged(w.id, state)
	}
}

// SetFailure records a human-readable failure message
func (w *Worker) SetFailure(msg string) {
	w.failureMu.Lock()
	defer w.failureMu.Unlock()
	w.failure = msg
}

// ClearFailure empties the failure slot
func (w *Worker) ClearFailure() {
	w.SetFailure("")
}

// LastFailure returns the last failure message, if any
func (w *Worker) LastFailure() (string, bool) {
	w.failureMu.RLock()
	defer w.failureMu.RUnlock()
	return w.failure, w.failure != ""
}

// AppendMessage adds an entry to the conversation
func (w *Worker) AppendMessage(msg provider.Message) {
	w.conversationMu.Lock()
	defer w.conversationMu.Unlock()
	w.conversation = append(w.conversation, msg)
}

// Messages returns a copy of the conversation
func (w *Worker) Messages() []provider.Message {
	w.conversationMu.RLock()
	defer w.conversationMu.RUnlock()
	out := make([]provider.Message, len(w.conversation))
	copy(out, w.conversation)
	return out
}

// ReplaceMessages swaps the whole conversation, used after compaction
func (w *Worker) ReplaceMessages(msgs []provider.Message) {
	w.conversationMu.Lock()
	defer w.conversationMu.Unlock()
	w.conversation = append([]provider.Message(nil), msgs...)
}

// SetMetadata stores a task-owned value. Keys are namespaced by task kind,
// e.g. "agent_loop.completion_state".
func (w *Worker) SetMetadata(key, value string) {
	w.metadataMu.Lock()
	defer w.metadataMu.Unlock()
	w.metadata[key] = value
}

// Metadata returns a task-owned value
func (w *Worker) Metadata(key string) (string, bool) {
	w.metadataMu.RLock()
	defer w.metadataMu.RUnlock()
	v, ok := w.metadata[key]
	return v, ok
}
