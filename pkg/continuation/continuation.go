package continuation

import (
	"sync"

	"github.com/harun/agentenv/pkg/worker"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/panics"
)

// Callback receives the worker and the job's outcome
type Callback func(w *worker.Worker, outcome Outcome)

// Continuations is a completion latch with a keyed callback registry.
// Callbacks registered before completion fire once, after completion. Later
// registrations either run immediately or are rejected.
type Continuations struct {
	worker *worker.Worker
	logger zerolog.Logger

	mu        sync.Mutex
	completed bool
	outcome   Outcome
	callbacks map[string]Callback
	done      chan struct{}
}

// Option configures Continuations
type Option func(*Continuations)

// WithLogger sets the logger used to report panicking callbacks
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Continuations) {
		c.logger = logger
	}
}

// New creates running continuations for the given worker
func New(w *worker.Worker, opts ...Option) *Continuations {
	c := &Continuations{
		worker:    w,
		logger:    log.Logger,
		callbacks: make(map[string]Callback),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AddOrRunNow stores the callback under key, replacing any previous entry.
// If completion already happened the callback is scheduled right away with
// the latched outcome and is not stored.
func (c *Continuations) AddOrRunNow(key string, cb Callback) {
	c.mu.Lock()
	if !c.completed {
		c.callbacks[key] = cb
		c.mu.Unlock()
		return
	}
	outcome := c.outcome
	c.mu.Unlock()

	c.schedule(key, cb, outcome)
}

// AddOrErrorIfStopped stores the callback like AddOrRunNow, but after
// completion returns a *StoppedError carrying the outcome instead of running it.
func (c *Continuations) AddOrErrorIfStopped(key string, cb Callback) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.completed {
		return &StoppedError{Outcome: c.outcome}
	}
	c.callbacks[key] = cb
	return nil
}

// Remove deletes the callback under key and reports whether one was removed.
// It has no effect after completion.
func (c *Continuations) Remove(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.completed {
		return false
	}
	if _, ok := c.callbacks[key]; !ok {
		return false
	}
	delete(c.callbacks, key)
	return true
}

// Complete latches the outcome and fans out every pending callback, each in
// its own goroutine. Only the first call has an effect; it returns true.
func (c *Continuations) Complete(outcome Outcome) bool {
	c.mu.Lock()
	if c.completed {
		c.mu.Unlock()
		c.logger.Warn().
			Str("workerId", c.workerID()).
			Str("outcome", outcome.String()).
			Msg("Ignoring repeated completion")
		return false
	}
	c.completed = true
	c.outcome = outcome
	pending := c.callbacks
	c.callbacks = nil
	close(c.done)
	c.mu.Unlock()

	for key, cb := range pending {
		c.schedule(key, cb, outcome)
	}
	return true
}

// Done is closed once Complete has latched an outcome
func (c *Continuations) Done() <-chan struct{} {
	return c.done
}

// Outcome returns the latched outcome and whether completion happened
func (c *Continuations) Outcome() (Outcome, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outcome, c.completed
}

// Len returns the number of callbacks waiting for completion
func (c *Continuations) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.callbacks)
}

func (c *Continuations) schedule(key string, cb Callback, outcome Outcome) {
	go func() {
		var catcher panics.Catcher
		catcher.Try(func() { cb(c.worker, outcome) })
		if r := catcher.Recovered(); r != nil {
			c.logger.Error().
				Str("workerId", c.workerID()).
				Str("key", key).
				Err(r.AsError()).
				Msg("Continuation callback panicked")
		}
	}()
}

func (c *Continuations) workerID() string {
	if c.worker == nil {
		return ""
	}
	return c.worker.ID()
}
