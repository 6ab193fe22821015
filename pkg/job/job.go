package job

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harun/agentenv/internal/tracing"
	"github.com/harun/agentenv/pkg/continuation"
	"github.com/harun/agentenv/pkg/lanes"
	"github.com/harun/agentenv/pkg/task"
	"github.com/harun/agentenv/pkg/worker"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var (
	// ErrAlreadyLaunched is returned by a second Launch
	ErrAlreadyLaunched = errors.New("job already launched")
	// ErrNotLaunched is returned by Wait on a job that was never launched
	ErrNotLaunched = errors.New("job not launched")
	// ErrWaitConsumed is returned when Wait was already claimed by another caller
	ErrWaitConsumed = errors.New("job wait already consumed")
)

// SchedulerError means the work ended without producing an outcome, either
// because the scheduler dropped it or because the task panicked.
type SchedulerError struct {
	JobID string
	Err   error
}

func (e *SchedulerError) Error() string {
	return fmt.Sprintf("job %s aborted by scheduler: %v", e.JobID, e.Err)
}

func (e *SchedulerError) Unwrap() error {
	return e.Err
}

// Option configures a Job
type Option func(*Job)

// WithScheduler sets the scheduler used by Launch
func WithScheduler(s Scheduler) Option {
	return func(j *Job) {
		j.scheduler = s
	}
}

// WithLogger sets the job's logger
func WithLogger(logger zerolog.Logger) Option {
	return func(j *Job) {
		j.logger = logger
	}
}

// WithHost sets the host told about a worker left failed by a panicking task
func WithHost(host worker.Host) Option {
	return func(j *Job) {
		j.host = host
	}
}

// WithContext derives the job's cancellation signal from parent
func WithContext(parent context.Context) Option {
	return func(j *Job) {
		j.parent = parent
	}
}

// Job is one launched execution of a task against its worker
type Job struct {
	id            string
	worker        *worker.Worker
	task          task.Task
	parent        context.Context
	ctx           context.Context
	cancel        context.CancelFunc
	continuations *continuation.Continuations
	scheduler     Scheduler
	host          worker.Host
	logger        zerolog.Logger

	mu          sync.Mutex
	launched    bool
	waited      bool
	launchedAt  time.Time
	completedAt time.Time
	outcome     continuation.Outcome
	schedErr    error

	active     atomic.Bool
	finishOnce sync.Once
	finished   chan struct{}
}

// New creates a job for the task's worker with a fresh cancellation signal
func New(t task.Task, opts ...Option) *Job {
	id, err := gonanoid.New()
	if err != nil {
		id = fmt.Sprintf("job-%d", time.Now().UnixNano())
	}

	j := &Job{
		id:        id,
		worker:    t.Worker(),
		task:      t,
		parent:    context.Background(),
		scheduler: goScheduler{},
		logger:    log.Logger,
		finished:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(j)
	}

	j.ctx, j.cancel = context.WithCancel(tracing.WithJobID(tracing.WithWorkerID(j.parent, j.worker.ID()), j.id))
	j.logger = j.logger.With().Str("jobId", j.id).Str("workerId", j.worker.ID()).Logger()
	j.continuations = continuation.New(j.worker, continuation.WithLogger(j.logger))
	return j
}

// ID returns the job id
func (j *Job) ID() string {
	return j.id
}

// Worker returns the job's worker
func (j *Job) Worker() *worker.Worker {
	return j.worker
}

// Task returns the job's task
func (j *Job) Task() task.Task {
	return j.task
}

// Continuations returns the job's completion callbacks
func (j *Job) Continuations() *continuation.Continuations {
	return j.continuations
}

// IsActive reports whether the job was launched and has not finished
func (j *Job) IsActive() bool {
	return j.active.Load()
}

// LaunchedAt returns when Launch was called
func (j *Job) LaunchedAt() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.launchedAt
}

// CompletedAt returns when the work ended, zero while running
func (j *Job) CompletedAt() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.completedAt
}

// Launch hands the task to the scheduler. It may be called once.
func (j *Job) Launch() error {
	j.mu.Lock()
	if j.launched {
		j.mu.Unlock()
		return ErrAlreadyLaunched
	}
	j.launched = true
	j.launchedAt = time.Now()
	j.active.Store(true)
	j.mu.Unlock()

	j.logger.Debug().Str("worker", j.worker.Name()).Msg("Job launched")

	err := j.scheduler.Submit(j.worker.ID(), lanes.Item{
		ID:    j.id,
		Run:   j.run,
		Abort: j.abort,
	})
	if err != nil {
		j.abort(err)
		return &SchedulerError{JobID: j.id, Err: err}
	}
	return nil
}

// Cancel signals the task to stop. It never blocks and is a no-op once the
// job has completed.
func (j *Job) Cancel() {
	j.cancel()
}

// Wait blocks until the work ends and returns its outcome, or a
// *SchedulerError when the work produced none. Only the first caller may
// wait; if ctx ends first the claim is released.
func (j *Job) Wait(ctx context.Context) (continuation.Outcome, error) {
	j.mu.Lock()
	if !j.launched {
		j.mu.Unlock()
		return continuation.Outcome{}, ErrNotLaunched
	}
	if j.waited {
		j.mu.Unlock()
		return continuation.Outcome{}, ErrWaitConsumed
	}
	j.waited = true
	j.mu.Unlock()

	select {
	case <-j.finished:
	case <-ctx.Done():
		j.mu.Lock()
		j.waited = false
		j.mu.Unlock()
		return continuation.Outcome{}, ctx.Err()
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.schedErr != nil {
		return continuation.Outcome{}, &SchedulerError{JobID: j.id, Err: j.schedErr}
	}
	return j.outcome, nil
}

// Finished is closed once the work has ended
func (j *Job) Finished() <-chan struct{} {
	return j.finished
}

func (j *Job) run(queueCtx context.Context) {
	stop := context.AfterFunc(queueCtx, j.cancel)
	defer stop()

	ctx, span := tracing.StartSpan(j.ctx, "agentenv.job", "job.run")
	defer span.End()

	err := j.task.Run(ctx)

	outcome := j.outcomeFor(err)
	if outcome.Kind == continuation.Failed {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.String("outcome", outcome.Kind.String()))

	j.finish(outcome, nil)
}

// outcomeFor maps the task's return value. An observed cancellation wins
// over a result that arrived at the same time.
func (j *Job) outcomeFor(err error) continuation.Outcome {
	switch {
	case j.ctx.Err() != nil:
		return continuation.CancelledOutcome()
	case err != nil:
		return continuation.FailedOutcome(err)
	default:
		return continuation.NormalOutcome()
	}
}

func (j *Job) abort(err error) {
	var panicErr *lanes.PanicError
	if errors.As(err, &panicErr) && !j.worker.State().IsTerminal() {
		j.worker.SetFailure(panicErr.Error())
		j.worker.SetState(worker.InactiveFailed, j.host)
	}
	schedErr := &SchedulerError{JobID: j.id, Err: err}
	j.finish(continuation.FailedOutcome(schedErr), err)
}

func (j *Job) finish(outcome continuation.Outcome, schedErr error) {
	j.finishOnce.Do(func() {
		j.mu.Lock()
		j.completedAt = time.Now()
		j.outcome = outcome
		j.schedErr = schedErr
		duration := j.completedAt.Sub(j.launchedAt)
		j.mu.Unlock()

		j.active.Store(false)

		event := j.logger.Info()
		if schedErr != nil {
			event = j.logger.Error().Err(schedErr)
		}
		event.
			Str("outcome", outcome.Kind.String()).
			Dur("duration", duration).
			Msg("Job completed")

		close(j.finished)
		j.continuations.Complete(outcome)
	})
}
