package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/harun/agentenv/internal/tracing"
	"github.com/harun/agentenv/pkg/continuation"
	"github.com/harun/agentenv/pkg/events"
	"github.com/harun/agentenv/pkg/job"
	"github.com/harun/agentenv/pkg/lanes"
	"github.com/harun/agentenv/pkg/provider"
	"github.com/harun/agentenv/pkg/task"
	"github.com/harun/agentenv/pkg/worker"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultMaxInactiveJobs is the retention bound used when none is configured
const DefaultMaxInactiveJobs = 3

const bookkeepingKey = "session.bookkeeping"

var (
	// ErrClosed is returned by Launch once the session stopped accepting work
	ErrClosed = errors.New("session is not accepting new jobs")
	// ErrWorkerMismatch is returned when the task belongs to another worker
	ErrWorkerMismatch = errors.New("task is bound to a different worker")
)

// Recorder receives session metrics
type Recorder interface {
	JobLaunched()
	JobCompleted(outcome string, duration time.Duration)
	JobsEvicted(n int)
	WorkerBuilt()
}

// Config configures a Session
type Config struct {
	// Providers is the shared model-provider pool; nil builds provider-less workers
	Providers *provider.Pool
	// MaxInactiveJobs bounds retained finished jobs; 0 means the default
	MaxInactiveJobs int
	// Scheduler runs jobs; nil creates a per-worker lane queue owned by the session
	Scheduler job.Scheduler
	// Host is told when a panicking task leaves a worker failed
	Host    worker.Host
	Events  *events.Bus
	Metrics Recorder
	Logger  *zerolog.Logger
}

// Session tracks every worker and job of one run
type Session struct {
	id        string
	providers *provider.Pool
	scheduler job.Scheduler
	ownQueue  *lanes.Queue
	host      worker.Host
	events    *events.Bus
	metrics   Recorder
	logger    zerolog.Logger

	mu              sync.Mutex
	workers         []*worker.Worker
	jobs            []*job.Job
	maxInactiveJobs int
	accepting       bool
}

// New creates a session
func New(cfg Config) (*Session, error) {
	if cfg.MaxInactiveJobs < 0 {
		return nil, fmt.Errorf("max inactive jobs must not be negative: %d", cfg.MaxInactiveJobs)
	}
	if cfg.MaxInactiveJobs == 0 {
		cfg.MaxInactiveJobs = DefaultMaxInactiveJobs
	}

	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	id := tracing.NewSessionID()
	s := &Session{
		id:              id,
		providers:       cfg.Providers,
		scheduler:       cfg.Scheduler,
		host:            cfg.Host,
		events:          cfg.Events,
		metrics:         cfg.Metrics,
		logger:          logger.With().Str("sessionId", id).Logger(),
		maxInactiveJobs: cfg.MaxInactiveJobs,
		accepting:       true,
	}

	if s.scheduler == nil {
		queueLogger := s.logger.With().Str("component", "lanes").Logger()
		s.ownQueue = lanes.New(lanes.Config{WarnAfter: 30 * time.Second, Logger: &queueLogger})
		s.scheduler = s.ownQueue
	}

	return s, nil
}

// ID returns the session id
func (s *Session) ID() string {
	return s.id
}

// BuildWorker creates and registers a worker bound to the next provider
func (s *Session) BuildWorker(name string) *worker.Worker {
	var p provider.Provider
	if s.providers != nil {
		p = s.providers.Next()
	}
	w := worker.New(name, p)

	s.mu.Lock()
	s.workers = append(s.workers, w)
	s.mu.Unlock()

	providerName := ""
	if p != nil {
		providerName = p.Name()
	}
	s.logger.Info().
		Str("workerId", w.ID()).
		Str("worker", name).
		Str("provider", providerName).
		Msg("Worker built")

	if s.metrics != nil {
		s.metrics.WorkerBuilt()
	}
	s.events.Emit(events.Event{
		Type:     events.WorkerCreated,
		WorkerID: w.ID(),
		Data:     map[string]string{"name": name, "provider": providerName},
	})

	return w
}

// Launch applies retention, then creates, registers and launches a job.
// A scheduler rejection still returns the registered job along with the error.
func (s *Session) Launch(w *worker.Worker, t task.Task) (*job.Job, error) {
	if t.Worker() != w {
		return nil, ErrWorkerMismatch
	}

	s.mu.Lock()
	if !s.accepting {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	evicted := s.cleanupLocked()
	j := job.New(t,
		job.WithScheduler(s.scheduler),
		job.WithHost(s.host),
		job.WithLogger(s.logger),
		job.WithContext(tracing.WithSessionID(context.Background(), s.id)),
	)
	s.jobs = append(s.jobs, j)
	s.mu.Unlock()

	s.reportEvicted(evicted)

	j.Continuations().AddOrRunNow(bookkeepingKey, func(w *worker.Worker, outcome continuation.Outcome) {
		if s.metrics != nil {
			s.metrics.JobCompleted(outcome.Kind.String(), j.CompletedAt().Sub(j.LaunchedAt()))
		}
		data := map[string]string{"outcome": outcome.Kind.String()}
		if outcome.Err != nil {
			data["error"] = outcome.Err.Error()
		}
		s.events.Emit(events.Event{Type: events.JobCompleted, WorkerID: w.ID(), JobID: j.ID(), Data: data})
	})

	if s.metrics != nil {
		s.metrics.JobLaunched()
	}
	s.events.Emit(events.Event{Type: events.JobLaunched, WorkerID: w.ID(), JobID: j.ID()})

	if err := j.Launch(); err != nil {
		return j, err
	}
	return j, nil
}

// CancelAllJobs cancels every registered job, active or not
func (s *Session) CancelAllJobs() {
	for _, j := range s.Jobs() {
		j.Cancel()
	}
}

// CancelActiveJobs cancels jobs that have not finished and returns how many
func (s *Session) CancelActiveJobs() int {
	n := 0
	for _, j := range s.Jobs() {
		if !isFinished(j) {
			j.Cancel()
			n++
		}
	}
	if n > 0 {
		s.logger.Info().Int("cancelled", n).Msg("Cancelled active jobs")
	}
	return n
}

// StopAccepting makes later Launch calls fail with ErrClosed
func (s *Session) StopAccepting() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accepting = false
}

// WaitForAllJobs blocks until every registered job has finished or ctx ends
func (s *Session) WaitForAllJobs(ctx context.Context) error {
	for {
		pending := s.unfinished()
		if len(pending) == 0 {
			return nil
		}
		for _, j := range pending {
			select {
			case <-j.Finished():
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// HasActiveJobs reports whether any job is still running or queued
func (s *Session) HasActiveJobs() bool {
	return len(s.unfinished()) > 0
}

// JobCounts returns the number of active and inactive registered jobs
func (s *Session) JobCounts() (active, inactive int) {
	for _, j := range s.Jobs() {
		if isFinished(j) {
			inactive++
		} else {
			active++
		}
	}
	return active, inactive
}

// Jobs returns the registered jobs in launch order
func (s *Session) Jobs() []*job.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*job.Job(nil), s.jobs...)
}

// Workers returns the registered workers in creation order
func (s *Session) Workers() []*worker.Worker {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*worker.Worker(nil), s.workers...)
}

// Worker looks a worker up by id
func (s *Session) Worker(id string) (*worker.Worker, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.workers {
		if w.ID() == id {
			return w, true
		}
	}
	return nil, false
}

// Close stops accepting work and shuts down the session-owned scheduler,
// cancelling whatever is still running on it.
func (s *Session) Close() {
	s.StopAccepting()
	if s.ownQueue != nil {
		s.ownQueue.Close()
	}
}

func (s *Session) unfinished() []*job.Job {
	var pending []*job.Job
	for _, j := range s.Jobs() {
		if !isFinished(j) {
			pending = append(pending, j)
		}
	}
	return pending
}

// isFinished treats registered but not yet launched jobs as active
func isFinished(j *job.Job) bool {
	select {
	case <-j.Finished():
		return true
	default:
		return false
	}
}
