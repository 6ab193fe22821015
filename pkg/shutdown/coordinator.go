// Package shutdown turns process interrupts into job cancellation, graceful
// shutdown or a hard stop, and runs the graceful shutdown sequence.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/harun/agentenv/pkg/events"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultDoubleInterruptWindow = time.Second
	DefaultTimeout               = 5 * time.Second

	persistTimeout = 2 * time.Second
)

// Action is what an interrupt resolved to
type Action int

const (
	ActionCancelJobs Action = iota
	ActionShutdown
	ActionHardStop
)

func (a Action) String() string {
	switch a {
	case ActionCancelJobs:
		return "cancel_jobs"
	case ActionShutdown:
		return "shutdown"
	case ActionHardStop:
		return "hard_stop"
	default:
		return "unknown"
	}
}

// Controller is the job registry the coordinator drives
type Controller interface {
	StopAccepting()
	CancelAllJobs()
	CancelActiveJobs() int
	WaitForAllJobs(ctx context.Context) error
}

// Persister saves durable state during shutdown
type Persister interface {
	Flush(ctx context.Context) error
}

// Recorder receives interrupt metrics
type Recorder interface {
	Interrupt(action string)
}

// Config configures a Coordinator
type Config struct {
	DoubleInterruptWindow time.Duration
	Timeout               time.Duration
	Logger                *zerolog.Logger
	Metrics               Recorder
	Events                *events.Bus
	// Now overrides the clock used to time-stamp interrupts
	Now func() time.Time
}

// Coordinator owns the shutdown and hard-stop signals. Each fires at most once.
type Coordinator struct {
	logger  zerolog.Logger
	metrics Recorder
	events  *events.Bus
	now     func() time.Time

	mu            sync.Mutex
	window        time.Duration
	timeout       time.Duration
	lastInterrupt time.Time
	awaitingInput bool

	shutdown     chan struct{}
	shutdownOnce sync.Once
	hardStop     chan struct{}
	hardStopOnce sync.Once
}

// New creates a coordinator
func New(cfg Config) *Coordinator {
	if cfg.DoubleInterruptWindow <= 0 {
		cfg.DoubleInterruptWindow = DefaultDoubleInterruptWindow
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &Coordinator{
		window:   cfg.DoubleInterruptWindow,
		timeout:  cfg.Timeout,
		logger:   logger.With().Str("component", "shutdown").Logger(),
		metrics:  cfg.Metrics,
		events:   cfg.Events,
		now:      cfg.Now,
		shutdown: make(chan struct{}),
		hardStop: make(chan struct{}),
	}
}

// Reconfigure replaces the double-interrupt window and the shutdown timeout.
// Non-positive values keep the current setting.
func (c *Coordinator) Reconfigure(window, timeout time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if window > 0 {
		c.window = window
	}
	if timeout > 0 {
		c.timeout = timeout
	}
}

// Timeout returns the current shutdown wait timeout
func (c *Coordinator) Timeout() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timeout
}

// SetAwaitingInput marks whether the caller is blocked reading user input
func (c *Coordinator) SetAwaitingInput(waiting bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.awaitingInput = waiting
}

// HandleInterrupt resolves one external interrupt. A second interrupt within
// the window while shutdown is in flight forces a hard stop; an interrupt at
// the input prompt starts shutdown; anything else only cancels active jobs.
func (c *Coordinator) HandleInterrupt(ctrl Controller) Action {
	now := c.now()

	c.mu.Lock()
	previous := c.lastInterrupt
	c.lastInterrupt = now
	awaiting := c.awaitingInput
	window := c.window
	c.mu.Unlock()

	var action Action
	switch {
	case c.isShuttingDown() && !previous.IsZero() && now.Sub(previous) < window:
		action = ActionHardStop
		c.HardStop()
	case awaiting:
		action = ActionShutdown
		c.RequestShutdown()
	default:
		action = ActionCancelJobs
		n := ctrl.CancelActiveJobs()
		c.logger.Info().Int("cancelled", n).Msg("Interrupt cancelled active jobs")
	}

	if c.metrics != nil {
		c.metrics.Interrupt(action.String())
	}
	c.logger.Debug().Str("action", action.String()).Msg("Interrupt handled")
	return action
}

// RequestShutdown fires the shutdown signal
func (c *Coordinator) RequestShutdown() {
	c.shutdownOnce.Do(func() {
		c.logger.Info().Msg("Shutdown requested")
		close(c.shutdown)
	})
}

// HardStop fires the hard-stop signal
func (c *Coordinator) HardStop() {
	c.hardStopOnce.Do(func() {
		c.logger.Warn().Msg("Hard stop requested")
		close(c.hardStop)
	})
}

// ShutdownRequested is closed once shutdown has been requested
func (c *Coordinator) ShutdownRequested() <-chan struct{} {
	return c.shutdown
}

// HardStopRequested is closed once a hard stop has been requested
func (c *Coordinator) HardStopRequested() <-chan struct{} {
	return c.hardStop
}

func (c *Coordinator) isShuttingDown() bool {
	select {
	case <-c.shutdown:
		return true
	default:
		return false
	}
}

func (c *Coordinator) isHardStopped() bool {
	select {
	case <-c.hardStop:
		return true
	default:
		return false
	}
}

// Listen routes SIGINT through HandleInterrupt and SIGTERM to
// RequestShutdown until ctx ends
func (c *Coordinator) Listen(ctx context.Context, ctrl Controller) {
	sigChan := make(chan os.Signal, 4)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigChan:
			c.logger.Info().Str("signal", sig.String()).Msg("Received signal")
			if sig == syscall.SIGTERM {
				c.RequestShutdown()
				continue
			}
			c.HandleInterrupt(ctrl)
		}
	}
}
