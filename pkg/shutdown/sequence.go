package shutdown

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/harun/agentenv/pkg/events"
)

// Result describes how the graceful sequence ended
type Result struct {
	TimedOut    bool
	HardStopped bool
	Duration    time.Duration
	PersistErr  error
}

// Forced reports whether jobs were abandoned before they all finished
func (r Result) Forced() bool {
	return r.TimedOut || r.HardStopped
}

// ExitCode is 0 for a clean shutdown and 1 when jobs were abandoned
func (r Result) ExitCode() int {
	if r.Forced() {
		return 1
	}
	return 0
}

// Run performs the graceful sequence: stop accepting work, cancel every job,
// wait for them to go inactive racing the timeout and the hard-stop signal,
// then persist state. Persistence errors are logged, never returned.
func (c *Coordinator) Run(ctx context.Context, ctrl Controller, persister Persister) Result {
	c.RequestShutdown()
	started := c.now()
	timeout := c.Timeout()

	c.logger.Info().Dur("timeout", timeout).Msg("Graceful shutdown started")
	c.events.Emit(events.Event{Type: events.ShutdownInitiated})

	ctrl.StopAccepting()
	ctrl.CancelAllJobs()

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	go func() {
		select {
		case <-c.hardStop:
			cancel()
		case <-waitCtx.Done():
		}
	}()
	err := ctrl.WaitForAllJobs(waitCtx)
	cancel()

	var result Result
	if err != nil {
		if c.isHardStopped() {
			result.HardStopped = true
			c.logger.Warn().Msg("Hard stop, abandoning running jobs")
		} else if errors.Is(err, context.DeadlineExceeded) {
			result.TimedOut = true
			c.logger.Warn().Dur("timeout", timeout).Msg("Timed out waiting for jobs")
		} else {
			c.logger.Warn().Err(err).Msg("Stopped waiting for jobs")
			result.TimedOut = true
		}
	}

	if persister != nil {
		persistCtx, cancelPersist := context.WithTimeout(context.Background(), persistTimeout)
		if err := persister.Flush(persistCtx); err != nil {
			result.PersistErr = err
			c.logger.Error().Err(err).Msg("Failed to persist state")
		}
		cancelPersist()
	}

	result.Duration = c.now().Sub(started)
	c.logger.Info().
		Bool("timedOut", result.TimedOut).
		Bool("hardStopped", result.HardStopped).
		Dur("duration", result.Duration).
		Msg("Graceful shutdown finished")
	c.events.Emit(events.Event{
		Type: events.ShutdownCompleted,
		Data: map[string]string{"forced": strconv.FormatBool(result.Forced())},
	})

	return result
}
