package continuation

import (
	"errors"
	"fmt"
)

// Kind classifies how a job ended
type Kind int

const (
	// Normal means the task finished without error
	Normal Kind = iota
	// Cancelled means the cancellation signal was observed
	Cancelled
	// Failed means the task returned an error
	Failed
)

func (k Kind) String() string {
	switch k {
	case Normal:
		return "normal"
	case Cancelled:
		return "cancelled"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome is the terminal result of a job
type Outcome struct {
	Kind Kind
	Err  error
}

// NormalOutcome reports success
func NormalOutcome() Outcome {
	return Outcome{Kind: Normal}
}

// CancelledOutcome reports that the job was cancelled
func CancelledOutcome() Outcome {
	return Outcome{Kind: Cancelled}
}

// FailedOutcome reports a task failure with its cause
func FailedOutcome(err error) Outcome {
	return Outcome{Kind: Failed, Err: err}
}

func (o Outcome) String() string {
	if o.Kind == Failed && o.Err != nil {
		return fmt.Sprintf("failed: %v", o.Err)
	}
	return o.Kind.String()
}

// ErrStopped matches every StoppedError
var ErrStopped = errors.New("continuations already completed")

// StoppedError is returned when registering on completed continuations. It
// carries the latched outcome so the caller can act on it directly.
type StoppedError struct {
	Outcome Outcome
}

func (e *StoppedError) Error() string {
	return fmt.Sprintf("%s (%s)", ErrStopped.Error(), e.Outcome)
}

// Is lets errors.Is(err, ErrStopped) match
func (e *StoppedError) Is(target error) bool {
	return target == ErrStopped
}
