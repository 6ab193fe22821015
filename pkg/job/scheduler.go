package job

import (
	"context"

	"github.com/harun/agentenv/pkg/lanes"
	"github.com/sourcegraph/conc/panics"
)

// Scheduler runs job work items. *lanes.Queue is the production scheduler; it
// keys lanes by worker id so one worker never runs two tasks at once.
type Scheduler interface {
	Submit(lane string, item lanes.Item) error
}

// goScheduler starts every item in its own goroutine with no lane ordering
type goScheduler struct{}

func (goScheduler) Submit(_ string, item lanes.Item) error {
	go func() {
		var catcher panics.Catcher
		catcher.Try(func() { item.Run(context.Background()) })
		if r := catcher.Recovered(); r != nil && item.Abort != nil {
			item.Abort(&lanes.PanicError{ItemID: item.ID, Value: r.AsError()})
		}
	}()
	return nil
}
