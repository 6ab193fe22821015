// Package lanes runs work items in per-key FIFO lanes.
//
// Invariants:
// - Items in the same lane run one at a time, in submission order.
// - Items in different lanes run concurrently.
// - Every submitted item either runs or is aborted exactly once.
//
// Usage:
//
//	q := lanes.New(lanes.Config{})
//	defer q.Close()
//	err := q.Submit(workerID, lanes.Item{
//		ID:    jobID,
//		Run:   func(ctx context.Context) { ... },
//		Abort: func(err error) { ... },
//	})
package lanes
