package lanes

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/harun/agentenv/internal/tracing"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/panics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var (
	// ErrClosed is returned by Submit after Close and passed to aborted items
	ErrClosed = errors.New("lane queue closed")
	// ErrLaneCleared is passed to items removed by ClearLane
	ErrLaneCleared = errors.New("lane cleared")
)

// Item is one unit of work. Exactly one of Run or Abort is called.
type Item struct {
	ID  string
	Run func(ctx context.Context)
	// Abort receives ErrClosed, ErrLaneCleared or a *PanicError
	Abort func(err error)
}

// PanicError wraps a panic raised by an item's Run
type PanicError struct {
	ItemID string
	Value  error
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("item %s panicked: %v", e.ItemID, e.Value)
}

func (e *PanicError) Unwrap() error {
	return e.Value
}

// Config configures a Queue
type Config struct {
	// WarnAfter logs a warning when an item waits longer than this; 0 disables
	WarnAfter time.Duration
	Logger    *zerolog.Logger
}

// LaneStats is a snapshot of one lane
type LaneStats struct {
	Queued  int
	Running bool
}

type record struct {
	item       Item
	enqueuedAt time.Time
}

type laneState struct {
	mu       sync.Mutex
	queue    []*record
	running  bool
	activeID string
}

// Queue serializes items per lane
type Queue struct {
	lanes     map[string]*laneState
	mu        sync.RWMutex
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	closed    bool
	warnAfter time.Duration
	logger    zerolog.Logger
}

// New creates a queue
func New(cfg Config) *Queue {
	ctx, cancel := context.WithCancel(context.Background())

	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &Queue{
		lanes:     make(map[string]*laneState),
		ctx:       ctx,
		cancel:    cancel,
		warnAfter: cfg.WarnAfter,
		logger:    logger,
	}
}

// Submit appends an item to the lane and returns without waiting for it
func (q *Queue) Submit(lane string, item Item) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	ls, ok := q.lanes[lane]
	if !ok {
		ls = &laneState{}
		q.lanes[lane] = ls
	}

	rec := &record{item: item, enqueuedAt: time.Now()}

	ls.mu.Lock()
	ls.queue = append(ls.queue, rec)
	queueSize := len(ls.queue)
	ls.mu.Unlock()

	q.logger.Debug().
		Str("lane", lane).
		Str("itemId", item.ID).
		Int("queueSize", queueSize).
		Msg("Item enqueued")

	if q.warnAfter > 0 {
		go q.startWarnTimer(lane, ls, rec)
	}

	q.processLane(lane, ls)
	return nil
}

// processLane starts the head item when the lane is idle
func (q *Queue) processLane(lane string, ls *laneState) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	if ls.running || len(ls.queue) == 0 {
		return
	}

	rec := ls.queue[0]
	ls.queue = ls.queue[1:]
	ls.running = true
	ls.activeID = rec.item.ID

	q.wg.Add(1)
	go q.execute(lane, ls, rec)
}

func (q *Queue) execute(lane string, ls *laneState, rec *record) {
	defer q.wg.Done()

	ctx, span := tracing.StartSpan(
		q.ctx,
		"agentenv.lanes",
		"lanes.execute",
		attribute.String("lane", lane),
		attribute.String("item_id", rec.item.ID),
	)
	defer span.End()

	startTime := time.Now()

	var catcher panics.Catcher
	catcher.Try(func() { rec.item.Run(ctx) })

	duration := time.Since(startTime)

	if r := catcher.Recovered(); r != nil {
		err := &PanicError{ItemID: rec.item.ID, Value: r.AsError()}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		q.logger.Error().
			Str("lane", lane).
			Str("itemId", rec.item.ID).
			Dur("duration", duration).
			Err(err).
			Msg("Item panicked")
		abort(rec.item, err)
	} else {
		q.logger.Debug().
			Str("lane", lane).
			Str("itemId", rec.item.ID).
			Dur("duration", duration).
			Msg("Item completed")
	}

	ls.mu.Lock()
	ls.running = false
	ls.activeID = ""
	ls.mu.Unlock()

	q.processLane(lane, ls)
}

func (q *Queue) startWarnTimer(lane string, ls *laneState, rec *record) {
	timer := time.NewTimer(q.warnAfter)
	defer timer.Stop()

	select {
	case <-timer.C:
		ls.mu.Lock()
		queuePos := -1
		for i, r := range ls.queue {
			if r == rec {
				queuePos = i
				break
			}
		}
		ls.mu.Unlock()

		if queuePos >= 0 {
			q.logger.Warn().
				Str("lane", lane).
				Str("itemId", rec.item.ID).
				Int64("waitMs", time.Since(rec.enqueuedAt).Milliseconds()).
				Int("queuePos", queuePos).
				Msg("Item waiting longer than expected")
		}
	case <-q.ctx.Done():
	}
}

// ClearLane aborts every queued item in the lane with ErrLaneCleared. The
// running item, if any, is left alone.
func (q *Queue) ClearLane(lane string) int {
	q.mu.RLock()
	ls, ok := q.lanes[lane]
	q.mu.RUnlock()
	if !ok {
		return 0
	}

	ls.mu.Lock()
	cleared := ls.queue
	ls.queue = nil
	ls.mu.Unlock()

	for _, rec := range cleared {
		abort(rec.item, ErrLaneCleared)
	}

	if len(cleared) > 0 {
		q.logger.Info().Str("lane", lane).Int("cleared", len(cleared)).Msg("Lane cleared")
	}
	return len(cleared)
}

// Stats returns a snapshot of every lane
func (q *Queue) Stats() map[string]LaneStats {
	q.mu.RLock()
	defer q.mu.RUnlock()

	stats := make(map[string]LaneStats, len(q.lanes))
	for lane, ls := range q.lanes {
		ls.mu.Lock()
		stats[lane] = LaneStats{Queued: len(ls.queue), Running: ls.running}
		ls.mu.Unlock()
	}
	return stats
}

// Close aborts queued items with ErrClosed, cancels the context passed to
// running items and waits for them to return.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	lanes := make([]*laneState, 0, len(q.lanes))
	for _, ls := range q.lanes {
		lanes = append(lanes, ls)
	}
	q.mu.Unlock()

	for _, ls := range lanes {
		ls.mu.Lock()
		pending := ls.queue
		ls.queue = nil
		ls.mu.Unlock()
		for _, rec := range pending {
			abort(rec.item, ErrClosed)
		}
	}

	q.cancel()
	q.wg.Wait()
	q.logger.Debug().Msg("Lane queue closed")
}

func abort(item Item, err error) {
	if item.Abort != nil {
		item.Abort(err)
	}
}
