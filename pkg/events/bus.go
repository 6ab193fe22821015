// Package events publishes orchestration events over an in-process
// watermill pub/sub so UIs and monitors can follow workers and jobs.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Type identifies an event
type Type string

const (
	WorkerCreated      Type = "worker.created"
	WorkerStateChanged Type = "worker.state_changed"
	JobLaunched        Type = "job.launched"
	JobCompleted       Type = "job.completed"
	JobEvicted         Type = "job.evicted"
	ShutdownInitiated  Type = "shutdown.initiated"
	ShutdownCompleted  Type = "shutdown.completed"
)

const topic = "agentenv.events"

// ErrClosed is returned when publishing or subscribing on a closed bus
var ErrClosed = errors.New("event bus closed")

// Event is one published event
type Event struct {
	Type      Type              `json:"type"`
	WorkerID  string            `json:"worker_id,omitempty"`
	JobID     string            `json:"job_id,omitempty"`
	Data      map[string]string `json:"data,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Bus fans events out to every subscriber
type Bus struct {
	pubsub *gochannel.GoChannel
	buffer int64
	logger zerolog.Logger

	mu     sync.RWMutex
	closed bool
}

// Config configures a Bus
type Config struct {
	// Buffer is the per-subscriber channel capacity
	Buffer int64
	Logger *zerolog.Logger
}

// DefaultBuffer matches the capacity used by interactive sessions
const DefaultBuffer = 1000

// NewBus creates an event bus
func NewBus(cfg Config) *Bus {
	if cfg.Buffer <= 0 {
		cfg.Buffer = DefaultBuffer
	}
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{
				OutputChannelBuffer:            cfg.Buffer,
				Persistent:                     false,
				BlockPublishUntilSubscriberAck: true,
			},
			watermill.NopLogger{},
		),
		buffer: cfg.Buffer,
		logger: logger,
	}
}

// Publish sends an event to current subscribers. Events published with no
// subscriber are dropped.
func (b *Bus) Publish(ev Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	if err := b.pubsub.Publish(topic, message.NewMessage(watermill.NewUUID(), payload)); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Emit publishes and logs failures instead of returning them
func (b *Bus) Emit(ev Event) {
	if b == nil {
		return
	}
	if err := b.Publish(ev); err != nil && !errors.Is(err, ErrClosed) {
		b.logger.Warn().Err(err).Str("type", string(ev.Type)).Msg("Failed to publish event")
	}
}

// Subscribe returns a channel receiving every event published from now on,
// in publish order. The channel closes when ctx ends or the bus closes. A
// subscriber that stops reading eventually blocks publishers once its buffer
// is full.
func (b *Bus) Subscribe(ctx context.Context) (<-chan Event, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ErrClosed
	}

	messages, err := b.pubsub.Subscribe(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	out := make(chan Event, b.buffer)
	go func() {
		defer close(out)
		for msg := range messages {
			var ev Event
			err := json.Unmarshal(msg.Payload, &ev)
			msg.Ack()
			if err != nil {
				b.logger.Warn().Err(err).Str("messageId", msg.UUID).Msg("Dropping malformed event")
				continue
			}

			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close shuts the bus down and closes every subscription
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.pubsub.Close()
}
