// Package audit appends a JSON-lines trail of job, worker, shutdown and tool
// activity to a file next to the session data.
package audit

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/harun/agentenv/pkg/events"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Status values
const (
	StatusSuccess   = "success"
	StatusFailure   = "failure"
	StatusCancelled = "cancelled"
)

// Event is one audit record
type Event struct {
	Type      string                 `json:"event_type"`
	Timestamp time.Time              `json:"timestamp"`
	Actor     string                 `json:"actor,omitempty"` // worker ID
	Action    string                 `json:"action"`          // e.g. "job.completed", "execute:read_file"
	Status    string                 `json:"status,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	TraceID   string                 `json:"trace_id,omitempty"`
}

// Logger records audit events
type Logger struct {
	logger zerolog.Logger
	mu     sync.Mutex
	file   *os.File
}

// New writes audit records to w
func New(w io.Writer) *Logger {
	return &Logger{logger: zerolog.New(w)}
}

// Open appends audit records to the file at path
func Open(path string) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}

	return &Logger{
		logger: zerolog.New(file),
		file:   file,
	}, nil
}

// Record writes one event. When ctx carries a recording span the event is
// also added to it.
func (a *Logger) Record(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		event.TraceID = span.SpanContext().TraceID().String()
		span.AddEvent(event.Action, trace.WithAttributes(
			attribute.String("audit.type", event.Type),
			attribute.String("audit.status", event.Status),
			attribute.String("audit.actor", event.Actor),
		))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	entry := a.logger.Log().
		Time("timestamp", event.Timestamp).
		Str("type", event.Type).
		Str("action", event.Action)
	if event.Actor != "" {
		entry.Str("actor", event.Actor)
	}
	if event.Status != "" {
		entry.Str("status", event.Status)
	}
	if event.TraceID != "" {
		entry.Str("trace_id", event.TraceID)
	}
	if event.Metadata != nil {
		entry.Interface("metadata", event.Metadata)
	}
	entry.Send()
}

// RecordTool records one tool execution
func (a *Logger) RecordTool(ctx context.Context, tool, actor, status string, metadata map[string]interface{}) {
	a.Record(ctx, Event{
		Type:     "tool",
		Actor:    actor,
		Action:   "execute:" + tool,
		Status:   status,
		Metadata: metadata,
	})
}

// Consume records every bus event until ch closes
func (a *Logger) Consume(ctx context.Context, ch <-chan events.Event) {
	for ev := range ch {
		a.Record(ctx, fromBus(ev))
	}
}

func fromBus(ev events.Event) Event {
	out := Event{
		Type:      "lifecycle",
		Timestamp: ev.Timestamp,
		Actor:     ev.WorkerID,
		Action:    string(ev.Type),
	}

	if len(ev.Data) > 0 || ev.JobID != "" {
		out.Metadata = make(map[string]interface{}, len(ev.Data)+1)
		for k, v := range ev.Data {
			out.Metadata[k] = v
		}
		if ev.JobID != "" {
			out.Metadata["job_id"] = ev.JobID
		}
	}

	switch {
	case ev.Data["outcome"] == "failed", ev.Data["forced"] == "true":
		out.Status = StatusFailure
	case ev.Data["outcome"] == "cancelled":
		out.Status = StatusCancelled
	case ev.Data["outcome"] != "", ev.Data["forced"] != "":
		out.Status = StatusSuccess
	}
	return out
}

// Close closes the audit file, if any
func (a *Logger) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file != nil {
		return a.file.Close()
	}
	return nil
}
