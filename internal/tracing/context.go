package tracing

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// SessionIDKey is the context key for the owning session
	SessionIDKey ContextKey = "session_id"
	// WorkerIDKey is the context key for worker ID
	WorkerIDKey ContextKey = "worker_id"
	// JobIDKey is the context key for job ID
	JobIDKey ContextKey = "job_id"
)

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// NewSessionID generates a new session ID
func NewSessionID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithSessionID adds a session ID to the context
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, SessionIDKey, sessionID)
}

// WithWorkerID adds a worker ID to the context
func WithWorkerID(ctx context.Context, workerID string) context.Context {
	return context.WithValue(ctx, WorkerIDKey, workerID)
}

// WithJobID adds a job ID to the context
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, JobIDKey, jobID)
}

func getString(ctx context.Context, key ContextKey) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string {
	return getString(ctx, TraceIDKey)
}

// GetSessionID retrieves the session ID from the context
func GetSessionID(ctx context.Context) string {
	return getString(ctx, SessionIDKey)
}

// GetWorkerID retrieves the worker ID from the context
func GetWorkerID(ctx context.Context) string {
	return getString(ctx, WorkerIDKey)
}

// GetJobID retrieves the job ID from the context
func GetJobID(ctx context.Context) string {
	return getString(ctx, JobIDKey)
}

// LoggerFromContext adds the ids carried by ctx to logger
func LoggerFromContext(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	fields := logger.With()
	if v := GetTraceID(ctx); v != "" {
		fields = fields.Str("traceId", v)
	}
	if v := GetSessionID(ctx); v != "" {
		fields = fields.Str("sessionId", v)
	}
	if v := GetWorkerID(ctx); v != "" {
		fields = fields.Str("workerId", v)
	}
	if v := GetJobID(ctx); v != "" {
		fields = fields.Str("jobId", v)
	}
	return fields.Logger()
}
