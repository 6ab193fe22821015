package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/harun/agentenv/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func decodeLines(t *testing.T, data string) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(data), "\n") {
		if line == "" {
			continue
		}
		var rec map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		out = append(out, rec)
	}
	return out
}

func TestRecord(t *testing.T) {
	t.Run("should write one JSON line per event", func(t *testing.T) {
		var buf bytes.Buffer
		a := New(&buf)

		a.Record(context.Background(), Event{Type: "lifecycle", Action: "job.launched", Actor: "w1"})
		a.RecordTool(context.Background(), "read_file", "w1", StatusFailure, map[string]interface{}{"error": "boom"})

		recs := decodeLines(t, buf.String())
		require.Len(t, recs, 2)
		assert.Equal(t, "job.launched", recs[0]["action"])
		assert.Equal(t, "w1", recs[0]["actor"])
		assert.NotEmpty(t, recs[0]["timestamp"])
		assert.NotContains(t, recs[0], "status")

		assert.Equal(t, "tool", recs[1]["type"])
		assert.Equal(t, "execute:read_file", recs[1]["action"])
		assert.Equal(t, StatusFailure, recs[1]["status"])
		assert.Equal(t, map[string]interface{}{"error": "boom"}, recs[1]["metadata"])
	})

	t.Run("should attach the trace id of a recording span", func(t *testing.T) {
		tp := sdktrace.NewTracerProvider()
		defer tp.Shutdown(context.Background())
		ctx, span := tp.Tracer("audit-test").Start(context.Background(), "job")
		defer span.End()

		var buf bytes.Buffer
		New(&buf).Record(ctx, Event{Type: "tool", Action: "execute:current_time"})

		recs := decodeLines(t, buf.String())
		require.Len(t, recs, 1)
		assert.Equal(t, span.SpanContext().TraceID().String(), recs[0]["trace_id"])
	})
}

func TestOpen(t *testing.T) {
	t.Run("should append to the file across opens", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "audit.log")

		for i := 0; i < 2; i++ {
			a, err := Open(path)
			require.NoError(t, err)
			a.Record(context.Background(), Event{Type: "lifecycle", Action: "shutdown.initiated"})
			require.NoError(t, a.Close())
		}

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Len(t, decodeLines(t, string(data)), 2)
	})
}

func TestConsume(t *testing.T) {
	t.Run("should translate bus events until the channel closes", func(t *testing.T) {
		ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		ch := make(chan events.Event, 4)
		ch <- events.Event{Type: events.JobCompleted, WorkerID: "w1", JobID: "j1", Data: map[string]string{"outcome": "normal"}, Timestamp: ts}
		ch <- events.Event{Type: events.JobCompleted, WorkerID: "w1", JobID: "j2", Data: map[string]string{"outcome": "cancelled"}, Timestamp: ts}
		ch <- events.Event{Type: events.JobCompleted, WorkerID: "w2", JobID: "j3", Data: map[string]string{"outcome": "failed", "error": "x"}, Timestamp: ts}
		ch <- events.Event{Type: events.ShutdownCompleted, Data: map[string]string{"forced": "true"}, Timestamp: ts}
		close(ch)

		var buf bytes.Buffer
		New(&buf).Consume(context.Background(), ch)

		recs := decodeLines(t, buf.String())
		require.Len(t, recs, 4)

		assert.Equal(t, "job.completed", recs[0]["action"])
		assert.Equal(t, StatusSuccess, recs[0]["status"])
		assert.Equal(t, "j1", recs[0]["metadata"].(map[string]interface{})["job_id"])

		assert.Equal(t, StatusCancelled, recs[1]["status"])
		assert.Equal(t, StatusFailure, recs[2]["status"])
		assert.Equal(t, "w2", recs[2]["actor"])

		assert.Equal(t, "shutdown.completed", recs[3]["action"])
		assert.Equal(t, StatusFailure, recs[3]["status"])
	})
}
