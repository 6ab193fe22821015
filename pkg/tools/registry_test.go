package tools

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/harun/agentenv/internal/tracing"
	"github.com/harun/agentenv/pkg/provider"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRegistry(opts ...Option) *Registry {
	return NewRegistry(append([]Option{WithLogger(zerolog.Nop())}, opts...)...)
}

func echoTool() Definition {
	return Definition{
		Name:        "echo",
		Description: "Echo the text back",
		Parameters: []Parameter{
			{Name: "text", Type: "string", Description: "Text to echo", Required: true},
			{Name: "times", Type: "integer", Description: "Repeat count"},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return params["text"], nil
		},
	}
}

func TestRegister(t *testing.T) {
	t.Run("should reject invalid definitions", func(t *testing.T) {
		r := newRegistry()

		assert.Error(t, r.Register(Definition{Handler: echoTool().Handler}))
		assert.Error(t, r.Register(Definition{Name: "nohandler"}))

		bad := echoTool()
		bad.Parameters = []Parameter{{Name: "x", Type: "decimal"}}
		assert.Error(t, r.Register(bad))
	})

	t.Run("should reject duplicate names", func(t *testing.T) {
		r := newRegistry()
		require.NoError(t, r.Register(echoTool()))
		assert.Error(t, r.Register(echoTool()))
	})

	t.Run("should expose definitions with their schema", func(t *testing.T) {
		r := newRegistry()
		require.NoError(t, r.Register(echoTool()))

		defs := r.Definitions()
		require.Len(t, defs, 1)
		assert.Equal(t, "echo", defs[0].Name)
		assert.Equal(t, "object", defs[0].InputSchema["type"])
		assert.Equal(t, []interface{}{"text"}, defs[0].InputSchema["required"])
	})
}

func TestRunTool(t *testing.T) {
	ctx := context.Background()

	t.Run("should run a valid request", func(t *testing.T) {
		r := newRegistry()
		require.NoError(t, r.Register(echoTool()))

		out, err := r.RunTool(ctx, provider.ToolRequest{Name: "echo", Parameters: map[string]interface{}{"text": "hi"}})
		require.NoError(t, err)
		assert.Equal(t, "hi", out)
	})

	t.Run("should reject unknown tools", func(t *testing.T) {
		r := newRegistry()
		_, err := r.RunTool(ctx, provider.ToolRequest{Name: "missing"})
		assert.ErrorIs(t, err, ErrUnknownTool)
	})

	t.Run("should validate parameters", func(t *testing.T) {
		r := newRegistry()
		require.NoError(t, r.Register(echoTool()))

		_, err := r.RunTool(ctx, provider.ToolRequest{Name: "echo", Parameters: map[string]interface{}{}})
		assert.Error(t, err)

		_, err = r.RunTool(ctx, provider.ToolRequest{Name: "echo", Parameters: map[string]interface{}{"text": "a", "extra": 1}})
		assert.Error(t, err)

		_, err = r.RunTool(ctx, provider.ToolRequest{Name: "echo", Parameters: map[string]interface{}{"text": 5}})
		assert.Error(t, err)
	})

	t.Run("should encode structured output as json", func(t *testing.T) {
		r := newRegistry()
		require.NoError(t, r.Register(Definition{
			Name: "stats",
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				return map[string]int{"count": 2}, nil
			},
		}))

		out, err := r.RunTool(ctx, provider.ToolRequest{Name: "stats"})
		require.NoError(t, err)
		assert.JSONEq(t, `{"count":2}`, out)
	})

	t.Run("should truncate large output", func(t *testing.T) {
		r := newRegistry()
		require.NoError(t, r.Register(Definition{
			Name: "big",
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				return strings.Repeat("x", maxOutputSize*2), nil
			},
		}))

		out, err := r.RunTool(ctx, provider.ToolRequest{Name: "big"})
		require.NoError(t, err)
		assert.True(t, strings.HasSuffix(out, "[output truncated]"))
	})

	t.Run("should bound execution with the timeout", func(t *testing.T) {
		r := newRegistry(WithTimeout(20 * time.Millisecond))
		require.NoError(t, r.Register(Definition{
			Name: "slow",
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			},
		}))

		_, err := r.RunTool(ctx, provider.ToolRequest{Name: "slow"})
		assert.True(t, errors.Is(err, context.DeadlineExceeded))
	})

	t.Run("should audit executions with the calling worker", func(t *testing.T) {
		auditor := &recordingAuditor{}
		r := newRegistry(WithAuditor(auditor))
		require.NoError(t, r.Register(echoTool()))
		require.NoError(t, r.Register(Definition{
			Name: "broken",
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				return nil, errors.New("boom")
			},
		}))

		workerCtx := tracing.WithWorkerID(ctx, "w1")
		_, err := r.RunTool(workerCtx, provider.ToolRequest{Name: "echo", Parameters: map[string]interface{}{"text": "hi"}})
		require.NoError(t, err)
		_, err = r.RunTool(workerCtx, provider.ToolRequest{Name: "broken"})
		require.Error(t, err)
		_, err = r.RunTool(workerCtx, provider.ToolRequest{Name: "missing"})
		require.Error(t, err)

		require.Len(t, auditor.records, 2)
		assert.Equal(t, "echo w1 success", auditor.records[0])
		assert.Equal(t, "broken w1 failure", auditor.records[1])
	})
}

type recordingAuditor struct {
	records []string
}

func (a *recordingAuditor) RecordTool(ctx context.Context, tool, actor, status string, metadata map[string]interface{}) {
	a.records = append(a.records, tool+" "+actor+" "+status)
}

func TestBuiltins(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("remember"), 0644))
	require.NoError(t, os.Mkdir(filepath.Join(root, "sub"), 0755))

	r := newRegistry()
	require.NoError(t, RegisterBuiltins(r, root))

	t.Run("should register every builtin", func(t *testing.T) {
		names := []string{}
		for _, d := range r.Definitions() {
			names = append(names, d.Name)
		}
		assert.Equal(t, []string{"current_time", "list_directory", "read_file"}, names)
	})

	t.Run("should read files inside the workspace", func(t *testing.T) {
		out, err := r.RunTool(ctx, provider.ToolRequest{Name: "read_file", Parameters: map[string]interface{}{"path": "notes.txt"}})
		require.NoError(t, err)
		assert.Equal(t, "remember", out)
	})

	t.Run("should refuse paths outside the workspace", func(t *testing.T) {
		_, err := r.RunTool(ctx, provider.ToolRequest{Name: "read_file", Parameters: map[string]interface{}{"path": "../etc/passwd"}})
		assert.Error(t, err)

		_, err = r.RunTool(ctx, provider.ToolRequest{Name: "read_file", Parameters: map[string]interface{}{"path": "/etc/passwd"}})
		assert.Error(t, err)
	})

	t.Run("should list directories", func(t *testing.T) {
		out, err := r.RunTool(ctx, provider.ToolRequest{Name: "list_directory"})
		require.NoError(t, err)
		assert.Equal(t, "notes.txt\nsub/", out)
	})

	t.Run("should report the time", func(t *testing.T) {
		out, err := r.RunTool(ctx, provider.ToolRequest{Name: "current_time"})
		require.NoError(t, err)
		_, err = time.Parse(time.RFC3339, out)
		assert.NoError(t, err)
	})
}
