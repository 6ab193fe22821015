package task

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/harun/agentenv/pkg/provider"
	"github.com/harun/agentenv/pkg/worker"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	mu        sync.Mutex
	responses []*provider.Response
	err       error
	block     bool
	requests  []*provider.Request
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Stream(ctx context.Context, req *provider.Request, h provider.StreamHandler) (*provider.Response, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}

	f.mu.Lock()
	resp := f.responses[0]
	if len(f.responses) > 1 {
		f.responses = f.responses[1:]
	}
	f.mu.Unlock()

	if h.OnBegin != nil {
		h.OnBegin()
	}
	if h.OnChunk != nil && resp.Content != "" {
		h.OnChunk(resp.Content)
	}
	return resp, nil
}

type recordingHost struct {
	mu      sync.Mutex
	states  []worker.State
	chunks  []string
	prompts []string
	answer  string
}

func (h *recordingHost) WorkerStateChanged(_ string, s worker.State) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.states = append(h.states, s)
}

func (h *recordingHost) ResponseChunkReceived(_ string, chunk string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.chunks = append(h.chunks, chunk)
}

func (h *recordingHost) RequestConfirmation(ctx context.Context, _ string, prompt string) (string, error) {
	h.mu.Lock()
	h.prompts = append(h.prompts, prompt)
	h.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return h.answer, nil
}

// confirmingHost answers confirmations through onConfirm
type confirmingHost struct {
	worker.NopHost
	onConfirm func() (string, error)
}

func (h *confirmingHost) RequestConfirmation(context.Context, string, string) (string, error) {
	return h.onConfirm()
}

// assertToolRequestsResolved checks that every tool request in msgs is
// answered by a tool result before the next non-tool message
func assertToolRequestsResolved(t *testing.T, msgs []provider.Message) {
	t.Helper()
	for i, msg := range msgs {
		if msg.Role != provider.RoleAssistant || len(msg.ToolRequests) == 0 {
			continue
		}
		answered := map[string]bool{}
		for _, next := range msgs[i+1:] {
			if next.Role != provider.RoleTool {
				break
			}
			answered[next.ToolRequestID] = true
		}
		for _, req := range msg.ToolRequests {
			assert.True(t, answered[req.ID], "tool request %s at message %d has no result", req.ID, i)
		}
	}
}

type echoRunner struct {
	calls []provider.ToolRequest
	err   error
}

func (r *echoRunner) RunTool(_ context.Context, req provider.ToolRequest) (string, error) {
	r.calls = append(r.calls, req)
	if r.err != nil {
		return "", r.err
	}
	return "ran " + req.Name, nil
}

func quietLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

func TestAgentLoop(t *testing.T) {
	t.Run("should complete a plain exchange", func(t *testing.T) {
		p := &fakeProvider{responses: []*provider.Response{{Content: "hello there"}}}
		w := worker.New("alpha", p)
		host := &recordingHost{}

		loop := NewAgentLoop(AgentLoopConfig{Worker: w, Host: host, Message: "hi", Logger: quietLogger()})
		require.NoError(t, loop.Run(context.Background()))

		assert.Equal(t, []worker.State{worker.Working, worker.Requesting, worker.Receiving, worker.Inactive}, host.states)
		assert.Equal(t, []string{"hello there"}, host.chunks)
		assert.Equal(t, worker.Inactive, w.State())

		msgs := w.Messages()
		require.Len(t, msgs, 2)
		assert.Equal(t, provider.RoleUser, msgs[0].Role)
		assert.Equal(t, "hello there", msgs[1].Content)

		state, _ := w.Metadata(MetaAgentLoopCompletion)
		assert.Equal(t, CompletionCompleted, state)
	})

	t.Run("should run approved tools and continue", func(t *testing.T) {
		p := &fakeProvider{responses: []*provider.Response{
			{ToolRequests: []provider.ToolRequest{{ID: "t1", Name: "ls", Parameters: map[string]interface{}{"path": "."}}}},
			{Content: "done"},
		}}
		w := worker.New("alpha", p)
		host := &recordingHost{answer: "yes"}
		runner := &echoRunner{}

		loop := NewAgentLoop(AgentLoopConfig{Worker: w, Host: host, Message: "list", ToolRunner: runner, Logger: quietLogger()})
		require.NoError(t, loop.Run(context.Background()))

		assert.Contains(t, host.states, worker.Waiting)
		assert.Contains(t, host.states, worker.UsingTool)
		require.Len(t, runner.calls, 1)
		assert.Equal(t, "ls", runner.calls[0].Name)
		require.Len(t, host.prompts, 1)
		assert.Contains(t, host.prompts[0], "ls")

		msgs := w.Messages()
		require.Len(t, msgs, 4)
		assert.Equal(t, provider.RoleTool, msgs[2].Role)
		assert.Equal(t, "ran ls", msgs[2].Content)
		assert.Equal(t, "t1", msgs[2].ToolRequestID)
		assert.Len(t, p.requests, 2)
	})

	t.Run("should report declined tools to the model", func(t *testing.T) {
		p := &fakeProvider{responses: []*provider.Response{
			{ToolRequests: []provider.ToolRequest{{ID: "t1", Name: "rm"}}},
			{Content: "ok"},
		}}
		w := worker.New("alpha", p)
		host := &recordingHost{answer: "n"}
		runner := &echoRunner{}

		loop := NewAgentLoop(AgentLoopConfig{Worker: w, Host: host, Message: "clean", ToolRunner: runner, Logger: quietLogger()})
		require.NoError(t, loop.Run(context.Background()))

		assert.Empty(t, runner.calls)
		assert.NotContains(t, host.states, worker.UsingTool)
		assert.Contains(t, w.Messages()[2].Content, "declined")
	})

	t.Run("should record failure when the model request fails", func(t *testing.T) {
		p := &fakeProvider{err: errors.New("overloaded")}
		w := worker.New("alpha", p)
		host := &recordingHost{}

		err := NewAgentLoop(AgentLoopConfig{Worker: w, Host: host, Message: "hi", Logger: quietLogger()}).Run(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "overloaded")

		assert.Equal(t, worker.InactiveFailed, w.State())
		msg, ok := w.LastFailure()
		require.True(t, ok)
		assert.Contains(t, msg, "overloaded")
		state, _ := w.Metadata(MetaAgentLoopCompletion)
		assert.Equal(t, CompletionFailed, state)
	})

	t.Run("should stop before the first request when already cancelled", func(t *testing.T) {
		p := &fakeProvider{responses: []*provider.Response{{Content: "never"}}}
		w := worker.New("alpha", p)
		host := &recordingHost{}

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := NewAgentLoop(AgentLoopConfig{Worker: w, Host: host, Message: "hi", Logger: quietLogger()}).Run(ctx)
		assert.ErrorIs(t, err, ErrCancelled)
		assert.Empty(t, p.requests)
		assert.Equal(t, worker.Inactive, w.State())
		_, failed := w.LastFailure()
		assert.False(t, failed)
	})

	t.Run("should treat a stream aborted by cancellation as cancelled", func(t *testing.T) {
		p := &fakeProvider{block: true}
		w := worker.New("alpha", p)
		host := &recordingHost{}

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() {
			done <- NewAgentLoop(AgentLoopConfig{Worker: w, Host: host, Message: "hi", Logger: quietLogger()}).Run(ctx)
		}()
		cancel()

		err := <-done
		assert.True(t, IsCancellation(err))
		assert.Equal(t, worker.Inactive, w.State())
		_, failed := w.LastFailure()
		assert.False(t, failed)
	})

	t.Run("should close unresolved tool requests when cancelled during confirmation", func(t *testing.T) {
		p := &fakeProvider{responses: []*provider.Response{
			{ToolRequests: []provider.ToolRequest{{ID: "t1", Name: "ls"}, {ID: "t2", Name: "cat"}}},
			{Content: "fresh answer"},
		}}
		w := worker.New("alpha", p)

		ctx, cancel := context.WithCancel(context.Background())
		host := &confirmingHost{onConfirm: func() (string, error) {
			cancel()
			return "", ctx.Err()
		}}

		err := NewAgentLoop(AgentLoopConfig{Worker: w, Host: host, Message: "first", ToolRunner: &echoRunner{}, Logger: quietLogger()}).Run(ctx)
		assert.True(t, IsCancellation(err))
		assert.Equal(t, worker.Inactive, w.State())

		msgs := w.Messages()
		require.Len(t, msgs, 4)
		assert.Equal(t, provider.RoleTool, msgs[2].Role)
		assert.Equal(t, "t1", msgs[2].ToolRequestID)
		assert.Equal(t, "t2", msgs[3].ToolRequestID)
		assert.Contains(t, msgs[2].Content, "cancelled")

		require.NoError(t, NewAgentLoop(AgentLoopConfig{Worker: w, Host: host, Message: "second", Logger: quietLogger()}).Run(context.Background()))
		assertToolRequestsResolved(t, p.requests[len(p.requests)-1].Messages)
	})

	t.Run("should close unresolved tool requests when confirmation fails", func(t *testing.T) {
		p := &fakeProvider{responses: []*provider.Response{
			{ToolRequests: []provider.ToolRequest{{ID: "t1", Name: "ls"}}},
		}}
		w := worker.New("alpha", p)
		host := &confirmingHost{onConfirm: func() (string, error) {
			return "", errors.New("terminal closed")
		}}

		err := NewAgentLoop(AgentLoopConfig{Worker: w, Host: host, Message: "first", Logger: quietLogger()}).Run(context.Background())
		require.Error(t, err)
		assert.Equal(t, worker.InactiveFailed, w.State())

		msgs := w.Messages()
		require.Len(t, msgs, 3)
		assert.Equal(t, "t1", msgs[2].ToolRequestID)
		assert.Contains(t, msgs[2].Content, "terminal closed")
		assertToolRequestsResolved(t, msgs)
	})

	t.Run("should fail after max turns", func(t *testing.T) {
		p := &fakeProvider{responses: []*provider.Response{
			{ToolRequests: []provider.ToolRequest{{ID: "t", Name: "loop"}}},
		}}
		w := worker.New("alpha", p)
		host := &recordingHost{answer: "y"}

		err := NewAgentLoop(AgentLoopConfig{Worker: w, Host: host, Message: "go", ToolRunner: &echoRunner{}, MaxTurns: 2, Logger: quietLogger()}).Run(context.Background())
		assert.ErrorIs(t, err, ErrMaxTurns)
		assert.Equal(t, worker.InactiveFailed, w.State())
		assert.Len(t, p.requests, 2)
	})

	t.Run("should fail without a provider", func(t *testing.T) {
		w := worker.New("alpha", nil)
		err := NewAgentLoop(AgentLoopConfig{Worker: w, Message: "hi", Logger: quietLogger()}).Run(context.Background())
		assert.ErrorIs(t, err, ErrNoProvider)
		assert.Equal(t, worker.InactiveFailed, w.State())
	})
}

func TestCompact(t *testing.T) {
	t.Run("should replace history with the summary", func(t *testing.T) {
		p := &fakeProvider{responses: []*provider.Response{{Content: "short summary"}}}
		w := worker.New("alpha", p)
		w.AppendMessage(provider.Message{Role: provider.RoleUser, Content: "long question"})
		w.AppendMessage(provider.Message{Role: provider.RoleAssistant, Content: "long answer"})

		require.NoError(t, NewCompact(w, nil, "focus on decisions").Run(context.Background()))

		msgs := w.Messages()
		require.Len(t, msgs, 2)
		assert.Contains(t, msgs[0].Content, "short summary")
		require.Len(t, p.requests, 1)
		last := p.requests[0].Messages[len(p.requests[0].Messages)-1]
		assert.Contains(t, last.Content, "focus on decisions")
		assert.Equal(t, worker.Inactive, w.State())
	})

	t.Run("should skip an empty conversation", func(t *testing.T) {
		p := &fakeProvider{}
		w := worker.New("alpha", p)
		require.NoError(t, NewCompact(w, nil, "").Run(context.Background()))
		assert.Empty(t, p.requests)
	})
}

func TestFunc(t *testing.T) {
	t.Run("should settle to inactive on success", func(t *testing.T) {
		w := worker.New("alpha", nil)
		host := &recordingHost{}
		require.NoError(t, NewFunc(w, host, func(context.Context) error { return nil }).Run(context.Background()))
		assert.Equal(t, []worker.State{worker.Working, worker.Inactive}, host.states)
	})

	t.Run("should record failure", func(t *testing.T) {
		w := worker.New("alpha", nil)
		err := NewFunc(w, nil, func(context.Context) error { return errors.New("boom") }).Run(context.Background())
		assert.EqualError(t, err, "boom")
		assert.Equal(t, worker.InactiveFailed, w.State())
		msg, _ := w.LastFailure()
		assert.Equal(t, "boom", msg)
	})
}

func TestCheckpoint(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	assert.NoError(t, Checkpoint(ctx))
	cancel()
	assert.ErrorIs(t, Checkpoint(ctx), ErrCancelled)
	assert.True(t, IsCancellation(context.Canceled))
	assert.False(t, IsCancellation(errors.New("x")))
}
