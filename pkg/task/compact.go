package task

import (
	"context"
	"fmt"

	"github.com/harun/agentenv/pkg/provider"
	"github.com/harun/agentenv/pkg/worker"
)

// MetaCompactCompletion holds the completion state of the last compaction
const MetaCompactCompletion = "compact.completion_state"

const compactPrompt = "Summarize the conversation so far so it can replace the full history. " +
	"Keep decisions, open questions and any facts needed to continue the work."

// Compact replaces a worker's conversation with a model-written summary
type Compact struct {
	worker      *worker.Worker
	host        worker.Host
	instruction string
}

// NewCompact creates a compaction task. instruction is appended to the
// summary request when set.
func NewCompact(w *worker.Worker, host worker.Host, instruction string) *Compact {
	return &Compact{worker: w, host: hostOrNop(host), instruction: instruction}
}

// Worker returns the owning worker
func (c *Compact) Worker() *worker.Worker {
	return c.worker
}

// Run performs the compaction
func (c *Compact) Run(ctx context.Context) (err error) {
	defer func() { settle(ctx, c.worker, c.host, MetaCompactCompletion, err) }()

	if err := Checkpoint(ctx); err != nil {
		return err
	}

	history := c.worker.Messages()
	if len(history) == 0 {
		return nil
	}
	if c.worker.Provider() == nil {
		return ErrNoProvider
	}

	prompt := compactPrompt
	if c.instruction != "" {
		prompt += "\n\n" + c.instruction
	}

	c.worker.ClearFailure()
	c.worker.SetState(worker.Working, c.host)
	c.worker.SetState(worker.Requesting, c.host)

	req := &provider.Request{
		Messages: append(history, provider.Message{Role: provider.RoleUser, Content: prompt}),
	}
	resp, err := c.worker.Provider().Stream(ctx, req, provider.StreamHandler{
		OnBegin: func() { c.worker.SetState(worker.Receiving, c.host) },
		OnChunk: func(chunk string) { c.host.ResponseChunkReceived(c.worker.ID(), chunk) },
	})
	if err != nil {
		if ctx.Err() != nil {
			return ErrCancelled
		}
		return fmt.Errorf("compaction request failed: %w", err)
	}

	if err := Checkpoint(ctx); err != nil {
		return err
	}
	c.worker.ReplaceMessages([]provider.Message{
		{Role: provider.RoleUser, Content: "Summary of the earlier conversation:\n" + resp.Content},
		{Role: provider.RoleAssistant, Content: "Understood."},
	})
	return nil
}
