package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/harun/agentenv/pkg/provider"
	"github.com/harun/agentenv/pkg/worker"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Metadata keys written by the agent loop
const (
	MetaAgentLoopCompletion = "agent_loop.completion_state"
	MetaAgentLoopTurns      = "agent_loop.turns"
)

// DefaultMaxTurns bounds model round-trips per agent loop
const DefaultMaxTurns = 25

// ErrMaxTurns is returned when the model keeps requesting tools past the limit
var ErrMaxTurns = errors.New("agent loop exceeded maximum turns")

// ErrNoProvider is returned when the worker has no model handle
var ErrNoProvider = errors.New("worker has no model provider")

// ToolRunner executes tool requests on behalf of the agent loop
type ToolRunner interface {
	RunTool(ctx context.Context, req provider.ToolRequest) (string, error)
}

// AgentLoopConfig configures an AgentLoop
type AgentLoopConfig struct {
	Worker       *worker.Worker
	Host         worker.Host
	Message      string // staged user message, empty to continue the conversation
	SystemPrompt string
	Tools        []provider.Tool
	ToolRunner   ToolRunner
	MaxTurns     int
	Logger       *zerolog.Logger
}

// AgentLoop drives the model / tool conversation for one worker until the
// model stops requesting tools.
type AgentLoop struct {
	worker       *worker.Worker
	host         worker.Host
	message      string
	systemPrompt string
	tools        []provider.Tool
	runner       ToolRunner
	maxTurns     int
	logger       zerolog.Logger
}

// NewAgentLoop creates an agent loop task
func NewAgentLoop(cfg AgentLoopConfig) *AgentLoop {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultMaxTurns
	}
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &AgentLoop{
		worker:       cfg.Worker,
		host:         hostOrNop(cfg.Host),
		message:      cfg.Message,
		systemPrompt: cfg.SystemPrompt,
		tools:        cfg.Tools,
		runner:       cfg.ToolRunner,
		maxTurns:     cfg.MaxTurns,
		logger:       logger.With().Str("workerId", cfg.Worker.ID()).Str("worker", cfg.Worker.Name()).Logger(),
	}
}

// Worker returns the owning worker
func (a *AgentLoop) Worker() *worker.Worker {
	return a.worker
}

// Run executes the loop
func (a *AgentLoop) Run(ctx context.Context) (err error) {
	defer func() { settle(ctx, a.worker, a.host, MetaAgentLoopCompletion, err) }()

	if err := Checkpoint(ctx); err != nil {
		return err
	}
	if a.worker.Provider() == nil {
		return ErrNoProvider
	}

	if a.message != "" {
		a.worker.AppendMessage(provider.Message{Role: provider.RoleUser, Content: a.message})
	}

	for turn := 1; turn <= a.maxTurns; turn++ {
		a.worker.SetMetadata(MetaAgentLoopTurns, strconv.Itoa(turn))

		resp, err := a.roundTrip(ctx)
		if err != nil {
			return err
		}

		a.worker.AppendMessage(provider.Message{
			Role:         provider.RoleAssistant,
			Content:      resp.Content,
			ToolRequests: resp.ToolRequests,
		})

		if len(resp.ToolRequests) == 0 {
			a.logger.Debug().Int("turn", turn).Msg("Agent loop finished")
			return nil
		}

		for i, req := range resp.ToolRequests {
			result, err := a.useTool(ctx, req)
			if err != nil {
				a.abandonToolRequests(resp.ToolRequests[i:], err)
				return err
			}
			a.worker.AppendMessage(provider.Message{
				Role:          provider.RoleTool,
				Content:       result,
				ToolRequestID: req.ID,
			})
		}
	}

	return ErrMaxTurns
}

func (a *AgentLoop) roundTrip(ctx context.Context) (*provider.Response, error) {
	if err := Checkpoint(ctx); err != nil {
		return nil, err
	}

	a.worker.ClearFailure()
	a.worker.SetState(worker.Working, a.host)
	a.worker.SetState(worker.Requesting, a.host)

	req := &provider.Request{
		SystemPrompt: a.systemPrompt,
		Messages:     a.worker.Messages(),
		Tools:        a.tools,
	}

	resp, err := a.worker.Provider().Stream(ctx, req, provider.StreamHandler{
		OnBegin: func() {
			a.worker.SetState(worker.Receiving, a.host)
		},
		OnChunk: func(chunk string) {
			a.host.ResponseChunkReceived(a.worker.ID(), chunk)
		},
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ErrCancelled
		}
		return nil, fmt.Errorf("model request failed: %w", err)
	}
	return resp, nil
}

// useTool asks the operator before running a tool. Declined or unavailable
// tools produce a result message so the model can continue.
func (a *AgentLoop) useTool(ctx context.Context, req provider.ToolRequest) (string, error) {
	if err := Checkpoint(ctx); err != nil {
		return "", err
	}

	a.worker.SetState(worker.Waiting, a.host)
	answer, err := a.host.RequestConfirmation(ctx, a.worker.ID(), confirmationPrompt(req))
	if err != nil {
		if ctx.Err() != nil {
			return "", ErrCancelled
		}
		return "", fmt.Errorf("confirmation failed: %w", err)
	}

	if !isApproval(answer) {
		a.logger.Info().Str("tool", req.Name).Msg("Tool use declined")
		return fmt.Sprintf("The operator declined the %s tool call.", req.Name), nil
	}
	if a.runner == nil {
		return fmt.Sprintf("Tool %s is not available in this environment.", req.Name), nil
	}

	if err := Checkpoint(ctx); err != nil {
		return "", err
	}
	a.worker.SetState(worker.UsingTool, a.host)

	out, err := a.runner.RunTool(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ErrCancelled
		}
		a.logger.Warn().Str("tool", req.Name).Err(err).Msg("Tool execution failed")
		return fmt.Sprintf("Tool %s failed: %v", req.Name, err), nil
	}
	return out, nil
}

// abandonToolRequests records a result for every request the loop stopped
// short of, so the history stays valid for the worker's next job.
func (a *AgentLoop) abandonToolRequests(reqs []provider.ToolRequest, cause error) {
	for _, req := range reqs {
		content := fmt.Sprintf("Tool use of %s was abandoned: %v", req.Name, cause)
		if IsCancellation(cause) {
			content = "Tool use was cancelled by the user."
		}
		a.worker.AppendMessage(provider.Message{
			Role:          provider.RoleTool,
			Content:       content,
			ToolRequestID: req.ID,
		})
	}
}

func confirmationPrompt(req provider.ToolRequest) string {
	params, err := json.Marshal(req.Parameters)
	if err != nil {
		params = []byte("{}")
	}
	return fmt.Sprintf("Allow tool %s with %s? [y/N]", req.Name, params)
}

func isApproval(answer string) bool {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}
