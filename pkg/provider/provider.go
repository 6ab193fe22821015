package provider

import (
	"context"
	"fmt"
)

// Provider streams a single model round-trip.
type Provider interface {
	// Name returns the profile name this provider was built from
	Name() string

	// Stream sends the request and reports output through the handler as it
	// arrives. The returned response holds the accumulated text and any tool
	// requests. A cancelled context aborts the stream with the context's error.
	Stream(ctx context.Context, req *Request, handler StreamHandler) (*Response, error)
}

// StreamHandler receives streaming callbacks. Both fields are optional.
type StreamHandler struct {
	// OnBegin runs once, when the first stream event arrives
	OnBegin func()
	// OnChunk runs for every text delta in arrival order
	OnChunk func(chunk string)
}

func (h StreamHandler) begin() {
	if h.OnBegin != nil {
		h.OnBegin()
	}
}

func (h StreamHandler) chunk(text string) {
	if h.OnChunk != nil && text != "" {
		h.OnChunk(text)
	}
}

// Role values for conversation messages
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one conversation entry
type Message struct {
	Role          string        `json:"role"`
	Content       string        `json:"content"`
	ToolRequests  []ToolRequest `json:"tool_requests,omitempty"`
	ToolRequestID string        `json:"tool_request_id,omitempty"`
}

// ToolRequest is a structured tool invocation asked for by the model
type ToolRequest struct {
	ID         string                 `json:"id"`
	Name       string                 `json:"name"`
	Parameters map[string]interface{} `json:"parameters"`
}

// Tool describes a tool the model may call
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// Request is the payload for one round-trip
type Request struct {
	Model        string
	SystemPrompt string
	Messages     []Message
	Tools        []Tool
	MaxTokens    int
	Temperature  float64
}

// Usage tracks token consumption
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Response is the accumulated result of a stream
type Response struct {
	Content      string
	ToolRequests []ToolRequest
	Usage        Usage
}

// Profile holds the settings needed to build a provider
type Profile struct {
	ID          string
	Provider    string // anthropic, openai
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
}

// Default request limits applied when a profile leaves them unset
const (
	DefaultMaxTokens = 4096
)

// New builds a provider for the given profile
func New(profile Profile) (Provider, error) {
	if profile.MaxTokens <= 0 {
		profile.MaxTokens = DefaultMaxTokens
	}

	switch profile.Provider {
	case "anthropic":
		return NewAnthropicProvider(profile), nil
	case "openai":
		return NewOpenAIProvider(profile), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", profile.Provider)
	}
}

// withDefaults fills unset request fields from the profile
func withDefaults(req *Request, profile Profile) Request {
	out := *req
	if out.Model == "" {
		out.Model = profile.Model
	}
	if out.MaxTokens <= 0 {
		out.MaxTokens = profile.MaxTokens
	}
	if out.Temperature <= 0 {
		out.Temperature = profile.Temperature
	}
	return out
}
