package provider

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicProvider streams completions from Anthropic Claude
type AnthropicProvider struct {
	client  anthropic.Client
	profile Profile
}

// NewAnthropicProvider creates a new Anthropic provider
func NewAnthropicProvider(profile Profile) *AnthropicProvider {
	return &AnthropicProvider{
		client:  anthropic.NewClient(option.WithAPIKey(profile.APIKey)),
		profile: profile,
	}
}

// Name returns the profile name
func (p *AnthropicProvider) Name() string {
	if p.profile.ID != "" {
		return p.profile.ID
	}
	return "anthropic"
}

// Stream runs one streaming round-trip against the Messages API
func (p *AnthropicProvider) Stream(ctx context.Context, req *Request, handler StreamHandler) (*Response, error) {
	request := withDefaults(req, p.profile)

	stream := p.client.Messages.NewStreaming(ctx, anthropicParams(request))
	defer stream.Close()

	message := anthropic.Message{}
	begun := false

	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			return nil, fmt.Errorf("failed to accumulate stream event: %w", err)
		}

		if !begun {
			begun = true
			handler.begin()
		}

		if delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
			if text, ok := delta.Delta.AsAny().(anthropic.TextDelta); ok {
				handler.chunk(text.Text)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, err
	}

	resp := &Response{
		Usage: Usage{
			InputTokens:  int(message.Usage.InputTokens),
			OutputTokens: int(message.Usage.OutputTokens),
		},
	}

	for _, block := range message.Content {
		switch block.Type {
		case "text":
			resp.Content += block.Text
		case "tool_use":
			params := map[string]interface{}{}
			if len(block.Input) > 0 {
				if err := json.Unmarshal(block.Input, &params); err != nil {
					return nil, fmt.Errorf("failed to parse tool input: %w", err)
				}
			}
			resp.ToolRequests = append(resp.ToolRequests, ToolRequest{
				ID:         block.ID,
				Name:       block.Name,
				Parameters: params,
			})
		}
	}

	return resp, nil
}

func anthropicParams(request Request) anthropic.MessageNewParams {
	messages := []anthropic.MessageParam{}

	for _, msg := range request.Messages {
		switch {
		case msg.Role == RoleTool:
			messages = append(messages, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(msg.ToolRequestID, msg.Content, false),
			))
		case msg.Role == RoleAssistant && len(msg.ToolRequests) > 0:
			blocks := []anthropic.ContentBlockParamUnion{}
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, tr := range msg.ToolRequests {
				blocks = append(blocks, anthropic.NewToolUseBlock(tr.ID, tr.Parameters, tr.Name))
			}
			messages = append(messages, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleAssistant,
				Content: blocks,
			})
		case msg.Role == RoleAssistant:
			messages = append(messages, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleAssistant,
				Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(msg.Content)},
			})
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(request.Model),
		Messages:  messages,
		MaxTokens: int64(request.MaxTokens),
	}

	if request.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: request.SystemPrompt},
		}
	}

	if request.Temperature > 0 {
		params.Temperature = anthropic.Float(request.Temperature)
	}

	if len(request.Tools) > 0 {
		tools := []anthropic.ToolUnionParam{}
		for _, tool := range request.Tools {
			toolParam := anthropic.ToolParam{
				Name:        tool.Name,
				Description: anthropic.String(tool.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: tool.InputSchema["properties"],
				},
			}
			if required, ok := tool.InputSchema["required"].([]string); ok {
				toolParam.InputSchema.Required = required
			}
			tools = append(tools, anthropic.ToolUnionParam{OfTool: &toolParam})
		}
		params.Tools = tools
	}

	return params
}
