package provider

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIProvider streams chat completions from OpenAI
type OpenAIProvider struct {
	client  openai.Client
	profile Profile
}

// NewOpenAIProvider creates a new OpenAI provider
func NewOpenAIProvider(profile Profile) *OpenAIProvider {
	return &OpenAIProvider{
		client:  openai.NewClient(option.WithAPIKey(profile.APIKey)),
		profile: profile,
	}
}

// Name returns the profile name
func (p *OpenAIProvider) Name() string {
	if p.profile.ID != "" {
		return p.profile.ID
	}
	return "openai"
}

// Stream runs one streaming chat completion
func (p *OpenAIProvider) Stream(ctx context.Context, req *Request, handler StreamHandler) (*Response, error) {
	params, err := openaiParams(withDefaults(req, p.profile))
	if err != nil {
		return nil, err
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	acc := openai.ChatCompletionAccumulator{}
	begun := false

	for stream.Next() {
		chunk := stream.Current()
		acc.AddChunk(chunk)

		if !begun {
			begun = true
			handler.begin()
		}

		for _, choice := range chunk.Choices {
			handler.chunk(choice.Delta.Content)
		}
	}
	if err := stream.Err(); err != nil {
		return nil, err
	}

	if len(acc.Choices) == 0 {
		return nil, fmt.Errorf("no response choices returned")
	}

	choice := acc.Choices[0]
	resp := &Response{
		Content: choice.Message.Content,
		Usage: Usage{
			InputTokens:  int(acc.Usage.PromptTokens),
			OutputTokens: int(acc.Usage.CompletionTokens),
		},
	}

	for _, tc := range choice.Message.ToolCalls {
		params := map[string]interface{}{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &params); err != nil {
				return nil, fmt.Errorf("failed to parse tool arguments: %w", err)
			}
		}
		resp.ToolRequests = append(resp.ToolRequests, ToolRequest{
			ID:         tc.ID,
			Name:       tc.Function.Name,
			Parameters: params,
		})
	}

	return resp, nil
}

func openaiParams(request Request) (openai.ChatCompletionNewParams, error) {
	messages := []openai.ChatCompletionMessageParamUnion{}

	if request.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(request.SystemPrompt))
	}

	for _, msg := range request.Messages {
		switch msg.Role {
		case RoleUser:
			messages = append(messages, openai.UserMessage(msg.Content))
		case RoleAssistant:
			if len(msg.ToolRequests) == 0 {
				messages = append(messages, openai.AssistantMessage(msg.Content))
				continue
			}
			toolCalls := []openai.ChatCompletionMessageToolCall{}
			for _, tr := range msg.ToolRequests {
				args, err := json.Marshal(tr.Parameters)
				if err != nil {
					return openai.ChatCompletionNewParams{}, fmt.Errorf("failed to marshal tool parameters: %w", err)
				}
				toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCall{
					ID:   tr.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunction{
						Name:      tr.Name,
						Arguments: string(args),
					},
				})
			}
			assistant := openai.ChatCompletionMessage{
				Role:      "assistant",
				Content:   msg.Content,
				ToolCalls: toolCalls,
			}
			messages = append(messages, assistant.ToParam())
		case RoleTool:
			messages = append(messages, openai.ToolMessage(msg.Content, msg.ToolRequestID))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(request.Model),
		Messages: messages,
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		},
	}

	if request.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(request.MaxTokens))
	}

	if request.Temperature > 0 {
		params.Temperature = openai.Float(request.Temperature)
	}

	if len(request.Tools) > 0 {
		tools := []openai.ChatCompletionToolParam{}
		for _, tool := range request.Tools {
			tools = append(tools, openai.ChatCompletionToolParam{
				Function: openai.FunctionDefinitionParam{
					Name:        tool.Name,
					Description: openai.String(tool.Description),
					Parameters:  openai.FunctionParameters(tool.InputSchema),
				},
			})
		}
		params.Tools = tools
	}

	return params, nil
}
