package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/jllopis/techpulse/pkg/errors"
)

const defaultAnthropicMaxTokens = 4096

// AnthropicProvider talks to the Anthropic Messages API.
type AnthropicProvider struct {
	client    anthropic.Client
	maxTokens int64
}

// NewAnthropic creates a provider. An empty apiKey falls back to
// ANTHROPIC_API_KEY; baseURL is optional. A zero timeout defaults to 120s.
// Retries are left to the caller.
func NewAnthropic(apiKey, baseURL string, timeout time.Duration) *AnthropicProvider {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	opts := []option.RequestOption{
		option.WithHTTPClient(&http.Client{Timeout: timeout}),
		option.WithMaxRetries(0),
	}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &AnthropicProvider{
		client:    anthropic.NewClient(opts...),
		maxTokens: defaultAnthropicMaxTokens,
	}
}

// Chat sends one Messages request. System messages become the system
// prompt; tool results are sent as user turns.
func (p *AnthropicProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	var system []string
	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		messages = append(messages, anthropicMessage(m))
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: p.maxTokens,
		Messages:  messages,
	}
	if len(system) > 0 {
		params.System = []anthropic.TextBlockParam{{Text: strings.Join(system, "\n\n")}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	for _, t := range req.Tools {
		params.Tools = append(params.Tools, anthropicTool(t))
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, errors.New(errors.CodeLLMError, "anthropic message failed", err)
	}

	out := &ChatResponse{
		Usage: Usage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
			TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}
	var text strings.Builder
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			args := string(block.Input)
			if args == "" {
				args = "{}"
			}
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:       block.ID,
				Type:     ToolTypeFunction,
				Function: FunctionCall{Name: block.Name, Arguments: args},
			})
		}
	}
	out.Content = text.String()
	return out, nil
}

func anthropicMessage(m Message) anthropic.MessageParam {
	switch m.Role {
	case RoleAssistant:
		if len(m.ToolCalls) == 0 {
			return anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content))
		}
		blocks := make([]anthropic.ContentBlockParamUnion, 0, len(m.ToolCalls)+1)
		if m.Content != "" {
			blocks = append(blocks, anthropic.NewTextBlock(m.Content))
		}
		for _, tc := range m.ToolCalls {
			args, err := tc.Function.DecodeArguments()
			if err != nil {
				args = map[string]any{}
			}
			blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, args, tc.Function.Name))
		}
		return anthropic.NewAssistantMessage(blocks...)
	case RoleTool:
		return anthropic.NewUserMessage(anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false))
	default:
		return anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content))
	}
}

func anthropicTool(t Tool) anthropic.ToolUnionParam {
	var schema struct {
		Properties map[string]any `json:"properties"`
		Required   []string       `json:"required"`
	}
	if raw, err := json.Marshal(t.Function.Parameters); err == nil {
		_ = json.Unmarshal(raw, &schema)
	}
	tool := &anthropic.ToolParam{
		Name: t.Function.Name,
		InputSchema: anthropic.ToolInputSchemaParam{
			Properties: schema.Properties,
			Required:   schema.Required,
		},
	}
	if t.Function.Description != "" {
		tool.Description = anthropic.String(t.Function.Description)
	}
	return anthropic.ToolUnionParam{OfTool: tool}
}

var _ Provider = (*AnthropicProvider)(nil)
