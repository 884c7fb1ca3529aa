package llm

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicAdapter implements ProviderAdapter over the Anthropic Messages
// API with native tool use.
type AnthropicAdapter struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// AnthropicConfig configures NewAnthropicAdapter.
type AnthropicConfig struct {
	APIKey    string // empty lets the SDK read ANTHROPIC_API_KEY
	BaseURL   string
	Model     string
	MaxTokens int
}

func NewAnthropicAdapter(cfg AnthropicConfig) *AnthropicAdapter {
	var opts []option.RequestOption
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	// RetryMiddleware owns retries.
	opts = append(opts, option.WithMaxRetries(0))

	if cfg.Model == "" {
		cfg.Model = DefaultModel("anthropic")
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 8192
	}
	return &AnthropicAdapter{
		client:    anthropic.NewClient(opts...),
		model:     cfg.Model,
		maxTokens: int64(cfg.MaxTokens),
	}
}

func (a *AnthropicAdapter) Name() string { return "anthropic" }

func (a *AnthropicAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	params := a.buildParams(req)
	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, a.translateError(err)
	}
	return a.buildResponse(msg), nil
}

func (a *AnthropicAdapter) buildParams(req Request) anthropic.MessageNewParams {
	model := req.Model
	if model == "" {
		model = a.model
	}
	maxTokens := a.maxTokens
	if req.MaxTokens != nil {
		maxTokens = int64(*req.MaxTokens)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages:  buildAnthropicMessages(req.Messages),
		Tools:     buildAnthropicTools(req.Tools),
	}
	if system := systemText(req.Messages); system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	return params
}

func systemText(messages []Message) string {
	var parts []string
	for _, m := range messages {
		if m.Role == RoleSystem {
			parts = append(parts, m.TextContent())
		}
	}
	return strings.Join(parts, "\n\n")
}

// buildAnthropicMessages converts the conversation, merging adjacent
// messages of the same role since the API requires alternation. Tool results
// travel in user messages.
func buildAnthropicMessages(messages []Message) []anthropic.MessageParam {
	var out []anthropic.MessageParam
	var blocks []anthropic.ContentBlockParamUnion
	var current Role

	flush := func() {
		if len(blocks) == 0 {
			return
		}
		if current == RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		} else {
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
		blocks = nil
	}

	for _, m := range messages {
		role := m.Role
		switch role {
		case RoleSystem:
			continue
		case RoleTool:
			role = RoleUser
		}
		if role != current {
			flush()
			current = role
		}
		for _, part := range m.Content {
			switch part.Kind {
			case ContentText:
				if part.Text != "" {
					blocks = append(blocks, anthropic.NewTextBlock(part.Text))
				}
			case ContentToolCall:
				if part.ToolCall != nil {
					var input any = json.RawMessage(part.ToolCall.Arguments)
					if len(part.ToolCall.Arguments) == 0 {
						input = map[string]any{}
					}
					blocks = append(blocks, anthropic.NewToolUseBlock(part.ToolCall.ID, input, part.ToolCall.Name))
				}
			case ContentToolResult:
				if part.ToolResult != nil {
					blocks = append(blocks, anthropic.NewToolResultBlock(part.ToolResult.ToolCallID, part.ToolResult.Content, part.ToolResult.IsError))
				}
			}
		}
	}
	flush()
	return out
}

func buildAnthropicTools(defs []ToolDefinition) []anthropic.ToolUnionParam {
	if len(defs) == 0 {
		return nil
	}
	tools := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, d := range defs {
		schema := anthropic.ToolInputSchemaParam{Properties: d.Parameters["properties"]}
		switch req := d.Parameters["required"].(type) {
		case []string:
			schema.Required = req
		case []interface{}:
			for _, r := range req {
				if s, ok := r.(string); ok {
					schema.Required = append(schema.Required, s)
				}
			}
		}
		tools = append(tools, anthropic.ToolUnionParam{OfTool: &anthropic.ToolParam{
			Name:        d.Name,
			Description: anthropic.String(d.Description),
			InputSchema: schema,
		}})
	}
	return tools
}

func (a *AnthropicAdapter) buildResponse(msg *anthropic.Message) *Response {
	var content []ContentPart
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			content = append(content, TextPart(block.Text))
		case "tool_use":
			content = append(content, ToolCallPart(ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: json.RawMessage(block.Input),
			}))
		}
	}

	finish := FinishReason{Reason: "other", Raw: string(msg.StopReason)}
	switch msg.StopReason {
	case "end_turn", "stop_sequence":
		finish.Reason = "stop"
	case "max_tokens":
		finish.Reason = "length"
	case "tool_use":
		finish.Reason = "tool_calls"
	}

	in, out := int(msg.Usage.InputTokens), int(msg.Usage.OutputTokens)
	return &Response{
		ID:           msg.ID,
		Model:        string(msg.Model),
		Provider:     a.Name(),
		Message:      Message{Role: RoleAssistant, Content: content},
		FinishReason: finish,
		Usage:        Usage{InputTokens: in, OutputTokens: out, TotalTokens: in + out},
	}
}

func (a *AnthropicAdapter) translateError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return ErrorFromStatusCode(apiErr.StatusCode, apiErr.Error(), a.Name(), err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &RequestTimeoutError{SDKError: SDKError{Message: "anthropic request timed out", Cause: err}}
	}
	return &ProviderError{SDKError: SDKError{Message: err.Error(), Cause: err}, Provider: a.Name(), Retryable: true}
}
