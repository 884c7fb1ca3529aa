package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/teilomillet/gollm"
)

// GollmAdapter implements ProviderAdapter over a gollm.LLM. gollm returns
// plain text, so tool calls travel as a JSON array embedded in the reply.
type GollmAdapter struct {
	provider string
	llm      gollm.LLM
	model    string
}

// GollmConfig configures NewGollmAdapter.
type GollmConfig struct {
	Provider    string
	APIKey      string // empty lets gollm read the provider's environment variable
	Model       string
	MaxTokens   int
	Temperature float64
	Extra       []gollm.ConfigOption
}

// NewGollmAdapter builds a gollm-backed adapter. Retries are disabled inside
// gollm; RetryMiddleware owns them.
func NewGollmAdapter(cfg GollmConfig) (*GollmAdapter, error) {
	if cfg.Provider == "" {
		cfg.Provider = "openai"
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel(cfg.Provider)
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 4096
	}

	opts := []gollm.ConfigOption{
		gollm.SetProvider(cfg.Provider),
		gollm.SetModel(cfg.Model),
		gollm.SetMaxTokens(cfg.MaxTokens),
		gollm.SetTemperature(cfg.Temperature),
		gollm.SetMaxRetries(0),
		gollm.SetLogLevel(gollm.LogLevelWarn),
	}
	if cfg.APIKey != "" {
		opts = append(opts, gollm.SetAPIKey(cfg.APIKey))
	}
	opts = append(opts, cfg.Extra...)

	l, err := gollm.NewLLM(opts...)
	if err != nil {
		return nil, fmt.Errorf("create gollm client for %s: %w", cfg.Provider, err)
	}
	return &GollmAdapter{provider: cfg.Provider, llm: l, model: cfg.Model}, nil
}

func (a *GollmAdapter) Name() string { return a.provider }

func (a *GollmAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	prompt := a.translateRequest(req)
	a.applyRequestOptions(req)

	text, err := a.llm.Generate(ctx, prompt)
	if err != nil {
		return nil, a.translateError(err)
	}
	return a.buildResponse(req, text), nil
}

const toolProtocol = `You can call tools. To call one or more tools, reply with ONLY a JSON array of the form
[{"name": "<tool name>", "arguments": {...}}]
and nothing else. Tool results will be sent back to you. When you are finished, reply with plain text.`

// translateRequest flattens the conversation into a single gollm prompt.
func (a *GollmAdapter) translateRequest(req Request) *gollm.Prompt {
	var system []string
	var parts []string

	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			system = append(system, msg.TextContent())
		case RoleUser:
			parts = append(parts, msg.TextContent())
		case RoleAssistant:
			if text := msg.TextContent(); text != "" {
				parts = append(parts, "[Assistant]: "+text)
			}
			for _, call := range msg.ToolCalls() {
				parts = append(parts, fmt.Sprintf("[Tool Call %s]: %s %s", call.ID, call.Name, string(call.Arguments)))
			}
		case RoleTool:
			for _, part := range msg.Content {
				if part.Kind != ContentToolResult || part.ToolResult == nil {
					continue
				}
				prefix := "[Tool Result " + part.ToolResult.ToolCallID + "]"
				if part.ToolResult.IsError {
					prefix = "[Tool Error " + part.ToolResult.ToolCallID + "]"
				}
				parts = append(parts, prefix+": "+part.ToolResult.Content)
			}
		}
	}

	if len(req.Tools) > 0 {
		system = append(system, toolProtocol)
	}

	text := strings.Join(parts, "\n\n")
	if text == "" {
		text = "Continue."
	}

	var opts []gollm.PromptOption
	if len(system) > 0 {
		opts = append(opts, gollm.WithSystemPrompt(strings.TrimSpace(strings.Join(system, "\n\n")), gollm.CacheTypeEphemeral))
	}
	if req.MaxTokens != nil {
		opts = append(opts, gollm.WithMaxLength(*req.MaxTokens))
	}
	if len(req.Tools) > 0 {
		tools := make([]gollm.Tool, 0, len(req.Tools))
		for _, t := range req.Tools {
			tools = append(tools, gollm.Tool{
				Type: "function",
				Function: gollm.Function{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.Parameters,
				},
			})
		}
		opts = append(opts, gollm.WithTools(tools))
	}
	if req.ToolChoice != nil {
		opts = append(opts, gollm.WithToolChoice(req.ToolChoice.Mode))
	}
	return gollm.NewPrompt(text, opts...)
}

func (a *GollmAdapter) applyRequestOptions(req Request) {
	if req.Model != "" {
		a.llm.SetOption("model", req.Model)
	}
	if req.Temperature != nil {
		a.llm.SetOption("temperature", *req.Temperature)
	}
	if req.MaxTokens != nil {
		a.llm.SetOption("max_tokens", *req.MaxTokens)
	}
}

func (a *GollmAdapter) buildResponse(req Request, text string) *Response {
	model := req.Model
	if model == "" {
		model = a.model
	}

	var content []ContentPart
	var calls []ToolCall
	rest := text
	if len(req.Tools) > 0 {
		calls, rest = parseToolCalls(text)
	}
	if rest != "" {
		content = append(content, TextPart(rest))
	}
	for _, call := range calls {
		content = append(content, ToolCallPart(call))
	}
	if len(content) == 0 {
		content = []ContentPart{TextPart(text)}
	}

	finish := FinishReason{Reason: "stop", Raw: "stop"}
	if len(calls) > 0 {
		finish = FinishReason{Reason: "tool_calls", Raw: "tool_calls"}
	}

	in := estimateTokens(req)
	out := len(text) / 4
	return &Response{
		ID:           "resp_" + uuid.New().String()[:8],
		Model:        model,
		Provider:     a.provider,
		Message:      Message{Role: RoleAssistant, Content: content},
		FinishReason: finish,
		Usage:        Usage{InputTokens: in, OutputTokens: out, TotalTokens: in + out},
	}
}

// parseToolCalls extracts a leading or trailing JSON array of tool calls from
// text, returning the calls and the remaining prose.
func parseToolCalls(text string) ([]ToolCall, string) {
	body := stripCodeFence(text)
	start := strings.Index(body, `[{"name"`)
	if start == -1 {
		start = strings.Index(body, "[\n")
	}
	if start == -1 {
		return nil, text
	}

	var raw []struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	dec := json.NewDecoder(strings.NewReader(body[start:]))
	if err := dec.Decode(&raw); err != nil || len(raw) == 0 {
		return nil, text
	}

	calls := make([]ToolCall, 0, len(raw))
	for _, r := range raw {
		if r.Name == "" {
			return nil, text
		}
		args := r.Arguments
		if len(args) == 0 {
			args = json.RawMessage(`{}`)
		}
		calls = append(calls, ToolCall{
			ID:        "call_" + uuid.New().String()[:8],
			Name:      r.Name,
			Arguments: args,
		})
	}
	return calls, strings.TrimSpace(body[:start])
}

// translateError classifies a gollm error by its message.
func (a *GollmAdapter) translateError(err error) error {
	msg := strings.ToLower(err.Error())
	status := 0
	switch {
	case strings.Contains(msg, "401") || strings.Contains(msg, "unauthorized") || strings.Contains(msg, "invalid api key"):
		status = 401
	case strings.Contains(msg, "403") || strings.Contains(msg, "forbidden"):
		status = 403
	case strings.Contains(msg, "404") || strings.Contains(msg, "model not found"):
		status = 404
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit"):
		status = 429
	case strings.Contains(msg, "context length") || strings.Contains(msg, "too many tokens"):
		status = 413
	case strings.Contains(msg, "500") || strings.Contains(msg, "502") || strings.Contains(msg, "503") || strings.Contains(msg, "internal server"):
		status = 500
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		status = 408
	default:
		return &ProviderError{SDKError: SDKError{Message: err.Error(), Cause: err}, Provider: a.provider}
	}
	return ErrorFromStatusCode(status, err.Error(), a.provider, err)
}

func estimateTokens(req Request) int {
	total := 0
	for _, msg := range req.Messages {
		for _, part := range msg.Content {
			switch part.Kind {
			case ContentText:
				total += len(part.Text) / 4
			case ContentToolResult:
				if part.ToolResult != nil {
					total += len(part.ToolResult.Content) / 4
				}
			}
		}
	}
	return total
}
