package llm

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

// mockAdapter is a test double for ProviderAdapter.
type mockAdapter struct {
	name      string
	responses []string
	errs      []error
	requests  []Request
	closed    bool
}

func (m *mockAdapter) Name() string { return m.name }

func (m *mockAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	m.requests = append(m.requests, req)
	i := len(m.requests) - 1
	if i < len(m.errs) && m.errs[i] != nil {
		return nil, m.errs[i]
	}
	text := ""
	if len(m.responses) > 0 {
		text = m.responses[min(i, len(m.responses)-1)]
	}
	return &Response{
		ID:           "test_resp",
		Model:        req.Model,
		Provider:     m.name,
		Message:      AssistantMessage(text),
		FinishReason: FinishReason{Reason: "stop"},
		Usage:        Usage{InputTokens: 10, OutputTokens: 20, TotalTokens: 30},
	}, nil
}

func (m *mockAdapter) Close() error {
	m.closed = true
	return nil
}

func newMockAdapter(name string, responses ...string) *mockAdapter {
	return &mockAdapter{name: name, responses: responses}
}

func TestClientComplete(t *testing.T) {
	mock := newMockAdapter("test-provider", "Hello!")
	client := NewClient(WithProvider(mock))

	resp, err := client.Complete(context.Background(), Request{
		Model:    "test-model",
		Messages: []Message{UserMessage("Hi")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text() != "Hello!" {
		t.Errorf("expected text %q, got %q", "Hello!", resp.Text())
	}
	if got := mock.requests[0].Provider; got != "test-provider" {
		t.Errorf("expected provider to be filled in, got %q", got)
	}
}

func TestClientProviderRouting(t *testing.T) {
	openai := newMockAdapter("openai", "OpenAI response")
	anthropic := newMockAdapter("anthropic", "Anthropic response")
	client := NewClient(WithProvider(openai), WithProvider(anthropic), WithDefaultProvider("openai"))

	resp, err := client.Complete(context.Background(), Request{Provider: "anthropic", Messages: []Message{UserMessage("Hi")}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text() != "Anthropic response" {
		t.Errorf("explicit provider: got %q", resp.Text())
	}

	resp, err = client.Complete(context.Background(), Request{Model: "sonnet", Messages: []Message{UserMessage("Hi")}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text() != "Anthropic response" {
		t.Errorf("catalog routing: got %q", resp.Text())
	}

	resp, err = client.Complete(context.Background(), Request{Model: "mystery", Messages: []Message{UserMessage("Hi")}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text() != "OpenAI response" {
		t.Errorf("default provider: got %q", resp.Text())
	}
}

func TestClientNoProvider(t *testing.T) {
	_, err := NewClient().Complete(context.Background(), Request{Messages: []Message{UserMessage("Hi")}})
	var ce *ConfigurationError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConfigurationError, got %T (%v)", err, err)
	}

	client := NewClient(WithProvider(newMockAdapter("openai")))
	_, err = client.Complete(context.Background(), Request{Provider: "gemini"})
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConfigurationError for unregistered provider, got %T", err)
	}
}

func TestMiddlewareOrder(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(ctx context.Context, req Request, next CompleteFunc) (*Response, error) {
			order = append(order, name+":before")
			resp, err := next(ctx, req)
			order = append(order, name+":after")
			return resp, err
		}
	}
	client := NewClient(WithProvider(newMockAdapter("p", "ok")), WithMiddleware(mw("outer"), mw("inner")))

	if _, err := client.Complete(context.Background(), Request{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "outer:before,inner:before,inner:after,outer:after"
	if got := strings.Join(order, ","); got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
}

func TestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	mock := newMockAdapter("p", "ok")
	mock.errs = []error{nil, &ServerError{ProviderError: ProviderError{SDKError: SDKError{Message: "down"}, Retryable: true}}}
	client := NewClient(WithProvider(mock), WithMiddleware(LoggingMiddleware(logger)))

	_, _ = client.Complete(context.Background(), Request{Model: "m"})
	_, _ = client.Complete(context.Background(), Request{Model: "m"})

	out := buf.String()
	if !strings.Contains(out, `"msg":"completion"`) {
		t.Errorf("expected debug completion record, got %s", out)
	}
	if !strings.Contains(out, `"msg":"completion failed"`) {
		t.Errorf("expected failure record, got %s", out)
	}
}

func TestClientClose(t *testing.T) {
	mock := newMockAdapter("p")
	if err := NewClient(WithProvider(mock)).Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !mock.closed {
		t.Error("expected adapter to be closed")
	}
}

func TestMessageHelpers(t *testing.T) {
	msg := Message{Role: RoleAssistant, Content: []ContentPart{
		TextPart("a"),
		ToolCallPart(ToolCall{ID: "1", Name: "grep"}),
		TextPart("b"),
	}}
	if msg.TextContent() != "ab" {
		t.Errorf("expected ab, got %q", msg.TextContent())
	}
	if calls := msg.ToolCalls(); len(calls) != 1 || calls[0].Name != "grep" {
		t.Errorf("unexpected tool calls %+v", calls)
	}

	tr := ToolResultMessage(ToolResult{ToolCallID: "1", Content: "x"}, ToolResult{ToolCallID: "2", Content: "y", IsError: true})
	if tr.Role != RoleTool || len(tr.Content) != 2 {
		t.Errorf("unexpected tool result message %+v", tr)
	}
}

func TestCatalog(t *testing.T) {
	if info := GetModelInfo("gpt-4o"); info == nil || info.Provider != "openai" {
		t.Errorf("expected gpt-4o in catalog, got %+v", info)
	}
	if info := GetModelInfo("opus"); info == nil || info.ID != "claude-opus-4-6" {
		t.Errorf("expected alias lookup, got %+v", info)
	}
	if info := GetModelInfo("claude-3-7-sonnet-latest"); info == nil || info.Provider != "anthropic" {
		t.Errorf("expected prefix inference, got %+v", info)
	}
	if GetModelInfo("llama3") != nil {
		t.Error("expected unknown model to be nil")
	}
	if DefaultModel("openai") != "gpt-4o" {
		t.Errorf("unexpected default model %q", DefaultModel("openai"))
	}
}
