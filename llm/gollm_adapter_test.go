package llm

import (
	"errors"
	"strings"
	"testing"
)

func TestGollmTranslateError(t *testing.T) {
	adapter := &GollmAdapter{provider: "openai"}
	tests := []struct {
		msg   string
		check func(error) bool
	}{
		{"401 Unauthorized", func(e error) bool { var x *AuthenticationError; return errors.As(e, &x) }},
		{"invalid api key", func(e error) bool { var x *AuthenticationError; return errors.As(e, &x) }},
		{"429 rate limit exceeded", func(e error) bool { var x *RateLimitError; return errors.As(e, &x) }},
		{"context length exceeded", func(e error) bool { var x *ContextLengthError; return errors.As(e, &x) }},
		{"500 internal server error", func(e error) bool { var x *ServerError; return errors.As(e, &x) }},
		{"timeout waiting for response", func(e error) bool { var x *RequestTimeoutError; return errors.As(e, &x) }},
		{"something unknown", func(e error) bool { var x *ProviderError; return errors.As(e, &x) }},
	}
	for _, tt := range tests {
		err := adapter.translateError(errors.New(tt.msg))
		if !tt.check(err) {
			t.Errorf("%q: unexpected type %T", tt.msg, err)
		}
	}
}

func TestGollmParseToolCalls(t *testing.T) {
	calls, rest := parseToolCalls("Let me look.\n[{\"name\": \"grep\", \"arguments\": {\"pattern\": \"TODO\"}}]")
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if calls[0].Name != "grep" || !strings.Contains(string(calls[0].Arguments), "TODO") {
		t.Errorf("unexpected call %+v", calls[0])
	}
	if rest != "Let me look." {
		t.Errorf("unexpected remaining text %q", rest)
	}

	fenced := "```json\n[{\"name\": \"list_directory\"}]\n```"
	calls, _ = parseToolCalls(fenced)
	if len(calls) != 1 || string(calls[0].Arguments) != "{}" {
		t.Errorf("expected fenced call with empty args, got %+v", calls)
	}

	calls, rest = parseToolCalls("No tools needed.")
	if calls != nil || rest != "No tools needed." {
		t.Errorf("expected plain text, got %+v %q", calls, rest)
	}
}

func TestGollmBuildResponse(t *testing.T) {
	adapter := &GollmAdapter{provider: "openai", model: "gpt-4o"}
	withTools := Request{Tools: []ToolDefinition{{Name: "grep"}}, Messages: []Message{UserMessage("find it")}}

	resp := adapter.buildResponse(withTools, `[{"name": "grep", "arguments": {"pattern": "x"}}]`)
	if resp.FinishReason.Reason != "tool_calls" || len(resp.ToolCalls()) != 1 {
		t.Errorf("expected tool call response, got %+v", resp)
	}
	if resp.Model != "gpt-4o" {
		t.Errorf("expected adapter model, got %q", resp.Model)
	}

	// Without tools a JSON array is just text.
	resp = adapter.buildResponse(Request{}, `[{"name": "grep"}]`)
	if resp.FinishReason.Reason != "stop" || resp.Text() != `[{"name": "grep"}]` {
		t.Errorf("expected text response, got %+v", resp)
	}
}
