// Package llmtest provides a scripted provider adapter for tests.
package llmtest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/martinemde/planwright/llm"
)

// Step is one scripted reply. Exactly one of Text, ToolCalls or Err is
// normally set; Func overrides all of them.
type Step struct {
	Text      string
	ToolCalls []llm.ToolCall
	Err       error
	Func      func(req llm.Request) (*llm.Response, error)
}

// Reply returns a text step.
func Reply(text string) Step { return Step{Text: text} }

// JSON returns a text step holding v encoded as JSON.
func JSON(v any) Step {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return Step{Text: string(data)}
}

// Call returns a step requesting one tool invocation.
func Call(name string, args map[string]any) Step {
	data, err := json.Marshal(args)
	if err != nil {
		panic(err)
	}
	return Step{ToolCalls: []llm.ToolCall{{ID: fmt.Sprintf("call_%s", name), Name: name, Arguments: data}}}
}

// Fail returns an error step.
func Fail(err error) Step { return Step{Err: err} }

// Adapter replays scripted steps in order and records every request. Once
// the script is exhausted it repeats Fallback, or fails when Fallback is nil.
type Adapter struct {
	Provider string
	Fallback *Step

	mu       sync.Mutex
	steps    []Step
	requests []llm.Request
}

// New returns an Adapter named "scripted" with the given steps.
func New(steps ...Step) *Adapter {
	return &Adapter{Provider: "scripted", steps: steps}
}

// Push appends steps to the script.
func (a *Adapter) Push(steps ...Step) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.steps = append(a.steps, steps...)
}

func (a *Adapter) Name() string { return a.Provider }

func (a *Adapter) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	a.requests = append(a.requests, req)
	var step Step
	switch {
	case len(a.steps) > 0:
		step = a.steps[0]
		a.steps = a.steps[1:]
	case a.Fallback != nil:
		step = *a.Fallback
	default:
		n := len(a.requests)
		a.mu.Unlock()
		return nil, fmt.Errorf("llmtest: script exhausted at request %d", n)
	}
	n := len(a.requests)
	a.mu.Unlock()

	if step.Func != nil {
		return step.Func(req)
	}
	if step.Err != nil {
		return nil, step.Err
	}

	msg := llm.Message{Role: llm.RoleAssistant}
	if step.Text != "" {
		msg.Content = append(msg.Content, llm.TextPart(step.Text))
	}
	finish := llm.FinishReason{Reason: "stop"}
	for _, tc := range step.ToolCalls {
		msg.Content = append(msg.Content, llm.ToolCallPart(tc))
		finish.Reason = "tool_calls"
	}
	return &llm.Response{
		ID:           fmt.Sprintf("resp_%d", n),
		Model:        req.Model,
		Provider:     a.Provider,
		Message:      msg,
		FinishReason: finish,
		Usage:        llm.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
	}, nil
}

// Requests returns a copy of every request received so far.
func (a *Adapter) Requests() []llm.Request {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]llm.Request, len(a.requests))
	copy(out, a.requests)
	return out
}

// Remaining reports how many scripted steps have not been consumed.
func (a *Adapter) Remaining() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.steps)
}

// Client wraps the adapter in an llm.Client.
func (a *Adapter) Client(mw ...llm.Middleware) *llm.Client {
	return llm.NewClient(llm.WithProvider(a), llm.WithMiddleware(mw...))
}
