// Package explore runs the bounded tool-invocation loop used by RESEARCH and
// by the optional exploration step of GATHER_CONTEXT.
package explore

import (
	"context"
	"errors"
	"fmt"

	"github.com/martinemde/planwright/events"
	"github.com/martinemde/planwright/failure"
	"github.com/martinemde/planwright/history"
	"github.com/martinemde/planwright/llm"
	"github.com/martinemde/planwright/logging"
	"github.com/martinemde/planwright/workspace"
)

const (
	DefaultMaxRounds           = 12
	DefaultLoopDetectionWindow = 6
)

// Config tunes an Explorer.
type Config struct {
	Model               string
	Temperature         *float64
	EnableLoopDetection bool
	LoopDetectionWindow int
	ToolOutputLimits    map[string]int
	ToolLineLimits      map[string]int
}

func DefaultConfig() Config {
	return Config{
		EnableLoopDetection: true,
		LoopDetectionWindow: DefaultLoopDetectionWindow,
	}
}

// Explorer drives a reasoning capability through read-only workspace tools.
type Explorer struct {
	client  llm.Completer
	ws      workspace.Workspace
	tools   *workspace.ToolRegistry
	emitter *events.Emitter
	logger  *logging.Logger
	cfg     Config
}

type Option func(*Explorer)

func WithTools(reg *workspace.ToolRegistry) Option {
	return func(e *Explorer) { e.tools = reg }
}

func WithEmitter(em *events.Emitter) Option {
	return func(e *Explorer) { e.emitter = em }
}

func WithLogger(l *logging.Logger) Option {
	return func(e *Explorer) { e.logger = l }
}

func WithConfig(cfg Config) Option {
	return func(e *Explorer) { e.cfg = cfg }
}

// New returns an Explorer over ws with the read-only exploration tools.
func New(client llm.Completer, ws workspace.Workspace, opts ...Option) *Explorer {
	e := &Explorer{
		client: client,
		ws:     ws,
		tools:  workspace.NewExplorationRegistry(),
		logger: logging.NopLogger(),
		cfg:    DefaultConfig(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cfg.LoopDetectionWindow <= 0 {
		e.cfg.LoopDetectionWindow = DefaultLoopDetectionWindow
	}
	return e
}

// Result summarizes one Run.
type Result struct {
	// Summary is the final assistant text: the findings.
	Summary   string
	Rounds    int
	ToolCalls int
	// RoundLimitHit is set when maxRounds ran out and the summary was forced.
	RoundLimitHit bool
	Usage         llm.Usage
}

// Run appends instruction to buf and loops: ask the model, execute any tool
// calls it makes, and append the results, until the model answers without
// tools or maxRounds tool rounds have run. On the round limit the model gets
// one last call without tools to summarize. Every entry lands in buf, so the
// caller's buffer policy decides what survives.
func (e *Explorer) Run(ctx context.Context, buf history.Buffer, system, instruction string, maxRounds int) (*Result, error) {
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRounds
	}
	buf.Append(history.User(instruction))
	res := &Result{}

	for {
		if err := ctx.Err(); err != nil {
			return res, failure.Cancelled("explore", err)
		}

		limitHit := res.Rounds >= maxRounds
		if limitHit {
			note := fmt.Sprintf("Tool round limit (%d) reached. Do not call any more tools. Summarize what you found.", maxRounds)
			buf.Append(history.Note(note))
			e.emitter.Emit(events.Warning, map[string]interface{}{"message": note})
			e.logger.Warn("exploration round limit reached", "rounds", res.Rounds)
		}

		req := llm.Request{
			Model:       e.cfg.Model,
			Messages:    append([]llm.Message{llm.SystemMessage(system)}, history.ToMessages(buf.Entries())...),
			Temperature: e.cfg.Temperature,
		}
		if !limitHit {
			req.Tools = e.tools.Definitions()
			req.ToolChoice = &llm.ToolChoice{Mode: "auto"}
		}

		resp, err := e.client.Complete(ctx, req)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return res, failure.Cancelled("explore", err)
			}
			return res, fmt.Errorf("explore: %w", err)
		}
		res.Usage = res.Usage.Add(resp.Usage)

		calls := resp.ToolCalls()
		if limitHit {
			calls = nil
		}
		buf.Append(history.Assistant(resp.Text(), calls))

		if len(calls) == 0 {
			res.Summary = resp.Text()
			res.RoundLimitHit = limitHit
			return res, nil
		}

		res.Rounds++
		res.ToolCalls += len(calls)
		results := make([]llm.ToolResult, len(calls))
		for i, call := range calls {
			results[i] = e.executeSingleTool(ctx, call)
		}
		buf.Append(history.ToolResults(results))

		if e.cfg.EnableLoopDetection && DetectLoop(buf.Entries(), e.cfg.LoopDetectionWindow) {
			warning := fmt.Sprintf("Loop detected: the last %d tool calls follow a repeating pattern. Try a different approach or answer with what you have.", e.cfg.LoopDetectionWindow)
			buf.Append(history.Note(warning))
			e.emitter.Emit(events.LoopDetection, map[string]interface{}{"message": warning})
			e.logger.Warn("tool call loop detected", "window", e.cfg.LoopDetectionWindow)
		}
	}
}

// executeSingleTool runs lookup, execute, truncate, emit. Tool failures are
// returned to the model as error results, never as Go errors.
func (e *Explorer) executeSingleTool(ctx context.Context, call llm.ToolCall) llm.ToolResult {
	e.emitter.Emit(events.ToolCallStart, map[string]interface{}{
		"tool_name": call.Name,
		"call_id":   call.ID,
		"arguments": string(call.Arguments),
	})

	registered := e.tools.Get(call.Name)
	if registered == nil {
		msg := fmt.Sprintf("Unknown tool: %s", call.Name)
		e.emitter.Emit(events.ToolCallEnd, map[string]interface{}{"call_id": call.ID, "error": msg})
		return llm.ToolResult{ToolCallID: call.ID, Content: msg, IsError: true}
	}

	output, err := registered.Executor(ctx, call.Arguments, e.ws)
	if err != nil {
		msg := fmt.Sprintf("Tool error (%s): %v", call.Name, err)
		e.logger.Debug("tool failed", "tool", call.Name, "error", err)
		e.emitter.Emit(events.ToolCallEnd, map[string]interface{}{"call_id": call.ID, "error": msg})
		return llm.ToolResult{ToolCallID: call.ID, Content: msg, IsError: true}
	}

	truncated := workspace.TruncateToolOutput(output, call.Name, e.cfg.ToolOutputLimits, e.cfg.ToolLineLimits)
	e.emitter.Emit(events.ToolCallEnd, map[string]interface{}{
		"call_id": call.ID,
		"output":  output,
	})
	e.logger.Debug("tool executed", "tool", call.Name, "bytes", len(output))
	return llm.ToolResult{ToolCallID: call.ID, Content: truncated}
}
