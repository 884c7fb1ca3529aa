package explore

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinemde/planwright/events"
	"github.com/martinemde/planwright/failure"
	"github.com/martinemde/planwright/history"
	"github.com/martinemde/planwright/llm"
	"github.com/martinemde/planwright/llm/llmtest"
	"github.com/martinemde/planwright/workspace"
)

func newWorkspace(t *testing.T) *workspace.FSWorkspace {
	t.Helper()
	ws := workspace.NewMemory()
	require.NoError(t, ws.Write("main.go", "package main\n\nfunc main() {}\n"))
	return ws
}

func TestRunExecutesToolsUntilAnswer(t *testing.T) {
	script := llmtest.New(
		llmtest.Call("grep", map[string]any{"pattern": "func main"}),
		llmtest.Reply("main is defined in main.go"),
	)
	em := events.NewEmitter("run", 32)
	ex := New(script.Client(), newWorkspace(t), WithEmitter(em))
	buf := history.NewAccumulating()

	res, err := ex.Run(context.Background(), buf, "You research code.", "Where is main?", 5)
	require.NoError(t, err)
	assert.Equal(t, "main is defined in main.go", res.Summary)
	assert.Equal(t, 1, res.Rounds)
	assert.Equal(t, 1, res.ToolCalls)
	assert.False(t, res.RoundLimitHit)
	assert.Equal(t, 30, res.Usage.TotalTokens)

	entries := buf.Entries()
	require.Len(t, entries, 4)
	assert.Equal(t, history.KindUser, entries[0].Kind)
	assert.Equal(t, history.KindToolResults, entries[2].Kind)
	assert.Equal(t, "main.go:3:func main() {}", entries[2].Results[0].Content)

	reqs := script.Requests()
	require.Len(t, reqs, 2)
	assert.Len(t, reqs[0].Tools, 4)
	assert.Equal(t, llm.RoleSystem, reqs[0].Messages[0].Role)
	last := reqs[1].Messages[len(reqs[1].Messages)-1]
	assert.Equal(t, llm.RoleTool, last.Role)

	em.Close()
	var kinds []events.Kind
	for ev := range em.Events() {
		kinds = append(kinds, ev.Kind)
	}
	assert.Equal(t, []events.Kind{events.ToolCallStart, events.ToolCallEnd}, kinds)
}

func TestRunForcesSummaryAtRoundLimit(t *testing.T) {
	script := llmtest.New(
		llmtest.Call("glob", map[string]any{"pattern": "*.go"}),
		llmtest.Call("list_directory", map[string]any{}),
		llmtest.Reply("summary of findings"),
	)
	ex := New(script.Client(), newWorkspace(t))
	buf := history.NewAccumulating()

	res, err := ex.Run(context.Background(), buf, "sys", "explore", 2)
	require.NoError(t, err)
	assert.True(t, res.RoundLimitHit)
	assert.Equal(t, 2, res.Rounds)
	assert.Equal(t, "summary of findings", res.Summary)

	reqs := script.Requests()
	require.Len(t, reqs, 3)
	assert.Empty(t, reqs[2].Tools)
	assert.Nil(t, reqs[2].ToolChoice)
}

func TestRunInjectsLoopWarning(t *testing.T) {
	same := llmtest.Call("read_file", map[string]any{"file_path": "main.go"})
	script := llmtest.New(same, same, llmtest.Reply("done"))
	ex := New(script.Client(), newWorkspace(t), WithConfig(Config{
		EnableLoopDetection: true,
		LoopDetectionWindow: 2,
	}))
	buf := history.NewAccumulating()

	_, err := ex.Run(context.Background(), buf, "sys", "read it", 5)
	require.NoError(t, err)

	var notes []string
	for _, e := range buf.Entries() {
		if e.Kind == history.KindNote {
			notes = append(notes, e.Text)
		}
	}
	require.Len(t, notes, 1)
	assert.Contains(t, notes[0], "Loop detected")
}

func TestUnknownToolIsReportedToModel(t *testing.T) {
	script := llmtest.New(
		llmtest.Call("shell", map[string]any{"command": "rm -rf /"}),
		llmtest.Reply("ok"),
	)
	ex := New(script.Client(), newWorkspace(t))
	buf := history.NewClearable()

	_, err := ex.Run(context.Background(), buf, "sys", "go", 3)
	require.NoError(t, err)

	results := buf.Entries()[2].Results
	require.Len(t, results, 1)
	assert.True(t, results[0].IsError)
	assert.Equal(t, "Unknown tool: shell", results[0].Content)
}

func TestToolErrorsAreReportedToModel(t *testing.T) {
	script := llmtest.New(
		llmtest.Call("read_file", map[string]any{"file_path": "missing.go"}),
		llmtest.Reply("ok"),
	)
	ex := New(script.Client(), newWorkspace(t))
	buf := history.NewAccumulating()

	_, err := ex.Run(context.Background(), buf, "sys", "go", 3)
	require.NoError(t, err)
	result := buf.Entries()[2].Results[0]
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content, "file not found")
}

func TestProviderErrorPropagates(t *testing.T) {
	boom := errors.New("boom")
	script := llmtest.New(llmtest.Fail(boom))
	ex := New(script.Client(), newWorkspace(t))

	_, err := ex.Run(context.Background(), history.NewAccumulating(), "sys", "go", 3)
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
	assert.False(t, errors.Is(err, failure.ErrCancelled))
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ex := New(llmtest.New().Client(), newWorkspace(t))

	_, err := ex.Run(ctx, history.NewAccumulating(), "sys", "go", 3)
	assert.True(t, errors.Is(err, failure.ErrCancelled))
}

func TestDetectLoop(t *testing.T) {
	call := func(name, args string) history.Entry {
		return history.Assistant("", []llm.ToolCall{{ID: "x", Name: name, Arguments: json.RawMessage(args)}})
	}
	a := call("grep", `{"pattern":"a"}`)
	b := call("grep", `{"pattern":"b"}`)
	c := call("glob", `{"pattern":"*"}`)

	assert.True(t, DetectLoop([]history.Entry{a, a, a, a}, 4))
	assert.True(t, DetectLoop([]history.Entry{a, b, a, b}, 4))
	assert.True(t, DetectLoop([]history.Entry{a, b, c, a, b, c}, 6))
	assert.False(t, DetectLoop([]history.Entry{a, b, c, c}, 4))
	assert.False(t, DetectLoop([]history.Entry{a, a}, 4))
}
