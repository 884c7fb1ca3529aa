package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinemde/planwright/workspace"
)

func TestArchitectSystemIncludesRequestAndDocs(t *testing.T) {
	ws := workspace.NewMemory()
	require.NoError(t, ws.Write("AGENTS.md", "Run make test before committing."))
	env := NewEnvironment(ws, "gpt-4o", "")

	out, err := ArchitectSystem(Architect{Env: env, Request: "  add a --verbose flag  "})
	require.NoError(t, err)
	assert.Contains(t, out, "<request>\nadd a --verbose flag\n</request>")
	assert.Contains(t, out, "Run make test before committing.")
	assert.Contains(t, out, "Model: gpt-4o")
}

func TestExtractPlanDegraded(t *testing.T) {
	out, err := ExtractPlan(Architect{Degraded: true, Reason: "3 hypotheses rejected in a row"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "Research stopped early: 3 hypotheses rejected in a row."))

	out, err = ExtractPlan(Architect{})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "Write the implementation plan."))
}

func TestGenerateDiffPrompt(t *testing.T) {
	out, err := GenerateDiff(Developer{
		FilePath:    "a.go",
		LogicalTask: "rename helper",
		Step:        "1.2",
		Instruction: "rename foo to bar",
		Exists:      true,
		Content:     "func foo() {}",
		Feedback:    "snippet matched 2 times",
	})
	require.NoError(t, err)
	assert.Contains(t, out, "Step 1.2: rename foo to bar")
	assert.Contains(t, out, "<file>\nfunc foo() {}\n</file>")
	assert.Contains(t, out, "Your previous attempt failed: snippet matched 2 times")

	out, err = GenerateDiff(Developer{FilePath: "new.go", Instruction: "create it"})
	require.NoError(t, err)
	assert.Contains(t, out, "new.go does not exist yet")
	assert.NotContains(t, out, "previous attempt")
}

func TestReplacementRequestVariants(t *testing.T) {
	splice, err := ReplacementRequest(Replacement{FilePath: "a.go", TaskDescription: "x", Snippet: "foo()", Exists: true, Content: "foo()\n"})
	require.NoError(t, err)
	assert.Contains(t, splice, "<original>\nfoo()\n</original>")

	appendOut, err := ReplacementRequest(Replacement{FilePath: "a.go", TaskDescription: "x", Exists: true, Content: "a\n"})
	require.NoError(t, err)
	assert.Contains(t, appendOut, "append to the end")

	create, err := ReplacementRequest(Replacement{FilePath: "a.go", TaskDescription: "x"})
	require.NoError(t, err)
	assert.Contains(t, create, "complete content")
}

func TestDiscoverProjectDocsWalksDown(t *testing.T) {
	ws := workspace.NewMemory()
	require.NoError(t, ws.Write("AGENTS.md", "root rules"))
	require.NoError(t, ws.Write("svc/api/AGENTS.md", "api rules"))
	require.NoError(t, ws.Write("other/AGENTS.md", "unrelated"))

	docs := DiscoverProjectDocs(ws, "svc/api")
	assert.Contains(t, docs, "root rules")
	assert.Contains(t, docs, "# svc/api/AGENTS.md")
	assert.NotContains(t, docs, "unrelated")
	assert.Less(t, strings.Index(docs, "root rules"), strings.Index(docs, "api rules"))

	assert.Equal(t, []string{"."}, pathHierarchy("../x"))
}

func TestDiscoverProjectDocsCapsSize(t *testing.T) {
	ws := workspace.NewMemory()
	require.NoError(t, ws.Write("AGENTS.md", strings.Repeat("a", maxProjectDocBytes+10)))
	docs := DiscoverProjectDocs(ws, "")
	assert.Contains(t, docs, "[Project instructions truncated at 32KB]")
}
