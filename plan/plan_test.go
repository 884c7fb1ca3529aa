package plan

import (
	"testing"

	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinemde/planwright/failure"
)

func twoTaskPlan() *ImplementationPlan {
	return &ImplementationPlan{Tasks: []ImplementationTask{
		{
			FilePath:    "a.go",
			LogicalTask: "rename helper",
			AtomicTasks: []AtomicTask{{Instruction: "a1"}, {Instruction: "a2"}},
		},
		{
			FilePath:    "b.go",
			AtomicTasks: []AtomicTask{{Instruction: "b1"}, {Instruction: "b2"}, {Instruction: "b3"}},
		},
	}}
}

// --- cursor ---

func TestAdvanceVisitsEveryAtomicTaskInOrder(t *testing.T) {
	p := twoTaskPlan()

	var visited []Cursor
	c, done := Normalize(p, Cursor{})
	for !done {
		visited = append(visited, c)
		c, done = Advance(p, c)
	}

	assert.Equal(t, []Cursor{{0, 0}, {0, 1}, {1, 0}, {1, 1}, {1, 2}}, visited)
	assert.Len(t, visited, p.AtomicTaskCount())
	assert.Equal(t, Cursor{TaskIdx: 2, AtomicTaskIdx: 0}, c)
}

func TestAdvanceCarriesIntoNextTask(t *testing.T) {
	p := twoTaskPlan()

	c, done := Advance(p, Cursor{TaskIdx: 0, AtomicTaskIdx: 1})
	require.False(t, done)
	assert.Equal(t, Cursor{TaskIdx: 1, AtomicTaskIdx: 0}, c)

	c, done = Advance(p, Cursor{TaskIdx: 1, AtomicTaskIdx: 2})
	assert.True(t, done)
	assert.Equal(t, Cursor{TaskIdx: 2}, c)
}

func TestNormalizeSkipsEmptyTasksAndClampsNegatives(t *testing.T) {
	p := &ImplementationPlan{Tasks: []ImplementationTask{
		{FilePath: "empty.go"},
		{FilePath: "x.go", AtomicTasks: []AtomicTask{{Instruction: "x"}}},
	}}

	c, done := Normalize(p, Cursor{TaskIdx: -3, AtomicTaskIdx: -1})
	require.False(t, done)
	assert.Equal(t, Cursor{TaskIdx: 1}, c)
}

func TestSequenceOnEmptyPlan(t *testing.T) {
	assert.Empty(t, Sequence(&ImplementationPlan{}))
	assert.Len(t, Sequence(twoTaskPlan()), 5)
}

func TestAt(t *testing.T) {
	p := twoTaskPlan()

	task, atomic, ok := p.At(Cursor{TaskIdx: 1, AtomicTaskIdx: 2})
	require.True(t, ok)
	assert.Equal(t, "b.go", task.FilePath)
	assert.Equal(t, "b3", atomic.Instruction)

	_, _, ok = p.At(Cursor{TaskIdx: 2})
	assert.False(t, ok)
	_, _, ok = p.At(Cursor{TaskIdx: 0, AtomicTaskIdx: 5})
	assert.False(t, ok)
}

// --- validation ---

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		plan *ImplementationPlan
		ok   bool
	}{
		{"valid", twoTaskPlan(), true},
		{"nil", nil, false},
		{"no tasks", &ImplementationPlan{}, false},
		{"no atomic tasks", &ImplementationPlan{Tasks: []ImplementationTask{{FilePath: "a.go"}}}, false},
		{"no file path", &ImplementationPlan{Tasks: []ImplementationTask{{AtomicTasks: []AtomicTask{{Instruction: "x"}}}}}, false},
		{"blank file path", &ImplementationPlan{Tasks: []ImplementationTask{{FilePath: "  ", AtomicTasks: []AtomicTask{{Instruction: "x"}}}}}, false},
		{"empty instruction", &ImplementationPlan{Tasks: []ImplementationTask{{FilePath: "a.go", AtomicTasks: []AtomicTask{{}}}}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.plan.Validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, failure.ErrPlanInvalid)
		})
	}
}

func TestValidateDescribesFields(t *testing.T) {
	err := (&ImplementationPlan{Tasks: []ImplementationTask{{FilePath: "a.go"}}}).Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AtomicTasks")
}

func TestValidateDiffSpec(t *testing.T) {
	assert.NoError(t, ValidateDiffSpec(DiffSpec{TaskDescription: "append"}))
	assert.Error(t, ValidateDiffSpec(DiffSpec{OriginalCodeSnippet: "x"}))
}

// --- codec ---

func TestSaveLoadRoundTripYAMLAndJSON(t *testing.T) {
	fs := afero.NewMemMapFs()
	p := twoTaskPlan()

	for _, path := range []string{"plans/p.yaml", "plans/p.json"} {
		require.NoError(t, Save(fs, path, p))
		got, err := Load(fs, path)
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}

	data, err := afero.ReadFile(fs, "plans/p.yaml")
	require.NoError(t, err)
	assert.Contains(t, string(data), "file_path: a.go")
}

func TestLoadRejectsInvalidPlan(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "bad.json", []byte(`{"tasks": []}`), 0o644))

	_, err := Load(fs, "bad.json")
	assert.ErrorIs(t, err, failure.ErrPlanInvalid)

	_, err = Load(fs, "missing.yaml")
	assert.ErrorIs(t, err, failure.ErrIOFailure)
}

func TestFormatFor(t *testing.T) {
	assert.Equal(t, FormatYAML, FormatFor("x.YML"))
	assert.Equal(t, FormatYAML, FormatFor("x.yaml"))
	assert.Equal(t, FormatJSON, FormatFor("x.json"))
	assert.Equal(t, FormatJSON, FormatFor("plan"))
}

// --- applied diffs ---

func TestNewAppliedDiffPatchReproducesEdit(t *testing.T) {
	before := "package a\n\nfunc A() int { return 1 }\n"
	after := "package a\n\nfunc A() int { return 2 }\n"

	d := NewAppliedDiff(Cursor{}, "a.go", DiffSpec{OriginalCodeSnippet: "return 1", TaskDescription: "bump"}, "return 2", before, after, false)

	dmp := diffmatchpatch.New()
	patches, err := dmp.PatchFromText(d.Patch)
	require.NoError(t, err)
	out, applied := dmp.PatchApply(patches, before)
	assert.Equal(t, after, out)
	for _, ok := range applied {
		assert.True(t, ok)
	}
}

func TestRenderListsTasks(t *testing.T) {
	out := twoTaskPlan().Render()
	assert.Contains(t, out, "1. a.go: rename helper")
	assert.Contains(t, out, "2.3 b3")
	assert.Equal(t, []string{"a.go", "b.go"}, twoTaskPlan().Files())
}
