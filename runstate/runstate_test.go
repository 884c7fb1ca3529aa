package runstate

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinemde/planwright/failure"
	"github.com/martinemde/planwright/history"
	"github.com/martinemde/planwright/plan"
)

func samplePlan() *plan.ImplementationPlan {
	return &plan.ImplementationPlan{Tasks: []plan.ImplementationTask{
		{FilePath: "a.py", AtomicTasks: []plan.AtomicTask{{Instruction: "T1"}, {Instruction: "T2"}}},
		{FilePath: "b.py", AtomicTasks: []plan.AtomicTask{{Instruction: "T3"}}},
	}}
}

func sampleState() *RunState {
	st := New("add a flag")
	st.Plan = samplePlan()
	st.Phase = PhaseExecution
	st.SetCursor(plan.Cursor{TaskIdx: 0, AtomicTaskIdx: 1})
	st.Research.History = []history.Entry{history.User("add a flag")}
	st.Snapshots["a.py"] = "abc"
	st.Diffs = []plan.AppliedDiff{
		{FilePath: "a.py"}, {FilePath: "a.py"}, {FilePath: "b.py"},
	}
	return st
}

func TestNewRunState(t *testing.T) {
	st := New("rename foo")
	assert.NotEmpty(t, st.ID)
	assert.Equal(t, PhaseResearch, st.Phase)
	assert.Equal(t, plan.Cursor{}, st.Cursor())
	assert.False(t, st.Phase.Terminal())

	ex := NewExecution(samplePlan())
	assert.Equal(t, PhaseExecution, ex.Phase)
	assert.NotEqual(t, st.ID, ex.ID)
}

func TestMutatedFilesAndSummary(t *testing.T) {
	st := sampleState()
	assert.Equal(t, []string{"a.py", "b.py"}, st.MutatedFiles())

	sum := st.Summary()
	assert.Equal(t, 3, sum.Tasks)
	assert.Equal(t, 3, sum.Diffs)
	assert.Equal(t, PhaseExecution, sum.Phase)
}

func TestCloneIsDeep(t *testing.T) {
	st := sampleState()
	c, err := st.Clone()
	require.NoError(t, err)

	c.Plan.Tasks[0].FilePath = "changed.py"
	c.Snapshots["a.py"] = "zzz"
	assert.Equal(t, "a.py", st.Plan.Tasks[0].FilePath)
	assert.Equal(t, "abc", st.Snapshots["a.py"])
	assert.Equal(t, st.Cursor(), c.Cursor())
}

func TestFailureRecordAndRunError(t *testing.T) {
	cur := plan.Cursor{TaskIdx: 1}
	rec := NewFailureRecord(failure.DiffNotFound("b.py", "foo()"), &cur, 2, true)
	assert.Equal(t, failure.KindDiffNotFound, rec.Kind)
	assert.Equal(t, "apply_diff", rec.Op)
	assert.Equal(t, "b.py", rec.Path)
	assert.Equal(t, 2, rec.Attempts)

	st := sampleState()
	err := error(&RunError{State: st, Err: failure.IOFailure("write", "a.py", errors.New("disk full"))})
	assert.True(t, errors.Is(err, failure.ErrIOFailure))
	got, ok := StateOf(err)
	require.True(t, ok)
	assert.Equal(t, st.ID, got.ID)
	assert.Contains(t, err.Error(), "failed in execution")

	_, ok = StateOf(errors.New("plain"))
	assert.False(t, ok)
}

func storeContract(t *testing.T, store Store) {
	ctx := context.Background()
	st := sampleState()

	require.NoError(t, store.Save(ctx, st))
	assert.EqualValues(t, 1, st.Version)

	loaded, err := store.Load(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, st.Request, loaded.Request)
	assert.Equal(t, st.Cursor(), loaded.Cursor())
	assert.Equal(t, st.Plan, loaded.Plan)
	assert.Equal(t, "abc", loaded.Snapshots["a.py"])
	require.Len(t, loaded.Research.History, 1)
	assert.Equal(t, "add a flag", loaded.Research.History[0].Text)

	// A stale copy cannot overwrite newer progress.
	stale, err := store.Load(ctx, st.ID)
	require.NoError(t, err)
	st.SetCursor(plan.Cursor{TaskIdx: 1})
	require.NoError(t, store.Save(ctx, st))
	assert.EqualValues(t, 2, st.Version)
	err = store.Save(ctx, stale)
	assert.ErrorIs(t, err, ErrConflict)
	assert.EqualValues(t, 1, stale.Version)

	other := New("second run")
	require.NoError(t, store.Save(ctx, other))
	runs, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, runs, 2)

	require.NoError(t, store.Delete(ctx, other.ID))
	_, err = store.Load(ctx, other.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.Delete(ctx, other.ID), ErrNotFound)
}

func TestMemoryStore(t *testing.T) {
	storeContract(t, NewMemoryStore())
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	st := sampleState()
	require.NoError(t, store.Save(ctx, st))

	st.Plan.Tasks[0].FilePath = "mutated.py"
	loaded, err := store.Load(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, "a.py", loaded.Plan.Tasks[0].FilePath)
}

func TestSQLiteStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "runs.db")
	store, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	storeContract(t, store)
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "runs.db")

	store, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	st := sampleState()
	require.NoError(t, store.Save(ctx, st))
	require.NoError(t, store.Close())

	reopened, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer reopened.Close()
	loaded, err := reopened.Load(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, st.Version, loaded.Version)
	assert.Equal(t, plan.Cursor{TaskIdx: 0, AtomicTaskIdx: 1}, loaded.Cursor())
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()
	s, closeFn, err := OpenStore(ctx, "memory", "")
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)
	assert.NoError(t, closeFn())

	_, _, err = OpenStore(ctx, "postgres", "")
	assert.Error(t, err)
}
