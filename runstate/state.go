// Package runstate holds the serializable progress of a run and the stores
// that checkpoint it between steps.
package runstate

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/martinemde/planwright/history"
	"github.com/martinemde/planwright/plan"
)

// Phase is the loop that currently owns the run.
type Phase string

const (
	PhaseResearch  Phase = "research"
	PhaseExecution Phase = "execution"
	PhaseDone      Phase = "done"
	PhaseFailed    Phase = "failed"
)

// Terminal reports whether no loop will pick the run up again.
func (p Phase) Terminal() bool { return p == PhaseDone || p == PhaseFailed }

// HypothesisRecord is one pass through FORMULATE and VALIDATE.
type HypothesisRecord struct {
	Cycle      int    `json:"cycle"`
	Hypothesis string `json:"hypothesis"`
	Valid      bool   `json:"valid"`
	Reason     string `json:"reason,omitempty"`
	Findings   string `json:"findings,omitempty"`
}

// ResearchState is the resumable state of the research loop.
type ResearchState struct {
	State string `json:"state"`
	// FailedAt is the state that was running when the loop failed.
	FailedAt string `json:"failed_at,omitempty"`
	// Hypothesis is the one awaiting validation or research.
	Hypothesis string `json:"hypothesis,omitempty"`
	// Rejections counts consecutive rejected hypotheses.
	Rejections int                `json:"rejections"`
	Cycles     int                `json:"cycles"`
	Hypotheses []HypothesisRecord `json:"hypotheses,omitempty"`
	Degraded   bool               `json:"degraded,omitempty"`
	Reason     string             `json:"reason,omitempty"`
	History    []history.Entry    `json:"history,omitempty"`
}

// ExecutionState is the resumable state of the execution loop.
type ExecutionState struct {
	State    string `json:"state"`
	FailedAt string `json:"failed_at,omitempty"`
	// Attempt is the 1-based attempt at the current atomic task.
	Attempt  int    `json:"attempt"`
	Feedback string `json:"feedback,omitempty"`
	// Note carries findings from optional context exploration.
	Note    string          `json:"note,omitempty"`
	Stale   string          `json:"stale,omitempty"`
	History []history.Entry `json:"history,omitempty"`
	Resets  int             `json:"resets"`
	// Pending is the diff written by APPLY_DIFF and recorded by ADVANCE.
	Pending *plan.AppliedDiff `json:"pending,omitempty"`
}

// FileSnapshot is the content the current atomic task is working against.
type FileSnapshot struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	Hash    string `json:"hash"`
	Exists  bool   `json:"exists"`
}

// RunState is everything needed to pause a run and pick it up later. It is
// owned by exactly one loop at a time.
type RunState struct {
	ID      string `json:"id"`
	Request string `json:"request"`
	Phase   Phase  `json:"phase"`

	CurrentTaskIdx       int `json:"current_task_idx"`
	CurrentAtomicTaskIdx int `json:"current_atomic_task_idx"`

	Plan            *plan.ImplementationPlan `json:"plan,omitempty"`
	ResearchSummary string                   `json:"research_summary,omitempty"`
	LastDiff        *plan.DiffSpec           `json:"last_diff,omitempty"`
	FileSnapshot    *FileSnapshot            `json:"file_snapshot,omitempty"`

	Research  ResearchState  `json:"research"`
	Execution ExecutionState `json:"execution"`

	Diffs    []plan.AppliedDiff `json:"diffs,omitempty"`
	Failures []FailureRecord    `json:"failures,omitempty"`
	// Snapshots maps workspace-relative paths to the content hash the plan
	// was made against, updated as the run writes files.
	Snapshots map[string]string `json:"snapshots,omitempty"`
	Error     string            `json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	// Version is bumped by every successful Store.Save.
	Version int64 `json:"version"`
}

// New starts a research run for request.
func New(request string) *RunState {
	now := time.Now().UTC()
	return &RunState{
		ID:        uuid.NewString(),
		Request:   request,
		Phase:     PhaseResearch,
		Snapshots: make(map[string]string),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewExecution starts a run directly in the execution phase.
func NewExecution(p *plan.ImplementationPlan) *RunState {
	st := New("")
	st.Phase = PhaseExecution
	st.Plan = p
	return st
}

func (s *RunState) Cursor() plan.Cursor {
	return plan.Cursor{TaskIdx: s.CurrentTaskIdx, AtomicTaskIdx: s.CurrentAtomicTaskIdx}
}

func (s *RunState) SetCursor(c plan.Cursor) {
	s.CurrentTaskIdx, s.CurrentAtomicTaskIdx = c.TaskIdx, c.AtomicTaskIdx
}

// MutatedFiles lists the distinct files written so far, in first-write
// order.
func (s *RunState) MutatedFiles() []string {
	seen := make(map[string]bool)
	var out []string
	for _, d := range s.Diffs {
		if !seen[d.FilePath] {
			seen[d.FilePath] = true
			out = append(out, d.FilePath)
		}
	}
	return out
}

// Clone returns a deep copy.
func (s *RunState) Clone() (*RunState, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("clone run state: %w", err)
	}
	var out RunState
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("clone run state: %w", err)
	}
	return &out, nil
}

// Summary is the listing view of a run.
type Summary struct {
	ID        string    `json:"id"`
	Request   string    `json:"request"`
	Phase     Phase     `json:"phase"`
	Tasks     int       `json:"tasks"`
	Diffs     int       `json:"diffs"`
	Failures  int       `json:"failures"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s *RunState) Summary() Summary {
	tasks := 0
	if s.Plan != nil {
		tasks = s.Plan.AtomicTaskCount()
	}
	return Summary{
		ID:        s.ID,
		Request:   s.Request,
		Phase:     s.Phase,
		Tasks:     tasks,
		Diffs:     len(s.Diffs),
		Failures:  len(s.Failures),
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}
