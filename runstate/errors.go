package runstate

import (
	"errors"
	"fmt"
	"time"

	"github.com/martinemde/planwright/failure"
	"github.com/martinemde/planwright/plan"
)

// FailureRecord is an error captured into the run state.
type FailureRecord struct {
	Kind     failure.Kind `json:"kind"`
	Op       string       `json:"op,omitempty"`
	Path     string       `json:"path,omitempty"`
	Cursor   *plan.Cursor `json:"cursor,omitempty"`
	Attempts int          `json:"attempts,omitempty"`
	Message  string       `json:"message"`
	Fatal    bool         `json:"fatal"`
	Time     time.Time    `json:"time"`
}

// NewFailureRecord captures err. cursor may be nil outside execution.
func NewFailureRecord(err error, cursor *plan.Cursor, attempts int, fatal bool) FailureRecord {
	rec := FailureRecord{
		Kind:     failure.KindOf(err),
		Cursor:   cursor,
		Attempts: attempts,
		Message:  err.Error(),
		Fatal:    fatal,
		Time:     time.Now().UTC(),
	}
	var fe *failure.Error
	if errors.As(err, &fe) {
		rec.Op, rec.Path = fe.Op, fe.Path
	}
	return rec
}

// RunError halts a run. It carries the run state as of the failure so the
// caller can inspect or resume it.
type RunError struct {
	State *RunState
	Err   error
}

func (e *RunError) Error() string {
	if e.State == nil {
		return fmt.Sprintf("run failed: %v", e.Err)
	}
	return fmt.Sprintf("run %s failed in %s: %v", e.State.ID, e.State.Phase, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// StateOf extracts the run state from a RunError anywhere in err's chain.
func StateOf(err error) (*RunState, bool) {
	var re *RunError
	if errors.As(err, &re) && re.State != nil {
		return re.State, true
	}
	return nil, false
}
