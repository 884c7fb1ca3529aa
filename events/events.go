// Package events delivers typed progress events from a run to the host.
package events

import (
	"sync"
	"time"
)

// Kind identifies the type of run event.
type Kind string

const (
	RunStart        Kind = "run_start"
	RunEnd          Kind = "run_end"
	PhaseStart      Kind = "phase_start"
	PhaseEnd        Kind = "phase_end"
	StateTransition Kind = "state_transition"
	Hypothesis      Kind = "hypothesis"
	Verdict         Kind = "verdict"
	ToolCallStart   Kind = "tool_call_start"
	ToolCallEnd     Kind = "tool_call_end"
	LoopDetection   Kind = "loop_detection"
	DiffApplied     Kind = "diff_applied"
	Retry           Kind = "retry"
	Checkpoint      Kind = "checkpoint"
	Warning         Kind = "warning"
	Error           Kind = "error"
)

// Event is a typed event emitted by the loops.
type Event struct {
	Kind      Kind                   `json:"kind"`
	Timestamp time.Time              `json:"timestamp"`
	RunID     string                 `json:"run_id"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Emitter delivers events over a buffered channel. A nil *Emitter is valid
// and drops everything.
type Emitter struct {
	runID  string
	ch     chan Event
	closed bool
	mu     sync.Mutex
}

func NewEmitter(runID string, bufferSize int) *Emitter {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Emitter{
		runID: runID,
		ch:    make(chan Event, bufferSize),
	}
}

// RunID returns the run the emitter is bound to.
func (e *Emitter) RunID() string {
	if e == nil {
		return ""
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runID
}

// Bind sets the run ID stamped on subsequent events.
func (e *Emitter) Bind(runID string) {
	if e == nil {
		return
	}
	e.mu.Lock()
	e.runID = runID
	e.mu.Unlock()
}

// Emit never blocks: when the channel is full the event is dropped.
func (e *Emitter) Emit(kind Kind, data map[string]interface{}) {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	event := Event{
		Kind:      kind,
		Timestamp: time.Now(),
		RunID:     e.runID,
		Data:      data,
	}
	select {
	case e.ch <- event:
	default:
	}
}

// Events returns the read-only event channel.
func (e *Emitter) Events() <-chan Event {
	return e.ch
}

// Close closes the event channel. Safe to call multiple times.
func (e *Emitter) Close() {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.ch)
	}
}
