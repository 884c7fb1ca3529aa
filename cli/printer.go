package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/martinemde/planwright/events"
)

// printer renders the event stream as progress lines.
type printer struct {
	w       io.Writer
	verbose bool
	done    chan struct{}
}

func newPrinter(w io.Writer, em *events.Emitter, verbose bool) *printer {
	p := &printer{w: w, verbose: verbose, done: make(chan struct{})}
	go func() {
		defer close(p.done)
		for ev := range em.Events() {
			if line := p.format(ev); line != "" {
				fmt.Fprintln(p.w, line)
			}
		}
	}()
	return p
}

// wait blocks until the event channel is closed and drained.
func (p *printer) wait() { <-p.done }

func (p *printer) format(ev events.Event) string {
	d := ev.Data
	switch ev.Kind {
	case events.RunStart:
		if d["resumed"] == true {
			return fmt.Sprintf("Resuming run %s (%v)", ev.RunID, d["phase"])
		}
		return fmt.Sprintf("Run %s", ev.RunID)
	case events.PhaseStart:
		return fmt.Sprintf("== %v ==", d["phase"])
	case events.Hypothesis:
		return fmt.Sprintf("? hypothesis %v: %s", d["cycle"], oneLine(d["hypothesis"]))
	case events.Verdict:
		if d["is_valid"] == true {
			return "  accepted"
		}
		return fmt.Sprintf("  rejected: %s", oneLine(d["reason"]))
	case events.ToolCallStart:
		return fmt.Sprintf("  > %v %s", d["tool_name"], oneLine(d["arguments"]))
	case events.DiffApplied:
		verb := "edited"
		if d["created"] == true {
			verb = "created"
		}
		return fmt.Sprintf("+ %v %s %v", d["step"], verb, d["file_path"])
	case events.Retry:
		return fmt.Sprintf("! retrying %v: %s", d["step"], oneLine(d["error"], d["reason"]))
	case events.Warning, events.LoopDetection:
		return fmt.Sprintf("! %s", oneLine(d["message"]))
	case events.Error:
		return fmt.Sprintf("x %v failed in %v: %s", d["phase"], d["state"], oneLine(d["error"]))
	case events.PhaseEnd:
		if d["phase"] == "research" {
			return fmt.Sprintf("   plan has %v task(s)", d["tasks"])
		}
		return ""
	case events.StateTransition:
		if p.verbose {
			return fmt.Sprintf("  %v -> %v", d["from"], d["to"])
		}
	case events.Checkpoint:
		if p.verbose {
			return fmt.Sprintf("  checkpoint %s", oneLine(d["state"], d["phase"]))
		}
	}
	return ""
}

// oneLine returns the first non-nil value collapsed to a single line of at
// most 100 characters.
func oneLine(vals ...any) string {
	for _, v := range vals {
		if v == nil {
			continue
		}
		s := strings.Join(strings.Fields(fmt.Sprint(v)), " ")
		if len(s) > 100 {
			s = s[:97] + "..."
		}
		return s
	}
	return ""
}
