// Package plan defines the implementation plan handed from the research loop
// to the execution loop, and the cursor arithmetic used to walk it.
package plan

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/martinemde/planwright/failure"
)

// ImplementationPlan is an ordered list of file-scoped tasks. It is produced
// once by research and then treated as read-only.
type ImplementationPlan struct {
	Tasks []ImplementationTask `json:"tasks" yaml:"tasks" validate:"required,min=1,dive" jsonschema_description:"Ordered file-scoped tasks. Each task edits exactly one file."`
}

// ImplementationTask groups the atomic edits that target a single file.
type ImplementationTask struct {
	FilePath    string       `json:"file_path" yaml:"file_path" validate:"required" jsonschema_description:"Workspace-relative path of the file this task modifies or creates."`
	LogicalTask string       `json:"logical_task" yaml:"logical_task" jsonschema_description:"Human-readable summary of the change to this file."`
	AtomicTasks []AtomicTask `json:"atomic_tasks" yaml:"atomic_tasks" validate:"required,min=1,dive" jsonschema_description:"Ordered minimal edits. Each one must be achievable by replacing a single code snippet."`
}

// AtomicTask is the smallest unit of change.
type AtomicTask struct {
	Instruction       string `json:"instruction" yaml:"instruction" validate:"required" jsonschema_description:"Precise description of one small edit."`
	AdditionalContext string `json:"additional_context,omitempty" yaml:"additional_context,omitempty" jsonschema_description:"Optional supporting detail gathered during research."`
}

// DiffSpec identifies the code to replace for one atomic task. An empty
// OriginalCodeSnippet means append to the file, or create it.
type DiffSpec struct {
	OriginalCodeSnippet string `json:"original_code_snippet" jsonschema_description:"Exact text copied from the current file that the edit replaces. Must occur exactly once. Empty to append to the file or create it."`
	TaskDescription     string `json:"task_description" validate:"required" jsonschema_description:"What the replacement code must accomplish."`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the structural invariants of the plan: at least one task,
// every task naming a file and carrying at least one atomic task, and every
// atomic task carrying an instruction.
func (p *ImplementationPlan) Validate() error {
	if p == nil {
		return failure.PlanInvalid("plan is missing", nil)
	}
	if err := validate.Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return failure.PlanInvalid(describe(verrs), err)
		}
		return failure.PlanInvalid("plan could not be validated", err)
	}
	for i, t := range p.Tasks {
		if strings.TrimSpace(t.FilePath) == "" {
			return failure.PlanInvalid(fmt.Sprintf("task %d has a blank file path", i), nil)
		}
		for j, a := range t.AtomicTasks {
			if strings.TrimSpace(a.Instruction) == "" {
				return failure.PlanInvalid(fmt.Sprintf("task %d atomic task %d has a blank instruction", i, j), nil)
			}
		}
	}
	return nil
}

// ValidateDiffSpec checks a DiffSpec returned by the reasoning capability.
func ValidateDiffSpec(d DiffSpec) error {
	if strings.TrimSpace(d.TaskDescription) == "" {
		return errors.New("task_description is required")
	}
	return nil
}

func describe(verrs validator.ValidationErrors) string {
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		ns := strings.TrimPrefix(fe.Namespace(), "ImplementationPlan.")
		switch fe.Tag() {
		case "required":
			parts = append(parts, ns+" is required")
		case "min":
			parts = append(parts, fmt.Sprintf("%s needs at least %s entries", ns, fe.Param()))
		default:
			parts = append(parts, fmt.Sprintf("%s failed %s", ns, fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}

// AtomicTaskCount returns the total number of atomic tasks across all tasks.
func (p *ImplementationPlan) AtomicTaskCount() int {
	n := 0
	for _, t := range p.Tasks {
		n += len(t.AtomicTasks)
	}
	return n
}

// At returns the task and atomic task addressed by c.
func (p *ImplementationPlan) At(c Cursor) (ImplementationTask, AtomicTask, bool) {
	if c.TaskIdx < 0 || c.TaskIdx >= len(p.Tasks) {
		return ImplementationTask{}, AtomicTask{}, false
	}
	task := p.Tasks[c.TaskIdx]
	if c.AtomicTaskIdx < 0 || c.AtomicTaskIdx >= len(task.AtomicTasks) {
		return task, AtomicTask{}, false
	}
	return task, task.AtomicTasks[c.AtomicTaskIdx], true
}

// Files returns the distinct file paths in plan order.
func (p *ImplementationPlan) Files() []string {
	seen := make(map[string]bool)
	var files []string
	for _, t := range p.Tasks {
		if !seen[t.FilePath] {
			seen[t.FilePath] = true
			files = append(files, t.FilePath)
		}
	}
	return files
}

// Render formats the plan as a numbered outline for prompts and terminals.
func (p *ImplementationPlan) Render() string {
	var sb strings.Builder
	for i, t := range p.Tasks {
		fmt.Fprintf(&sb, "%d. %s", i+1, t.FilePath)
		if t.LogicalTask != "" {
			fmt.Fprintf(&sb, ": %s", t.LogicalTask)
		}
		sb.WriteString("\n")
		for j, a := range t.AtomicTasks {
			fmt.Fprintf(&sb, "   %d.%d %s\n", i+1, j+1, a.Instruction)
			if a.AdditionalContext != "" {
				fmt.Fprintf(&sb, "       context: %s\n", a.AdditionalContext)
			}
		}
	}
	return sb.String()
}
