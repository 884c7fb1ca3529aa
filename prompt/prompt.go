// Package prompt renders the instructions sent to the reasoning capability
// at each step of the research and execution loops.
package prompt

import (
	"strings"
	"text/template"
)

var templates = template.Must(template.New("prompts").Funcs(template.FuncMap{
	"trim": strings.TrimSpace,
	"nl":   endWithNewline,
}).Parse(`
{{define "architect_system"}}You are a software architect. Your job is to understand a code base well enough to turn a change request into an implementation plan that another engineer will carry out one atomic step at a time.

You work in cycles: state a hypothesis about what you still need to know, judge whether it is worth investigating, investigate it with the read-only tools, and repeat. When you know enough, you write the plan.

{{.Env.Block}}
{{- if .Env.ProjectDocs}}

<project_instructions>
{{.Env.ProjectDocs}}
</project_instructions>
{{- end}}

<request>
{{trim .Request}}
</request>{{end}}

{{define "formulate"}}State the single most important open question about the code base that stands between you and a complete implementation plan, phrased as a testable hypothesis (for example "request handlers are registered in server/routes.go").
If you already know enough to write the plan, return an empty hypothesis.{{end}}

{{define "validate"}}Hypothesis: {{trim .Hypothesis}}

Decide whether investigating this hypothesis is worthwhile: it must be relevant to the request, not already answered by the research so far, and checkable by reading the code. Answer with is_valid and a one-sentence reason.{{end}}

{{define "research"}}Investigate this hypothesis using the tools: {{trim .Hypothesis}}

Read only what you need. When you are done, reply without calling tools and summarize the concrete findings: file paths, function names, and the code facts that confirm or refute the hypothesis.{{end}}

{{define "extract_plan"}}{{if .Degraded}}Research stopped early: {{.Reason}}. Work with what you have learned so far.

{{end}}Write the implementation plan.
- research_summary: what you learned about the code base that the implementer needs.
- tasks: one entry per file to change, in the order the changes must be made. file_path is relative to the workspace root. logical_task says what the change to that file achieves.
- atomic_tasks: small ordered edits within the file. Each instruction must be specific enough to carry out without further research, and each must touch a single contiguous region of the file.
Only include files that need to change. A file that does not exist yet will be created.{{end}}

{{define "developer_system"}}You are a software engineer carrying out an implementation plan one atomic task at a time. Each edit replaces one exact snippet of the current file, so snippets must be copied verbatim from the file as shown, including whitespace.

{{.Env.Block}}
{{- if .Env.ProjectDocs}}

<project_instructions>
{{.Env.ProjectDocs}}
</project_instructions>
{{- end}}
{{- if .Summary}}

<research_summary>
{{trim .Summary}}
</research_summary>
{{- end}}
{{- if .Plan}}

<implementation_plan>
{{.Plan}}
</implementation_plan>
{{- end}}{{end}}

{{define "gather"}}Before editing {{.FilePath}} you may look at related code with the read-only tools.
Task: {{trim .LogicalTask}}
Step: {{trim .Instruction}}
When you have what you need, reply without calling tools with a short note of anything the edit must take into account.{{end}}

{{define "generate_diff"}}File: {{.FilePath}}
Task: {{trim .LogicalTask}}
Step {{.Step}}: {{trim .Instruction}}
{{- if .AdditionalContext}}
Context: {{trim .AdditionalContext}}
{{- end}}
{{- if .Stale}}

Warning: {{.Stale}}
{{- end}}

{{if .Exists}}Current content of {{.FilePath}}:
<file>
{{nl .Content}}</file>{{else}}{{.FilePath}} does not exist yet. It will be created.{{end}}
{{- if .Feedback}}

Your previous attempt failed: {{.Feedback}}
Pick a snippet that appears exactly once in the current content.
{{- end}}

Describe the edit. original_code_snippet is the exact text to replace, copied from the file above; it must occur exactly once. Leave it empty to create the file or to append to the end of it. task_description says precisely what the replacement must do.{{end}}

{{define "replacement"}}File: {{.FilePath}}
Change: {{trim .TaskDescription}}
{{if .Snippet}}
Replace exactly this text:
<original>
{{nl .Snippet}}</original>

Surrounding file content:
<file>
{{nl .Content}}</file>

Return in replacement the text that takes the place of the original. It is spliced in verbatim, so include every line of the original you want to keep, with its indentation.
{{- else if .Exists}}
Current content:
<file>
{{nl .Content}}</file>

Return in replacement the text to append to the end of the file.
{{- else}}
The file does not exist yet. Return in replacement its complete content.
{{- end}}{{end}}
`))

// Architect is the data for every research prompt.
type Architect struct {
	Env        Environment
	Request    string
	Hypothesis string
	Degraded   bool
	Reason     string
}

// Developer is the data for every execution prompt.
type Developer struct {
	Env               Environment
	Summary           string
	Plan              string
	FilePath          string
	LogicalTask       string
	Step              string
	Instruction       string
	AdditionalContext string
	Exists            bool
	Content           string
	Stale             string
	Feedback          string
}

// Replacement is the data for the replacement-text request.
type Replacement struct {
	FilePath        string
	TaskDescription string
	Snippet         string
	Exists          bool
	Content         string
}

func endWithNewline(s string) string {
	if s == "" || strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}

func render(name string, data any) (string, error) {
	var sb strings.Builder
	if err := templates.ExecuteTemplate(&sb, name, data); err != nil {
		return "", err
	}
	return strings.TrimSpace(sb.String()), nil
}

func ArchitectSystem(d Architect) (string, error) { return render("architect_system", d) }
func Formulate() (string, error)                  { return render("formulate", nil) }
func Validate(d Architect) (string, error)        { return render("validate", d) }
func Research(d Architect) (string, error)        { return render("research", d) }
func ExtractPlan(d Architect) (string, error)     { return render("extract_plan", d) }

func DeveloperSystem(d Developer) (string, error) { return render("developer_system", d) }
func Gather(d Developer) (string, error)          { return render("gather", d) }
func GenerateDiff(d Developer) (string, error)    { return render("generate_diff", d) }

func ReplacementRequest(d Replacement) (string, error) { return render("replacement", d) }
