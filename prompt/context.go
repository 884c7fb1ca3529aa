package prompt

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/martinemde/planwright/workspace"
)

const maxProjectDocBytes = 32 * 1024

// instructionFiles are loaded from every directory between the workspace
// root and the directory of interest.
var instructionFiles = []string{"AGENTS.md", "CLAUDE.md"}

// Environment describes where a run is operating.
type Environment struct {
	Root        string
	Model       string
	Date        string
	ProjectDocs string
}

// NewEnvironment collects the environment for ws. dir narrows project
// instruction discovery to a subdirectory; empty means the root only.
func NewEnvironment(ws workspace.Workspace, model, dir string) Environment {
	return Environment{
		Root:        ws.Root(),
		Model:       model,
		Date:        time.Now().Format("2006-01-02"),
		ProjectDocs: DiscoverProjectDocs(ws, dir),
	}
}

// Block renders the <environment> section shared by all system prompts.
func (e Environment) Block() string {
	var sb strings.Builder
	sb.WriteString("<environment>\n")
	fmt.Fprintf(&sb, "Workspace root: %s\n", e.Root)
	if e.Date != "" {
		fmt.Fprintf(&sb, "Today's date: %s\n", e.Date)
	}
	if e.Model != "" {
		fmt.Fprintf(&sb, "Model: %s\n", e.Model)
	}
	sb.WriteString("</environment>")
	return sb.String()
}

// DiscoverProjectDocs loads instruction files from the workspace root down
// to dir, capped at 32KB in total.
func DiscoverProjectDocs(ws workspace.Workspace, dir string) string {
	var docs []string
	total := 0
	for _, d := range pathHierarchy(dir) {
		for _, name := range instructionFiles {
			p := name
			if d != "." {
				p = path.Join(d, name)
			}
			content, err := ws.Read(p)
			if err != nil {
				continue
			}
			remaining := maxProjectDocBytes - total
			if remaining <= 0 {
				docs = append(docs, "[Project instructions truncated at 32KB]")
				return strings.Join(docs, "\n\n---\n\n")
			}
			if len(content) > remaining {
				content = content[:remaining] + "\n[Project instructions truncated at 32KB]"
			}
			docs = append(docs, fmt.Sprintf("# %s\n\n%s", p, content))
			total += len(content)
		}
	}
	return strings.Join(docs, "\n\n---\n\n")
}

// pathHierarchy returns ".", then each ancestor of dir down to dir itself.
func pathHierarchy(dir string) []string {
	dir = path.Clean(strings.TrimPrefix(dir, "/"))
	dirs := []string{"."}
	if dir == "." || dir == "" || strings.HasPrefix(dir, "..") {
		return dirs
	}
	current := ""
	for _, part := range strings.Split(dir, "/") {
		current = path.Join(current, part)
		dirs = append(dirs, current)
	}
	return dirs
}
