package workspace

import (
	"fmt"
	"strings"
)

// TruncationMode specifies how tool output is shortened.
type TruncationMode string

const (
	TruncateHeadTail TruncationMode = "head_tail"
	TruncateTail     TruncationMode = "tail"
)

const fallbackCharLimit = 20000

// DefaultToolCharLimits caps each tool's output before it enters a history
// buffer.
var DefaultToolCharLimits = map[string]int{
	"read_file":      50000,
	"list_directory": 20000,
	"grep":           20000,
	"glob":           20000,
}

var DefaultTruncationModes = map[string]TruncationMode{
	"read_file":      TruncateHeadTail,
	"list_directory": TruncateTail,
	"grep":           TruncateTail,
	"glob":           TruncateTail,
}

// DefaultToolLineLimits apply after character truncation.
var DefaultToolLineLimits = map[string]int{
	"list_directory": 500,
	"grep":           200,
	"glob":           500,
}

// TruncateOutput applies character-based truncation.
func TruncateOutput(output string, maxChars int, mode TruncationMode) string {
	if maxChars <= 0 || len(output) <= maxChars {
		return output
	}
	removed := len(output) - maxChars
	if mode == TruncateTail {
		return fmt.Sprintf("[WARNING: Tool output was truncated. First %d characters were removed. "+
			"Narrow the query to see the rest.]\n\n", removed) +
			output[len(output)-maxChars:]
	}
	half := maxChars / 2
	return output[:half] +
		fmt.Sprintf("\n\n[WARNING: Tool output was truncated. %d characters were removed from the middle. "+
			"Re-run the tool with an offset or a narrower query to see specific parts.]\n\n", removed) +
		output[len(output)-half:]
}

// TruncateLines keeps the first and last lines of output.
func TruncateLines(output string, maxLines int) string {
	lines := strings.Split(output, "\n")
	if maxLines <= 0 || len(lines) <= maxLines {
		return output
	}
	headCount := maxLines / 2
	tailCount := maxLines - headCount
	omitted := len(lines) - headCount - tailCount
	return strings.Join(lines[:headCount], "\n") +
		fmt.Sprintf("\n[... %d lines omitted ...]\n", omitted) +
		strings.Join(lines[len(lines)-tailCount:], "\n")
}

// TruncateToolOutput runs character truncation then line truncation for
// toolName. Entries in the override maps win over the defaults.
func TruncateToolOutput(output, toolName string, charLimits, lineLimits map[string]int) string {
	maxChars, ok := charLimits[toolName]
	if !ok {
		maxChars, ok = DefaultToolCharLimits[toolName]
		if !ok {
			maxChars = fallbackCharLimit
		}
	}
	mode, ok := DefaultTruncationModes[toolName]
	if !ok {
		mode = TruncateHeadTail
	}
	result := TruncateOutput(output, maxChars, mode)

	maxLines, ok := lineLimits[toolName]
	if !ok {
		maxLines = DefaultToolLineLimits[toolName]
	}
	return TruncateLines(result, maxLines)
}
