package developer

import (
	"strings"

	"github.com/martinemde/planwright/failure"
	"github.com/martinemde/planwright/plan"
)

// Locate returns the byte offset of the single occurrence of snippet in
// content. Zero occurrences is DiffNotFound and more than one is
// DiffAmbiguous; path is only used to label the error.
func Locate(path, content, snippet string) (int, error) {
	switch n := strings.Count(content, snippet); {
	case n == 0:
		return -1, failure.DiffNotFound(path, snippet)
	case n > 1:
		return -1, failure.DiffAmbiguous(path, snippet, n)
	}
	return strings.Index(content, snippet), nil
}

// Splice applies spec to content and returns the new content. Everything
// outside the matched span is kept byte for byte. With an empty snippet the
// replacement becomes the whole file when the file does not exist, and is
// appended otherwise, on a new line if the file does not end with one.
//
// Splice never touches storage; on error content is simply not used.
func Splice(path, content string, exists bool, spec plan.DiffSpec, replacement string) (string, error) {
	snippet := spec.OriginalCodeSnippet
	if snippet == "" {
		if !exists {
			return replacement, nil
		}
		if content != "" && !strings.HasSuffix(content, "\n") {
			content += "\n"
		}
		return content + replacement, nil
	}

	idx, err := Locate(path, content, snippet)
	if err != nil {
		return "", err
	}
	return content[:idx] + replacement + content[idx+len(snippet):], nil
}
