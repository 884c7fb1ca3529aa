package workspace

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/afero"

	"github.com/martinemde/planwright/failure"
)

const (
	defaultMaxResults = 100
	maxSearchFileSize = 1 << 20
	binarySniffBytes  = 8000
)

// skipDirs are never descended into by Grep or Glob.
var skipDirs = map[string]bool{
	".git":         true,
	".hg":          true,
	".svn":         true,
	"node_modules": true,
}

var errStopWalk = errors.New("stop walk")

// GrepOptions configures Grep.
type GrepOptions struct {
	Path            string `json:"path,omitempty"`
	GlobFilter      string `json:"glob_filter,omitempty"`
	CaseInsensitive bool   `json:"case_insensitive,omitempty"`
	MaxResults      int    `json:"max_results,omitempty"`
}

// Match is one matching line.
type Match struct {
	Path string `json:"path"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

func (m Match) String() string {
	return fmt.Sprintf("%s:%d:%s", m.Path, m.Line, m.Text)
}

// Grep searches file contents with a regular expression. Results are in
// lexical path order, then line order.
func (w *FSWorkspace) Grep(ctx context.Context, pattern string, opts GrepOptions) ([]Match, error) {
	if opts.CaseInsensitive {
		pattern = "(?i)" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("grep: invalid pattern: %w", err)
	}
	if opts.GlobFilter != "" {
		if err := checkGlob(opts.GlobFilter); err != nil {
			return nil, fmt.Errorf("grep: %w", err)
		}
	}
	limit := opts.MaxResults
	if limit <= 0 {
		limit = defaultMaxResults
	}
	start, err := w.resolve(opts.Path)
	if err != nil {
		return nil, err
	}

	var matches []Match
	err = w.walkFiles(ctx, start, func(rel string, info os.FileInfo) error {
		if opts.GlobFilter != "" && !matchFilter(opts.GlobFilter, rel) {
			return nil
		}
		if info.Size() > maxSearchFileSize {
			return nil
		}
		data, err := afero.ReadFile(w.fs, "/"+rel)
		if err != nil {
			return nil
		}
		if isBinary(data) {
			return nil
		}
		for i, line := range strings.Split(string(data), "\n") {
			if !re.MatchString(line) {
				continue
			}
			matches = append(matches, Match{Path: rel, Line: i + 1, Text: line})
			if len(matches) >= limit {
				return errStopWalk
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return matches, nil
}

// Glob returns workspace-relative file paths matching pattern. "**" matches
// any number of path segments.
func (w *FSWorkspace) Glob(pattern string) ([]string, error) {
	pattern = strings.TrimPrefix(path.Clean(strings.TrimSpace(pattern)), "/")
	if err := checkGlob(pattern); err != nil {
		return nil, fmt.Errorf("glob: %w", err)
	}
	var out []string
	err := w.walkFiles(context.Background(), "/", func(rel string, _ os.FileInfo) error {
		if matchGlob(pattern, rel) {
			out = append(out, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (w *FSWorkspace) walkFiles(ctx context.Context, start string, visit func(rel string, info os.FileInfo) error) error {
	err := afero.Walk(w.fs, start, func(name string, info os.FileInfo, err error) error {
		if err != nil {
			if name == start {
				return err
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if info.IsDir() {
			if name != start && skipDirs[info.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if isTempFile(info.Name()) {
			return nil
		}
		return visit(strings.TrimPrefix(name, "/"), info)
	})
	switch {
	case err == nil, errors.Is(err, errStopWalk):
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return failure.Cancelled("search", err)
	case errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("%w: %s", ErrNotFound, strings.TrimPrefix(start, "/"))
	default:
		return failure.IOFailure("search", start, err)
	}
}

// isTempFile reports staging files left by Write.
func isTempFile(name string) bool {
	return strings.HasPrefix(name, ".") && strings.Contains(name, ".tmp-")
}

func isBinary(data []byte) bool {
	sniff := data
	if len(sniff) > binarySniffBytes {
		sniff = sniff[:binarySniffBytes]
	}
	return bytes.IndexByte(sniff, 0) >= 0
}

func checkGlob(pattern string) error {
	for _, seg := range strings.Split(pattern, "/") {
		if seg == "**" {
			continue
		}
		if _, err := path.Match(seg, ""); err != nil {
			return fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}
	}
	return nil
}

// matchFilter applies a grep glob filter: patterns without a slash match the
// base name, others the full relative path.
func matchFilter(filter, rel string) bool {
	if !strings.Contains(filter, "/") {
		ok, _ := path.Match(filter, path.Base(rel))
		return ok
	}
	return matchGlob(filter, rel)
}

func matchGlob(pattern, rel string) bool {
	return matchSegments(strings.Split(pattern, "/"), strings.Split(rel, "/"))
}

func matchSegments(pat, segs []string) bool {
	for len(pat) > 0 {
		if pat[0] == "**" {
			pat = pat[1:]
			if len(pat) == 0 {
				return true
			}
			for i := 0; i <= len(segs); i++ {
				if matchSegments(pat, segs[i:]) {
					return true
				}
			}
			return false
		}
		if len(segs) == 0 {
			return false
		}
		if ok, err := path.Match(pat[0], segs[0]); err != nil || !ok {
			return false
		}
		pat, segs = pat[1:], segs[1:]
	}
	return len(segs) == 0
}
