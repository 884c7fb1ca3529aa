package workspace

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinemde/planwright/failure"
)

func seed(t *testing.T, files map[string]string) *FSWorkspace {
	t.Helper()
	ws := NewMemory()
	for p, content := range files {
		require.NoError(t, ws.Write(p, content))
	}
	return ws
}

func TestReadMissingFile(t *testing.T) {
	ws := NewMemory()
	_, err := ws.Read("nope.go")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, ws.Exists("nope.go"))
}

func TestWriteCreatesParentsAndLeavesNoTempFiles(t *testing.T) {
	ws := NewMemory()
	require.NoError(t, ws.Write("pkg/sub/a.go", "package sub\n"))

	got, err := ws.Read("pkg/sub/a.go")
	require.NoError(t, err)
	assert.Equal(t, "package sub\n", got)

	require.NoError(t, ws.Write("pkg/sub/a.go", "package sub // v2\n"))
	entries, err := ws.List("pkg/sub")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a.go", entries[0].Name)

	got, err = ws.Read("pkg/sub/a.go")
	require.NoError(t, err)
	assert.Equal(t, "package sub // v2\n", got)
}

func TestWriteFailureKeepsOriginal(t *testing.T) {
	mem := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(mem, "/a.go", []byte("original"), 0o644))
	ws := New(afero.NewReadOnlyFs(mem), "/")

	err := ws.Write("a.go", "replacement")
	require.Error(t, err)
	assert.True(t, errors.Is(err, failure.ErrIOFailure))

	got, err := ws.Read("a.go")
	require.NoError(t, err)
	assert.Equal(t, "original", got)
}

func TestWriteOnDisk(t *testing.T) {
	dir := t.TempDir()
	ws, err := NewOS(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n"), 0o600))
	require.NoError(t, ws.Write("main.go", "package main\n\nfunc main() {}\n"))

	data, err := os.ReadFile(filepath.Join(dir, "main.go"))
	require.NoError(t, err)
	assert.Equal(t, "package main\n\nfunc main() {}\n", string(data))

	info, err := os.Stat(filepath.Join(dir, "main.go"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	abs, err := ws.Read(filepath.Join(dir, "main.go"))
	require.NoError(t, err)
	assert.Contains(t, abs, "func main")
}

func TestPathsCannotEscapeRoot(t *testing.T) {
	ws := NewMemory()
	_, err := ws.Read("../etc/passwd")
	assert.True(t, errors.Is(err, ErrOutsideRoot))

	err = ws.Write("a/../../x", "x")
	assert.True(t, errors.Is(err, failure.ErrIOFailure))
	assert.True(t, errors.Is(err, ErrOutsideRoot))

	rel, err := ws.Rel("/src/./a.go")
	require.NoError(t, err)
	assert.Equal(t, "src/a.go", rel)
}

func TestGrep(t *testing.T) {
	ws := seed(t, map[string]string{
		"a.go":          "package a\nfunc Hello() {}\n",
		"b/b.go":        "package b\n// hello there\n",
		"b/notes.md":    "Hello docs\n",
		".git/config":   "Hello from git\n",
		"bin/blob.data": "Hello\x00binary",
	})
	ctx := context.Background()

	matches, err := ws.Grep(ctx, "Hello", GrepOptions{})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "a.go:2:func Hello() {}", matches[0].String())
	assert.Equal(t, "b/notes.md", matches[1].Path)

	matches, err = ws.Grep(ctx, "hello", GrepOptions{CaseInsensitive: true, GlobFilter: "*.go"})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "b/b.go", matches[1].Path)

	matches, err = ws.Grep(ctx, "package", GrepOptions{Path: "b"})
	require.NoError(t, err)
	require.Len(t, matches, 1)

	matches, err = ws.Grep(ctx, "(?i)hello", GrepOptions{MaxResults: 1})
	require.NoError(t, err)
	assert.Len(t, matches, 1)

	_, err = ws.Grep(ctx, "(", GrepOptions{})
	assert.Error(t, err)
}

func TestGrepHonorsCancellation(t *testing.T) {
	ws := seed(t, map[string]string{"a.go": "x"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ws.Grep(ctx, "x", GrepOptions{})
	assert.True(t, errors.Is(err, failure.ErrCancelled))
}

func TestGlob(t *testing.T) {
	ws := seed(t, map[string]string{
		"main.go":              "",
		"internal/x/x.go":      "",
		"internal/x/x_test.go": "",
		"README.md":            "",
	})

	files, err := ws.Glob("**/*.go")
	require.NoError(t, err)
	assert.Equal(t, []string{"internal/x/x.go", "internal/x/x_test.go", "main.go"}, files)

	files, err = ws.Glob("*.md")
	require.NoError(t, err)
	assert.Equal(t, []string{"README.md"}, files)

	files, err = ws.Glob("internal/**/*_test.go")
	require.NoError(t, err)
	assert.Equal(t, []string{"internal/x/x_test.go"}, files)

	_, err = ws.Glob("[")
	assert.Error(t, err)
}

func TestRecorderHashesReads(t *testing.T) {
	ws := seed(t, map[string]string{"a.go": "one"})
	rec := NewRecorder(ws)

	_, err := rec.Read("./a.go")
	require.NoError(t, err)
	_, err = rec.Read("missing.go")
	require.Error(t, err)

	snaps := rec.Snapshots()
	assert.Equal(t, map[string]string{"a.go": Hash("one")}, snaps)

	rec.Seed(map[string]string{"b.go": "h"})
	assert.Len(t, rec.Snapshots(), 2)
}

func TestHashIsStable(t *testing.T) {
	assert.Equal(t, Hash("x"), Hash("x"))
	assert.NotEqual(t, Hash("x"), Hash("y"))
	assert.Len(t, Hash(""), 64)
	assert.False(t, strings.ContainsAny(Hash("x"), "ABCDEF"))
}
