// Package workspace is the file access layer shared by both loops: reads,
// atomic writes, and the read-only search operations behind the exploration
// tools.
package workspace

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/martinemde/planwright/failure"
)

var (
	// ErrNotFound is wrapped by Read when the file does not exist.
	ErrNotFound = errors.New("file not found")
	// ErrOutsideRoot is returned for paths that escape the workspace root.
	ErrOutsideRoot = errors.New("path escapes workspace root")
)

// DirEntry is one row of a directory listing.
type DirEntry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size,omitempty"`
}

// Workspace abstracts the target code base. All paths are workspace-relative;
// absolute paths are accepted when they point inside Root.
type Workspace interface {
	Root() string
	// Rel returns the canonical workspace-relative form of p.
	Rel(p string) (string, error)
	Read(p string) (string, error)
	Exists(p string) bool
	// Write replaces the file in one step. Readers never observe a partial
	// file: either the old content or the new content is visible.
	Write(p, content string) error
	List(dir string) ([]DirEntry, error)
	Grep(ctx context.Context, pattern string, opts GrepOptions) ([]Match, error)
	Glob(pattern string) ([]string, error)
}

// FSWorkspace implements Workspace over an afero file system.
type FSWorkspace struct {
	fs   afero.Fs
	root string
}

// New wraps fs. Paths are resolved against the root of fs; root is only used
// for display and for accepting absolute paths.
func New(fs afero.Fs, root string) *FSWorkspace {
	if root == "" {
		root = "/"
	}
	return &FSWorkspace{fs: fs, root: filepath.Clean(root)}
}

// NewOS opens dir on the local disk.
func NewOS(dir string) (*FSWorkspace, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("workspace: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("workspace: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace: %s is not a directory", abs)
	}
	return New(afero.NewBasePathFs(afero.NewOsFs(), abs), abs), nil
}

// NewMemory returns an empty in-memory workspace.
func NewMemory() *FSWorkspace {
	return New(afero.NewMemMapFs(), "/")
}

func (w *FSWorkspace) Root() string { return w.root }

// Fs exposes the underlying file system.
func (w *FSWorkspace) Fs() afero.Fs { return w.fs }

func (w *FSWorkspace) Rel(p string) (string, error) {
	name, err := w.resolve(p)
	if err != nil {
		return "", err
	}
	if name == "/" {
		return ".", nil
	}
	return strings.TrimPrefix(name, "/"), nil
}

// resolve maps p onto an absolute name inside fs.
func (w *FSWorkspace) resolve(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/", nil
	}
	if filepath.IsAbs(p) {
		rel, err := filepath.Rel(w.root, p)
		if err != nil {
			return "", fmt.Errorf("%w: %s", ErrOutsideRoot, p)
		}
		p = rel
	}
	cleaned := path.Clean(filepath.ToSlash(p))
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, p)
	}
	if cleaned == "." {
		return "/", nil
	}
	return "/" + cleaned, nil
}

func (w *FSWorkspace) Read(p string) (string, error) {
	name, err := w.resolve(p)
	if err != nil {
		return "", err
	}
	info, err := w.fs.Stat(name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, p)
		}
		return "", failure.IOFailure("read", p, err)
	}
	if info.IsDir() {
		return "", failure.IOFailure("read", p, errors.New("is a directory"))
	}
	data, err := afero.ReadFile(w.fs, name)
	if err != nil {
		return "", failure.IOFailure("read", p, err)
	}
	return string(data), nil
}

func (w *FSWorkspace) Exists(p string) bool {
	name, err := w.resolve(p)
	if err != nil {
		return false
	}
	ok, err := afero.Exists(w.fs, name)
	return err == nil && ok
}

// Write stages content in a temp file next to the target, then renames it
// over the target.
func (w *FSWorkspace) Write(p, content string) error {
	name, err := w.resolve(p)
	if err != nil {
		return failure.IOFailure("write", p, err)
	}
	if name == "/" {
		return failure.IOFailure("write", p, errors.New("is a directory"))
	}
	dir := path.Dir(name)
	if err := w.fs.MkdirAll(dir, 0o755); err != nil {
		return failure.IOFailure("write", p, err)
	}

	perm := os.FileMode(0o644)
	if info, err := w.fs.Stat(name); err == nil {
		if info.IsDir() {
			return failure.IOFailure("write", p, errors.New("is a directory"))
		}
		perm = info.Mode().Perm()
	}

	tmp, err := afero.TempFile(w.fs, dir, "."+path.Base(name)+".tmp-*")
	if err != nil {
		return failure.IOFailure("write", p, err)
	}
	tmpName := tmp.Name()
	abort := func(cause error) error {
		_ = tmp.Close()
		_ = w.fs.Remove(tmpName)
		return failure.IOFailure("write", p, cause)
	}
	if _, err := tmp.WriteString(content); err != nil {
		return abort(err)
	}
	if err := tmp.Sync(); err != nil {
		return abort(err)
	}
	if err := tmp.Close(); err != nil {
		_ = w.fs.Remove(tmpName)
		return failure.IOFailure("write", p, err)
	}
	if err := w.fs.Chmod(tmpName, perm); err != nil {
		_ = w.fs.Remove(tmpName)
		return failure.IOFailure("write", p, err)
	}
	if err := w.fs.Rename(tmpName, name); err != nil {
		_ = w.fs.Remove(tmpName)
		return failure.IOFailure("write", p, err)
	}
	return nil
}

func (w *FSWorkspace) List(dir string) ([]DirEntry, error) {
	name, err := w.resolve(dir)
	if err != nil {
		return nil, err
	}
	infos, err := afero.ReadDir(w.fs, name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, dir)
		}
		return nil, failure.IOFailure("list", dir, err)
	}
	entries := make([]DirEntry, 0, len(infos))
	for _, info := range infos {
		de := DirEntry{Name: info.Name(), IsDir: info.IsDir()}
		if !info.IsDir() {
			de.Size = info.Size()
		}
		entries = append(entries, de)
	}
	return entries, nil
}

// Hash is the content fingerprint used for snapshots and applied diffs.
func Hash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
