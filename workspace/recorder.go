package workspace

import "sync"

// Recorder wraps a Workspace and remembers the content hash of every file
// successfully read through it. Research runs its tools through a Recorder;
// the hashes become the snapshot execution compares against.
type Recorder struct {
	Workspace

	mu     sync.Mutex
	hashes map[string]string
}

func NewRecorder(ws Workspace) *Recorder {
	return &Recorder{Workspace: ws, hashes: make(map[string]string)}
}

func (r *Recorder) Read(p string) (string, error) {
	content, err := r.Workspace.Read(p)
	if err != nil {
		return "", err
	}
	key, relErr := r.Workspace.Rel(p)
	if relErr != nil {
		key = p
	}
	r.mu.Lock()
	r.hashes[key] = Hash(content)
	r.mu.Unlock()
	return content, nil
}

// Snapshots returns a copy of the recorded path to hash map. The latest read
// of a path wins.
func (r *Recorder) Snapshots() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string, len(r.hashes))
	for k, v := range r.hashes {
		out[k] = v
	}
	return out
}

// Seed preloads hashes, e.g. when resuming research from a checkpoint.
func (r *Recorder) Seed(hashes map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, v := range hashes {
		r.hashes[k] = v
	}
}
