package runstate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	ErrNotFound = errors.New("run not found")
	// ErrConflict means the stored run moved on since the caller loaded it.
	ErrConflict = errors.New("run state version conflict")
)

// Store persists run states. Save uses optimistic concurrency: it succeeds
// only when st.Version equals the stored version (zero for a new run), and
// then bumps st.Version and st.UpdatedAt.
type Store interface {
	Save(ctx context.Context, st *RunState) error
	Load(ctx context.Context, id string) (*RunState, error)
	List(ctx context.Context) ([]Summary, error)
	Delete(ctx context.Context, id string) error
}

// MemoryStore keeps deep copies of run states in memory.
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string]*RunState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]*RunState)}
}

func (m *MemoryStore) Save(ctx context.Context, st *RunState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var current int64
	if existing, ok := m.runs[st.ID]; ok {
		current = existing.Version
	}
	if st.Version != current {
		return fmt.Errorf("%w: run %s at version %d, saving %d", ErrConflict, st.ID, current, st.Version)
	}

	prevVersion, prevUpdated := st.Version, st.UpdatedAt
	st.Version++
	st.UpdatedAt = time.Now().UTC()
	stored, err := st.Clone()
	if err != nil {
		st.Version, st.UpdatedAt = prevVersion, prevUpdated
		return err
	}
	m.runs[st.ID] = stored
	return nil
}

func (m *MemoryStore) Load(ctx context.Context, id string) (*RunState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return st.Clone()
}

// List returns runs newest first.
func (m *MemoryStore) List(ctx context.Context) ([]Summary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Summary, 0, len(m.runs))
	for _, st := range m.runs {
		out = append(out, st.Summary())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(m.runs, id)
	return nil
}

// Checkpointer persists the run state between steps.
type Checkpointer interface {
	Checkpoint(ctx context.Context, st *RunState) error
}

// CheckpointFunc adapts a function to Checkpointer.
type CheckpointFunc func(ctx context.Context, st *RunState) error

func (f CheckpointFunc) Checkpoint(ctx context.Context, st *RunState) error {
	return f(ctx, st)
}

// StoreCheckpointer saves through store.
func StoreCheckpointer(store Store) Checkpointer {
	return CheckpointFunc(store.Save)
}
