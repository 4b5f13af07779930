package artifacts

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore keeps artifacts in process memory. It backs tests and the
// "memory" storage backend.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	artifact Artifact
	body     []byte
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry)}
}

func (m *MemoryStore) Put(ctx context.Context, a Artifact, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !ValidID(a.ID) {
		return fmt.Errorf("invalid artifact id %q", a.ID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[a.ID]; ok {
		return fmt.Errorf("%w: %s", ErrExists, a.ID)
	}
	m.entries[a.ID] = memoryEntry{artifact: a, body: append([]byte(nil), body...)}
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (Artifact, []byte, error) {
	if err := ctx.Err(); err != nil {
		return Artifact{}, nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[id]
	if !ok {
		return Artifact{}, nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return entry.artifact, append([]byte(nil), entry.body...), nil
}

func (m *MemoryStore) List(ctx context.Context) ([]Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Artifact, 0, len(m.entries))
	for _, entry := range m.entries {
		out = append(out, entry.artifact)
	}
	return out, nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(m.entries, id)
	return nil
}
