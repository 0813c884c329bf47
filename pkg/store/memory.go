// memory.go implements the in-process backend. Several buses inside one
// process share it by sharing the *Memory value; nothing ever touches
// disk, which keeps lifecycle tests fast and hermetic.
package store

import (
	"sync"
	"time"
)

// Memory keeps descriptors in a mutex-guarded map.
type Memory struct {
	mu      sync.Mutex
	entries map[string][]byte
}

// NewMemory returns an empty in-process store.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string][]byte)}
}

// Publish stores a copy of data under id.
func (m *Memory) Publish(id string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	blob := make([]byte, len(data))
	copy(blob, data)
	m.entries[id] = blob
	return nil
}

// ListLive snapshots every entry. Blobs are copied so callers can hold
// them across ticks.
func (m *Memory) ListLive() (map[string][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][]byte, len(m.entries))
	for id, blob := range m.entries {
		cp := make([]byte, len(blob))
		copy(cp, blob)
		out[id] = cp
	}
	return out, nil
}

// Remove deletes the entry for id.
func (m *Memory) Remove(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
	return nil
}

// Close implements Adapter. The in-process store holds no resources and
// may be shared by buses with different lifetimes, so entries are left
// intact for the survivors.
func (m *Memory) Close() error { return nil }

// DefaultFreshness implements Adapter.
func (m *Memory) DefaultFreshness() time.Duration { return tableFreshness }

// Compile-time check.
var _ Adapter = (*Memory)(nil)
