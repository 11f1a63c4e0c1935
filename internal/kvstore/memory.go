package kvstore

import (
	"context"
	"sync"
)

// compile-time check that *Memory implements Store
var _ Store[struct{}] = (*Memory[struct{}])(nil)

// Memory keeps entries in a map guarded by a RWMutex.
//
// Values are stored as given. Callers that keep slices inside V should treat
// stored values as read-only and Put a fresh value to change one.
type Memory[V any] struct {
	mu      sync.RWMutex
	entries map[string]V
}

// NewMemory returns an empty in-process store.
func NewMemory[V any]() *Memory[V] {
	return &Memory[V]{entries: make(map[string]V)}
}

func (m *Memory[V]) Put(_ context.Context, key string, value V) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = value
	return nil
}

func (m *Memory[V]) Get(_ context.Context, key string) (V, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.entries[key]
	if !ok {
		var zero V
		return zero, ErrNotFound
	}
	return v, nil
}

func (m *Memory[V]) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *Memory[V]) Sweep(_ context.Context, expired func(V) bool) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	// Deleting during range is safe for Go maps.
	for key, v := range m.entries {
		if expired(v) {
			delete(m.entries, key)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of entries currently held.
func (m *Memory[V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
