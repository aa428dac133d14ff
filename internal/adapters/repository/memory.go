package repository

import (
	"context"
	"sync"
)

// MemoryBackend is an in-process VersionedBackend.
type MemoryBackend struct {
	mu    sync.RWMutex
	items map[string]memoryItem
}

type memoryItem struct {
	blob    []byte
	version int64
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{items: make(map[string]memoryItem)}
}

// Get implements Backend.
func (m *MemoryBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	blob, _, found, err := m.GetVersion(ctx, key)
	return blob, found, err
}

// Set implements Backend.
func (m *MemoryBackend) Set(ctx context.Context, key string, blob []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = memoryItem{blob: clone(blob), version: m.items[key].version + 1}
	return nil
}

// GetVersion implements VersionedBackend.
func (m *MemoryBackend) GetVersion(ctx context.Context, key string) ([]byte, int64, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	it, ok := m.items[key]
	if !ok {
		return nil, 0, false, nil
	}
	return clone(it.blob), it.version, true, nil
}

// SetIfVersion implements VersionedBackend.
func (m *MemoryBackend) SetIfVersion(ctx context.Context, key string, blob []byte, version int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.items[key].version != version {
		return ErrConflict
	}
	m.items[key] = memoryItem{blob: clone(blob), version: version + 1}
	return nil
}

// Len returns the number of stored templates.
func (m *MemoryBackend) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
