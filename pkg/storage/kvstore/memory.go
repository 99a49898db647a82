package kvstore

import (
	"bytes"
	"context"
	"sync"
)

// MemoryStore is an in-process Store. It gives the same conditional-write
// guarantees as SQLiteStore within one process and is used by tests and by
// ephemeral deployments.
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[string]Entry
	closed bool
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]Entry)}
}

func (m *MemoryStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return Entry{}, false, ErrClosed
	}
	e, ok := m.data[key]
	if !ok {
		return Entry{}, false, nil
	}
	return Entry{Value: bytes.Clone(e.Value), Version: e.Version}, true, nil
}

func (m *MemoryStore) PutIfAbsent(ctx context.Context, key string, value []byte) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrClosed
	}
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = Entry{Value: bytes.Clone(value), Version: 1}
	return true, nil
}

func (m *MemoryStore) CompareAndSwap(ctx context.Context, key string, expected uint64, value []byte) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrClosed
	}
	e, ok := m.data[key]
	if !ok || e.Version != expected {
		return false, nil
	}
	m.data[key] = Entry{Value: bytes.Clone(value), Version: e.Version + 1}
	return true, nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
