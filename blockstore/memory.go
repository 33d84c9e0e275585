package blockstore

import (
	"bytes"
	"context"
	"sync"

	"github.com/ipfs/go-cid"
)

// Memory is an in-process Store backed by a plain map. It is the default
// store for tests and short-lived trees; nothing is persisted across
// process restarts.
type Memory struct {
	mu     sync.RWMutex
	blocks map[string][]byte
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-memory Store.
func NewMemory() *Memory {
	return &Memory{blocks: make(map[string][]byte)}
}

func (m *Memory) Get(ctx context.Context, c cid.Cid) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blocks[c.String()]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (m *Memory) Put(ctx context.Context, c cid.Cid, data []byte) error {
	key := c.String()

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.blocks[key]; ok {
		if bytes.Equal(existing, data) {
			return nil
		}
		return ErrConflict
	}
	stored := make([]byte, len(data))
	copy(stored, data)
	m.blocks[key] = stored
	return nil
}

func (m *Memory) Has(ctx context.Context, c cid.Cid) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.blocks[c.String()]
	return ok, nil
}

func (m *Memory) Delete(ctx context.Context, c cid.Cid) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blocks, c.String())
	return nil
}

// Len returns the number of blocks currently stored. Mainly useful in tests.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blocks)
}
