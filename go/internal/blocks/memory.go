package blocks

import (
	"context"
	"encoding/json"
	"sync"
)

type pair struct {
	from string
	to   string
}

// MemoryRegistry is an in-process Registry, used when no database is configured.
type MemoryRegistry struct {
	mu     sync.RWMutex
	blocks map[pair]json.RawMessage
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{blocks: make(map[pair]json.RawMessage)}
}

func (m *MemoryRegistry) IsBlocked(ctx context.Context, fromUserID, toUserID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.blocks[pair{from: fromUserID, to: toUserID}]
	return ok, nil
}

func (m *MemoryRegistry) Block(ctx context.Context, fromUserID, toUserID string, origin json.RawMessage) error {
	if fromUserID == toUserID {
		return ErrSelfBlock
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocks[pair{from: fromUserID, to: toUserID}] = origin
	return nil
}
