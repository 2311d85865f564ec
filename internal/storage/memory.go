package storage

import (
	"context"
	"sync"
)

const memoryLocatorPrefix = "mem://"

// MemoryTier 以进程内 map 保存小正文，键为缓存键的哈希。
type MemoryTier struct {
	mu     sync.RWMutex
	bodies map[string][]byte
}

// NewMemoryTier 创建空的内存层。
func NewMemoryTier() *MemoryTier {
	return &MemoryTier{bodies: make(map[string][]byte)}
}

func (m *MemoryTier) Source() Source {
	return SourceMemory
}

func (m *MemoryTier) Save(ctx context.Context, key string, body []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	hashed := HashKey(key)
	stored := append([]byte(nil), body...)

	m.mu.Lock()
	m.bodies[hashed] = stored
	m.mu.Unlock()
	return memoryLocatorPrefix + hashed, nil
}

func (m *MemoryTier) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	body, ok := m.bodies[HashKey(key)]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), body...), nil
}

func (m *MemoryTier) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.bodies, HashKey(key))
	m.mu.Unlock()
	return nil
}

// Len 返回当前驻留的正文数量。
func (m *MemoryTier) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.bodies)
}
