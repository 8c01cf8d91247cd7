package cache

import (
	"context"
	"sync"
)

// MemoryStore хранит разделы в памяти процесса. Содержимое живет до остановки.
type MemoryStore struct {
	mu         sync.RWMutex
	partitions map[string]map[string]*Entry
	order      []string
}

// NewMemoryStore создает пустое хранилище
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		partitions: make(map[string]map[string]*Entry),
	}
}

func (m *MemoryStore) CreatePartition(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.partitions[name]; !ok {
		m.partitions[name] = make(map[string]*Entry)
		m.order = append(m.order, name)
	}
	return nil
}

// ListPartitions возвращает имена в порядке создания
func (m *MemoryStore) ListPartitions(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]string(nil), m.order...), nil
}

func (m *MemoryStore) DeletePartition(ctx context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.partitions[name]; !ok {
		return false, nil
	}
	delete(m.partitions, name)
	for i, n := range m.order {
		if n == name {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return true, nil
}

func (m *MemoryStore) Get(ctx context.Context, partition, key string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries, ok := m.partitions[partition]
	if !ok {
		return nil, ErrNotFound
	}
	entry, ok := entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	return entry.clone(), nil
}

func (m *MemoryStore) Put(ctx context.Context, partition, key string, entry *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries, ok := m.partitions[partition]
	if !ok {
		entries = make(map[string]*Entry)
		m.partitions[partition] = entries
		m.order = append(m.order, partition)
	}
	entries[key] = entry.clone()
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, partition, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entries, ok := m.partitions[partition]; ok {
		delete(entries, key)
	}
	return nil
}

func (m *MemoryStore) Count(ctx context.Context, partition string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.partitions[partition]), nil
}

func (m *MemoryStore) Close() error {
	return nil
}
