package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
)

// Partition - дескриптор одного раздела. Все дескрипторы одного имени,
// выданные менеджером, - это один и тот же объект.
type Partition struct {
	name    string
	manager *Manager
	deleted atomic.Bool
}

// Name возвращает имя раздела
func (p *Partition) Name() string {
	return p.name
}

// Match ищет ключ только в этом разделе. Промах - ErrNotFound.
func (p *Partition) Match(ctx context.Context, key string) (*Entry, error) {
	m := p.manager
	if p.deleted.Load() {
		m.metrics.LookupsTotal.WithLabelValues(p.name, "miss").Inc()
		return nil, ErrNotFound
	}

	entry, err := m.store.Get(ctx, p.name, key)
	switch {
	case err == nil:
		m.metrics.LookupsTotal.WithLabelValues(p.name, "hit").Inc()
		return entry, nil
	case errors.Is(err, ErrNotFound):
		m.metrics.LookupsTotal.WithLabelValues(p.name, "miss").Inc()
		return nil, ErrNotFound
	default:
		m.metrics.LookupsTotal.WithLabelValues(p.name, "error").Inc()
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}
}

// Put сохраняет снимок под ключом, заменяя прежний
func (p *Partition) Put(ctx context.Context, key string, entry *Entry) error {
	m := p.manager
	m.mu.RLock()
	defer m.mu.RUnlock()

	if p.deleted.Load() {
		return ErrPartitionDeleted
	}

	if err := m.store.Put(ctx, p.name, key, entry); err != nil {
		m.metrics.WritesTotal.WithLabelValues(p.name, "error").Inc()
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}

	m.metrics.WritesTotal.WithLabelValues(p.name, "success").Inc()
	m.metrics.WrittenBytes.WithLabelValues(p.name).Add(float64(entry.Size()))
	m.log.Debug("Stored %s in %s (%d bytes)", key, p.name, entry.Size())
	return nil
}

// Delete удаляет ключ из раздела
func (p *Partition) Delete(ctx context.Context, key string) error {
	m := p.manager
	m.mu.RLock()
	defer m.mu.RUnlock()

	if p.deleted.Load() {
		return ErrPartitionDeleted
	}
	if err := m.store.Delete(ctx, p.name, key); err != nil {
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return nil
}

// Count возвращает количество записей в разделе
func (p *Partition) Count(ctx context.Context) (int, error) {
	if p.deleted.Load() {
		return 0, nil
	}
	n, err := p.manager.store.Count(ctx, p.name)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return n, nil
}
