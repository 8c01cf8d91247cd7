package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"shellproxy/logger"
)

// Manager владеет именованными разделами кэша. Создается один раз при старте
// процесса и живет до его остановки; явного уничтожения нет, кроме удаления
// всех разделов управляющей командой.
//
// Поиск по всем разделам идет в порядке, который знает менеджер (порядок
// создания для memory/disk, лексикографический для s3). Если один ключ лежит
// в нескольких разделах, какой снимок вернется - не гарантируется.
type Manager struct {
	store   Store
	metrics *Metrics
	log     *logger.Logger

	// mu защищает handles/order; запись в раздел держит RLock, удаление раздела - Lock,
	// чтобы запоздалая запись не воскресила удаленный раздел
	mu      sync.RWMutex
	handles map[string]*Partition
	order   []string
}

// NewManager создает менеджер поверх драйвера и подхватывает уже существующие разделы
func NewManager(ctx context.Context, store Store) (*Manager, error) {
	names, err := store.ListPartitions(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	m := &Manager{
		store:   store,
		metrics: NewMetrics(),
		log:     logger.Named("cache"),
		handles: make(map[string]*Partition),
		order:   append([]string(nil), names...),
	}
	m.metrics.PartitionsTotal.Set(float64(len(m.order)))

	m.log.Info("Cache manager initialized with %d existing partitions", len(names))
	for _, name := range names {
		m.log.Debug("  - %s", name)
	}
	return m, nil
}

// validateName отсекает имена, которые нельзя безопасно превратить в путь
func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("partition name cannot be empty")
	}
	if strings.HasPrefix(name, ".") {
		return fmt.Errorf("partition name %q cannot start with a dot", name)
	}
	return nil
}

// Open возвращает дескриптор раздела, создавая пустой раздел при первом обращении.
// Повторный вызов с тем же именем возвращает тот же дескриптор.
// Ошибка хранилища оборачивается в ErrStorage.
func (m *Manager) Open(ctx context.Context, name string) (*Partition, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	m.mu.RLock()
	p, ok := m.handles[name]
	m.mu.RUnlock()
	if ok {
		return p, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.handles[name]; ok {
		return p, nil
	}

	if err := m.store.CreatePartition(ctx, name); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	p = &Partition{name: name, manager: m}
	m.handles[name] = p
	if !m.known(name) {
		m.order = append(m.order, name)
		m.metrics.PartitionsTotal.Set(float64(len(m.order)))
		m.log.Info("Created partition %s", name)
	}
	return p, nil
}

// known проверяет наличие имени в порядке обхода; вызывается под m.mu
func (m *Manager) known(name string) bool {
	for _, n := range m.order {
		if n == name {
			return true
		}
	}
	return false
}

// Has сообщает, известен ли менеджеру раздел с таким именем
func (m *Manager) Has(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.known(name)
}

// Names возвращает имена всех разделов в хранилище
func (m *Manager) Names(ctx context.Context) ([]string, error) {
	names, err := m.store.ListPartitions(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	// Хранилище - источник истины: разделы другого процесса тоже попадают в обход
	m.mu.Lock()
	for _, name := range names {
		if !m.known(name) {
			m.order = append(m.order, name)
		}
	}
	m.metrics.PartitionsTotal.Set(float64(len(m.order)))
	m.mu.Unlock()

	return names, nil
}

// Match ищет ключ во всех разделах и возвращает первый найденный снимок.
// Промах - ErrNotFound. Если ключ не найден, а какой-то раздел не прочитался,
// возвращается ошибка, обернутая в ErrStorage.
func (m *Manager) Match(ctx context.Context, key string) (*Entry, error) {
	m.mu.RLock()
	order := append([]string(nil), m.order...)
	m.mu.RUnlock()

	var storageErr error
	for _, name := range order {
		entry, err := m.store.Get(ctx, name, key)
		if err == nil {
			m.metrics.LookupsTotal.WithLabelValues("*", "hit").Inc()
			m.log.Debug("Match %s: hit in partition %s", key, name)
			return entry, nil
		}
		if !errors.Is(err, ErrNotFound) {
			m.log.Warn("Match %s: failed to read partition %s: %v", key, name, err)
			storageErr = errors.Join(storageErr, err)
		}
	}

	if storageErr != nil {
		m.metrics.LookupsTotal.WithLabelValues("*", "error").Inc()
		return nil, fmt.Errorf("%w: %w", ErrStorage, storageErr)
	}
	m.metrics.LookupsTotal.WithLabelValues("*", "miss").Inc()
	return nil, ErrNotFound
}

// Delete удаляет раздел целиком. Выданные дескрипторы перестают принимать записи.
func (m *Manager) Delete(ctx context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existed, err := m.store.DeletePartition(ctx, name)
	if err != nil {
		return existed, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	if p, ok := m.handles[name]; ok {
		p.deleted.Store(true)
		delete(m.handles, name)
	}
	for i, n := range m.order {
		if n == name {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.metrics.PartitionsTotal.Set(float64(len(m.order)))

	if existed {
		m.metrics.DeletionsTotal.Inc()
		m.log.Info("Deleted partition %s", name)
	}
	return existed, nil
}

// Clear удаляет все разделы без разбора. Продолжает после ошибок и возвращает их вместе.
func (m *Manager) Clear(ctx context.Context) error {
	names, err := m.Names(ctx)
	if err != nil {
		return err
	}

	var errs error
	for _, name := range names {
		if _, err := m.Delete(ctx, name); err != nil {
			errs = errors.Join(errs, err)
		}
	}
	if errs == nil {
		m.log.Info("Cleared %d partitions", len(names))
	}
	return errs
}

// Stats возвращает число записей по каждому разделу
func (m *Manager) Stats(ctx context.Context) ([]PartitionStats, error) {
	names, err := m.Names(ctx)
	if err != nil {
		return nil, err
	}

	stats := make([]PartitionStats, 0, len(names))
	for _, name := range names {
		count, err := m.store.Count(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrStorage, err)
		}
		stats = append(stats, PartitionStats{Name: name, Entries: count})
	}
	return stats, nil
}

// Close закрывает драйвер хранения
func (m *Manager) Close() error {
	return m.store.Close()
}
