package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"shellproxy/apigw"
	"shellproxy/cache"
	"shellproxy/logger"
)

// Controller ведет прокси через установку и активацию и исполняет
// управляющие команды. Переходы сериализуются; чтение состояния не блокируется.
type Controller struct {
	config     *Config
	origin     *url.URL
	network    Network
	partitions *cache.Manager
	names      cache.PartitionNames
	metrics    *Metrics
	log        *logger.Logger

	mu            sync.Mutex // сериализует переходы
	state         atomic.Int32
	controlling   atomic.Bool
	skipRequested atomic.Bool
}

// NewController создает контроллер. origin - базовый URL приложения,
// относительно которого разрешаются пути оболочки.
func NewController(config *Config, origin string, network Network, partitions *cache.Manager, names cache.PartitionNames) (*Controller, error) {
	if config == nil {
		config = DefaultConfig()
	}
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid origin %q", origin)
	}

	c := &Controller{
		config:     config,
		origin:     u,
		network:    network,
		partitions: partitions,
		names:      names,
		metrics:    NewMetrics(),
		log:        logger.Named("lifecycle"),
	}
	c.setState(StateParsed)
	return c, nil
}

// State возвращает текущее состояние
func (c *Controller) State() State {
	return State(c.state.Load())
}

// Controlling сообщает, перехватывает ли прокси запросы (после захвата клиентов)
func (c *Controller) Controlling() bool {
	return c.controlling.Load()
}

// ShouldActivate сообщает, что установленный контроллер готов активироваться
// сразу: либо так настроено, либо пришла команда принудительной активации
func (c *Controller) ShouldActivate() bool {
	return c.State() == StateInstalled && (c.config.SkipWaiting || c.skipRequested.Load())
}

func (c *Controller) setState(s State) {
	c.state.Store(int32(s))
	c.metrics.State.Set(float64(s))
}

// Install предзагружает оболочку в primary. Все или ничего: при любом сбое
// раздел остается таким же, каким был до попытки, а контроллер - в Redundant.
// Повторная установка допускается из Parsed и Redundant.
func (c *Controller) Install(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s := c.State(); s != StateParsed && s != StateRedundant {
		return fmt.Errorf("%w: install in state %s", ErrInvalidTransition, s)
	}

	c.setState(StateInstalling)
	c.log.Info("Installing: pre-warming %d shell resources into %s", len(c.config.Shell), c.names.Primary)

	start := time.Now()
	entries, err := c.prewarm(ctx)
	if err == nil {
		err = c.commit(ctx, entries)
	}
	c.metrics.InstallDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		c.setState(StateRedundant)
		c.metrics.InstallsTotal.WithLabelValues("failure").Inc()
		c.log.Error("Failed to install shell: %v", err)
		return fmt.Errorf("%w: %w", ErrInstallFailed, err)
	}

	c.setState(StateInstalled)
	c.metrics.InstallsTotal.WithLabelValues("success").Inc()
	c.log.Info("Shell installed (%d resources) in %v", len(entries), time.Since(start))
	return nil
}

// prewarm загружает все ресурсы оболочки. Ничего не пишет в кэш.
func (c *Controller) prewarm(ctx context.Context) ([]*cache.Entry, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.config.InstallConcurrency)

	entries := make([]*cache.Entry, len(c.config.Shell))
	for i, path := range c.config.Shell {
		i, path := i, path
		g.Go(func() error {
			entry, err := c.fetchShellResource(gctx, path)
			if err != nil {
				return err
			}
			entries[i] = entry
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (c *Controller) fetchShellResource(ctx context.Context, path string) (*cache.Entry, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("invalid shell path %q: %w", path, err)
	}
	req, err := apigw.NewRequest(ctx, c.origin.ResolveReference(ref).String())
	if err != nil {
		return nil, err
	}
	req.Navigate = true

	resp, err := c.network.Fetch(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", path, err)
	}
	defer resp.Discard()
	if !resp.OK() {
		return nil, fmt.Errorf("failed to fetch %s: status %d", path, resp.StatusCode)
	}

	entry, err := cache.Snapshot(req.Key(), resp)
	if err != nil {
		return nil, err
	}
	c.log.Debug("Fetched shell resource %s (%d bytes)", path, entry.Size())
	return entry, nil
}

// undo - прежнее содержимое ключа; nil entry означает, что ключа не было
type undo struct {
	key   string
	entry *cache.Entry
}

// commit записывает предзагруженные снимки в primary. При сбое записи
// откатывает уже сделанные записи, а раздел, созданный этой попыткой, удаляет.
func (c *Controller) commit(ctx context.Context, entries []*cache.Entry) error {
	existing, err := c.partitions.Names(ctx)
	if err != nil {
		return err
	}
	existed := false
	for _, name := range existing {
		if name == c.names.Primary {
			existed = true
			break
		}
	}

	p, err := c.partitions.Open(ctx, c.names.Primary)
	if err != nil {
		return err
	}

	var journal []undo
	for _, entry := range entries {
		old, err := p.Match(ctx, entry.Key)
		if err != nil && !errors.Is(err, cache.ErrNotFound) {
			c.rollback(ctx, p, existed, journal)
			return err
		}
		if err := p.Put(ctx, entry.Key, entry); err != nil {
			c.rollback(ctx, p, existed, journal)
			return err
		}
		journal = append(journal, undo{key: entry.Key, entry: old})
	}
	return nil
}

func (c *Controller) rollback(ctx context.Context, p *cache.Partition, existed bool, journal []undo) {
	if !existed {
		if _, err := c.partitions.Delete(ctx, p.Name()); err != nil {
			c.log.Error("Rollback: failed to delete partition %s: %v", p.Name(), err)
		}
		return
	}

	for i := len(journal) - 1; i >= 0; i-- {
		u := journal[i]
		var err error
		if u.entry == nil {
			err = p.Delete(ctx, u.key)
		} else {
			err = p.Put(ctx, u.key, u.entry)
		}
		if err != nil {
			c.log.Error("Rollback: failed to restore %s: %v", u.key, err)
		}
	}
	c.log.Warn("Rolled back %d shell entries in %s", len(journal), p.Name())
}

// Activate удаляет все разделы, не входящие в текущий набор, и захватывает клиентов.
// Сбой удаления отдельного раздела не мешает захвату: осиротевший раздел
// будет удален следующей активацией или командой очистки.
func (c *Controller) Activate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s := c.State(); s != StateInstalled {
		return fmt.Errorf("%w: activate in state %s", ErrInvalidTransition, s)
	}

	c.setState(StateActivating)
	c.log.Info("Activating...")

	names, err := c.partitions.Names(ctx)
	if err != nil {
		c.setState(StateInstalled)
		c.metrics.ActivationsTotal.WithLabelValues("failure").Inc()
		return fmt.Errorf("failed to list partitions: %w", err)
	}

	current := c.names.Current()
	for _, name := range names {
		if current[name] {
			continue
		}
		if _, err := c.partitions.Delete(ctx, name); err != nil {
			c.log.Warn("Failed to delete obsolete partition %s: %v", name, err)
			continue
		}
		c.metrics.SweptPartitions.Inc()
		c.log.Info("Deleted obsolete partition %s", name)
	}

	c.setState(StateActive)
	c.controlling.Store(true)
	c.metrics.ActivationsTotal.WithLabelValues("success").Inc()
	c.log.Info("Activated, now controlling clients")
	return nil
}

// Control исполняет управляющую команду. Результат отправителю не возвращается:
// ошибки только логируются.
func (c *Controller) Control(ctx context.Context, cmd Command) {
	// Команда доводится до конца, даже если отправитель уже отключился
	ctx = context.WithoutCancel(ctx)
	c.metrics.CommandsTotal.WithLabelValues(string(cmd)).Inc()

	switch cmd {
	case CommandForceActivate:
		c.skipRequested.Store(true)
		switch s := c.State(); s {
		case StateInstalled:
		case StateActivating, StateActive:
			c.log.Debug("Force-activate ignored: already %s", s)
			return
		default:
			c.log.Info("Force-activate requested in state %s, will activate after install", s)
			return
		}
		if err := c.Activate(ctx); err != nil && !errors.Is(err, ErrInvalidTransition) {
			c.log.Error("Force-activate failed: %v", err)
		}

	case CommandClearAllCaches:
		if err := c.partitions.Clear(ctx); err != nil {
			c.log.Error("Failed to clear caches: %v", err)
			return
		}
		c.log.Info("All caches cleared")

	default:
		c.log.Warn("Ignoring unknown command %q", cmd)
	}
}
