package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"shellproxy/apigw"
	"shellproxy/cache"
	"shellproxy/logger"
)

// Fetcher исполняет стратегии кэширования поверх сети и менеджера разделов.
// Ни одна стратегия не возвращает ошибку: любой путь заканчивается ответом,
// в худшем случае синтетическим 503.
type Fetcher struct {
	network    Network
	partitions *cache.Manager
	names      cache.PartitionNames
	config     *Config
	metrics    *Metrics
	log        *logger.Logger

	// revalidations схлопывает одновременные фоновые обновления одного ключа
	revalidations singleflight.Group
	background    sync.WaitGroup
}

// NewFetcher создает новый экземпляр Fetcher
func NewFetcher(network Network, partitions *cache.Manager, names cache.PartitionNames, config *Config) *Fetcher {
	if config == nil {
		config = DefaultConfig()
	}
	return &Fetcher{
		network:    network,
		partitions: partitions,
		names:      names,
		config:     config,
		metrics:    NewMetrics(),
		log:        logger.Named("fetch"),
	}
}

// CacheFirst отдает снимок из раздела partition без обращения к сети.
// При промахе идет в сеть, успешный ответ кладет в раздел; ответ вне 2xx
// отдается как есть без записи, сетевой сбой превращается в 503 "Offline".
func (f *Fetcher) CacheFirst(ctx context.Context, req *apigw.Request, partition string) *apigw.Response {
	key := req.Key()
	if entry := f.lookup(ctx, partition, key); entry != nil {
		f.log.Debug("cache-first %s: hit in %s", key, partition)
		return f.finish(StrategyCacheFirst, entry.Response())
	}

	resp, err := f.fetchNetwork(ctx, StrategyCacheFirst, req)
	switch {
	case err == nil:
		if err := f.store(ctx, partition, key, resp); err != nil {
			f.log.Warn("cache-first %s: %v", key, err)
			return f.finish(StrategyCacheFirst, OfflineText())
		}
		return f.finish(StrategyCacheFirst, resp)
	case resp != nil:
		f.log.Debug("cache-first %s: passing through status %d uncached", key, resp.StatusCode)
		return f.finish(StrategyCacheFirst, resp)
	default:
		f.log.Warn("cache-first %s: network failed: %v", key, err)
		return f.finish(StrategyCacheFirst, OfflineText())
	}
}

// NetworkFirst всегда сначала идет в сеть и кладет успешный ответ в dynamic.
// Код вне 2xx считается сбоем так же, как сетевая ошибка: ищется ключ во
// всех разделах. Но при промахе клиент получает сам ответ сети с его кодом,
// а не 503 {"error":"Offline"}; синтетический 503 бывает только при
// настоящей сетевой ошибке.
func (f *Fetcher) NetworkFirst(ctx context.Context, req *apigw.Request) *apigw.Response {
	key := req.Key()

	resp, err := f.fetchNetwork(ctx, StrategyNetworkFirst, req)
	if err == nil {
		if err = f.store(ctx, f.names.Dynamic, key, resp); err == nil {
			return f.finish(StrategyNetworkFirst, resp)
		}
		resp = nil
	}

	f.log.Warn("network-first %s: falling back to cache: %v", key, err)
	if entry := f.lookup(ctx, "", key); entry != nil {
		resp.Discard()
		return f.finish(StrategyNetworkFirst, entry.Response())
	}
	if resp != nil {
		return f.finish(StrategyNetworkFirst, resp)
	}
	return f.finish(StrategyNetworkFirst, OfflineJSON())
}

// StaleWhileRevalidate отдает снимок из dynamic сразу и обновляет его в фоне.
// Одновременные попадания по одному ключу делят одно фоновое обновление,
// так что N параллельных запросов дают один сетевой вызов.
// Без снимка ждет сеть; сетевой сбой в этом случае виден клиенту
// через Response.Error.
func (f *Fetcher) StaleWhileRevalidate(ctx context.Context, req *apigw.Request) *apigw.Response {
	key := req.Key()

	if entry := f.lookup(ctx, f.names.Dynamic, key); entry != nil {
		f.revalidate(ctx, req)
		f.log.Debug("stale-while-revalidate %s: served stale, refreshing in background", key)
		return f.finish(StrategyStaleWhileRevalidate, entry.Response())
	}

	resp, err := f.fetchNetwork(ctx, StrategyStaleWhileRevalidate, req)
	switch {
	case err == nil:
		if err := f.store(ctx, f.names.Dynamic, key, resp); err != nil {
			return f.finish(StrategyStaleWhileRevalidate, networkFailure(err))
		}
		return f.finish(StrategyStaleWhileRevalidate, resp)
	case resp != nil:
		return f.finish(StrategyStaleWhileRevalidate, resp)
	default:
		f.log.Warn("stale-while-revalidate %s: no cached entry and network failed: %v", key, err)
		return f.finish(StrategyStaleWhileRevalidate, networkFailure(err))
	}
}

// Navigation пробует сеть и кладет успешный ответ в primary. При любом сбое
// идет по цепочке: точный ключ, корень приложения, офлайн-заглушка, 503 "Offline".
func (f *Fetcher) Navigation(ctx context.Context, req *apigw.Request) *apigw.Response {
	key := req.Key()

	resp, err := f.fetchNetwork(ctx, StrategyNavigation, req)
	if err == nil {
		if err = f.store(ctx, f.names.Primary, key, resp); err == nil {
			f.metrics.FallbackDepth.Observe(0)
			return f.finish(StrategyNavigation, resp)
		}
	}
	resp.Discard()

	f.log.Warn("navigation %s: network unavailable, walking fallback chain: %v", key, err)
	for i, candidate := range f.fallbackKeys(req) {
		if entry := f.lookup(ctx, "", candidate); entry != nil {
			f.log.Debug("navigation %s: served %s from cache", key, candidate)
			f.metrics.FallbackDepth.Observe(float64(i + 1))
			return f.finish(StrategyNavigation, entry.Response())
		}
	}

	f.metrics.FallbackDepth.Observe(4)
	return f.finish(StrategyNavigation, OfflineText())
}

// Drain ждет завершения фоновых обновлений или отмены ctx
func (f *Fetcher) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		f.background.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// revalidate запускает отвязанную от клиента фоновую задачу обновления ключа
func (f *Fetcher) revalidate(ctx context.Context, req *apigw.Request) {
	key := req.Key()
	bg := context.WithoutCancel(ctx)
	bgReq := req.WithContext(bg)

	f.background.Add(1)
	go func() {
		defer f.background.Done()

		_, err, shared := f.revalidations.Do(key, func() (interface{}, error) {
			resp, err := f.fetchNetwork(bg, StrategyStaleWhileRevalidate, bgReq)
			if err != nil {
				resp.Discard()
				return nil, err
			}
			defer resp.Discard()
			return nil, f.store(bg, f.names.Dynamic, key, resp)
		})

		// Ошибка фонового обновления никому не передается: следующий
		// читатель просто получит снимок на поколение старше
		switch {
		case shared:
			f.metrics.Revalidations.WithLabelValues("shared").Inc()
		case err != nil:
			f.metrics.Revalidations.WithLabelValues("failure").Inc()
			f.log.Debug("Background refresh of %s failed: %v", key, err)
		default:
			f.metrics.Revalidations.WithLabelValues("success").Inc()
		}
	}()
}

// fetchNetwork выполняет сетевой запрос. Для ответа вне 2xx возвращается
// и сам ответ, и ошибка ErrBadStatus.
func (f *Fetcher) fetchNetwork(ctx context.Context, strategy Strategy, req *apigw.Request) (*apigw.Response, error) {
	resp, err := f.network.Fetch(ctx, req)
	if err == nil && resp == nil {
		err = errors.New("network returned no response")
	}
	if err == nil && resp.Error != nil {
		err = resp.Error
	}
	if err != nil {
		resp.Discard()
		f.metrics.NetworkFailures.WithLabelValues(string(strategy), "error").Inc()
		return nil, err
	}

	resp.Source = apigw.SourceNetwork
	if !resp.OK() {
		f.metrics.NetworkFailures.WithLabelValues(string(strategy), "status").Inc()
		return resp, fmt.Errorf("%w: %d", ErrBadStatus, resp.StatusCode)
	}
	return resp, nil
}

// store кладет копию ответа в раздел. Сбой хранилища только логируется.
// Ошибка возвращается, лишь если тело не удалось дочитать из сети:
// такой ответ отдавать уже нельзя.
func (f *Fetcher) store(ctx context.Context, partition, key string, resp *apigw.Response) error {
	if !storable(resp) {
		f.log.Debug("Not caching %s: status %d, Vary %q", key, resp.StatusCode, resp.Headers.Get("Vary"))
		return nil
	}

	entry, err := cache.Snapshot(key, resp)
	if err != nil {
		f.metrics.NetworkFailures.WithLabelValues("store", "error").Inc()
		return err
	}

	p, err := f.partitions.Open(ctx, partition)
	if err == nil {
		err = p.Put(ctx, key, entry)
	}
	if err != nil {
		f.metrics.CacheWriteFailures.WithLabelValues(partition).Inc()
		f.log.Warn("Failed to cache %s in %s: %v", key, partition, err)
	}
	return nil
}

// storable отсекает ответы, которые нельзя отдавать по ключу URL:
// часть ресурса (206) и Vary: *
func storable(resp *apigw.Response) bool {
	if resp.StatusCode == http.StatusPartialContent {
		return false
	}
	for _, v := range resp.Headers.Values("Vary") {
		for _, field := range strings.Split(v, ",") {
			if strings.TrimSpace(field) == "*" {
				return false
			}
		}
	}
	return true
}

// lookup ищет ключ в разделе partition или во всех разделах, если partition пуст.
// Недоступность хранилища равносильна промаху.
func (f *Fetcher) lookup(ctx context.Context, partition, key string) *cache.Entry {
	var entry *cache.Entry
	var err error

	if partition == "" {
		entry, err = f.partitions.Match(ctx, key)
	} else {
		var p *cache.Partition
		if p, err = f.partitions.Open(ctx, partition); err == nil {
			entry, err = p.Match(ctx, key)
		}
	}

	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			f.log.Warn("Cache unavailable for %s, using network only: %v", key, err)
		}
		return nil
	}
	return entry
}

// fallbackKeys - ключи цепочки навигации в порядке опроса
func (f *Fetcher) fallbackKeys(req *apigw.Request) []string {
	keys := []string{req.Key()}
	for _, path := range []string{f.config.RootPath, f.config.OfflinePath} {
		u := url.URL{Scheme: req.URL.Scheme, Host: req.URL.Host, Path: path}
		keys = append(keys, apigw.CacheKey(&u))
	}
	return keys
}

func (f *Fetcher) finish(strategy Strategy, resp *apigw.Response) *apigw.Response {
	source := resp.Source.String()
	if resp.Error != nil {
		source = "error"
	}
	f.metrics.OutcomesTotal.WithLabelValues(string(strategy), source).Inc()
	return resp
}

// networkFailure - ответ, через который клиент видит сетевую ошибку
func networkFailure(err error) *apigw.Response {
	return &apigw.Response{
		StatusCode: http.StatusBadGateway,
		Headers:    make(http.Header),
		Source:     apigw.SourceNetwork,
		Error:      err,
	}
}
