package cache

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	LookupsTotal    *prometheus.CounterVec // Поиски по разделам: hit/miss/error
	WritesTotal     *prometheus.CounterVec // Записи снимков: success/error
	WrittenBytes    *prometheus.CounterVec // Объем записанных тел
	PartitionsTotal prometheus.Gauge       // Известное число разделов
	DeletionsTotal  prometheus.Counter     // Удаленные разделы
}

var (
	metricsOnce sync.Once
	metrics     *Metrics
)

// NewMetrics возвращает метрики модуля; регистрация в Prometheus выполняется один раз на процесс
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		metrics = &Metrics{
			LookupsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "shellproxy_cache_lookups_total",
					Help: "Total number of cache lookups",
				},
				[]string{"partition", "result"}, // partition="*" для поиска по всем разделам
			),
			WritesTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "shellproxy_cache_writes_total",
					Help: "Total number of cache writes",
				},
				[]string{"partition", "result"},
			),
			WrittenBytes: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "shellproxy_cache_written_bytes_total",
					Help: "Total number of body bytes written to the cache",
				},
				[]string{"partition"},
			),
			PartitionsTotal: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "shellproxy_cache_partitions",
					Help: "Number of known cache partitions",
				},
			),
			DeletionsTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "shellproxy_cache_partition_deletions_total",
					Help: "Total number of deleted cache partitions",
				},
			),
		}
	})
	return metrics
}
