package monitoring

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics - системные метрики процесса и размеры разделов кэша.
// Метрики отдельных модулей живут в самих модулях.
type Metrics struct {
	PartitionEntries *prometheus.GaugeVec // Количество записей в разделе кэша
	Partitions       prometheus.Gauge     // Количество разделов
	MemoryUsage      prometheus.Gauge     // Использование памяти (heap in use)
	Goroutines       prometheus.Gauge
	Ready            prometheus.Gauge // 1, если прокси перехватывает запросы
}

var (
	metricsOnce sync.Once
	metrics     *Metrics
)

// NewMetrics создает и регистрирует метрики в default registry один раз на процесс
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		metrics = &Metrics{
			PartitionEntries: promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "shellproxy_cache_partition_entries",
					Help: "Number of entries in a cache partition",
				},
				[]string{"partition"},
			),
			Partitions: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "shellproxy_cache_partitions",
					Help: "Number of existing cache partitions",
				},
			),
			MemoryUsage: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "shellproxy_memory_usage_bytes",
					Help: "Current heap memory in use in bytes",
				},
			),
			Goroutines: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "shellproxy_goroutines",
					Help: "Current number of goroutines",
				},
			),
			Ready: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "shellproxy_ready",
					Help: "1 if the proxy is active and controlling requests",
				},
			),
		}
	})
	return metrics
}
