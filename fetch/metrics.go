package fetch

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	OutcomesTotal      *prometheus.CounterVec // Итог стратегии: network/cache/synthetic/error
	NetworkFailures    *prometheus.CounterVec // Сетевые сбои и ответы вне 2xx по стратегиям
	CacheWriteFailures *prometheus.CounterVec // Неудачные best-effort записи
	Revalidations      *prometheus.CounterVec // Фоновые обновления: success/failure/shared
	FallbackDepth      prometheus.Histogram   // Шаг цепочки навигации, давший ответ
}

var (
	metricsOnce sync.Once
	metrics     *Metrics
)

// NewMetrics возвращает метрики модуля; регистрация в Prometheus выполняется один раз на процесс
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		metrics = &Metrics{
			OutcomesTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "shellproxy_strategy_outcomes_total",
					Help: "Total number of strategy executions by response source",
				},
				[]string{"strategy", "source"},
			),
			NetworkFailures: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "shellproxy_strategy_network_failures_total",
					Help: "Total number of network faults observed by strategies",
				},
				[]string{"strategy", "reason"}, // reason: error, status
			),
			CacheWriteFailures: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "shellproxy_strategy_cache_write_failures_total",
					Help: "Total number of failed best-effort cache writes",
				},
				[]string{"partition"},
			),
			Revalidations: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "shellproxy_revalidations_total",
					Help: "Total number of background revalidations",
				},
				[]string{"result"},
			),
			FallbackDepth: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "shellproxy_navigation_fallback_depth",
					Help:    "Step of the navigation fallback chain that produced the response (0 = network)",
					Buckets: []float64{0, 1, 2, 3, 4},
				},
			),
		}
	})
	return metrics
}
