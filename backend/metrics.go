package backend

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Метрики источников
	BackendState         *prometheus.GaugeVec     // Текущее состояние источника (1=UP, 0.5=PROBING, 0=DOWN)
	BackendRequestsTotal *prometheus.CounterVec   // Количество запросов к конкретным источникам
	BackendLatency       *prometheus.HistogramVec // Латентность запросов к источникам
	BackendBytesRead     *prometheus.CounterVec   // Количество прочитанных байт (по Content-Length)
	ProbesTotal          *prometheus.CounterVec   // Активные проверки
}

var (
	metricsOnce sync.Once
	metrics     *Metrics
)

func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		metrics = &Metrics{
			BackendState: promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "shellproxy_backend_state",
					Help: "Current state of an upstream origin (1=UP, 0.5=PROBING, 0=DOWN)",
				},
				[]string{"backend"},
			),
			BackendRequestsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "shellproxy_backend_requests_total",
					Help: "Total number of requests sent to upstream origins",
				},
				[]string{"backend", "method", "code"},
			),
			BackendLatency: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "shellproxy_backend_latency_seconds",
					Help:    "Latency of requests to upstream origins in seconds",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"backend", "method"},
			),
			BackendBytesRead: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "shellproxy_backend_bytes_read_total",
					Help: "Total number of bytes announced by upstream responses",
				},
				[]string{"backend"},
			),
			ProbesTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "shellproxy_backend_probes_total",
					Help: "Total number of active health probes",
				},
				[]string{"backend", "result"},
			),
		}
	})
	return metrics
}
