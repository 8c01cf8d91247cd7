package apigw

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Общие метрики запросов
	RequestsTotal  *prometheus.CounterVec   // Количество обработанных запросов
	RequestLatency *prometheus.HistogramVec // Латентность запросов
	MessagesTotal  *prometheus.CounterVec   // Сообщения управляющего канала
}

var (
	metricsOnce sync.Once
	metrics     *Metrics
)

// NewMetrics возвращает метрики модуля; регистрация в Prometheus выполняется один раз на процесс
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		metrics = &Metrics{
			RequestsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "shellproxy_apigw_requests_total",
					Help: "Total number of processed requests",
				},
				[]string{"method", "code", "source"},
			),
			RequestLatency: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "shellproxy_apigw_request_latency_seconds",
					Help:    "Latency of proxied requests in seconds",
					Buckets: prometheus.DefBuckets, // Стандартные бакеты времени
				},
				[]string{"method", "source"},
			),
			MessagesTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "shellproxy_apigw_messages_total",
					Help: "Total number of control channel messages",
				},
				[]string{"type", "result"},
			),
		}
	})
	return metrics
}
