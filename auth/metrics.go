package auth

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	AuthRequestsTotal *prometheus.CounterVec   // Количество запросов аутентификации
	AuthLatency       *prometheus.HistogramVec // Латентность аутентификации
}

var (
	metricsOnce sync.Once
	metrics     *Metrics
)

func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		metrics = &Metrics{
			AuthRequestsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "shellproxy_auth_requests_total",
					Help: "Total number of control channel authentication requests",
				},
				[]string{"result"}, // success/failure/error
			),
			AuthLatency: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "shellproxy_auth_latency_seconds",
					Help:    "Latency of authentication requests in seconds",
					Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
				},
				[]string{"result"},
			),
		}
	})
	return metrics
}
