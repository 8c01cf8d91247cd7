package routing

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	EventsTotal      *prometheus.CounterVec // События диспетчера по видам и результату
	ClassifiedTotal  *prometheus.CounterVec // Перехваченные запросы по классам
	PassThroughTotal *prometheus.CounterVec // Пропущенные без посредничества по причинам
}

var (
	metricsOnce sync.Once
	metrics     *Metrics
)

// NewMetrics возвращает метрики модуля; регистрация в Prometheus выполняется один раз на процесс
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		metrics = &Metrics{
			EventsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "shellproxy_dispatch_events_total",
					Help: "Total number of dispatched events",
				},
				[]string{"kind", "result"},
			),
			ClassifiedTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "shellproxy_classified_requests_total",
					Help: "Total number of intercepted requests by class",
				},
				[]string{"class"},
			),
			PassThroughTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "shellproxy_pass_through_requests_total",
					Help: "Total number of requests passed through unmediated",
				},
				[]string{"reason"}, // not_cacheable, not_controlling
			),
		}
	})
	return metrics
}
