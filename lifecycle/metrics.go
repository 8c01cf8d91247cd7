package lifecycle

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	State            prometheus.Gauge       // Текущее состояние (числовой код State)
	InstallsTotal    *prometheus.CounterVec // Попытки установки: success/failure
	InstallDuration  prometheus.Histogram   // Длительность предзагрузки оболочки
	ActivationsTotal *prometheus.CounterVec
	SweptPartitions  prometheus.Counter     // Разделы, удаленные при активации
	CommandsTotal    *prometheus.CounterVec // Управляющие команды
}

var (
	metricsOnce sync.Once
	metrics     *Metrics
)

// NewMetrics возвращает метрики модуля; регистрация в Prometheus выполняется один раз на процесс
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		metrics = &Metrics{
			State: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "shellproxy_lifecycle_state",
					Help: "Current lifecycle state (0=parsed 1=installing 2=installed 3=activating 4=active 5=redundant)",
				},
			),
			InstallsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "shellproxy_lifecycle_installs_total",
					Help: "Total number of install attempts",
				},
				[]string{"result"},
			),
			InstallDuration: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "shellproxy_lifecycle_install_duration_seconds",
					Help:    "Duration of shell pre-warm",
					Buckets: prometheus.DefBuckets,
				},
			),
			ActivationsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "shellproxy_lifecycle_activations_total",
					Help: "Total number of activation attempts",
				},
				[]string{"result"},
			),
			SweptPartitions: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "shellproxy_lifecycle_swept_partitions_total",
					Help: "Total number of obsolete partitions deleted on activation",
				},
			),
			CommandsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "shellproxy_lifecycle_commands_total",
					Help: "Total number of control commands handled",
				},
				[]string{"command"},
			),
		}
	})
	return metrics
}
