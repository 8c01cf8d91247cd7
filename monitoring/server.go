package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"shellproxy/backend"
	"shellproxy/cache"
	"shellproxy/lifecycle"
	"shellproxy/logger"
)

// LifecycleState сообщает состояние контроллера жизненного цикла
type LifecycleState interface {
	State() lifecycle.State
}

// BackendStatsProvider возвращает статистику источников
type BackendStatsProvider interface {
	Stats() []backend.BackendStats
}

// PartitionStatsProvider возвращает размеры разделов кэша
type PartitionStatsProvider interface {
	Stats(ctx context.Context) ([]cache.PartitionStats, error)
}

// Sources - компоненты, о которых сервер отчитывается. Любое поле может быть nil.
type Sources struct {
	Lifecycle  LifecycleState
	Backends   BackendStatsProvider
	Partitions PartitionStatsProvider
}

// StatsReport - тело ответа /stats
type StatsReport struct {
	Lifecycle  string                 `json:"lifecycle"`
	Backends   []backend.BackendStats `json:"backends"`
	Partitions []cache.PartitionStats `json:"partitions"`
	Error      string                 `json:"error,omitempty"`
}

// Server представляет HTTP сервер для метрик, проверок здоровья и статистики
type Server struct {
	config       *Config
	sources      Sources
	metrics      *Metrics
	server       *http.Server
	listener     net.Listener
	shuttingDown atomic.Bool

	// Канал для остановки сбора системных метрик
	stopSystemMetrics chan struct{}
	stopOnce          sync.Once
	wg                sync.WaitGroup
}

// NewServer создает новый сервер мониторинга
func NewServer(config *Config, sources Sources) *Server {
	if config == nil {
		config = DefaultConfig()
	}

	return &Server{
		config:            config,
		sources:           sources,
		metrics:           NewMetrics(),
		stopSystemMetrics: make(chan struct{}),
	}
}

// Handler возвращает мультиплексор со всеми эндпоинтами
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(s.config.MetricsPath, promhttp.Handler())
	mux.HandleFunc("/health/live", s.liveHealthHandler)
	mux.HandleFunc("/health/ready", s.readyHealthHandler)
	mux.HandleFunc(s.config.StatsPath, s.statsHandler)
	return mux
}

// Start запускает HTTP сервер и сбор системных метрик
func (s *Server) Start() error {
	if !s.config.Enabled {
		logger.Info("Monitoring is disabled, skipping metrics server start")
		return nil
	}

	// Слушаем синхронно, чтобы ошибка привязки вернулась вызывающему
	listener, err := net.Listen("tcp", s.config.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.ListenAddress, err)
	}
	s.listener = listener

	s.server = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	go func() {
		logger.Info("Metrics server listening on %s%s", listener.Addr(), s.config.MetricsPath)
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			logger.Error("Metrics server failed: %v", err)
		}
	}()

	if s.config.EnableSystemMetrics {
		s.wg.Add(1)
		go s.collectSystemMetrics()
	}

	return nil
}

// Addr возвращает фактический адрес сервера (полезно при ":0")
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// SetShuttingDown переводит /health/ready в 503 на время graceful shutdown
func (s *Server) SetShuttingDown() {
	s.shuttingDown.Store(true)
}

// Stop останавливает HTTP сервер метрик
func (s *Server) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stopSystemMetrics) })
	s.wg.Wait()

	if !s.config.Enabled || s.server == nil {
		return nil
	}

	logger.Info("Stopping metrics server...")
	return s.server.Shutdown(ctx)
}

func (s *Server) collectSystemMetrics() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.SystemMetricsInterval)
	defer ticker.Stop()

	s.updateSystemMetrics()
	for {
		select {
		case <-ticker.C:
			s.updateSystemMetrics()
		case <-s.stopSystemMetrics:
			return
		}
	}
}

// updateSystemMetrics снимает текущие значения системных метрик
func (s *Server) updateSystemMetrics() {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	s.metrics.MemoryUsage.Set(float64(mem.HeapInuse))
	s.metrics.Goroutines.Set(float64(runtime.NumGoroutine()))

	if s.sources.Lifecycle != nil {
		ready := 0.0
		if s.sources.Lifecycle.State() == lifecycle.StateActive {
			ready = 1
		}
		s.metrics.Ready.Set(ready)
	}

	if s.sources.Partitions == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.config.SystemMetricsInterval)
	defer cancel()
	stats, err := s.sources.Partitions.Stats(ctx)
	if err != nil {
		logger.Warn("Failed to collect partition stats: %v", err)
		return
	}
	// Удаленные разделы не должны висеть в метриках
	s.metrics.PartitionEntries.Reset()
	for _, p := range stats {
		s.metrics.PartitionEntries.WithLabelValues(p.Name).Set(float64(p.Entries))
	}
	s.metrics.Partitions.Set(float64(len(stats)))
}

// liveHealthHandler обрабатывает запросы /health/live
func (s *Server) liveHealthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok"}`)
}

// readyHealthHandler обрабатывает запросы /health/ready: готов, когда
// контроллер активирован и перехватывает запросы
func (s *Server) readyHealthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if s.shuttingDown.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintf(w, `{"status":"shutting down"}`)
		return
	}

	if s.sources.Lifecycle != nil {
		if state := s.sources.Lifecycle.State(); state != lifecycle.StateActive {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(w, `{"status":"not ready","lifecycle":%q}`, state)
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","lifecycle":"active"}`)
}

// statsHandler отдает статистику источников и разделов кэша
func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	report := StatsReport{
		Backends:   []backend.BackendStats{},
		Partitions: []cache.PartitionStats{},
	}
	if s.sources.Lifecycle != nil {
		report.Lifecycle = s.sources.Lifecycle.State().String()
	}
	if s.sources.Backends != nil {
		report.Backends = s.sources.Backends.Stats()
	}

	status := http.StatusOK
	if s.sources.Partitions != nil {
		stats, err := s.sources.Partitions.Stats(r.Context())
		if err != nil {
			status = http.StatusInternalServerError
			report.Error = err.Error()
		} else {
			report.Partitions = stats
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(report); err != nil {
		logger.Debug("Failed to write stats: %v", err)
	}
}
