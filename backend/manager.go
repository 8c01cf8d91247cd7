package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"

	"shellproxy/apigw"
	"shellproxy/logger"
)

// Точность квантилей задержки (относительная погрешность)
const latencyAccuracy = 0.01

// hopHeaders не передаются через прокси ни в одну сторону
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Manager реализует BackendProvider: выполняет запросы к источникам через общий
// http.Client и ведет состояние каждого хоста по пассивным отчетам и активным проверкам.
type Manager struct {
	config  ManagerConfig
	client  *http.Client
	metrics *Metrics

	mu       sync.RWMutex
	backends map[string]*Backend // по ID
	byHost   map[string]*Backend

	// Управление жизненным циклом
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewManager создает новый менеджер источников
func NewManager(cfg *Config) (*Manager, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config for backend manager not provided")
	}

	// Если ManagerConfig не передан, используем дефолтный
	managerConfig := cfg.Manager
	if managerConfig == (ManagerConfig{}) {
		managerConfig = DefaultManagerConfig()
		cfg = &Config{Manager: managerConfig, Origins: cfg.Origins}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if managerConfig.MaxIdleConnsPerHost > 0 {
		transport.MaxIdleConnsPerHost = managerConfig.MaxIdleConnsPerHost
	}

	manager := &Manager{
		config: managerConfig,
		client: &http.Client{
			Transport: transport,
			Timeout:   managerConfig.RequestTimeout,
			// Редиректы отдаются клиенту как есть
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		metrics:  NewMetrics(),
		backends: make(map[string]*Backend),
		byHost:   make(map[string]*Backend),
		stopChan: make(chan struct{}),
	}

	for id, originConfig := range cfg.Origins {
		backend, err := manager.createBackend(id, originConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create backend '%s': %w", id, err)
		}
		manager.register(backend)
	}

	logger.Info("Backend manager initialized with %d origins", len(manager.backends))
	for id, backend := range manager.backends {
		logger.Info("  - %s: %s (probe: %s)", id, backend.Config.URL, backend.probeURL)
	}

	return manager, nil
}

// createBackend создает активно проверяемый источник из конфигурации
func (m *Manager) createBackend(id string, cfg OriginConfig) (*Backend, error) {
	base, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, err
	}
	probePath := cfg.ProbePath
	if probePath == "" {
		probePath = "/"
	}
	probe, err := base.Parse(probePath)
	if err != nil {
		return nil, fmt.Errorf("invalid probe path %q: %w", probePath, err)
	}

	backend := newBackend(id, strings.ToLower(base.Host), m.config.InitialState)
	backend.Config = cfg
	backend.probeURL = probe
	return backend, nil
}

func newBackend(id, host string, state BackendState) *Backend {
	sketch, err := ddsketch.NewDefaultDDSketch(latencyAccuracy)
	if err != nil {
		logger.Warn("Backend '%s': latency sketch disabled: %v", id, err)
	}
	return &Backend{
		ID:          id,
		Host:        host,
		state:       state,
		windowStart: time.Now(),
		latency:     sketch,
	}
}

// register добавляет источник в индексы. Вызывается под m.mu или до запуска.
func (m *Manager) register(backend *Backend) {
	m.backends[backend.ID] = backend
	m.byHost[backend.Host] = backend
	m.metrics.BackendState.WithLabelValues(backend.ID).Set(backend.state.ToFloat64())
}

// backendFor возвращает источник для хоста URL. Незнакомые хосты заводятся
// на лету в состоянии UP и проверяются только пассивно.
func (m *Manager) backendFor(u *url.URL) *Backend {
	host := strings.ToLower(u.Host)

	m.mu.RLock()
	backend, ok := m.byHost[host]
	m.mu.RUnlock()
	if ok {
		return backend
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if backend, ok := m.byHost[host]; ok {
		return backend
	}
	backend = newBackend(host, host, StateUp)
	m.register(backend)
	logger.Debug("Discovered backend '%s'", host)
	return backend
}

// Fetch выполняет запрос к источнику. Ответ с любым кодом возвращается
// без ошибки; ошибка означает, что ответа не было.
func (m *Manager) Fetch(ctx context.Context, req *apigw.Request) (*apigw.Response, error) {
	if req == nil || req.URL == nil {
		return nil, fmt.Errorf("nil request")
	}
	backend := m.backendFor(req.URL)

	if m.config.ShortCircuitDown && backend.Probed() && backend.GetState() == StateDown {
		m.metrics.BackendRequestsTotal.WithLabelValues(backend.ID, req.Method, "short_circuit").Inc()
		return nil, fmt.Errorf("%w: %s", ErrBackendDown, backend.ID)
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL.String(), req.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to build upstream request: %w", err)
	}
	httpReq.Header = cloneHeaders(req.Headers)

	start := time.Now()
	resp, err := m.client.Do(httpReq)
	result := &BackendResult{
		BackendID: backend.ID,
		Method:    method,
		Duration:  time.Since(start),
	}

	if err != nil {
		result.Err = err
		if ctx.Err() != nil {
			// Клиент ушел сам: источник тут ни при чем
			m.observe(result)
		} else {
			m.ReportFailure(result)
		}
		return nil, fmt.Errorf("upstream %s: %w", backend.ID, err)
	}

	result.StatusCode = resp.StatusCode
	result.BytesRead = max(resp.ContentLength, 0)
	if resp.StatusCode >= http.StatusInternalServerError {
		result.Err = fmt.Errorf("%w: %d", ErrUpstreamStatus, resp.StatusCode)
		m.ReportFailure(result)
	} else {
		m.ReportSuccess(result)
	}

	logger.Debug("Upstream %s %s -> %d in %v", method, req.URL, resp.StatusCode, result.Duration)

	return &apigw.Response{
		StatusCode: resp.StatusCode,
		Headers:    cloneHeaders(resp.Header),
		Body:       resp.Body,
		Source:     apigw.SourceNetwork,
	}, nil
}

// cloneHeaders копирует заголовки без hop-by-hop
func cloneHeaders(h http.Header) http.Header {
	out := h.Clone()
	if out == nil {
		return make(http.Header)
	}
	for _, name := range strings.Split(out.Get("Connection"), ",") {
		if name = strings.TrimSpace(name); name != "" {
			out.Del(name)
		}
	}
	for _, name := range hopHeaders {
		out.Del(name)
	}
	return out
}

// Start запускает менеджер источников
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("backend manager is already running")
	}

	logger.Info("Starting backend manager...")

	// Запускаем горутину для активных проверок здоровья
	m.wg.Add(1)
	go m.runHealthChecks(m.stopChan)

	m.running = true
	logger.Info("Backend manager started")

	return nil
}

// Stop останавливает менеджер источников
func (m *Manager) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	logger.Info("Stopping backend manager...")
	close(m.stopChan)
	m.stopChan = make(chan struct{})
	m.running = false
	m.mu.Unlock()

	// Ждем без блокировки: проверки берут m.mu на чтение
	m.wg.Wait()
	m.client.CloseIdleConnections()

	logger.Info("Backend manager stopped")
	return nil
}

// IsRunning возвращает true, если менеджер запущен
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// GetLiveBackends возвращает список источников в состоянии UP
func (m *Manager) GetLiveBackends() []*Backend {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var liveBackends []*Backend
	for _, backend := range m.backends {
		if backend.GetState() == StateUp {
			liveBackends = append(liveBackends, backend)
		}
	}

	logger.Debug("GetLiveBackends: returning %d out of %d backends", len(liveBackends), len(m.backends))
	return liveBackends
}

// GetAllBackends возвращает список всех источников
func (m *Manager) GetAllBackends() []*Backend {
	m.mu.RLock()
	defer m.mu.RUnlock()

	backends := make([]*Backend, 0, len(m.backends))
	for _, backend := range m.backends {
		backends = append(backends, backend)
	}

	return backends
}

// GetBackend возвращает источник по ID
func (m *Manager) GetBackend(id string) (*Backend, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	backend, exists := m.backends[id]
	return backend, exists
}

// Stats возвращает статистику источников, упорядоченную по ID
func (m *Manager) Stats() []BackendStats {
	backends := m.GetAllBackends()
	stats := make([]BackendStats, 0, len(backends))
	for _, backend := range backends {
		stats = append(stats, backend.Snapshot())
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].ID < stats[j].ID })
	return stats
}

// isBenignError классифицирует ошибку как "безопасную", если она не указывает
// на проблему с источником: запрос отменил сам клиент.
// Таймауты http.Client сюда не относятся.
func isBenignError(err error) bool {
	if err == nil {
		return true
	}
	return errors.Is(err, context.Canceled)
}

// ReportSuccess сообщает об успешном запросе.
// Если источник был в состоянии DOWN, успешный запрос возвращает его в строй.
func (m *Manager) ReportSuccess(result *BackendResult) {
	backend, exists := m.GetBackend(result.BackendID)
	if !exists {
		logger.Warn("ReportSuccess: backend '%s' not found", result.BackendID)
		return
	}

	backend.mu.Lock()
	defer backend.mu.Unlock()

	// Сбрасываем счетчики неудач
	backend.consecutiveFailures = 0
	backend.consecutiveSuccesses++
	backend.recentFailures = 0 // Успех сбрасывает окно Circuit Breaker
	backend.lastError = nil
	backend.observeLatency(result.Duration)

	switch {
	case backend.state == StateDown:
		logger.Info("Backend '%s' is back online after a successful request.", result.BackendID)
		setBackendState(m, backend, StateUp)
	case backend.state == StateProbing && backend.consecutiveSuccesses >= m.config.SuccessThreshold:
		setBackendState(m, backend, StateUp)
	}

	logger.Debug("ReportSuccess: backend '%s', consecutive successes: %d",
		result.BackendID, backend.consecutiveSuccesses)

	m.observe(result)
}

// ReportFailure сообщает о неудачном запросе, учитывая тип ошибки
func (m *Manager) ReportFailure(result *BackendResult) {
	backend, exists := m.GetBackend(result.BackendID)
	if !exists {
		logger.Warn("ReportFailure: backend '%s' not found", result.BackendID)
		return
	}

	if isBenignError(result.Err) {
		logger.Debug("ReportFailure: benign error on backend '%s', not affecting circuit breaker: %v",
			result.BackendID, result.Err)
		m.observe(result)
		return
	}

	backend.mu.Lock()
	defer backend.mu.Unlock()

	backend.consecutiveSuccesses = 0
	backend.consecutiveFailures++
	backend.lastError = result.Err
	if result.StatusCode != 0 {
		backend.observeLatency(result.Duration)
	}

	// Обновляем окно Circuit Breaker
	now := time.Now()
	if now.Sub(backend.windowStart) > m.config.CircuitBreakerWindow {
		backend.recentFailures = 1
		backend.windowStart = now
	} else {
		backend.recentFailures++
	}

	logger.Warn("ReportFailure: failure on backend '%s', consecutive: %d, recent: %d. Error: %v",
		result.BackendID, backend.consecutiveFailures, backend.recentFailures, result.Err)

	if backend.state != StateDown && backend.recentFailures >= m.config.CircuitBreakerThreshold {
		logger.Error("Circuit breaker triggered for backend '%s': %d failures in %v. Setting state to DOWN.",
			result.BackendID, backend.recentFailures, now.Sub(backend.windowStart))
		setBackendState(m, backend, StateDown)
	}

	m.observe(result)
}

func (m *Manager) observe(result *BackendResult) {
	code := "error"
	if result.StatusCode != 0 {
		code = strconv.Itoa(result.StatusCode)
	}
	m.metrics.BackendRequestsTotal.WithLabelValues(result.BackendID, result.Method, code).Inc()
	m.metrics.BackendLatency.WithLabelValues(result.BackendID, result.Method).Observe(result.Duration.Seconds())
	m.metrics.BackendBytesRead.WithLabelValues(result.BackendID).Add(float64(result.BytesRead))
}

// runHealthChecks выполняет активные проверки здоровья в фоновом режиме
func (m *Manager) runHealthChecks(stop <-chan struct{}) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.HealthCheckInterval)
	defer ticker.Stop()

	logger.Debug("Doing initial health check")
	m.performHealthChecks()

	logger.Debug("Health check routine started with interval %v", m.config.HealthCheckInterval)
	for {
		select {
		case <-ticker.C:
			m.performHealthChecks()
		case <-stop:
			logger.Debug("Health check routine stopped")
			return
		}
	}
}

// performHealthChecks проверяет все активно проверяемые источники
func (m *Manager) performHealthChecks() {
	var backends []*Backend
	for _, backend := range m.GetAllBackends() {
		if backend.Probed() {
			backends = append(backends, backend)
		}
	}

	logger.Debug("Performing health checks for %d backends", len(backends))

	var wg sync.WaitGroup
	for _, backend := range backends {
		wg.Add(1)
		go func(b *Backend) {
			defer wg.Done()
			m.checkBackend(b)
		}(backend)
	}

	wg.Wait()
	logger.Debug("Health checks completed")
}

// probe выполняет HEAD к адресу проверки. Любой ответ ниже 500 считается успехом.
func (m *Manager) probe(backend *Backend) error {
	ctx, cancel := context.WithTimeout(context.Background(), m.config.CheckTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, backend.probeURL.String(), nil)
	if err != nil {
		return err
	}
	start := time.Now()
	resp, err := m.client.Do(req)
	result := "success"
	defer func() {
		m.metrics.ProbesTotal.WithLabelValues(backend.ID, result).Inc()
		m.metrics.BackendLatency.WithLabelValues(backend.ID, http.MethodHead).Observe(time.Since(start).Seconds())
	}()
	if err != nil {
		result = "failure"
		return err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		result = "failure"
		return fmt.Errorf("%w: %d", ErrUpstreamStatus, resp.StatusCode)
	}
	return nil
}

// checkBackend выполняет проверку одного источника
func (m *Manager) checkBackend(backend *Backend) {
	logger.Debug("Checking backend %s (state: %s)", backend.ID, backend.GetState())

	err := m.probe(backend)

	backend.mu.Lock()
	defer backend.mu.Unlock()

	backend.lastCheckTime = time.Now()
	oldState := backend.state

	if err != nil {
		backend.lastError = err
		backend.consecutiveSuccesses = 0
		backend.consecutiveFailures++

		logger.Debug("Backend %s health check failed: %v (consecutive failures: %d)",
			backend.ID, err, backend.consecutiveFailures)

		switch backend.state {
		case StateUp:
			if backend.consecutiveFailures >= m.config.FailureThreshold {
				setBackendState(m, backend, StateDown)
				logger.Warn("Backend %s transitioned from UP to DOWN after %d consecutive failures",
					backend.ID, backend.consecutiveFailures)
			}
		case StateProbing:
			// Из PROBING сразу в DOWN при любой неудаче
			setBackendState(m, backend, StateDown)
			logger.Warn("Backend %s transitioned from PROBING to DOWN after health check failure", backend.ID)
		case StateDown:
		}
	} else {
		backend.lastError = nil
		backend.consecutiveFailures = 0
		backend.consecutiveSuccesses++

		logger.Debug("Backend %s health check succeeded (consecutive successes: %d)",
			backend.ID, backend.consecutiveSuccesses)

		switch backend.state {
		case StateDown:
			// Из DOWN в PROBING при первом успехе
			setBackendState(m, backend, StateProbing)
			logger.Info("Backend %s transitioned from DOWN to PROBING after successful health check", backend.ID)
		case StateProbing:
			if backend.consecutiveSuccesses >= m.config.SuccessThreshold {
				setBackendState(m, backend, StateUp)
				logger.Info("Backend %s transitioned from PROBING to UP after %d consecutive successes",
					backend.ID, backend.consecutiveSuccesses)
			}
		case StateUp:
		}
	}

	if oldState != backend.state {
		logger.Info("Backend %s state changed: %s -> %s", backend.ID, oldState, backend.state)
	}
}

func setBackendState(m *Manager, backend *Backend, state BackendState) {
	backend.state = state
	m.metrics.BackendState.WithLabelValues(backend.ID).Set(backend.state.ToFloat64())
}
