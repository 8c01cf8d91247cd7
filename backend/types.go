package backend

import (
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"
)

// BackendState представляет состояние источника
type BackendState string

const (
	StateUp      BackendState = "UP"      // Источник отвечает
	StateDown    BackendState = "DOWN"    // Источник недоступен
	StateProbing BackendState = "PROBING" // Промежуточное состояние - проверка восстановления
)

// String возвращает строковое представление состояния
func (s BackendState) String() string {
	return string(s)
}

// ToFloat64 возвращает числовое представление состояния для метрик Prometheus
func (s BackendState) ToFloat64() float64 {
	switch s {
	case StateUp:
		return 1.0
	case StateProbing:
		return 0.5
	case StateDown:
		return 0.0
	default:
		return 0.0
	}
}

var (
	// ErrBackendDown - источник помечен как DOWN, запрос не отправлялся
	ErrBackendDown = errors.New("backend is down")

	// ErrUpstreamStatus - источник ответил кодом 5xx
	ErrUpstreamStatus = errors.New("upstream error status")
)

// OriginConfig содержит конфигурацию одного источника
type OriginConfig struct {
	URL       string `yaml:"url"`        // Базовый URL источника, например http://localhost:5173
	ProbePath string `yaml:"probe_path"` // Путь для активной проверки (HEAD)
}

// Backend - один источник (хост) с его состоянием и статистикой задержек
type Backend struct {
	ID     string
	Config OriginConfig
	Host   string

	probeURL *url.URL // nil - активная проверка отключена

	// Внутреннее состояние, защищенное мьютексом
	mu                   sync.RWMutex
	state                BackendState
	lastError            error
	lastCheckTime        time.Time
	consecutiveFailures  int // Количество последовательных неудач
	consecutiveSuccesses int // Количество последовательных успехов

	// Статистика для Circuit Breaker
	recentFailures int       // Количество неудач в скользящем окне
	windowStart    time.Time // Начало текущего окна

	requests int64
	latency  *ddsketch.DDSketch // миллисекунды
}

// BackendResult представляет результат одного запроса к источнику
type BackendResult struct {
	BackendID  string
	Method     string // HTTP метод или "PROBE"
	StatusCode int    // 0, если ответа не было
	Err        error
	Duration   time.Duration
	BytesRead  int64
}

// BackendStats - снимок состояния источника для /stats
type BackendStats struct {
	ID                  string       `json:"id"`
	Host                string       `json:"host"`
	State               BackendState `json:"state"`
	LastError           string       `json:"last_error,omitempty"`
	LastCheck           time.Time    `json:"last_check"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	Requests            int64        `json:"requests"`
	LatencyP50Ms        float64      `json:"latency_p50_ms"`
	LatencyP90Ms        float64      `json:"latency_p90_ms"`
	LatencyP99Ms        float64      `json:"latency_p99_ms"`
}

// GetState возвращает текущее состояние источника (потокобезопасно)
func (b *Backend) GetState() BackendState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// GetLastError возвращает последнюю ошибку (потокобезопасно)
func (b *Backend) GetLastError() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastError
}

// GetLastCheckTime возвращает время последней проверки (потокобезопасно)
func (b *Backend) GetLastCheckTime() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastCheckTime
}

// GetStats возвращает счетчики Circuit Breaker (потокобезопасно)
func (b *Backend) GetStats() (consecutiveFailures, consecutiveSuccesses, recentFailures int) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.consecutiveFailures, b.consecutiveSuccesses, b.recentFailures
}

// Probed сообщает, проверяется ли источник активно
func (b *Backend) Probed() bool {
	return b.probeURL != nil
}

// observeLatency учитывает длительность запроса. Вызывается под b.mu.
func (b *Backend) observeLatency(d time.Duration) {
	b.requests++
	if b.latency == nil {
		return
	}
	_ = b.latency.Add(float64(d.Microseconds()) / 1000.0)
}

// Snapshot возвращает статистику источника с квантилями задержек
func (b *Backend) Snapshot() BackendStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	stats := BackendStats{
		ID:                  b.ID,
		Host:                b.Host,
		State:               b.state,
		LastCheck:           b.lastCheckTime,
		ConsecutiveFailures: b.consecutiveFailures,
		Requests:            b.requests,
	}
	if b.lastError != nil {
		stats.LastError = b.lastError.Error()
	}
	if b.latency != nil && !b.latency.IsEmpty() {
		stats.LatencyP50Ms, _ = b.latency.GetValueAtQuantile(0.5)
		stats.LatencyP90Ms, _ = b.latency.GetValueAtQuantile(0.9)
		stats.LatencyP99Ms, _ = b.latency.GetValueAtQuantile(0.99)
	}
	return stats
}

// BackendProvider - интерфейс для получения информации об источниках
type BackendProvider interface {
	// GetLiveBackends возвращает источники в состоянии UP
	GetLiveBackends() []*Backend

	// GetAllBackends возвращает все известные источники
	GetAllBackends() []*Backend

	// GetBackend возвращает источник по ID
	GetBackend(id string) (*Backend, bool)

	// ReportSuccess сообщает об успешном запросе (пассивная проверка)
	ReportSuccess(result *BackendResult)

	// ReportFailure сообщает о неудачном запросе (пассивная проверка)
	ReportFailure(result *BackendResult)

	// Stats возвращает снимки статистики всех источников
	Stats() []BackendStats

	// Start запускает активные проверки
	Start() error

	// Stop останавливает активные проверки
	Stop() error

	// IsRunning возвращает true, если менеджер запущен
	IsRunning() bool
}
