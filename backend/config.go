package backend

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ManagerConfig содержит конфигурацию для менеджера источников
type ManagerConfig struct {
	// HealthCheckInterval - интервал между активными проверками здоровья
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`

	// CheckTimeout - таймаут для одной проверки здоровья
	CheckTimeout time.Duration `yaml:"check_timeout"`

	// FailureThreshold - количество последовательных неудач для перехода в DOWN
	FailureThreshold int `yaml:"failure_threshold"`

	// SuccessThreshold - количество последовательных успехов для перехода из PROBING в UP
	SuccessThreshold int `yaml:"success_threshold"`

	// CircuitBreakerWindow - размер скользящего окна для Circuit Breaker
	CircuitBreakerWindow time.Duration `yaml:"circuit_breaker_window"`

	// CircuitBreakerThreshold - количество ошибок в окне для срабатывания Circuit Breaker
	CircuitBreakerThreshold int `yaml:"circuit_breaker_threshold"`

	// InitialState - начальное состояние источников при запуске
	InitialState BackendState `yaml:"initial_state"`

	// ShortCircuitDown - не ходить в сеть к активно проверяемому источнику в состоянии DOWN
	ShortCircuitDown bool `yaml:"short_circuit_down"`

	// RequestTimeout - общий таймаут запроса к источнику, включая чтение тела
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// MaxIdleConnsPerHost - размер пула keep-alive соединений на хост
	MaxIdleConnsPerHost int `yaml:"max_idle_conns_per_host"`
}

// Config содержит полную конфигурацию модуля
type Config struct {
	Manager ManagerConfig           `yaml:"manager"`
	Origins map[string]OriginConfig `yaml:"origins"`
}

// DefaultManagerConfig возвращает конфигурацию менеджера по умолчанию
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		HealthCheckInterval:     15 * time.Second,
		CheckTimeout:            5 * time.Second,
		FailureThreshold:        3,
		SuccessThreshold:        2,
		CircuitBreakerWindow:    60 * time.Second,
		CircuitBreakerThreshold: 5,
		InitialState:            StateProbing, // Начинаем с проверки
		ShortCircuitDown:        true,
		RequestTimeout:          30 * time.Second,
		MaxIdleConnsPerHost:     16,
	}
}

// DefaultConfig возвращает конфигурацию по умолчанию. Источник приложения
// добавляется при запуске из server.origin.
func DefaultConfig() *Config {
	return &Config{
		Manager: DefaultManagerConfig(),
		Origins: map[string]OriginConfig{},
	}
}

// Validate проверяет корректность конфигурации
func (c *Config) Validate() error {
	if err := c.Manager.Validate(); err != nil {
		return fmt.Errorf("invalid manager config: %w", err)
	}

	hosts := make(map[string]string, len(c.Origins))
	for id, origin := range c.Origins {
		if err := origin.Validate(); err != nil {
			return fmt.Errorf("invalid origin config '%s': %w", id, err)
		}
		host := origin.host()
		if other, ok := hosts[host]; ok {
			return fmt.Errorf("origins '%s' and '%s' share host %s", other, id, host)
		}
		hosts[host] = id
	}

	return nil
}

// Validate проверяет корректность конфигурации менеджера
func (mc *ManagerConfig) Validate() error {
	if mc.HealthCheckInterval <= 0 {
		return fmt.Errorf("health_check_interval must be positive")
	}

	if mc.CheckTimeout <= 0 {
		return fmt.Errorf("check_timeout must be positive")
	}

	if mc.CheckTimeout >= mc.HealthCheckInterval {
		return fmt.Errorf("check_timeout must be less than health_check_interval")
	}

	if mc.FailureThreshold <= 0 {
		return fmt.Errorf("failure_threshold must be positive")
	}

	if mc.SuccessThreshold <= 0 {
		return fmt.Errorf("success_threshold must be positive")
	}

	if mc.CircuitBreakerWindow <= 0 {
		return fmt.Errorf("circuit_breaker_window must be positive")
	}

	if mc.CircuitBreakerThreshold <= 0 {
		return fmt.Errorf("circuit_breaker_threshold must be positive")
	}

	if mc.InitialState != StateUp && mc.InitialState != StateDown && mc.InitialState != StateProbing {
		return fmt.Errorf("initial_state must be one of: UP, DOWN, PROBING")
	}

	if mc.RequestTimeout < 0 {
		return fmt.Errorf("request_timeout cannot be negative")
	}

	if mc.MaxIdleConnsPerHost < 0 {
		return fmt.Errorf("max_idle_conns_per_host cannot be negative")
	}

	return nil
}

// Validate проверяет корректность конфигурации источника
func (oc *OriginConfig) Validate() error {
	if oc.URL == "" {
		return fmt.Errorf("url cannot be empty")
	}

	u, err := url.Parse(oc.URL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url must be http or https: %s", oc.URL)
	}
	if u.Host == "" {
		return fmt.Errorf("url must contain a host: %s", oc.URL)
	}

	if oc.ProbePath != "" && !strings.HasPrefix(oc.ProbePath, "/") {
		return fmt.Errorf("probe_path must start with '/'")
	}

	return nil
}

// host возвращает хост источника в нижнем регистре
func (oc *OriginConfig) host() string {
	u, err := url.Parse(oc.URL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}
