package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"shellproxy/apigw"
	"shellproxy/auth"
	"shellproxy/backend"
	"shellproxy/cache"
	"shellproxy/fetch"
	"shellproxy/lifecycle"
	"shellproxy/logger"
	"shellproxy/monitoring"
	"shellproxy/routing"
)

// AppConfig содержит полную конфигурацию приложения
type AppConfig struct {
	// Конфигурация API Gateway
	Server ServerConfig `yaml:"server"`

	// Конфигурация логирования
	Logging LoggingConfig `yaml:"logging"`

	// Аутентификация управляющего канала
	Auth auth.Config `yaml:"auth"`

	// Источники (сеть)
	Backend backend.Config `yaml:"backend"`

	// Хранилище разделов кэша
	Cache cache.Config `yaml:"cache"`

	// Правила классификации запросов
	Routing routing.Config `yaml:"routing"`

	// Стратегии выборки
	Fetch fetch.Config `yaml:"fetch"`

	// Установка и активация
	Lifecycle lifecycle.Config `yaml:"lifecycle"`

	// Конфигурация мониторинга
	Monitoring monitoring.Config `yaml:"monitoring"`
}

// ServerConfig содержит конфигурацию HTTP сервера
type ServerConfig struct {
	ListenAddress    string        `yaml:"listen_address"`
	Origin           string        `yaml:"origin"`
	MessagePath      string        `yaml:"message_path"`
	NavigateByAccept bool          `yaml:"navigate_by_accept"`
	TLSCertFile      string        `yaml:"tls_cert_file"`
	TLSKeyFile       string        `yaml:"tls_key_file"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout"`
	UseMock          bool          `yaml:"use_mock"`
}

// LoggingConfig содержит конфигурацию логирования
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultAppConfig возвращает конфигурацию по умолчанию
func DefaultAppConfig() *AppConfig {
	gw := apigw.DefaultConfig()
	return &AppConfig{
		Server: ServerConfig{
			ListenAddress:    gw.ListenAddress,
			Origin:           gw.Origin,
			MessagePath:      gw.MessagePath,
			NavigateByAccept: gw.NavigateByAccept,
			ReadTimeout:      gw.ReadTimeout,
			WriteTimeout:     gw.WriteTimeout,
			ShutdownTimeout:  30 * time.Second,
			UseMock:          false,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Auth:       *auth.DefaultConfig(),
		Backend:    *backend.DefaultConfig(),
		Cache:      *cache.DefaultConfig(),
		Routing:    *routing.DefaultConfig(),
		Fetch:      *fetch.DefaultConfig(),
		Lifecycle:  *lifecycle.DefaultConfig(),
		Monitoring: *monitoring.DefaultConfig(),
	}
}

// LoadConfig загружает конфигурацию из файла поверх значений по умолчанию
func LoadConfig(filename string) (*AppConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filename, err)
	}

	config := DefaultAppConfig()

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filename, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Validate проверяет корректность конфигурации
func (c *AppConfig) Validate() error {
	if c.Server.ListenAddress == "" {
		return fmt.Errorf("server.listen_address cannot be empty")
	}

	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be positive")
	}

	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be positive")
	}

	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be positive")
	}

	if (c.Server.TLSCertFile != "" && c.Server.TLSKeyFile == "") ||
		(c.Server.TLSCertFile == "" && c.Server.TLSKeyFile != "") {
		return fmt.Errorf("both tls_cert_file and tls_key_file must be specified for TLS")
	}

	if err := c.ToAPIGatewayConfig().Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}

	if !logger.IsValidLevel(c.Logging.Level) {
		return fmt.Errorf("invalid logging level: %s", c.Logging.Level)
	}

	if err := c.Auth.Validate(); err != nil {
		return fmt.Errorf("auth config: %w", err)
	}

	if err := c.Backend.Validate(); err != nil {
		return fmt.Errorf("backend config: %w", err)
	}

	if err := c.Cache.Validate(); err != nil {
		return fmt.Errorf("cache config: %w", err)
	}

	if err := c.Routing.Validate(); err != nil {
		return fmt.Errorf("routing config: %w", err)
	}

	if err := c.Fetch.Validate(); err != nil {
		return fmt.Errorf("fetch config: %w", err)
	}

	if err := c.Lifecycle.Validate(); err != nil {
		return fmt.Errorf("lifecycle config: %w", err)
	}

	if err := c.Monitoring.Validate(); err != nil {
		return fmt.Errorf("monitoring config: %w", err)
	}

	return nil
}

// ToAPIGatewayConfig преобразует в конфигурацию API Gateway
func (c *AppConfig) ToAPIGatewayConfig() apigw.Config {
	return apigw.Config{
		ListenAddress:    c.Server.ListenAddress,
		TLSCertFile:      c.Server.TLSCertFile,
		TLSKeyFile:       c.Server.TLSKeyFile,
		ReadTimeout:      c.Server.ReadTimeout,
		WriteTimeout:     c.Server.WriteTimeout,
		Origin:           c.Server.Origin,
		MessagePath:      c.Server.MessagePath,
		NavigateByAccept: c.Server.NavigateByAccept,
	}
}

// SaveConfig сохраняет конфигурацию в файл (для генерации примера)
func (c *AppConfig) SaveConfig(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", filename, err)
	}

	return nil
}
