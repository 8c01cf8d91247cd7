package lifecycle

import (
	"fmt"
	"strings"
	"time"
)

// Config содержит конфигурацию контроллера жизненного цикла
type Config struct {
	// Shell - пути ресурсов оболочки, предзагружаемых при установке
	Shell []string `yaml:"shell"`

	// SkipWaiting - активироваться сразу после успешной установки
	SkipWaiting bool `yaml:"skip_waiting"`

	// InstallConcurrency - сколько ресурсов оболочки загружать одновременно
	InstallConcurrency int `yaml:"install_concurrency"`

	// Повторы неудачной установки при старте
	InstallRetryInterval time.Duration `yaml:"install_retry_interval"`
	InstallMaxAttempts   int           `yaml:"install_max_attempts"`
}

// DefaultShell возвращает список ресурсов оболочки по умолчанию
func DefaultShell() []string {
	return []string{
		"/",
		"/workout",
		"/diet",
		"/progress",
		"/profile",
		"/offline.html",
		"/manifest.json",
		"/gymmatrix-logo.png",
		"/favicon.ico",
	}
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() *Config {
	return &Config{
		Shell:                DefaultShell(),
		SkipWaiting:          true,
		InstallConcurrency:   4,
		InstallRetryInterval: 10 * time.Second,
		InstallMaxAttempts:   0, // 0 - без ограничения
	}
}

// Validate проверяет корректность конфигурации
func (c *Config) Validate() error {
	if len(c.Shell) == 0 {
		return fmt.Errorf("shell list cannot be empty")
	}
	for _, path := range c.Shell {
		if !strings.HasPrefix(path, "/") {
			return fmt.Errorf("shell path must start with '/': %q", path)
		}
	}
	if c.InstallConcurrency <= 0 {
		return fmt.Errorf("install_concurrency must be positive")
	}
	if c.InstallRetryInterval <= 0 {
		return fmt.Errorf("install_retry_interval must be positive")
	}
	if c.InstallMaxAttempts < 0 {
		return fmt.Errorf("install_max_attempts cannot be negative")
	}
	return nil
}
