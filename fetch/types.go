package fetch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"shellproxy/apigw"
)

// ErrBadStatus - сеть ответила, но код вне диапазона 2xx.
// Для цепочек отката это то же самое, что сетевая ошибка.
var ErrBadStatus = errors.New("upstream returned non-success status")

// Network - источник сетевых ответов (в рабочем режиме это backend.Manager)
type Network interface {
	Fetch(ctx context.Context, req *apigw.Request) (*apigw.Response, error)
}

// Strategy - имя стратегии, используется в логах и метках метрик
type Strategy string

const (
	StrategyCacheFirst           Strategy = "cache_first"
	StrategyNetworkFirst         Strategy = "network_first"
	StrategyStaleWhileRevalidate Strategy = "stale_while_revalidate"
	StrategyNavigation           Strategy = "navigation"
)

// Config содержит конфигурацию исполнителя стратегий
type Config struct {
	// RootPath - путь оболочки одностраничного приложения (второй шаг цепочки навигации)
	RootPath string `yaml:"root_path"`

	// OfflinePath - путь офлайн-заглушки (третий шаг цепочки навигации)
	OfflinePath string `yaml:"offline_path"`
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() *Config {
	return &Config{
		RootPath:    "/",
		OfflinePath: "/offline.html",
	}
}

// Validate проверяет корректность конфигурации
func (c *Config) Validate() error {
	if !strings.HasPrefix(c.RootPath, "/") {
		return fmt.Errorf("root_path must start with '/': %q", c.RootPath)
	}
	if !strings.HasPrefix(c.OfflinePath, "/") {
		return fmt.Errorf("offline_path must start with '/': %q", c.OfflinePath)
	}
	return nil
}
