package routing

import (
	"context"
	"fmt"
	"regexp"

	"shellproxy/apigw"
	"shellproxy/lifecycle"
)

// Class - результат классификации запроса
type Class int

const (
	ClassDefault Class = iota
	ClassStaticAsset
	ClassNetworkFirst
	ClassNavigation
)

func (c Class) String() string {
	switch c {
	case ClassStaticAsset:
		return "static_asset"
	case ClassNetworkFirst:
		return "network_first"
	case ClassNavigation:
		return "navigation"
	default:
		return "default"
	}
}

// StrategyExecutor - интерфейс для модуля, исполняющего стратегии кэширования
type StrategyExecutor interface {
	// CacheFirst отдает снимок из раздела partition, при промахе идет в сеть
	CacheFirst(ctx context.Context, req *apigw.Request, partition string) *apigw.Response

	// NetworkFirst идет в сеть, при сбое откатывается на кэш
	NetworkFirst(ctx context.Context, req *apigw.Request) *apigw.Response

	// StaleWhileRevalidate отдает снимок сразу и обновляет его в фоне
	StaleWhileRevalidate(ctx context.Context, req *apigw.Request) *apigw.Response

	// Navigation - сеть, затем цепочка отката навигации
	Navigation(ctx context.Context, req *apigw.Request) *apigw.Response
}

// Lifecycle - интерфейс контроллера жизненного цикла
type Lifecycle interface {
	Install(ctx context.Context) error
	Activate(ctx context.Context) error

	// Control исполняет команду; ответа отправителю нет
	Control(ctx context.Context, cmd lifecycle.Command)

	// Controlling сообщает, захвачены ли клиенты
	Controlling() bool
}

// Config содержит конфигурацию классификатора
type Config struct {
	// NetworkFirst - регулярные выражения, проверяемые по полному URL
	NetworkFirst []string `yaml:"network_first"`

	// StaticAssets - регулярные выражения, проверяемые по пути
	StaticAssets []string `yaml:"static_assets"`
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() *Config {
	return &Config{
		NetworkFirst: []string{
			`supabase`,
			`api/`,
			`\.json$`,
		},
		StaticAssets: []string{
			`\.js$`,
			`\.css$`,
			`\.png$`,
			`\.jpg$`,
			`\.jpeg$`,
			`\.svg$`,
			`\.ico$`,
			`\.woff2?$`,
			`\.ttf$`,
		},
	}
}

// Validate проверяет, что все шаблоны компилируются
func (c *Config) Validate() error {
	for _, pattern := range c.NetworkFirst {
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("invalid network_first pattern %q: %w", pattern, err)
		}
	}
	for _, pattern := range c.StaticAssets {
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("invalid static_assets pattern %q: %w", pattern, err)
		}
	}
	return nil
}
