package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

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

// Максимальный множитель интервала повторной установки
const maxInstallBackoff = 8

// App связывает модули прокси: хранилище -> стратегии -> жизненный цикл ->
// классификатор -> диспетчер -> шлюз
type App struct {
	config     *AppConfig
	network    apigw.Upstream
	backends   *backend.Manager // nil, если сеть подменена (режим -mock)
	partitions *cache.Manager
	fetcher    *fetch.Fetcher
	controller *lifecycle.Controller
	engine     *routing.Engine
	gateway    *apigw.Gateway
	monitor    *monitoring.Monitor
}

// NewApp собирает приложение. network == nil означает настоящую сеть через backend.Manager.
func NewApp(ctx context.Context, config *AppConfig, network apigw.Upstream) (*App, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	app := &App{config: config, network: network}

	if network == nil {
		backendConfig := withAppOrigin(config.Backend, config.Server.Origin)
		backends, err := backend.NewManager(&backendConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create backend manager: %w", err)
		}
		app.backends = backends
		app.network = backends
	}

	store, err := cache.NewStoreFromConfig(ctx, &config.Cache)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache store: %w", err)
	}
	partitions, err := cache.NewManager(ctx, store)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}
	app.partitions = partitions
	names := config.Cache.Partitions

	app.fetcher = fetch.NewFetcher(app.network, partitions, names, &config.Fetch)

	app.controller, err = lifecycle.NewController(&config.Lifecycle, config.Server.Origin, app.network, partitions, names)
	if err != nil {
		return nil, fmt.Errorf("failed to create lifecycle controller: %w", err)
	}

	classifier, err := routing.NewClassifierFromConfig(&config.Routing)
	if err != nil {
		return nil, fmt.Errorf("failed to build classifier: %w", err)
	}

	authenticator, err := auth.NewAuthenticatorFromConfig(&config.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to create authenticator: %w", err)
	}

	app.engine = routing.NewEngine(authenticator, classifier, app.fetcher, app.controller, names.Static)

	app.gateway, err = apigw.New(config.ToAPIGatewayConfig(), app.engine, app.network)
	if err != nil {
		return nil, fmt.Errorf("failed to create gateway: %w", err)
	}

	if config.Monitoring.Enabled {
		sources := monitoring.Sources{Lifecycle: app.controller, Partitions: partitions}
		if app.backends != nil {
			sources.Backends = app.backends
		}
		app.monitor, err = monitoring.New(&config.Monitoring, sources)
		if err != nil {
			return nil, fmt.Errorf("failed to create monitoring module: %w", err)
		}
	}

	return app, nil
}

// withAppOrigin добавляет источник приложения в список активно проверяемых,
// если его хост еще не описан в конфигурации
func withAppOrigin(config backend.Config, origin string) backend.Config {
	u, err := url.Parse(origin)
	if err != nil {
		return config
	}
	host := strings.ToLower(u.Host)

	origins := make(map[string]backend.OriginConfig, len(config.Origins)+1)
	for id, o := range config.Origins {
		origins[id] = o
		if ou, err := url.Parse(o.URL); err == nil && strings.ToLower(ou.Host) == host {
			host = ""
		}
	}
	if host != "" {
		origins["app"] = backend.OriginConfig{URL: u.Scheme + "://" + u.Host}
	}
	config.Origins = origins
	return config
}

// Handler возвращает HTTP обработчик шлюза
func (a *App) Handler() http.Handler {
	return a.gateway
}

// Start запускает фоновые модули: проверки источников и мониторинг
func (a *App) Start() error {
	if a.backends != nil {
		if err := a.backends.Start(); err != nil {
			return err
		}
	}
	if a.monitor != nil {
		if err := a.monitor.Start(); err != nil {
			return err
		}
	}
	return nil
}

// Serve запускает шлюз и блокируется до его остановки
func (a *App) Serve() error {
	if err := a.gateway.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Bootstrap доставляет диспетчеру install (с повторами) и, если контроллер
// готов, activate. Без активации прокси пропускает запросы без посредничества.
func (a *App) Bootstrap(ctx context.Context) error {
	cfg := a.config.Lifecycle
	delay := cfg.InstallRetryInterval

	for attempt := 1; ; attempt++ {
		result := a.engine.Dispatch(&routing.Event{Kind: routing.EventInstall, Context: ctx})
		if result.Err == nil {
			break
		}
		if cfg.InstallMaxAttempts > 0 && attempt >= cfg.InstallMaxAttempts {
			return fmt.Errorf("giving up after %d install attempts: %w", attempt, result.Err)
		}

		logger.Warn("Install attempt %d failed, retrying in %v: %v", attempt, delay, result.Err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		if delay < cfg.InstallRetryInterval*maxInstallBackoff {
			delay *= 2
		}
	}

	if !a.controller.ShouldActivate() {
		logger.Info("Installed; waiting for %s before activation", lifecycle.CommandForceActivate)
		return nil
	}
	return a.engine.Dispatch(&routing.Event{Kind: routing.EventActivate, Context: ctx}).Err
}

// Shutdown останавливает модули в обратном порядке
func (a *App) Shutdown(ctx context.Context) {
	if err := a.gateway.Stop(ctx); err != nil {
		logger.Error("Error stopping API Gateway: %v", err)
	}

	// Фоновые обновления кэша должны успеть записаться до закрытия хранилища
	if err := a.fetcher.Drain(ctx); err != nil {
		logger.Warn("Background revalidations did not finish: %v", err)
	}

	if a.backends != nil {
		if err := a.backends.Stop(); err != nil {
			logger.Error("Error stopping backend manager: %v", err)
		}
	}

	if a.monitor != nil {
		if err := a.monitor.Stop(ctx); err != nil {
			logger.Error("Error stopping monitoring: %v", err)
		}
	}

	if err := a.partitions.Close(); err != nil {
		logger.Error("Error closing cache store: %v", err)
	}
}
