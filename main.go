package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"shellproxy/apigw"
	"shellproxy/handlers"
	"shellproxy/logger"
)

func main() {
	// Парсим аргументы командной строки
	var (
		configFile     = flag.String("config", "", "Configuration file path (YAML); defaults are used when empty")
		writeConfig    = flag.String("write-config", "", "Write the effective configuration to this file and exit")
		listenAddr     = flag.String("listen", "", "Listen address (overrides config)")
		origin         = flag.String("origin", "", "Application origin URL (overrides config)")
		useMock        = flag.Bool("mock", false, "Serve from the built-in mock origin instead of the network (overrides config)")
		logLevel       = flag.String("log-level", "", "Log level (debug, info, warn, error) (overrides config)")
		metricsAddr    = flag.String("metrics-listen", "", "Metrics server listen address (overrides config)")
		disableMetrics = flag.Bool("disable-metrics", false, "Disable metrics server (overrides config)")
		cacheDriver    = flag.String("cache-driver", "", "Cache store driver: memory, disk, s3 (overrides config)")
	)
	flag.Parse()

	config := DefaultAppConfig()
	if *configFile != "" {
		logger.Info("Loading configuration from file: %s", *configFile)
		loaded, err := LoadConfig(*configFile)
		if err != nil {
			log.Fatalf("Failed to load configuration: %v", err)
		}
		config = loaded
		logger.Info("Configuration loaded successfully")
	} else {
		logger.Info("No config file given, using defaults")
	}

	applyCommandLineOverrides(config, overrides{
		listenAddr:     *listenAddr,
		origin:         *origin,
		useMock:        *useMock,
		logLevel:       *logLevel,
		metricsAddr:    *metricsAddr,
		disableMetrics: *disableMetrics,
		cacheDriver:    *cacheDriver,
	})

	if err := config.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if *writeConfig != "" {
		if err := config.SaveConfig(*writeConfig); err != nil {
			log.Fatalf("Failed to write configuration: %v", err)
		}
		logger.Info("Configuration written to %s", *writeConfig)
		return
	}

	level := logger.ParseLogLevel(config.Logging.Level)
	logger.SetGlobalLevel(level)

	logger.Info("Shell proxy starting...")
	logger.Info("Log level: %s", level.String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var network apigw.Upstream
	if config.Server.UseMock {
		logger.Info("Using mock origin (for testing)")
		network = handlers.NewMockOrigin()
	}

	app, err := NewApp(ctx, config, network)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}

	if err := app.Start(); err != nil {
		log.Fatalf("Failed to start: %v", err)
	}

	logger.Info("Configuration:")
	logger.Info("  Listen Address: %s", config.Server.ListenAddress)
	logger.Info("  Origin: %s", config.Server.Origin)
	logger.Info("  Cache driver: %s (partitions %s, %s, %s)", config.Cache.Driver,
		config.Cache.Partitions.Primary, config.Cache.Partitions.Static, config.Cache.Partitions.Dynamic)
	logger.Info("  Auth provider: %s", config.Auth.Provider)
	if config.Monitoring.Enabled {
		logger.Info("  Metrics: %s%s", config.Monitoring.ListenAddress, config.Monitoring.MetricsPath)
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- app.Serve()
	}()

	// Установка идет параллельно с обслуживанием: до активации запросы
	// проходят без посредничества
	go func() {
		if err := app.Bootstrap(ctx); err != nil && ctx.Err() == nil {
			logger.Error("Bootstrap failed, proxy stays in pass-through mode: %v", err)
		}
	}()

	logger.Info("Shell proxy started")

	failed := false
	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal, shutting down...")
	case err := <-serveErr:
		if err != nil {
			logger.Error("Server failed: %v", err)
			failed = true
		}
		serveErr = nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.Server.ShutdownTimeout)
	defer cancel()
	app.Shutdown(shutdownCtx)

	if serveErr != nil {
		if err := <-serveErr; err != nil {
			logger.Error("Server failed: %v", err)
			failed = true
		}
	}

	logger.Info("Shell proxy stopped")
	if failed {
		os.Exit(1)
	}
}

type overrides struct {
	listenAddr     string
	origin         string
	useMock        bool
	logLevel       string
	metricsAddr    string
	disableMetrics bool
	cacheDriver    string
}

// applyCommandLineOverrides применяет переопределения из командной строки
func applyCommandLineOverrides(config *AppConfig, o overrides) {
	if o.listenAddr != "" {
		config.Server.ListenAddress = o.listenAddr
		logger.Debug("Override: server.listen_address = %s", o.listenAddr)
	}

	if o.origin != "" {
		config.Server.Origin = o.origin
		logger.Debug("Override: server.origin = %s", o.origin)
	}

	if o.useMock {
		config.Server.UseMock = true
		logger.Debug("Override: server.use_mock = true")
	}

	if o.logLevel != "" {
		config.Logging.Level = o.logLevel
		logger.Debug("Override: logging.level = %s", o.logLevel)
	}

	if o.metricsAddr != "" {
		config.Monitoring.ListenAddress = o.metricsAddr
		logger.Debug("Override: monitoring.listen_address = %s", o.metricsAddr)
	}

	if o.disableMetrics {
		config.Monitoring.Enabled = false
		logger.Debug("Override: monitoring.enabled = false")
	}

	if o.cacheDriver != "" {
		config.Cache.Driver = o.cacheDriver
		logger.Debug("Override: cache.driver = %s", o.cacheDriver)
	}
}
