package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lettertool/internal/api"
	"lettertool/internal/config"
	"lettertool/internal/geo"
	"lettertool/internal/letters"
	"lettertool/internal/logger"
	"lettertool/internal/models"
	"lettertool/internal/observability"
	"lettertool/internal/ratelimit"
	"lettertool/internal/storage"
	"lettertool/internal/version"
)

var (
	configFile    = flag.String("config", "", "Path to configuration file")
	exampleConfig = flag.String("write-example-config", "", "Write an example configuration file to this path and exit")
	showVersion   = flag.Bool("version", false, "Print version information and exit")
)

func main() {
	flag.Parse()

	ver := version.GetInfo()
	if *showVersion {
		fmt.Println(ver.String())
		return
	}

	if *exampleConfig != "" {
		if err := config.SaveExample(*exampleConfig); err != nil {
			slog.Error("Failed to write example configuration", "error", err)
			os.Exit(1)
		}
		return
	}

	// Load configuration
	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Initialize structured logging
	log, closer, err := logger.Setup(cfg.Logging, ver)
	if err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	if closer != nil {
		defer closer.Close()
	}
	slog.SetDefault(log)

	// Initialize observability (OpenTelemetry)
	otelProvider, err := observability.Setup(cfg.Metrics, cfg.Observability, ver)
	if err != nil {
		slog.Error("Failed to initialize observability", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := otelProvider.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shutdown observability", "error", err)
		}
	}()

	// Initialize storage
	factory := storage.NewFactory()
	storageInstance, err := factory.Create(cfg.Storage)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err, "type", cfg.Storage.Type)
		os.Exit(1)
	}
	defer storageInstance.Close()

	// Wrap storage with instrumentation if metrics are enabled
	activeStorage := storageInstance
	if cfg.Metrics.Enabled {
		instrumented, err := observability.NewInstrumentedStorage(storageInstance)
		if err != nil {
			slog.Error("Failed to create instrumented storage", "error", err)
			os.Exit(1)
		}
		activeStorage = instrumented
	}

	letterService := letters.NewService(activeStorage)

	handlers := api.NewHandlers(letterService,
		api.WithStorage(activeStorage),
		api.WithBuildInfo(ver),
		api.WithPlatformHeader(cfg.RateLimit.PlatformHeader),
		api.WithDetectedCookie(cfg.Geo.DetectedCookie),
	)

	// Setup routes with middleware
	routeOpts := []api.RouteOption{}
	if cfg.Observability.Tracing.Enabled {
		routeOpts = append(routeOpts, api.WithOTelMiddleware(cfg.Observability.ServiceName))
	}

	if cfg.RateLimit.Enabled {
		limitCfg, err := ratelimit.ConfigFrom(cfg.RateLimit)
		if err != nil {
			slog.Error("Invalid rate limit configuration", "error", err)
			os.Exit(1)
		}

		limiter, err := initializeLimiter(cfg)
		if err != nil {
			slog.Error("Failed to initialize rate limiter", "error", err)
			os.Exit(1)
		}
		defer limiter.Close()

		routeOpts = append(routeOpts, api.WithLetterRateLimit(
			ratelimit.Middleware(limiter, "letters", limitCfg, cfg.RateLimit.PlatformHeader),
		))
	}

	if cfg.Geo.Enabled {
		geoRouter, err := geo.NewRouter(cfg.Geo)
		if err != nil {
			slog.Error("Failed to initialize geo router", "error", err)
			os.Exit(1)
		}
		routeOpts = append(routeOpts, api.WithGeoRouter(geoRouter))

		if cfg.Geo.WatchConfig && *configFile != "" {
			watcher, err := watchCountryTable(*configFile, geoRouter)
			if err != nil {
				slog.Error("Failed to start configuration watcher", "error", err)
				os.Exit(1)
			}
			defer watcher.Stop()
		}
	}

	router := api.SetupRoutes(handlers, cfg, routeOpts...)

	// Start metrics server if enabled
	var metricsServer *observability.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = observability.NewMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path, otelProvider)
		go func() {
			if err := metricsServer.Start(); err != nil && err != http.ErrServerClosed {
				slog.Error("Metrics server failed", "error", err)
			}
		}()
	}

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		slog.Info("Starting server",
			"addr", server.Addr,
			"storage", cfg.Storage.Type,
			"geo_routing", cfg.Geo.Enabled,
			"rate_limit_store", cfg.RateLimit.Store,
		)

		var err error
		if cfg.Server.TLSEnabled {
			err = server.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		} else {
			err = server.ListenAndServe()
		}

		if err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			slog.Error("Metrics server forced to shutdown", "error", err)
		}
	}

	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server shutdown complete")
}

// initializeLimiter builds the rate limiter over the configured store. The
// in-memory store always backs it as the outage fallback.
func initializeLimiter(cfg *models.Config) (*ratelimit.Limiter, error) {
	memory := ratelimit.NewMemoryStore(ratelimit.WithHighWaterMark(cfg.RateLimit.HighWaterMark))

	switch cfg.RateLimit.Store {
	case models.RateLimitStoreRedis:
		client, err := ratelimit.NewRedisClient(cfg.Redis)
		if err != nil {
			return nil, err
		}
		return ratelimit.NewLimiter(
			ratelimit.NewRedisStore(client, cfg.RateLimit.KeyPrefix),
			ratelimit.WithFallback(memory),
		)
	default:
		return ratelimit.NewLimiter(memory)
	}
}

// watchCountryTable swaps the geo router's country table whenever the
// config file changes. Other settings need a restart.
func watchCountryTable(path string, rt *geo.Router) (*config.Watcher, error) {
	watcher, err := config.NewWatcher(path, config.WatcherOptions{
		OnChange: func(newCfg *models.Config) error {
			table, err := geo.TableFromConfig(newCfg.Geo)
			if err != nil {
				return err
			}
			rt.SetTable(table)
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	watcher.Start()
	return watcher, nil
}
