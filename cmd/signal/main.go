package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httphandlers "pointlink/internal/handlers/http"
	"pointlink/internal/infrastructure/middleware"
	"pointlink/internal/infrastructure/monitoring"
	signalinfra "pointlink/internal/infrastructure/signal"
	"pointlink/pkg/config"
	"pointlink/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	startTime := time.Now()

	// Try multiple config paths
	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/etc/pointlink/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error

	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}

	if err != nil {
		// Fallback to defaults if config cannot be loaded
		cfg = config.DefaultConfig()
	}

	// Initialize logger
	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()

	log := zapLogger.Sugar()

	// Initialize monitoring
	var relayMetrics signalinfra.Metrics
	if cfg.Monitoring.PrometheusEnabled {
		relayMetrics = monitoring.NewPrometheusCollector()
	}

	// Room registry and signaling relay
	registry := signalinfra.NewRegistry()
	relay := signalinfra.NewRelay(cfg, registry, relayMetrics, zapLogger)

	// HTTP handlers
	roomHandler := httphandlers.NewRoomHandler(registry)

	// Configure Gin
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.ErrorHandlerMiddleware(log))
	router.Use(middleware.NewHTTPRateLimitMiddleware(
		cfg.RateLimiting.HTTP.Enabled,
		cfg.RateLimiting.HTTP.RequestsPerSecond,
		cfg.RateLimiting.HTTP.Burst,
	))

	roomHandler.SetupRoutes(router)

	// Signaling endpoint
	router.GET("/ws", gin.WrapF(relay.HandleWebSocket))

	// Readiness endpoint
	router.GET("/ready", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":      "ready",
			"timestamp":   time.Now(),
			"uptime":      time.Since(startTime).String(),
			"connections": registry.ConnectionCount(),
		})
	})

	// Prometheus metrics endpoint
	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		log.Info("Prometheus metrics enabled")
	}

	// Create HTTP server with timeouts
	srv := &http.Server{
		Addr:         cfg.Signal.Address,
		Handler:      router,
		ReadTimeout:  cfg.Signal.WriteTimeout,
		WriteTimeout: cfg.Signal.WriteTimeout,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		log.Infof("Starting PointLink signaling server on %s", cfg.Signal.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Wait for shutdown signals or server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("Server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("Received shutdown signal", "signal", sig)
	}

	log.Info("Shutting down PointLink signaling server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Signal.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Server shutdown failed", "error", err)
	}

	log.Info("Server stopped")
}
