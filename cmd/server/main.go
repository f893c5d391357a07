package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"dataset-export-service/internal/adapters/primary/http/handlers"
	"dataset-export-service/internal/adapters/primary/http/middleware"
	"dataset-export-service/internal/adapters/secondary/metrics"
	"dataset-export-service/internal/app"
	"dataset-export-service/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	app.InitLogger(cfg)

	// Metrics
	registry := prometheus.NewRegistry()
	var exportMetrics *metrics.ExportMetrics
	if cfg.Metrics.Enabled {
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		exportMetrics, err = metrics.NewExportMetrics(registry)
		if err != nil {
			log.Fatalf("register metrics: %v", err)
		}
	}

	// ============================================================================
	// Hexagonal Architecture Wiring
	// ============================================================================

	ctx := context.Background()
	var opts []app.Option
	if exportMetrics != nil {
		opts = append(opts, app.WithMetrics(exportMetrics))
	}
	deps, err := app.Build(ctx, cfg, opts...)
	if err != nil {
		log.Fatalf("wire services: %v", err)
	}
	defer deps.Close()

	// Primary Adapter (HTTP Handlers)
	var downloads handlers.DownloadTracker
	var recorders []middleware.RequestRecorder
	if exportMetrics != nil {
		downloads = exportMetrics
		recorders = append(recorders, exportMetrics)
	}
	h := handlers.New(deps.Export, deps.Progress, downloads)

	// Setup router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(middleware.RequestID(), middleware.Logging(recorders...), middleware.Recovery())

	h.RegisterRoutes(&router.RouterGroup)

	// Health check with DB ping
	router.GET("/healthz", func(c *gin.Context) {
		if err := deps.Repo.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if cfg.Metrics.Enabled {
		router.GET(cfg.Metrics.Path, gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}

	// Start server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		log.Infof("starting server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("server forced shutdown: %v", err)
	}

	log.Info("server stopped")
}
