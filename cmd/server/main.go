package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/tableload/internal/config"
	"github.com/JonMunkholm/tableload/internal/core"
	"github.com/JonMunkholm/tableload/internal/logging"
	"github.com/JonMunkholm/tableload/internal/metrics"
	"github.com/JonMunkholm/tableload/internal/metrics/datadog"
	"github.com/JonMunkholm/tableload/internal/sink"
	_ "github.com/JonMunkholm/tableload/internal/sink/mssql"
	_ "github.com/JonMunkholm/tableload/internal/sink/mysql"
	_ "github.com/JonMunkholm/tableload/internal/sink/postgres"
	_ "github.com/JonMunkholm/tableload/internal/sink/sqlite"
	"github.com/JonMunkholm/tableload/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("configuration loaded", "config", cfg.String())

	ctx := context.Background()

	if strings.EqualFold(cfg.Metrics.Backend, "datadog") {
		backend, err := datadog.NewBackend(ctx, datadog.Options{
			Service:    cfg.Metrics.Service,
			Tags:       cfg.Metrics.Tags,
			FlushEvery: cfg.Metrics.FlushInterval,
		})
		if err != nil {
			logger.Error("failed to start datadog metrics", "error", err)
			os.Exit(1)
		}
		metrics.SetBackend(backend)
		defer backend.Close()
		logger.Info("metrics enabled", "backend", "datadog", "flush_interval", cfg.Metrics.FlushInterval)
	}

	dst, err := sink.New(ctx, sink.Config{
		Kind:            strings.ToLower(cfg.Database.Kind),
		DSN:             cfg.Database.URL,
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
		MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
	})
	if err != nil {
		logger.Error("failed to connect to database", "kind", cfg.Database.Kind, "error", err)
		os.Exit(1)
	}
	defer dst.Close()
	logger.Info("connected to database", "kind", cfg.Database.Kind)

	policy, err := sink.ParseConflictPolicy(cfg.Upload.ConflictPolicy)
	if err != nil {
		logger.Error("invalid conflict policy", "error", err)
		os.Exit(1)
	}

	service, err := core.NewService(dst, core.ServiceConfig{
		BatchSize:       cfg.Upload.BatchSize,
		BatchTimeout:    cfg.Upload.BatchTimeout,
		UploadTimeout:   cfg.Upload.Timeout,
		Policy:          policy,
		SampleSize:      cfg.Upload.SampleSize,
		HeaderScanRows:  cfg.Upload.HeaderScanRows,
		MaxConcurrent:   cfg.Upload.MaxConcurrent,
		MaxWait:         cfg.Upload.MaxWaitTime,
		ResultRetention: cfg.Upload.ResultRetention,
		Logger:          logger,
	})
	if err != nil {
		logger.Error("failed to create service", "error", err)
		os.Exit(1)
	}

	server := web.NewServer(service, cfg)

	// Graceful shutdown
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		logger.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Wait for active uploads to complete (with timeout)
		if status := service.UploadQueueStatus(); status.Active > 0 {
			logger.Info("waiting for uploads to complete", "active", status.Active)
			if err := service.WaitForUploads(shutdownCtx); err != nil {
				logger.Warn("uploads did not complete in time", "error", err)
			} else {
				logger.Info("all uploads completed")
			}
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "error", err)
		}
	}()

	logger.Info("server starting", "addr", cfg.Server.Addr())
	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
	<-stopped

	if err := metrics.Flush(); err != nil {
		logger.Warn("final metrics flush failed", "error", err)
	}
	logger.Info("server stopped")
}
