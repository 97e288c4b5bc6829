// Package main provides the OCR API server entrypoint.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/net/netutil"

	"github.com/QThans/MinerU-runpod/internal/cache"
	"github.com/QThans/MinerU-runpod/internal/config"
	"github.com/QThans/MinerU-runpod/internal/engine"
	_ "github.com/QThans/MinerU-runpod/internal/engine/tesseract"
	"github.com/QThans/MinerU-runpod/internal/ingest"
	"github.com/QThans/MinerU-runpod/internal/observability"
	"github.com/QThans/MinerU-runpod/internal/pipeline"
	"github.com/QThans/MinerU-runpod/internal/worker"
)

func main() {
	cfgPath := os.Getenv("CONFIG_PATH")
	if len(os.Args) > 2 && os.Args[1] == "--config" {
		cfgPath = os.Args[2]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
	})

	logger.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Str("model", cfg.Pipeline.ModelName).
		Str("cache", cfg.Cache.Driver).
		Int("workers", cfg.Workers.PoolSize).
		Msg("Starting OCR API")

	ingestor := ingest.NewIngestor(cfg.Ingestion, logger)
	provider := pipeline.NewProvider(cfg.Pipeline, engine.Factory(logger,
		engine.WithFetcher(ingestor),
		engine.WithTempDir(cfg.Ingestion.TempDir),
	), logger)
	pool := worker.NewPool(logger,
		worker.WithWorkers(cfg.Workers.PoolSize),
		worker.WithQueueSize(cfg.Workers.QueueSize),
	)

	cacheClient, err := cache.NewFromConfig(context.Background(), cfg.Cache)
	if err != nil {
		logger.Warn().Err(err).Msg("Result cache unavailable, continuing without it")
	}
	if cacheClient != nil {
		defer cacheClient.Close()
	}

	router := NewRouter(logger, cfg, Services{
		Provider: provider,
		Pool:     pool,
		Ingestor: ingestor,
		Results:  cache.NewResults(cacheClient, cfg.Cache.TTL, logger.WithOperation("cache")),
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Fatal().Err(err).Str("addr", addr).Msg("Failed to listen")
	}
	if cfg.Server.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, cfg.Server.MaxConnections)
	}

	srv := &http.Server{
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Int("max_connections", cfg.Server.MaxConnections).Msg("HTTP server listening")
		serverErrors <- srv.Serve(ln)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("Server error")
		}
	case sig := <-shutdown:
		logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Graceful shutdown failed")
		if err := srv.Close(); err != nil {
			logger.Error().Err(err).Msg("Forced shutdown failed")
		}
	}
	pool.Shutdown(ctx)

	logger.Info().Msg("Server stopped")
}
