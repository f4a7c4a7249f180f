// Package main provides the worker application entry point.
// The worker runs queued generation jobs read from Redpanda.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fairyhunter13/ai-gen-gateway/internal/adapter/cache"
	"github.com/fairyhunter13/ai-gen-gateway/internal/adapter/observability"
	"github.com/fairyhunter13/ai-gen-gateway/internal/adapter/queue/redpanda"
	"github.com/fairyhunter13/ai-gen-gateway/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/ai-gen-gateway/internal/app"
	"github.com/fairyhunter13/ai-gen-gateway/internal/config"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env file", slog.Any("error", err))
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	if !cfg.JobsEnabled() {
		slog.Error("worker requires DB_URL and KAFKA_BROKERS")
		os.Exit(1)
	}

	// Job metrics are scraped from a dedicated listener.
	observability.InitMetrics()
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		addr := fmt.Sprintf(":%d", cfg.WorkerMetricsPort)
		if err := http.ListenAndServe(addr, mux); err != nil {
			slog.Error("worker metrics server error", slog.Any("error", err))
		}
	}()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	slog.Info("starting worker", slog.String("env", cfg.AppEnv))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	catalog, err := app.LoadCatalog(cfg)
	if err != nil {
		slog.Error("catalog load failed", slog.Any("error", err))
		os.Exit(1)
	}

	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("database connection failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()
	if err := postgres.EnsureSchema(ctx, pool); err != nil {
		slog.Error("schema setup failed", slog.Any("error", err))
		os.Exit(1)
	}
	jobRepo := postgres.NewJobRepo(pool)

	// The worker never enqueues, so the job service gets no queue.
	services := app.NewServices(cfg, catalog, cache.NewMemory(0), jobRepo, nil)

	worker, err := redpanda.NewConsumer(ctx, redpanda.ConsumerOptions{
		Brokers:     cfg.KafkaBrokerList(),
		Topic:       cfg.KafkaTopic,
		GroupID:     cfg.KafkaGroupID,
		Concurrency: cfg.WorkerConcurrency,
		JobTimeout:  cfg.WorkerJobTimeout,
	}, services.Jobs)
	if err != nil {
		slog.Error("redpanda consumer init failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := worker.Close(); err != nil {
			slog.Error("failed to close worker", slog.Any("error", err))
		}
	}()

	// Jobs left in processing by a crashed worker eventually fail.
	maxAge := cfg.JobMaxProcessingAge
	if maxAge < cfg.WorkerJobTimeout+time.Minute {
		maxAge = cfg.WorkerJobTimeout + time.Minute
	}
	if sweeper := app.NewStuckJobSweeper(jobRepo, maxAge, cfg.StuckSweepInterval); sweeper != nil {
		go sweeper.Run(ctx)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := worker.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("worker error", slog.Any("error", err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("signal received, shutting down", slog.String("signal", sig.String()))
	case <-done:
	}
	cancel()
	<-done
	slog.Info("worker stopped")
}
