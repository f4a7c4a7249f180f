// Command server starts the generation gateway HTTP server.
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
	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/ai-gen-gateway/internal/adapter/cache"
	"github.com/fairyhunter13/ai-gen-gateway/internal/adapter/observability"
	"github.com/fairyhunter13/ai-gen-gateway/internal/adapter/queue/redpanda"
	"github.com/fairyhunter13/ai-gen-gateway/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/ai-gen-gateway/internal/app"
	"github.com/fairyhunter13/ai-gen-gateway/internal/config"
	"github.com/fairyhunter13/ai-gen-gateway/internal/domain"
	"github.com/fairyhunter13/ai-gen-gateway/internal/service/ratelimiter"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env file", slog.Any("error", err))
	}

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	// Register all Prometheus metrics once per process so /metrics exposes
	// HTTP, provider and job instrumentation.
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	catalog, err := app.LoadCatalog(cfg)
	if err != nil {
		slog.Error("catalog load failed", slog.Any("error", err))
		os.Exit(1)
	}

	var (
		dbCheck    app.Pinger
		redisCheck app.RedisPinger
		kafkaCheck app.Pinger
		jobRepo    domain.JobRepository
		queue      domain.Queue
		quota      ratelimiter.Limiter
	)

	// Redis is optional: without it the web context cache stays in process
	// and the generation quota is off.
	var webCache domain.WebContextCache = cache.NewMemory(512)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", slog.Any("error", err))
			os.Exit(1)
		}
		rdb := redis.NewClient(opts)
		defer func() { _ = rdb.Close() }()
		webCache = cache.NewRedis(rdb, "webctx")
		quota = ratelimiter.NewRedisLuaLimiter(rdb, ratelimiter.NewBucketConfigFromPerMinute(cfg.GenerationQuotaPerMin), "quota")
		redisCheck = rdb
		slog.Info("redis enabled", slog.String("addr", opts.Addr))
	}

	if cfg.JobsEnabled() {
		pool, err := postgres.NewPool(ctx, cfg.DBURL)
		if err != nil {
			slog.Error("db connect failed", slog.Any("error", err))
			os.Exit(1)
		}
		defer pool.Close()
		if err := postgres.EnsureSchema(ctx, pool); err != nil {
			slog.Error("schema setup failed", slog.Any("error", err))
			os.Exit(1)
		}
		repo := postgres.NewJobRepo(pool)
		jobRepo = repo
		dbCheck = pool

		producer, err := redpanda.NewProducer(ctx, cfg.KafkaBrokerList(), cfg.KafkaTopic)
		if err != nil {
			slog.Error("redpanda producer connect failed", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			if err := producer.Close(); err != nil {
				slog.Error("failed to close queue client", slog.Any("error", err))
			}
		}()
		queue = producer
		kafkaCheck = producer

		cleanupSvc := postgres.NewCleanupService(repo, cfg.JobRetentionDays)
		go cleanupSvc.RunPeriodic(ctx, cfg.CleanupInterval)
		slog.Info("cleanup service started", slog.Int("retention_days", cfg.JobRetentionDays), slog.Duration("interval", cfg.CleanupInterval))
	} else {
		slog.Info("async jobs disabled", slog.Bool("db", cfg.DBURL != ""), slog.Int("brokers", len(cfg.KafkaBrokerList())))
	}

	services := app.NewServices(cfg, catalog, webCache, jobRepo, queue)
	srv := services.Server(cfg, app.BuildReadinessChecks(dbCheck, redisCheck, kafkaCheck))
	handler := app.BuildRouter(cfg, srv, quota)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port), slog.String("env", cfg.AppEnv))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
}
