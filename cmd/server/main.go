package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Priya8975/epcis-repository/internal/api"
	"github.com/Priya8975/epcis-repository/internal/config"
	"github.com/Priya8975/epcis-repository/internal/engine"
	"github.com/Priya8975/epcis-repository/internal/query"
	"github.com/Priya8975/epcis-repository/internal/store"
	ws "github.com/Priya8975/epcis-repository/internal/websocket"
	"github.com/Priya8975/epcis-repository/internal/worker"
)

// repository is the backing store for events, named queries and
// subscriptions.
type repository interface {
	engine.EventStore
	engine.QueryStore
	engine.SubscriptionStore
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	health := map[string]api.Pinger{}

	var repo repository
	switch cfg.Store {
	case config.StorePostgres:
		pgStore, err := store.NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer pgStore.Close()
		logger.Info("connected to PostgreSQL")

		if err := pgStore.RunMigrations(ctx); err != nil {
			logger.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}
		logger.Info("database migrations applied")
		repo = pgStore
		health["postgres"] = pgStore
	default:
		repo = store.NewMemory()
		logger.Warn("using in-memory store, data is lost on restart")
	}

	// Redis backs the rate limiter and, optionally, the capture job store.
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = store.OpenRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		logger.Info("connected to Redis")
		health["redis"] = store.RedisPinger{Client: redisClient}
	}

	rules := engine.DefaultRateRules()
	rules[engine.NamespaceCapture] = engine.RateRule{Limit: cfg.RateLimitCapture, Window: time.Minute}
	rules[engine.NamespaceQuery] = engine.RateRule{Limit: cfg.RateLimitQuery, Window: time.Minute}
	rules[engine.NamespaceSubscription] = engine.RateRule{Limit: cfg.RateLimitSubscription, Window: time.Minute}

	var limiter engine.RateLimiter = engine.NewMemoryRateLimiter(rules)
	var jobs engine.JobStore = store.NewMemoryJobStore()
	if redisClient != nil {
		limiter = engine.NewRedisRateLimiter(redisClient, rules, logger)
		if cfg.JobStore == config.StoreRedis {
			jobs = store.NewRedisJobStore(redisClient, cfg.JobTTL)
		}
	}

	limits := query.Limits{
		DefaultPageSize: cfg.DefaultPageSize,
		MaxPageSize:     cfg.MaxPageSize,
		MaxValues:       cfg.MaxQueryValues,
	}
	pipeline := engine.NewPipeline(repo, jobs, cfg.CaptureLimit, logger)
	executor := engine.NewQueryExecutor(repo, repo, limits, logger)
	subs := engine.NewSubscriptionManager(repo, repo, executor, logger)

	// Stream sessions receive newly captured events as they are stored.
	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	hub := ws.NewHub(executor, logger)
	go hub.Run(hubCtx)
	pipeline.SetListener(hub)

	// Start the delivery scheduler and its worker pool
	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()
	deliverer := worker.NewDeliverer(cfg.WebhookTimeout, logger)
	runner := worker.NewRunner(executor, repo, deliverer, logger)
	pool := worker.NewPool(cfg.NumWorkers, runner, logger)
	pool.Start(workerCtx)

	scheduler := worker.NewScheduler(repo, pool, cfg.SchedulerInterval, logger)
	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		scheduler.Start(workerCtx)
	}()

	router := api.NewRouter(api.Deps{
		Pipeline:      pipeline,
		Executor:      executor,
		Subscriptions: subs,
		Hub:           hub,
		Limiter:       limiter,
		Health:        health,
		Logger:        logger,
	})

	server := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     router,
		ReadTimeout: 30 * time.Second,
		// Streaming sessions hijack the connection, so WriteTimeout only
		// bounds plain responses.
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server starting", "port", cfg.Port, "store", cfg.Store, "job_store", cfg.JobStore)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	if err := pipeline.Shutdown(shutdownCtx); err != nil {
		logger.Error("capture jobs interrupted", "error", err)
	}

	stopWorkers()
	<-schedulerDone
	pool.Stop()
	stopHub()

	logger.Info("server stopped")
}
