package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	"github.com/XlordCodes/pod-c/internal/config"
	"github.com/XlordCodes/pod-c/internal/infra/postgresql"
	infraredis "github.com/XlordCodes/pod-c/internal/infra/redis"
	"github.com/XlordCodes/pod-c/internal/observability"
	"github.com/XlordCodes/pod-c/internal/provider"
	"github.com/XlordCodes/pod-c/internal/queue"
	"github.com/XlordCodes/pod-c/internal/repository"
	"github.com/XlordCodes/pod-c/internal/service"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	rateLimiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.RateLimitPerSec)
	if err != nil {
		logger.Fatal("rate limiter initialization failed", zap.Error(err))
	}

	rabbit, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		logger.Fatal("rabbitmq initialization failed", zap.Error(err))
	}
	defer rabbit.Close()

	consumer := queue.NewRabbitMQConsumer(rabbit, cfg.WorkerConcurrency, logger)
	defer consumer.Close()

	channel, err := provider.NewWhatsAppClient(cfg.WhatsAppAPIURL, cfg.WhatsAppPhoneID, cfg.WhatsAppToken)
	if err != nil {
		logger.Fatal("channel client initialization failed", zap.Error(err))
	}

	jobRepo := repository.NewGormJobRepo(db)
	messageRepo := repository.NewGormMessageRepo(db)

	metrics := observability.NewMetrics()

	dispatcher, err := service.NewDispatcher(
		jobRepo,
		messageRepo,
		consumer,
		channel,
		rateLimiter,
		cfg.WorkerConcurrency,
		logger,
	)
	if err != nil {
		logger.Fatal("dispatcher initialization failed", zap.Error(err))
	}
	dispatcher.SetMetrics(metrics)

	retryScanner, err := service.NewRetryScanner(
		messageRepo,
		channel,
		rateLimiter,
		cfg.RetryScanInterval,
		0,
		logger,
	)
	if err != nil {
		logger.Fatal("retry scanner initialization failed", zap.Error(err))
	}
	retryScanner.SetMetrics(metrics)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("worker started",
		zap.Int("concurrency", cfg.WorkerConcurrency),
		zap.Duration("retryScanInterval", cfg.RetryScanInterval),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return dispatcher.Start(ctx)
	})

	g.Go(func() error {
		return retryScanner.Start(ctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("worker terminated", zap.Error(err))
	}

	logger.Info("worker stopped")
}
