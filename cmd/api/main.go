package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/XlordCodes/pod-c/internal/config"
	"github.com/XlordCodes/pod-c/internal/handler"
	"github.com/XlordCodes/pod-c/internal/infra/postgresql"
	"github.com/XlordCodes/pod-c/internal/infra/postgresql/migrations"
	infraredis "github.com/XlordCodes/pod-c/internal/infra/redis"
	"github.com/XlordCodes/pod-c/internal/observability"
	"github.com/XlordCodes/pod-c/internal/queue"
	"github.com/XlordCodes/pod-c/internal/repository"
	"github.com/XlordCodes/pod-c/internal/service"
	"github.com/XlordCodes/pod-c/internal/transport"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

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

	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
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

	rabbit, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		logger.Fatal("rabbitmq initialization failed", zap.Error(err))
	}
	defer rabbit.Close()

	publisher := queue.NewRabbitMQPublisher(rabbit)

	jobRepo := repository.NewGormJobRepo(db)
	messageRepo := repository.NewGormMessageRepo(db)
	statusRepo := repository.NewGormDeliveryStatusRepo(db)

	metrics := observability.NewMetrics()

	bulkService, err := service.NewBulkService(jobRepo, publisher, logger)
	if err != nil {
		logger.Fatal("bulk service initialization failed", zap.Error(err))
	}

	statusService, err := service.NewStatusService(messageRepo, statusRepo, logger)
	if err != nil {
		logger.Fatal("status service initialization failed", zap.Error(err))
	}
	statusService.SetMetrics(metrics)

	scheduler, err := service.NewScheduler(jobRepo, publisher, cfg.SchedulerInterval, 0, logger)
	if err != nil {
		logger.Fatal("scheduler initialization failed", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(app, sqlDB, rdb)
	app.Get("/metrics", metrics.FiberHandler())

	if err := handler.RegisterBulkRoutes(app, bulkService); err != nil {
		logger.Fatal("bulk routes registration failed", zap.Error(err))
	}
	if err := handler.RegisterStatusRoutes(app, statusService); err != nil {
		logger.Fatal("status routes registration failed", zap.Error(err))
	}
	if err := handler.RegisterWebhookRoutes(app, statusService, cfg.WhatsAppAppSecret, cfg.WhatsAppVerifyToken, logger); err != nil {
		logger.Fatal("webhook routes registration failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("api listening", zap.Int("port", cfg.APIPort))
		return app.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	})

	g.Go(func() error {
		return scheduler.Start(ctx)
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down api")
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("api terminated", zap.Error(err))
	}

	logger.Info("api stopped")
}
