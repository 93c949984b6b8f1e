package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kursadbilgin/outbox-relay/internal/adapter"
	"github.com/kursadbilgin/outbox-relay/internal/adapter/push"
	rtadapter "github.com/kursadbilgin/outbox-relay/internal/adapter/realtime"
	"github.com/kursadbilgin/outbox-relay/internal/config"
	"github.com/kursadbilgin/outbox-relay/internal/domain"
	"github.com/kursadbilgin/outbox-relay/internal/handler"
	"github.com/kursadbilgin/outbox-relay/internal/infra/postgresql"
	"github.com/kursadbilgin/outbox-relay/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/outbox-relay/internal/infra/redis"
	"github.com/kursadbilgin/outbox-relay/internal/observability"
	"github.com/kursadbilgin/outbox-relay/internal/queue"
	"github.com/kursadbilgin/outbox-relay/internal/realtime"
	"github.com/kursadbilgin/outbox-relay/internal/repository"
	"github.com/kursadbilgin/outbox-relay/internal/service"
	"github.com/kursadbilgin/outbox-relay/internal/transport"
)

const (
	shutdownTimeout  = 10 * time.Second
	consumerPrefetch = 8
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Fatal("relay exited", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("postgres initialization failed: %w", err)
	}

	if err := migrations.Migrate(db); err != nil {
		return fmt.Errorf("database migrations failed: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("postgres underlying db init failed: %w", err)
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis initialization failed: %w", err)
	}
	defer rdb.Close()

	rateLimiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.RateLimitPerSec)
	if err != nil {
		return fmt.Errorf("rate limiter initialization failed: %w", err)
	}

	hub := realtime.NewHub(0)
	defer hub.Close() //nolint:errcheck

	registry := adapter.NewRegistry()
	defer registry.Close() //nolint:errcheck

	realtimeAdapter, err := rtadapter.New(hub)
	if err != nil {
		return fmt.Errorf("realtime adapter initialization failed: %w", err)
	}
	registry.Register(realtimeAdapter)

	tokens := repository.NewGormTokenRepo(db)
	pushAdapter, err := push.New(push.Config{
		Disabled:   cfg.PushDisabled,
		GatewayURL: cfg.PushGatewayURL,
		APIKey:     cfg.PushGatewayKey,
	}, tokens, logger)
	if err != nil {
		return fmt.Errorf("push adapter initialization failed: %w", err)
	}
	// Register push only when its transport is usable; otherwise schedule
	// would mint obligations no pass could ever drain.
	if pushAdapter.Ready(ctx) {
		registry.Register(pushAdapter)
	} else {
		logger.Info("push transport unavailable, running realtime-only")
	}

	metrics := observability.NewMetrics()
	outboxRepo := repository.NewGormOutboxRepo(db, domain.DefaultRetryPolicy())
	notificationRepo := repository.NewGormNotificationRepo(db)

	dispatcher, err := service.NewDispatcher(registry, outboxRepo, notificationRepo, rateLimiter, logger)
	if err != nil {
		return fmt.Errorf("dispatcher initialization failed: %w", err)
	}
	dispatcher.SetMetrics(metrics)

	worker, err := service.NewWorker(dispatcher, registry, outboxRepo, service.WorkerOptions{
		Interval:  cfg.WorkerIntervalDuration(),
		BatchSize: cfg.BatchSize,
		Retention: cfg.RetentionDuration(),
	}, logger)
	if err != nil {
		return fmt.Errorf("worker initialization failed: %w", err)
	}
	worker.SetMetrics(metrics)

	mq, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		return fmt.Errorf("rabbitmq initialization failed: %w", err)
	}
	consumer := queue.NewRabbitMQConsumer(mq, consumerPrefetch, logger)
	defer consumer.Close() //nolint:errcheck

	app := fiber.New(fiber.Config{
		ErrorHandler:          transport.ErrorHandler(logger),
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(app, sqlDB, rdb)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	if err := handler.RegisterDeliveryRoutes(app, outboxRepo, worker); err != nil {
		return fmt.Errorf("delivery routes registration failed: %w", err)
	}
	if err := handler.RegisterStreamRoutes(app, hub); err != nil {
		return fmt.Errorf("stream routes registration failed: %w", err)
	}

	if err := worker.Start(ctx); err != nil {
		return fmt.Errorf("worker start failed: %w", err)
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("outbox-relay api listening", zap.Int("port", cfg.APIPort))
		return app.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	})

	g.Go(func() error {
		handle := func(hctx context.Context, ev queue.NotificationEvent) error {
			if ev.CorrelationID != "" {
				hctx = observability.WithCorrelationID(hctx, ev.CorrelationID)
			}
			scheduled, err := dispatcher.HandleCreated(hctx, ev.NotificationID)
			if errors.Is(err, domain.ErrNotFound) {
				// The row never landed; requeueing cannot fix that.
				logger.Warn("dropping event for unknown notification",
					zap.String("notificationId", ev.NotificationID),
				)
				return nil
			}
			if err != nil {
				return err
			}
			observability.WithContextLogger(logger, hctx).Info("notification event scheduled",
				zap.String("notificationId", ev.NotificationID),
				zap.Strings("adapters", scheduled),
			)
			return nil
		}
		return consumer.Consume(gCtx, queue.NotificationCreatedQueue, handle)
	})

	g.Go(func() error {
		<-gCtx.Done()

		worker.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return app.ShutdownWithContext(shutdownCtx)
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}

	logger.Info("outbox-relay stopped")
	return nil
}
