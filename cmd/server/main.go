package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"mailtriage/internal/bus"
	"mailtriage/internal/config"
	"mailtriage/internal/handler"
	"mailtriage/internal/httpserver"
	"mailtriage/internal/repository"
	"mailtriage/internal/service/agentclient"
	"mailtriage/internal/service/ingest"
	"mailtriage/internal/service/lifecycle"
	"mailtriage/internal/service/notify"
	"mailtriage/pkg/circuitbreaker"
	"mailtriage/pkg/db"
	"mailtriage/pkg/logger"
	"mailtriage/pkg/mq"
	pkgredis "mailtriage/pkg/redis"
	"mailtriage/pkg/retry"
	"mailtriage/pkg/util"
)

func main() {
	cfg := config.Load()

	logger := logger.NewLogger()
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	var records repository.RecordRepository
	if cfg.Storage.Backend == "postgres" {
		dbPool, err := db.NewConnection(cfg.DB, logger)
		if err != nil {
			logger.Fatal("DB initialization failed", zap.Error(err))
		}
		defer dbPool.Close()

		pgRepo := repository.NewPgRecordRepository(dbPool, logger)
		if err := pgRepo.Migrate(ctx); err != nil {
			logger.Fatal("DB migration failed", zap.Error(err))
		}
		records = pgRepo
	} else {
		records, err = repository.NewRecordRepository(cfg.Storage, nil, logger)
		if err != nil {
			logger.Fatal("Record store initialization failed", zap.Error(err))
		}
	}

	extractions, err := repository.NewFileExtractionRepository(cfg.Storage.DataDir)
	if err != nil {
		logger.Fatal("Extraction store initialization failed", zap.Error(err))
	}

	notifications, err := repository.NewFileNotificationRepository(cfg.Storage.DataDir, logger)
	if err != nil {
		logger.Fatal("Notification log initialization failed", zap.Error(err))
	}

	// 事件总线：配置了 MQ 用 RabbitMQ，否则进程内 channel
	var eventBus bus.Bus
	if cfg.MQ.URL != "" {
		publisher, err := mq.NewPublisher(cfg.MQ.URL)
		if err != nil {
			logger.Fatal("MQ publisher initialization failed", zap.Error(err))
		}
		defer publisher.Close()
		eventBus = bus.NewAMQPBus(publisher)
	} else {
		eventBus = bus.NewChannelBus(256, logger)
	}

	// Redis 可选：去重 fast path 和抽取尝试预算。没配 Redis 时
	// 去重只靠存储层扫描，抽取预算关闭。
	var deduper ingest.Deduper
	var attempts lifecycle.AttemptCounter
	if cfg.Redis.Addr != "" {
		rdb := pkgredis.NewRedisClient(cfg.Redis)
		deduper = util.NewDeduper(rdb, 24*time.Hour, logger)
		attempts = util.NewRetryCounter(rdb, 7*24*time.Hour)
	}

	retryPolicy := retry.Policy{
		MaxAttempts:       cfg.Retry.MaxAttempts,
		InitialDelay:      time.Duration(cfg.Retry.InitialDelayMs) * time.Millisecond,
		MaxDelay:          time.Duration(cfg.Retry.MaxDelayMs) * time.Millisecond,
		BackoffMultiplier: cfg.Retry.BackoffMultiplier,
		ShouldRetry:       retry.DefaultShouldRetry,
	}
	breakers := circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig())

	agent := agentclient.New(cfg.Agent.BaseURL, time.Duration(cfg.Agent.TimeoutSeconds)*time.Second)

	lifecycleSvc := lifecycle.NewService(
		records, extractions, agent, notifications, eventBus,
		breakers, retryPolicy, logger,
	)
	if attempts != nil {
		lifecycleSvc = lifecycleSvc.WithAttemptCounter(attempts)
	}

	ingestSvc := ingest.NewService(
		records, classifierAdapter{agent}, deduper, eventBus,
		breakers, retryPolicy, logger,
	)

	dispatcher := notify.NewDispatcher(notifications, eventBus, logger)
	go dispatcher.Start(ctx)

	triageHandler := handler.NewTriageHandler(lifecycleSvc, ingestSvc, records, logger)
	router := httpserver.NewRouter(triageHandler, logger)
	server := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router.Engine,
	}
	go func() {
		logger.Info("Starting mailtriage server", zap.String("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server start failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown failed", zap.Error(err))
	}
}

// classifierAdapter 把 agent client 适配到摄取服务的 Classifier 接口
type classifierAdapter struct {
	client *agentclient.Client
}

func (a classifierAdapter) Classify(ctx context.Context, subject, body string) (string, float64, error) {
	result, err := a.client.Classify(ctx, subject, body)
	if err != nil {
		return "", 0, err
	}
	return result.Category, result.Confidence, nil
}
