package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/hugh/go-reclaim/internal/accounts"
	"github.com/hugh/go-reclaim/internal/audit"
	"github.com/hugh/go-reclaim/internal/classifier"
	"github.com/hugh/go-reclaim/internal/cloud"
	awscloud "github.com/hugh/go-reclaim/internal/cloud/aws"
	"github.com/hugh/go-reclaim/internal/database"
	"github.com/hugh/go-reclaim/internal/findings"
	"github.com/hugh/go-reclaim/internal/remediation"
	"github.com/hugh/go-reclaim/internal/scan"
	"github.com/hugh/go-reclaim/internal/tasks"
	"github.com/hugh/go-reclaim/internal/telemetry"
	"github.com/hugh/go-reclaim/pkg/config"
	"github.com/hugh/go-reclaim/pkg/crypto"
	"github.com/hugh/go-reclaim/pkg/queue"
	"github.com/hugh/go-reclaim/pkg/util"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

const tickSpec = "@every 1m"

func main() {
	// Load .env file
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := util.NewLogger(cfg.Server.Env, cfg.Server.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting go-reclaim worker")

	db, err := database.Connect(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	sealer, err := crypto.NewSealer(cfg.Encryption.Key)
	if err != nil {
		logger.Error("failed to create sealer", "error", err)
		os.Exit(1)
	}
	if cfg.Encryption.Key == "" {
		logger.Warn("ENCRYPTION_KEY not set - accounts created by the server cannot be resolved")
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
	})
	defer redisClient.Close()

	metrics := telemetry.New()
	auditLog := audit.NewLog(db)
	sessions := awscloud.NewSessions(cfg.AWS, logger)
	registry := cloud.NewRegistry()
	awscloud.Register(registry, sessions, logger)
	accountService := accounts.NewService(db, sealer, sessions, logger)

	asynqClient := queue.NewClient(&cfg.Redis)
	defer asynqClient.Close()
	dispatcher := tasks.NewDispatcher(asynqClient)

	orchestrator := scan.NewOrchestrator(db, auditLog, registry, classifier.Default(), accountService, scan.Options{
		Concurrency:      cfg.Scan.Concurrency,
		InspectorTimeout: cfg.Scan.InspectorTimeout(),
		AccountRPS:       cfg.Scan.AccountRPS,
		AccountBurst:     cfg.Scan.AccountBurst,
	}, metrics, logger)
	orchestrator.SetDispatcher(dispatcher)

	var locker remediation.FindingLocker = remediation.NewMemoryLocker()
	if cfg.Remediation.LockBackend == "redis" {
		locker = remediation.NewRedisLocker(redisClient, cfg.Remediation.LockTTL())
	}
	engine := remediation.NewEngine(db, auditLog, registry, accountService, locker, remediation.Options{
		ExecutorTimeout: cfg.Remediation.ExecutorTimeout(),
	}, metrics, logger)
	engine.SetScheduler(dispatcher)

	handler := tasks.NewHandler(db, logger, orchestrator, engine, findings.NewService(db, auditLog, logger))

	mux := asynq.NewServeMux()
	handler.RegisterHandlers(mux)

	srv := queue.NewServer(&cfg.Redis, 10)

	scheduler := queue.NewScheduler(&cfg.Redis)
	entryID, err := scheduler.Register(tickSpec, tasks.NewSchedulerTickTask(), asynq.Queue(queue.QueueLow), asynq.MaxRetry(0))
	if err != nil {
		logger.Error("failed to register scheduler tick", "error", err)
		os.Exit(1)
	}
	if err := scheduler.Start(); err != nil {
		logger.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}
	logger.Info("scheduler tick registered", "entry_id", entryID, "spec", tickSpec)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		logger.Info("shutting down worker...")
		scheduler.Shutdown()
		srv.Shutdown()
		cancel()
	}()

	logger.Info("worker started, waiting for tasks...")

	if err := srv.Run(mux); err != nil {
		logger.Error("worker error", "error", err)
	}

	<-ctx.Done()

	if err := database.Close(db); err != nil {
		logger.Error("closing database", "error", err)
	}

	logger.Info("worker stopped")
}
