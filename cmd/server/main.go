package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/hugh/go-reclaim/internal/accounts"
	"github.com/hugh/go-reclaim/internal/api"
	"github.com/hugh/go-reclaim/internal/audit"
	"github.com/hugh/go-reclaim/internal/auth"
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

	logger.Info("starting go-reclaim server",
		"env", cfg.Server.Env,
		"addr", cfg.Server.Addr(),
	)

	db, err := database.Connect(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	if cfg.Server.IsDevelopment() {
		if err := database.AutoMigrate(db); err != nil {
			logger.Error("failed to migrate database", "error", err)
			os.Exit(1)
		}
	}

	// Without Redis the server runs scans in-process and cannot schedule plans.
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		logger.Warn("failed to connect to Redis, running single-process", "error", err)
		redisClient.Close()
		redisClient = nil
	}

	sealer, err := crypto.NewSealer(cfg.Encryption.Key)
	if err != nil {
		logger.Error("failed to create sealer", "error", err)
		os.Exit(1)
	}
	if cfg.Encryption.Key == "" {
		logger.Warn("ENCRYPTION_KEY not set, using generated key - external ids will be unreadable after restart")
	}

	metrics := telemetry.New()
	auditLog := audit.NewLog(db)
	sessions := awscloud.NewSessions(cfg.AWS, logger)
	registry := cloud.NewRegistry()
	awscloud.Register(registry, sessions, logger)

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.Expiry())
	authService := auth.NewService(db, jwtService)
	accountService := accounts.NewService(db, sealer, sessions, logger)

	orchestrator := scan.NewOrchestrator(db, auditLog, registry, classifier.Default(), accountService, scan.Options{
		Concurrency:      cfg.Scan.Concurrency,
		InspectorTimeout: cfg.Scan.InspectorTimeout(),
		AccountRPS:       cfg.Scan.AccountRPS,
		AccountBurst:     cfg.Scan.AccountBurst,
	}, metrics, logger)

	var locker remediation.FindingLocker = remediation.NewMemoryLocker()
	if cfg.Remediation.LockBackend == "redis" && redisClient != nil {
		locker = remediation.NewRedisLocker(redisClient, cfg.Remediation.LockTTL())
	}
	engine := remediation.NewEngine(db, auditLog, registry, accountService, locker, remediation.Options{
		ExecutorTimeout: cfg.Remediation.ExecutorTimeout(),
	}, metrics, logger)

	var asynqClient *asynq.Client
	var local *scan.LocalDispatcher
	if redisClient != nil {
		asynqClient = queue.NewClient(&cfg.Redis)
		dispatcher := tasks.NewDispatcher(asynqClient)
		orchestrator.SetDispatcher(dispatcher)
		engine.SetScheduler(dispatcher)
	} else {
		local = scan.NewLocalDispatcher(orchestrator, logger)
		orchestrator.SetDispatcher(local)
	}

	router := api.NewRouter(api.RouterConfig{
		DB:            db,
		Redis:         redisClient,
		Logger:        logger,
		JWT:           jwtService,
		AuthService:   authService,
		Metrics:       metrics,
		Accounts:      accountService,
		Orchestrator:  orchestrator,
		Findings:      findings.NewService(db, auditLog, logger),
		Engine:        engine,
		AuditLog:      auditLog,
		RateLimitReqs: cfg.RateLimit.Requests,
		RateLimitSecs: cfg.RateLimit.WindowSeconds,
	})

	// Plan execution runs inside the request, so writes get the executor budget.
	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15*time.Second + 10*cfg.Remediation.ExecutorTimeout(),
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", cfg.Server.Addr())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	if local != nil {
		local.Wait()
	}
	if asynqClient != nil {
		asynqClient.Close()
	}
	if redisClient != nil {
		redisClient.Close()
	}
	if err := database.Close(db); err != nil {
		logger.Error("closing database", "error", err)
	}

	logger.Info("server stopped")
}
