package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mbellido/agentpay/internal/application/orchestrator"
	"github.com/mbellido/agentpay/internal/application/workers"
	"github.com/mbellido/agentpay/internal/config"
	eventsmem "github.com/mbellido/agentpay/pkg/adapters/events/memory"
	eventsredis "github.com/mbellido/agentpay/pkg/adapters/events/redis"
	"github.com/mbellido/agentpay/pkg/adapters/executor"
	ledgermem "github.com/mbellido/agentpay/pkg/adapters/ledger/memory"
	ledgerredis "github.com/mbellido/agentpay/pkg/adapters/ledger/redis"
	"github.com/mbellido/agentpay/pkg/adapters/metrics/prometheus"
	"github.com/mbellido/agentpay/pkg/api/grpc"
	"github.com/mbellido/agentpay/pkg/api/http"
	"github.com/mbellido/agentpay/pkg/api/websocket"
	"github.com/mbellido/agentpay/pkg/ports"
)

var (
	// Version is set by build flags
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := initLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("starting agentpay orchestrator",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("ledger_backend", cfg.Ledger.Backend))

	ctx := context.Background()

	// Initialize Redis when any adapter needs it
	var redisClient *goredis.Client
	if cfg.Ledger.Backend == "redis" {
		redisClient = goredis.NewClient(&goredis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			MaxRetries:   cfg.Redis.MaxRetries,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})

		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal("failed to connect to Redis", zap.Error(err))
		}
		logger.Info("connected to Redis", zap.String("addr", cfg.Redis.Addr))
	}

	// Initialize adapters
	var ledger ports.Ledger
	var eventBus ports.EventBus

	switch cfg.Ledger.Backend {
	case "redis":
		redisLedger := ledgerredis.NewLedger(redisClient, cfg.Ledger.TaskDeadline, logger)
		if cfg.Ledger.SeedClient != "" && cfg.Ledger.SeedAmount > 0 {
			if err := redisLedger.Deposit(ctx, cfg.Ledger.SeedClient, cfg.Ledger.SeedAmount); err != nil {
				logger.Fatal("failed to seed client deposit", zap.Error(err))
			}
		}
		ledger = redisLedger

		bus, err := eventsredis.NewStreamsEventBus(
			redisClient,
			"agentpay-workers",
			fmt.Sprintf("agentpay-%d", os.Getpid()),
			logger,
		)
		if err != nil {
			logger.Fatal("failed to create event bus", zap.Error(err))
		}
		eventBus = bus

	default:
		memLedger := ledgermem.NewLedger(cfg.Ledger.TaskDeadline)
		if cfg.Ledger.SeedClient != "" && cfg.Ledger.SeedAmount > 0 {
			memLedger.Deposit(cfg.Ledger.SeedClient, cfg.Ledger.SeedAmount)
		}
		ledger = memLedger
		eventBus = eventsmem.NewInMemoryEventBus()
	}

	backend, err := executor.NewBackend(&executor.BackendConfig{
		Provider: cfg.LLM.Provider,
		APIKey:   cfg.LLM.APIKey,
		Model:    cfg.LLM.DefaultModel,
		Logger:   logger,
	})
	if err != nil {
		logger.Fatal("failed to create step backend", zap.Error(err))
	}

	stepExecutor := executor.New(&executor.Config{
		Backend:   backend,
		Timeout:   cfg.Timeouts.StepTimeout,
		MaxTokens: cfg.LLM.DefaultMaxTokens,
		Logger:    logger,
	})

	metricsCollector := prometheus.NewCollector()

	// Initialize application components
	workerPool := workers.NewPool(
		cfg.Workers.PoolSize,
		cfg.Workers.QueueSize,
		metricsCollector,
		logger,
		cfg.Workers.HealthCheckInterval,
	)

	runner := orchestrator.NewRunner(
		ledger,
		stepExecutor,
		eventBus,
		metricsCollector,
		logger,
		cfg.Ledger.CallTimeout,
	)

	manager := orchestrator.NewManager(
		runner,
		workerPool,
		eventBus,
		metricsCollector,
		logger,
		cfg.Timeouts.RunTimeout,
	)

	// Start worker pool
	if err := workerPool.Start(); err != nil {
		logger.Fatal("failed to start worker pool", zap.Error(err))
	}

	// Initialize API servers
	httpServer := http.NewServer(&http.Config{
		Port:    cfg.HTTPPort,
		Manager: manager,
		Ledger:  ledger,
		Pool:    workerPool,
		Logger:  logger,
	})

	// Add WebSocket handler to HTTP server
	wsHandler := websocket.NewHandler(eventBus, logger)
	httpServer.SetupWebSocket(wsHandler)

	grpcServer, err := grpc.NewServer(&grpc.Config{
		Port:   cfg.GRPCPort,
		Logger: logger,
	})
	if err != nil {
		logger.Fatal("failed to create gRPC server", zap.Error(err))
	}

	// Start servers
	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	go func() {
		if err := grpcServer.Start(); err != nil {
			logger.Fatal("gRPC server failed", zap.Error(err))
		}
	}()

	logger.Info("agentpay orchestrator started",
		zap.Int("http_port", cfg.HTTPPort),
		zap.Int("grpc_port", cfg.GRPCPort),
		zap.Int("worker_pool_size", cfg.Workers.PoolSize))

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("received shutdown signal")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	if err := grpcServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("gRPC server shutdown error", zap.Error(err))
	}

	if err := manager.Shutdown(shutdownCtx); err != nil {
		logger.Error("run manager shutdown error", zap.Error(err))
	}

	if err := workerPool.Shutdown(shutdownCtx); err != nil {
		logger.Error("worker pool shutdown error", zap.Error(err))
	}

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Error("Redis close error", zap.Error(err))
		}
	}

	logger.Info("agentpay orchestrator shut down complete")
}

// initLogger initializes the logger based on log level
func initLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}

	return logger
}
