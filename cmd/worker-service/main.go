package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/cuongbtq/completion-relay/internal/backend"
	"github.com/cuongbtq/completion-relay/internal/config"
	"github.com/cuongbtq/completion-relay/internal/queue"
	"github.com/cuongbtq/completion-relay/internal/worker"
	"github.com/cuongbtq/completion-relay/internal/worker/storage"
	"github.com/cuongbtq/completion-relay/shared/logger"
	"github.com/cuongbtq/completion-relay/shared/postgresql"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging, &cfg.App)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	workerID := cfg.Worker.ID
	if workerID == "" {
		hostname, _ := os.Hostname()
		workerID = fmt.Sprintf("worker-%s-%d", hostname, os.Getpid())
	}

	appLogger.Info("Starting worker service",
		slog.String("environment", cfg.App.Environment),
		slog.String("worker_id", workerID),
		slog.String("queue_backend", cfg.Queue.Backend),
		slog.String("broker_backend", cfg.Broker.Backend),
		slog.String("provider", cfg.Completion.Provider),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conns := backend.NewConnections(cfg, backend.RoleWorker, appLogger.Logger)
	defer conns.Close()

	jobQueue, err := conns.Queue(workerID)
	if err != nil {
		return fmt.Errorf("failed to initialize queue: %w", err)
	}

	broker, err := conns.Broker()
	if err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}

	executor, err := backend.NewExecutor(ctx, &cfg.Completion, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize completion executor: %w", err)
	}

	workerCfg := &worker.Config{
		Logger:          appLogger.Component("worker"),
		WorkerID:        workerID,
		Queue:           jobQueue,
		Executor:        executor,
		Publisher:       broker,
		TopicPrefix:     cfg.Broker.TopicPrefix,
		PollInterval:    cfg.Queue.PollInterval,
		Concurrency:     cfg.Worker.Concurrency,
		JobTimeout:      cfg.Worker.JobTimeout,
		TerminalMarkers: cfg.Broker.TerminalMarkers,
	}

	// The job ledger is optional
	if cfg.Database.Enabled {
		dbClient, err := initPostgreSQL(ctx, &cfg.Database, appLogger.Component("ledger"))
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		defer dbClient.Close()

		workerCfg.Recorder = storage.NewStorage(dbClient.GetDB(), appLogger.Component("ledger"))
		appLogger.Info("Job ledger enabled")
	}

	workerInstance := worker.NewWorker(workerCfg)

	// Start worker in a goroutine
	done := make(chan struct{})
	go func() {
		defer close(done)
		if redisQueue, ok := jobQueue.(*queue.RedisStore); ok {
			if err := prepareQueue(ctx, redisQueue, cfg, appLogger.Logger); err != nil {
				// Shut down before the store came up
				return
			}
		}
		if err := workerInstance.Start(ctx); err != nil {
			appLogger.Error("Worker error",
				slog.Any("error", err),
			)
		}
	}()

	appLogger.Info("Worker service started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	appLogger.Info("Received signal, shutting down gracefully",
		slog.String("signal", sig.String()),
	)

	// Stop polling; in-flight jobs keep running
	cancel()
	<-done

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer shutdownCancel()

	stopped := make(chan struct{})
	go func() {
		workerInstance.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		appLogger.Info("Worker stopped gracefully")
	case <-shutdownCtx.Done():
		appLogger.Warn("Worker shutdown timeout exceeded, abandoning in-flight jobs",
			slog.Duration("timeout", cfg.Worker.ShutdownTimeout),
		)
	}

	appLogger.Info("Worker service shutdown complete")
	return nil
}

// prepareQueue requeues jobs a previous run of this worker left reserved. The
// store may still be down at startup, so it waits for it instead of failing.
func prepareQueue(ctx context.Context, store *queue.RedisStore, cfg *config.Config, logger *slog.Logger) error {
	if cfg.Queue.Reliable {
		recovered, err := queue.RecoverWhenReady(ctx, store, cfg.Queue.PollInterval, logger)
		if err != nil {
			return err
		}
		if recovered > 0 {
			logger.Warn("Requeued jobs left by a previous run",
				slog.Int("count", recovered),
			)
		}
	}

	if pending, err := store.Len(ctx); err == nil {
		logger.Info("Queue backlog at startup",
			slog.String("queue", cfg.Queue.Name),
			slog.Int64("pending", pending),
		)
	}
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig, app *config.AppConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
		Service:      app.Name,
		Version:      app.Version,
	}

	return logger.New(loggerCfg)
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(ctx context.Context, cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
		ConnectTimeout:  cfg.ConnectTimeout,
	}

	return postgresql.NewClient(ctx, dbConfig, logger)
}
