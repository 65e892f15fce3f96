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
	"github.com/xiangli-damien/AWS-Genomics-Annotation-Platform/internal/annotator"
	"github.com/xiangli-damien/AWS-Genomics-Annotation-Platform/internal/config"
	"github.com/xiangli-damien/AWS-Genomics-Annotation-Platform/internal/consumer"
	"github.com/xiangli-damien/AWS-Genomics-Annotation-Platform/internal/objectstore"
	"github.com/xiangli-damien/AWS-Genomics-Annotation-Platform/internal/store"
	"github.com/xiangli-damien/AWS-Genomics-Annotation-Platform/shared/logger"
	"github.com/xiangli-damien/AWS-Genomics-Annotation-Platform/shared/postgresql"
	"github.com/xiangli-damien/AWS-Genomics-Annotation-Platform/shared/rabbitmq"
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
	defaultConfigPath := os.Getenv("ANNOTATOR_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/annotator-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAnnotatorConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting annotator service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	// Initialize PostgreSQL client
	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	appLogger.Info("Database connection established")

	// Initialize RabbitMQ client
	rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}

	appLogger.Info("RabbitMQ connection established")

	// Initialize object store client
	objects, err := objectstore.NewClient(&objectstore.Config{
		Endpoint:      cfg.ObjectStore.Endpoint,
		AccessKey:     cfg.ObjectStore.AccessKey,
		SecretKey:     cfg.ObjectStore.SecretKey,
		UseSSL:        cfg.ObjectStore.UseSSL,
		Region:        cfg.ObjectStore.Region,
		ArchiveBucket: cfg.ObjectStore.ArchiveBucket,
	}, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize object store: %w", err)
	}

	jobStore := store.NewStore(dbClient.GetDB(), appLogger.Logger)

	handler := annotator.NewHandler(&annotator.Config{
		Logger:  appLogger.Logger,
		Store:   jobStore,
		Objects: objects,
		Launcher: annotator.NewRunnerLauncher(
			cfg.Annotator.RunnerPath,
			*configPath,
			appLogger.Logger,
		),
		WorkDir: cfg.Annotator.WorkDir,
	})

	consumerInstance := consumer.New(&consumer.Config{
		Logger:        appLogger.Logger,
		RabbitClient:  rabbitClient,
		Queue:         cfg.RabbitMQ.Queues.Submissions.Name,
		Handler:       handler,
		Concurrency:   cfg.Worker.Concurrency,
		PrefetchCount: cfg.RabbitMQ.Consumer.PrefetchCount,
	})

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start consumer in a goroutine
	errChan := make(chan error, 1)
	go func() {
		if err := consumerInstance.Start(ctx); err != nil {
			errChan <- err
		}
	}()

	appLogger.Info("Annotator service started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		appLogger.Error("Consumer error",
			slog.Any("error", err),
		)
		return err
	}

	// Cancel context to stop consumer
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		consumerInstance.Stop()
		close(done)
	}()

	select {
	case <-done:
		appLogger.Info("Consumer stopped gracefully")
	case <-shutdownCtx.Done():
		appLogger.Warn("Consumer shutdown timeout exceeded, forcing exit")
	}

	// Cleanup function to close all resources
	cleanup := func() {
		if dbClient != nil {
			dbClient.Close()
		}
		if rabbitClient != nil {
			rabbitClient.Close()
		}
	}
	cleanup()

	appLogger.Info("Annotator service shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
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
	}

	return postgresql.NewClient(dbConfig, logger)
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		VHost:           cfg.VHost,
		ExchangeName:    cfg.Exchange.Name,
		ExchangeType:    cfg.Exchange.Type,
		ExchangeDurable: cfg.Exchange.Durable,
		Queues: []rabbitmq.QueueBinding{
			{
				Name:       cfg.Queues.Submissions.Name,
				RoutingKey: cfg.Queues.Submissions.RoutingKey,
				Durable:    cfg.Queues.Submissions.Durable,
			},
		},
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}
