// The restorer service runs two consumers: one for restore requests
// fired on tier upgrades, one for thaw-complete signals.
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
	"github.com/xiangli-damien/AWS-Genomics-Annotation-Platform/internal/config"
	"github.com/xiangli-damien/AWS-Genomics-Annotation-Platform/internal/consumer"
	"github.com/xiangli-damien/AWS-Genomics-Annotation-Platform/internal/objectstore"
	"github.com/xiangli-damien/AWS-Genomics-Annotation-Platform/internal/restorer"
	"github.com/xiangli-damien/AWS-Genomics-Annotation-Platform/internal/scheduler"
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
	defaultConfigPath := os.Getenv("RESTORER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/restorer-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateRestorerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting restorer service",
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

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize the delayed-signal scheduler for thaw signals
	sched, err := scheduler.New(ctx, &scheduler.Config{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		ScheduleKey:  cfg.Redis.ScheduleKey,
		PollInterval: cfg.Redis.PollInterval,
	}, rabbitClient, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize scheduler: %w", err)
	}

	jobStore := store.NewStore(dbClient.GetDB(), appLogger.Logger)

	restorerCfg := &restorer.Config{
		Logger:         appLogger.Logger,
		Store:          jobStore,
		Objects:        objects,
		Scheduler:      sched,
		ThawRoutingKey: cfg.RabbitMQ.Queues.Thaw.RoutingKey,
		ThawDelay:      cfg.Restore.ThawDelay,
	}

	restoreConsumer := consumer.New(&consumer.Config{
		Logger:        appLogger.Logger,
		RabbitClient:  rabbitClient,
		Queue:         cfg.RabbitMQ.Queues.Restore.Name,
		Handler:       restorer.NewRestoreHandler(restorerCfg),
		Concurrency:   cfg.Worker.Concurrency,
		PrefetchCount: cfg.RabbitMQ.Consumer.PrefetchCount,
	})

	thawConsumer := consumer.New(&consumer.Config{
		Logger:        appLogger.Logger,
		RabbitClient:  rabbitClient,
		Queue:         cfg.RabbitMQ.Queues.Thaw.Name,
		Handler:       restorer.NewThawHandler(restorerCfg),
		Concurrency:   cfg.Worker.Concurrency,
		PrefetchCount: cfg.RabbitMQ.Consumer.PrefetchCount,
	})

	errChan := make(chan error, 2)
	for _, c := range []*consumer.Consumer{restoreConsumer, thawConsumer} {
		c := c
		go func() {
			if err := c.Start(ctx); err != nil {
				errChan <- err
			}
		}()
	}

	appLogger.Info("Restorer service started successfully")

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

	// Cancel context to stop consumers
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		restoreConsumer.Stop()
		thawConsumer.Stop()
		close(done)
	}()

	select {
	case <-done:
		appLogger.Info("Consumers stopped gracefully")
	case <-shutdownCtx.Done():
		appLogger.Warn("Consumer shutdown timeout exceeded, forcing exit")
	}

	// Cleanup function to close all resources
	cleanup := func() {
		sched.Close()
		if dbClient != nil {
			dbClient.Close()
		}
		if rabbitClient != nil {
			rabbitClient.Close()
		}
	}
	cleanup()

	appLogger.Info("Restorer service shutdown complete")
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
				Name:       cfg.Queues.Restore.Name,
				RoutingKey: cfg.Queues.Restore.RoutingKey,
				Durable:    cfg.Queues.Restore.Durable,
			},
			{
				Name:       cfg.Queues.Thaw.Name,
				RoutingKey: cfg.Queues.Thaw.RoutingKey,
				Durable:    cfg.Queues.Thaw.Durable,
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
