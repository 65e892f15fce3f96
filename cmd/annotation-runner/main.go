// The annotation-runner is a short-lived process launched once per job
// by the annotator service. It runs the annotation tool to completion,
// uploads the result artifacts, finalizes the job record, and exits.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/xiangli-damien/AWS-Genomics-Annotation-Platform/internal/config"
	"github.com/xiangli-damien/AWS-Genomics-Annotation-Platform/internal/objectstore"
	"github.com/xiangli-damien/AWS-Genomics-Annotation-Platform/internal/runner"
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
	defaultConfigPath := os.Getenv("ANNOTATION_RUNNER_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/annotator-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	inputPath := flag.String("input", "", "Local path of the downloaded input file")
	inputKey := flag.String("key", "", "Object store key of the input file")
	jobID := flag.String("job-id", "", "Job identifier")
	flag.Parse()

	if *inputPath == "" || *inputKey == "" || *jobID == "" {
		return fmt.Errorf("flags -input, -key and -job-id are required")
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateRunnerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting annotation runner",
		slog.String("job_id", *jobID),
		slog.String("input", *inputPath),
	)

	// Initialize PostgreSQL client
	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	// Initialize RabbitMQ client
	rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

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

	ctx := context.Background()

	// Initialize the delayed-signal scheduler
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
	defer sched.Close()

	jobStore := store.NewStore(dbClient.GetDB(), appLogger.Logger)

	r := runner.New(&runner.Config{
		Logger:               appLogger.Logger,
		Store:                jobStore,
		Objects:              objects,
		Publisher:            rabbitClient,
		Scheduler:            sched,
		Tool:                 runner.NewExecTool(cfg.Annotator.ToolPath, appLogger.Logger),
		ResultsBucket:        cfg.ObjectStore.ResultsBucket,
		CompletionRoutingKey: cfg.RabbitMQ.Queues.Completions.RoutingKey,
		ArchiveRoutingKey:    cfg.RabbitMQ.Queues.Archive.RoutingKey,
		RetentionInterval:    cfg.Archive.RetentionInterval,
	})

	if err := r.Run(ctx, *inputPath, *inputKey, *jobID); err != nil {
		appLogger.Error("Annotation runner failed",
			slog.String("job_id", *jobID),
			slog.Any("error", err),
		)
		return err
	}

	appLogger.Info("Annotation runner finished",
		slog.String("job_id", *jobID),
	)
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

// initRabbitMQ initializes the RabbitMQ client with the queues the
// runner publishes toward.
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
				Name:       cfg.Queues.Completions.Name,
				RoutingKey: cfg.Queues.Completions.RoutingKey,
				Durable:    cfg.Queues.Completions.Durable,
			},
			{
				Name:       cfg.Queues.Archive.Name,
				RoutingKey: cfg.Queues.Archive.RoutingKey,
				Durable:    cfg.Queues.Archive.Durable,
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
