package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete application configuration. Every service
// binary loads the same shape and validates the sections it uses; the
// loaded value is immutable and passed into constructors.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	RabbitMQ    RabbitMQConfig    `yaml:"rabbitmq"`
	Redis       RedisConfig       `yaml:"redis"`
	ObjectStore ObjectStoreConfig `yaml:"object_store"`
	SMTP        SMTPConfig        `yaml:"smtp"`
	Logging     LoggingConfig     `yaml:"logging"`
	App         AppConfig         `yaml:"app"`
	Worker      WorkerConfig      `yaml:"worker"`
	Annotator   AnnotatorConfig   `yaml:"annotator"`
	Archive     ArchiveConfig     `yaml:"archive"`
	Restore     RestoreConfig     `yaml:"restore"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queues     QueuesConfig     `yaml:"queues"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name    string `yaml:"name"`
	Type    string `yaml:"type"`
	Durable bool   `yaml:"durable"`
}

// QueueConfig holds one queue binding
type QueueConfig struct {
	Name       string `yaml:"name"`
	RoutingKey string `yaml:"routing_key"`
	Durable    bool   `yaml:"durable"`
}

// QueuesConfig names the queue for every pipeline stage
type QueuesConfig struct {
	Submissions QueueConfig `yaml:"submissions"`
	Completions QueueConfig `yaml:"completions"`
	Archive     QueueConfig `yaml:"archive"`
	Restore     QueueConfig `yaml:"restore"`
	Thaw        QueueConfig `yaml:"thaw"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	Heartbeat     time.Duration `yaml:"heartbeat"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int `yaml:"prefetch_count"`
}

// RedisConfig holds the delayed-signal scheduler backend configuration
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	ScheduleKey  string        `yaml:"schedule_key"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// ObjectStoreConfig holds the tiered blob storage configuration
type ObjectStoreConfig struct {
	Endpoint      string        `yaml:"endpoint"`
	AccessKey     string        `yaml:"access_key"`
	SecretKey     string        `yaml:"secret_key"`
	UseSSL        bool          `yaml:"use_ssl"`
	Region        string        `yaml:"region"`
	InputsBucket  string        `yaml:"inputs_bucket"`
	ResultsBucket string        `yaml:"results_bucket"`
	ArchiveBucket string        `yaml:"archive_bucket"`
	KeyPrefix     string        `yaml:"key_prefix"`
	UploadExpiry  time.Duration `yaml:"upload_expiry"`
}

// SMTPConfig holds the notification mail relay configuration
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Sender   string `yaml:"sender"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// WorkerConfig holds consumer service configuration
type WorkerConfig struct {
	Concurrency     int           `yaml:"concurrency"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// AnnotatorConfig holds the annotation worker's local execution settings
type AnnotatorConfig struct {
	WorkDir    string `yaml:"work_dir"`
	RunnerPath string `yaml:"runner_path"`
	ToolPath   string `yaml:"tool_path"`
}

// ArchiveConfig holds the retention settings for free-tier results
type ArchiveConfig struct {
	RetentionInterval time.Duration `yaml:"retention_interval"`
}

// RestoreConfig holds cold-storage retrieval settings
type RestoreConfig struct {
	ThawDelay time.Duration `yaml:"thaw_delay"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// validateShared checks the sections every service depends on
func (c *Config) validateShared() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	return nil
}

// ValidateGatewayConfig checks the configuration for the gateway service
func (c *Config) ValidateGatewayConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if err := c.validateShared(); err != nil {
		return err
	}

	if c.RabbitMQ.Queues.Submissions.Name == "" {
		return fmt.Errorf("submissions queue name is required")
	}

	if c.ObjectStore.InputsBucket == "" {
		return fmt.Errorf("object store inputs bucket is required")
	}

	return nil
}

// ValidateWorkerConfig checks the configuration shared by all consumer services
func (c *Config) ValidateWorkerConfig() error {
	if err := c.validateShared(); err != nil {
		return err
	}

	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	if c.RabbitMQ.Consumer.PrefetchCount <= 0 {
		return fmt.Errorf("rabbitmq consumer prefetch_count must be greater than 0")
	}

	return nil
}

// ValidateAnnotatorConfig checks the annotation worker's execution settings
func (c *Config) ValidateAnnotatorConfig() error {
	if err := c.ValidateWorkerConfig(); err != nil {
		return err
	}

	if c.Annotator.WorkDir == "" {
		return fmt.Errorf("annotator work_dir is required")
	}

	if c.Annotator.RunnerPath == "" {
		return fmt.Errorf("annotator runner_path is required")
	}

	return nil
}

// ValidateNotifierConfig checks the settings the notifier service needs
func (c *Config) ValidateNotifierConfig() error {
	if err := c.ValidateWorkerConfig(); err != nil {
		return err
	}

	if c.RabbitMQ.Queues.Completions.Name == "" {
		return fmt.Errorf("completions queue name is required")
	}

	if c.SMTP.Host == "" {
		return fmt.Errorf("smtp host is required")
	}

	if c.SMTP.Sender == "" {
		return fmt.Errorf("smtp sender is required")
	}

	return nil
}

// ValidateArchiverConfig checks the settings the archiver service needs
func (c *Config) ValidateArchiverConfig() error {
	if err := c.ValidateWorkerConfig(); err != nil {
		return err
	}

	if c.RabbitMQ.Queues.Archive.Name == "" {
		return fmt.Errorf("archive queue name is required")
	}

	if c.Redis.Addr == "" {
		return fmt.Errorf("redis addr is required")
	}

	if c.Redis.ScheduleKey == "" {
		return fmt.Errorf("redis schedule_key is required")
	}

	return nil
}

// ValidateRestorerConfig checks the settings the restorer service needs
func (c *Config) ValidateRestorerConfig() error {
	if err := c.ValidateWorkerConfig(); err != nil {
		return err
	}

	if c.RabbitMQ.Queues.Restore.Name == "" {
		return fmt.Errorf("restore queue name is required")
	}

	if c.RabbitMQ.Queues.Thaw.Name == "" {
		return fmt.Errorf("thaw queue name is required")
	}

	if c.Restore.ThawDelay <= 0 {
		return fmt.Errorf("restore thaw_delay must be greater than 0")
	}

	if c.Redis.Addr == "" {
		return fmt.Errorf("redis addr is required")
	}

	return nil
}

// ValidateRunnerConfig checks the settings the annotation runner needs
func (c *Config) ValidateRunnerConfig() error {
	if err := c.validateShared(); err != nil {
		return err
	}

	if c.Annotator.ToolPath == "" {
		return fmt.Errorf("annotator tool_path is required")
	}

	if c.ObjectStore.ResultsBucket == "" {
		return fmt.Errorf("object store results bucket is required")
	}

	if c.Archive.RetentionInterval <= 0 {
		return fmt.Errorf("archive retention_interval must be greater than 0")
	}

	return nil
}
