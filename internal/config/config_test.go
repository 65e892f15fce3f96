package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
			wantErr:  false,
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
			} else {
				require.NoError(t, err)
				require.NotNil(t, cfg)

				// Verify some key fields are populated
				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, "localhost", cfg.Database.Host)
				assert.Equal(t, "annotations_db", cfg.Database.Database)
				assert.Equal(t, "annotations_exchange", cfg.RabbitMQ.Exchange.Name)
				assert.Equal(t, "ann_submissions", cfg.RabbitMQ.Queues.Submissions.Name)
				assert.Equal(t, "job.thaw", cfg.RabbitMQ.Queues.Thaw.RoutingKey)
				assert.Equal(t, "gas-archive", cfg.ObjectStore.ArchiveBucket)
				assert.Equal(t, 300*time.Second, cfg.Archive.RetentionInterval)
				assert.Equal(t, 120*time.Second, cfg.Restore.ThawDelay)
			}
		})
	}
}

func validBase() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "annotations_db",
		},
		RabbitMQ: RabbitMQConfig{
			Host: "localhost",
			Port: 5672,
			Exchange: ExchangeConfig{
				Name: "annotations_exchange",
			},
			Queues: QueuesConfig{
				Submissions: QueueConfig{Name: "ann_submissions"},
			},
			Consumer: ConsumerConfig{PrefetchCount: 8},
		},
		ObjectStore: ObjectStoreConfig{
			InputsBucket:  "gas-inputs",
			ResultsBucket: "gas-results",
			ArchiveBucket: "gas-archive",
		},
		Worker: WorkerConfig{
			Concurrency:     4,
			ShutdownTimeout: 30 * time.Second,
		},
		Annotator: AnnotatorConfig{
			WorkDir:    "/var/tmp/annotations",
			RunnerPath: "/usr/local/bin/annotation-runner",
			ToolPath:   "/usr/local/bin/anntool",
		},
		Archive: ArchiveConfig{RetentionInterval: 5 * time.Minute},
	}
}

func TestValidateGatewayConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantErr   bool
		errString string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:      "invalid server port - too low",
			mutate:    func(c *Config) { c.Server.Port = 0 },
			wantErr:   true,
			errString: "invalid server port",
		},
		{
			name:      "invalid server port - too high",
			mutate:    func(c *Config) { c.Server.Port = 70000 },
			wantErr:   true,
			errString: "invalid server port",
		},
		{
			name:      "missing database host",
			mutate:    func(c *Config) { c.Database.Host = "" },
			wantErr:   true,
			errString: "database host is required",
		},
		{
			name:      "missing exchange name",
			mutate:    func(c *Config) { c.RabbitMQ.Exchange.Name = "" },
			wantErr:   true,
			errString: "rabbitmq exchange name is required",
		},
		{
			name:      "missing submissions queue",
			mutate:    func(c *Config) { c.RabbitMQ.Queues.Submissions.Name = "" },
			wantErr:   true,
			errString: "submissions queue name is required",
		},
		{
			name:      "missing inputs bucket",
			mutate:    func(c *Config) { c.ObjectStore.InputsBucket = "" },
			wantErr:   true,
			errString: "inputs bucket is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validBase()
			tt.mutate(cfg)

			err := cfg.ValidateGatewayConfig()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestValidateWorkerConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantErr   bool
		errString string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:      "zero concurrency",
			mutate:    func(c *Config) { c.Worker.Concurrency = 0 },
			wantErr:   true,
			errString: "worker concurrency must be greater than 0",
		},
		{
			name:      "zero shutdown timeout",
			mutate:    func(c *Config) { c.Worker.ShutdownTimeout = 0 },
			wantErr:   true,
			errString: "worker shutdown_timeout must be greater than 0",
		},
		{
			name:      "zero prefetch",
			mutate:    func(c *Config) { c.RabbitMQ.Consumer.PrefetchCount = 0 },
			wantErr:   true,
			errString: "prefetch_count must be greater than 0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validBase()
			tt.mutate(cfg)

			err := cfg.ValidateWorkerConfig()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestValidateAnnotatorConfig(t *testing.T) {
	cfg := validBase()
	require.NoError(t, cfg.ValidateAnnotatorConfig())

	cfg.Annotator.WorkDir = ""
	err := cfg.ValidateAnnotatorConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "work_dir is required")

	cfg = validBase()
	cfg.Annotator.RunnerPath = ""
	err = cfg.ValidateAnnotatorConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "runner_path is required")
}

func TestValidateNotifierConfig(t *testing.T) {
	cfg := validBase()
	cfg.RabbitMQ.Queues.Completions.Name = "ann_completions"
	cfg.SMTP.Host = "smtp.example.com"
	cfg.SMTP.Sender = "gas@example.com"
	require.NoError(t, cfg.ValidateNotifierConfig())

	cfg.SMTP.Host = ""
	err := cfg.ValidateNotifierConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "smtp host is required")

	cfg.SMTP.Host = "smtp.example.com"
	cfg.SMTP.Sender = ""
	err = cfg.ValidateNotifierConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "smtp sender is required")

	cfg.SMTP.Sender = "gas@example.com"
	cfg.RabbitMQ.Queues.Completions.Name = ""
	err = cfg.ValidateNotifierConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "completions queue name is required")
}

func TestValidateArchiverConfig(t *testing.T) {
	cfg := validBase()
	cfg.RabbitMQ.Queues.Archive.Name = "ann_archive"
	cfg.Redis.Addr = "localhost:6379"
	cfg.Redis.ScheduleKey = "gas:schedule"
	require.NoError(t, cfg.ValidateArchiverConfig())

	cfg.Redis.Addr = ""
	err := cfg.ValidateArchiverConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis addr is required")

	cfg.Redis.Addr = "localhost:6379"
	cfg.Redis.ScheduleKey = ""
	err = cfg.ValidateArchiverConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schedule_key is required")
}

func TestValidateRestorerConfig(t *testing.T) {
	cfg := validBase()
	cfg.RabbitMQ.Queues.Restore.Name = "ann_restore"
	cfg.RabbitMQ.Queues.Thaw.Name = "ann_thaw"
	cfg.Redis.Addr = "localhost:6379"
	cfg.Restore.ThawDelay = 2 * time.Minute
	require.NoError(t, cfg.ValidateRestorerConfig())

	cfg.Restore.ThawDelay = 0
	err := cfg.ValidateRestorerConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "thaw_delay must be greater than 0")

	cfg.Restore.ThawDelay = 2 * time.Minute
	cfg.RabbitMQ.Queues.Thaw.Name = ""
	err = cfg.ValidateRestorerConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "thaw queue name is required")
}

func TestValidateRunnerConfig(t *testing.T) {
	cfg := validBase()
	require.NoError(t, cfg.ValidateRunnerConfig())

	cfg.Annotator.ToolPath = ""
	err := cfg.ValidateRunnerConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tool_path is required")

	cfg = validBase()
	cfg.Archive.RetentionInterval = 0
	err = cfg.ValidateRunnerConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retention_interval must be greater than 0")
}
