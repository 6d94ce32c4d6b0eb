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
			t.Setenv("CALLBACK_SECRET", "")
			t.Setenv("CALLBACK_URL", "")

			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, cfg)

			assert.Equal(t, "vault-pipeline-api", cfg.App.Name)
			assert.Equal(t, 8080, cfg.Server.Port)
			assert.Equal(t, DriverPostgres, cfg.Database.Driver)
			assert.Equal(t, "vault_db", cfg.Database.Database)
			assert.True(t, cfg.RabbitMQ.Enabled)
			assert.Equal(t, "vault_exchange", cfg.RabbitMQ.Exchange.Name)
			assert.Equal(t, "vault_reprocess", cfg.RabbitMQ.Queue.Name)
			assert.Equal(t, 5, cfg.RabbitMQ.Consumer.PrefetchCount)
			assert.True(t, cfg.Pipeline.Enabled)
			assert.Equal(t, "v3", cfg.Pipeline.Version)
			assert.Equal(t, 8, cfg.Pipeline.MaxConcurrency)
			assert.Equal(t, 2*time.Minute, cfg.Pipeline.Processor.Timeout)
			assert.Equal(t, "file-secret", cfg.Callback.Secret)
			assert.Equal(t, []time.Duration{500 * time.Millisecond, 2 * time.Second}, cfg.Callback.RetryDelays)
			assert.Equal(t, 12, cfg.Retention.CompactMonths)
			// unset values fall back to defaults
			assert.Equal(t, 2, cfg.Retention.FullMonths)
			assert.Equal(t, 24*time.Hour, cfg.Retention.Interval)
			assert.Equal(t, 10*time.Second, cfg.Callback.Timeout)
			assert.Equal(t, "vault-pipeline-api", cfg.Tracing.ServiceName)
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("testdata/minimal.yaml")
	require.NoError(t, err)

	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.False(t, cfg.Pipeline.Enabled)
	assert.Equal(t, 4, cfg.Pipeline.MaxConcurrency)
	assert.Equal(t, 30*time.Second, cfg.Pipeline.ShutdownTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Pipeline.Processor.Timeout)
	assert.Equal(t, []time.Duration{time.Second, 4 * time.Second, 16 * time.Second}, cfg.Callback.RetryDelays)
	assert.Equal(t, 6, cfg.Retention.CompactMonths)
	assert.Equal(t, 2, cfg.Retention.FullMonths)
	assert.Equal(t, 10, cfg.RabbitMQ.Consumer.PrefetchCount)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_PASSWORD", "db-from-env")
	t.Setenv("RABBITMQ_PASSWORD", "mq-from-env")
	t.Setenv("CALLBACK_URL", "https://hooks.example.com/vault")
	t.Setenv("CALLBACK_SECRET", "env-secret")

	cfg, err := Load("testdata/valid_config.yaml")
	require.NoError(t, err)

	assert.Equal(t, "db-from-env", cfg.Database.Password)
	assert.Equal(t, "mq-from-env", cfg.RabbitMQ.Password)
	assert.Equal(t, "https://hooks.example.com/vault", cfg.Callback.URL)
	assert.Equal(t, "env-secret", cfg.Callback.Secret)
}

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080},
		Database: DatabaseConfig{
			Driver:   DriverPostgres,
			Host:     "localhost",
			Port:     5432,
			Database: "vault_db",
		},
		RabbitMQ: RabbitMQConfig{
			Enabled:  true,
			Host:     "localhost",
			Port:     5672,
			Exchange: ExchangeConfig{Name: "vault_exchange"},
			Queue:    QueueConfig{Name: "vault_reprocess"},
		},
		Pipeline: PipelineConfig{
			Enabled:   true,
			Version:   "v1",
			Processor: ProcessorConfig{BaseURL: "http://localhost:9000"},
		},
	}
}

func TestConfig_ValidateAPIConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		errString string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:      "invalid server port - too low",
			mutate:    func(c *Config) { c.Server.Port = 0 },
			errString: "invalid server port",
		},
		{
			name:      "invalid server port - too high",
			mutate:    func(c *Config) { c.Server.Port = 70000 },
			errString: "invalid server port",
		},
		{
			name:      "unknown database driver",
			mutate:    func(c *Config) { c.Database.Driver = "mysql" },
			errString: "unsupported database driver",
		},
		{
			name:      "empty database host",
			mutate:    func(c *Config) { c.Database.Host = "" },
			errString: "database host is required",
		},
		{
			name:      "invalid database port",
			mutate:    func(c *Config) { c.Database.Port = 0 },
			errString: "invalid database port",
		},
		{
			name:      "empty database name",
			mutate:    func(c *Config) { c.Database.Database = "" },
			errString: "database name is required",
		},
		{
			name: "sqlite needs only a path",
			mutate: func(c *Config) {
				c.Database = DatabaseConfig{Driver: DriverSQLite, Path: "vault.db"}
			},
		},
		{
			name:      "sqlite without path",
			mutate:    func(c *Config) { c.Database = DatabaseConfig{Driver: DriverSQLite} },
			errString: "database path is required",
		},
		{
			name:   "memory store",
			mutate: func(c *Config) { c.Database = DatabaseConfig{Driver: DriverMemory} },
		},
		{
			name:      "empty rabbitmq host",
			mutate:    func(c *Config) { c.RabbitMQ.Host = "" },
			errString: "rabbitmq host is required",
		},
		{
			name:      "empty exchange name",
			mutate:    func(c *Config) { c.RabbitMQ.Exchange.Name = "" },
			errString: "rabbitmq exchange name is required",
		},
		{
			name:      "empty queue name",
			mutate:    func(c *Config) { c.RabbitMQ.Queue.Name = "" },
			errString: "rabbitmq queue name is required",
		},
		{
			name:   "rabbitmq disabled skips its checks",
			mutate: func(c *Config) { c.RabbitMQ = RabbitMQConfig{} },
		},
		{
			name:      "enabled pipeline without processor",
			mutate:    func(c *Config) { c.Pipeline.Processor.BaseURL = "" },
			errString: "pipeline processor base_url is required",
		},
		{
			name:      "enabled pipeline without version",
			mutate:    func(c *Config) { c.Pipeline.Version = "" },
			errString: "pipeline version is required",
		},
		{
			name:   "disabled pipeline needs no processor",
			mutate: func(c *Config) { c.Pipeline = PipelineConfig{} },
		},
		{
			name:      "callback url without secret",
			mutate:    func(c *Config) { c.Callback.URL = "https://hooks.example.com" },
			errString: "callback url and secret must be set together",
		},
		{
			name: "callback url with secret",
			mutate: func(c *Config) {
				c.Callback.URL = "https://hooks.example.com"
				c.Callback.Secret = "s3cret"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.ValidateAPIConfig()

			if tt.errString != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestConfig_ValidateWorkerConfig(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		cfg := validConfig()
		cfg.Server.Port = 0
		assert.NoError(t, cfg.ValidateWorkerConfig())
	})

	t.Run("rabbitmq required", func(t *testing.T) {
		cfg := validConfig()
		cfg.RabbitMQ.Enabled = false
		err := cfg.ValidateWorkerConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "rabbitmq must be enabled")
	})
}

func TestLoad_ValidateIntegration(t *testing.T) {
	t.Run("load and validate valid config", func(t *testing.T) {
		cfg, err := Load("testdata/valid_config.yaml")
		require.NoError(t, err)
		require.NoError(t, cfg.ValidateAPIConfig())
	})

	t.Run("load config with invalid port", func(t *testing.T) {
		cfg, err := Load("testdata/invalid_port.yaml")
		require.NoError(t, err)

		err = cfg.ValidateAPIConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid server port")
	})
}
