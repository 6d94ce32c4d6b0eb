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

// Database drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Config represents the complete application configuration
type Config struct {
	App       AppConfig       `yaml:"app"`
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	RabbitMQ  RabbitMQConfig  `yaml:"rabbitmq"`
	Logging   LoggingConfig   `yaml:"logging"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Callback  CallbackConfig  `yaml:"callback"`
	Retention RetentionConfig `yaml:"retention"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig selects the job store backend and holds its connection settings
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"`
	Path            string        `yaml:"path"`
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
	Enabled    bool             `yaml:"enabled"`
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	Tag           string `yaml:"tag"`
	PrefetchCount int    `yaml:"prefetch_count"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableSource bool   `yaml:"enable_source"`
}

// PipelineConfig controls job orchestration and the external processor
type PipelineConfig struct {
	Enabled         bool            `yaml:"enabled"`
	Version         string          `yaml:"version"`
	MaxConcurrency  int             `yaml:"max_concurrency"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout"`
	Processor       ProcessorConfig `yaml:"processor"`
}

// ProcessorConfig locates the pipeline processor service
type ProcessorConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// CallbackConfig holds completion webhook settings. Leaving URL or Secret empty disables callbacks.
type CallbackConfig struct {
	URL         string          `yaml:"url"`
	Secret      string          `yaml:"secret"`
	Timeout     time.Duration   `yaml:"timeout"`
	RetryDelays []time.Duration `yaml:"retry_delays"`
}

// RetentionConfig holds the job retention horizons, in months, per data tier
type RetentionConfig struct {
	Interval      time.Duration `yaml:"interval"`
	CompactMonths int           `yaml:"compact_months"`
	FullMonths    int           `yaml:"full_months"`
}

// TracingConfig holds OpenTelemetry settings
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	ServiceName string  `yaml:"service_name"`
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// Load reads and parses the configuration file, then applies environment overrides and defaults
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyEnv()
	config.ApplyDefaults()

	return &config, nil
}

// applyEnv lets secrets and deployment specific endpoints come from the environment
func (c *Config) applyEnv() {
	if v := os.Getenv("DATABASE_PASSWORD"); v != "" {
		c.Database.Password = v
	}
	if v := os.Getenv("RABBITMQ_PASSWORD"); v != "" {
		c.RabbitMQ.Password = v
	}
	if v := os.Getenv("CALLBACK_URL"); v != "" {
		c.Callback.URL = v
	}
	if v := os.Getenv("CALLBACK_SECRET"); v != "" {
		c.Callback.Secret = v
	}
}

// ApplyDefaults fills unset values
func (c *Config) ApplyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = DriverPostgres
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}
	if c.Pipeline.MaxConcurrency <= 0 {
		c.Pipeline.MaxConcurrency = 4
	}
	if c.Pipeline.ShutdownTimeout <= 0 {
		c.Pipeline.ShutdownTimeout = 30 * time.Second
	}
	if c.Pipeline.Processor.Timeout <= 0 {
		c.Pipeline.Processor.Timeout = 5 * time.Minute
	}
	if c.Callback.Timeout <= 0 {
		c.Callback.Timeout = 10 * time.Second
	}
	if len(c.Callback.RetryDelays) == 0 {
		c.Callback.RetryDelays = []time.Duration{1 * time.Second, 4 * time.Second, 16 * time.Second}
	}
	if c.Retention.Interval <= 0 {
		c.Retention.Interval = 24 * time.Hour
	}
	if c.Retention.CompactMonths <= 0 {
		c.Retention.CompactMonths = 6
	}
	if c.Retention.FullMonths <= 0 {
		c.Retention.FullMonths = 2
	}
	if c.RabbitMQ.Consumer.PrefetchCount <= 0 {
		c.RabbitMQ.Consumer.PrefetchCount = 10
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = c.App.Name
	}
}

// ValidateAPIConfig checks the settings the API service needs
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if err := c.validateCommon(); err != nil {
		return err
	}

	if c.RabbitMQ.Enabled {
		return c.validateRabbitMQ()
	}
	return nil
}

// ValidateWorkerConfig checks the settings the worker service needs
func (c *Config) ValidateWorkerConfig() error {
	if err := c.validateCommon(); err != nil {
		return err
	}

	if !c.RabbitMQ.Enabled {
		return fmt.Errorf("rabbitmq must be enabled for the worker service")
	}
	return c.validateRabbitMQ()
}

func (c *Config) validateCommon() error {
	if err := c.validateDatabase(); err != nil {
		return err
	}

	if c.Pipeline.Enabled {
		if c.Pipeline.Processor.BaseURL == "" {
			return fmt.Errorf("pipeline processor base_url is required when the pipeline is enabled")
		}
		if c.Pipeline.Version == "" {
			return fmt.Errorf("pipeline version is required when the pipeline is enabled")
		}
	}

	if (c.Callback.URL == "") != (c.Callback.Secret == "") {
		return fmt.Errorf("callback url and secret must be set together")
	}

	return nil
}

func (c *Config) validateDatabase() error {
	switch c.Database.Driver {
	case DriverMemory:
		return nil
	case DriverSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("database path is required for sqlite")
		}
		return nil
	case DriverPostgres:
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	return nil
}

func (c *Config) validateRabbitMQ() error {
	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	return nil
}
