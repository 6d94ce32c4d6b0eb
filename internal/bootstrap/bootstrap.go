// Package bootstrap wires configuration into the long-lived components both services share.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/cuongbtq/vault-pipeline/internal/callback"
	"github.com/cuongbtq/vault-pipeline/internal/config"
	"github.com/cuongbtq/vault-pipeline/internal/domain"
	"github.com/cuongbtq/vault-pipeline/internal/orchestrator"
	"github.com/cuongbtq/vault-pipeline/internal/pipeline"
	"github.com/cuongbtq/vault-pipeline/internal/retention"
	"github.com/cuongbtq/vault-pipeline/internal/storage"
	"github.com/cuongbtq/vault-pipeline/internal/storage/memory"
	"github.com/cuongbtq/vault-pipeline/internal/worker"
	"github.com/cuongbtq/vault-pipeline/shared/database"
	"github.com/cuongbtq/vault-pipeline/shared/logger"
	"github.com/cuongbtq/vault-pipeline/shared/rabbitmq"
	"github.com/cuongbtq/vault-pipeline/shared/tracing"
)

// jobStore is what the orchestrator and the sweeper need from a store
type jobStore interface {
	orchestrator.JobStore
	retention.Purger
}

// Pipeline owns the orchestrator and everything it runs on
type Pipeline struct {
	Orchestrator *orchestrator.Orchestrator
	Sweeper      *retention.Sweeper
	Supervisor   *worker.Supervisor

	logger          *slog.Logger
	db              *database.Client
	shutdownTimeout time.Duration
	watchDone       chan struct{}
}

// NewLogger builds the application logger from config
func NewLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableSource,
		TimeFormat:   time.RFC3339,
	})
}

// NewTracing installs the tracer provider described by cfg
func NewTracing(ctx context.Context, cfg *config.Config, logger *slog.Logger) (tracing.Shutdown, error) {
	return tracing.Setup(ctx, &tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		Environment: cfg.App.Environment,
		Version:     cfg.App.Version,
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		SampleRatio: cfg.Tracing.SampleRatio,
	}, logger)
}

// NewRabbitMQ connects to the broker described by cfg
func NewRabbitMQ(ctx context.Context, cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	return rabbitmq.NewClient(ctx, &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}, logger)
}

// NewPipeline opens the configured store, migrates it and assembles the orchestrator
func NewPipeline(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Pipeline, error) {
	policy := domain.RetentionPolicy{
		CompactMonths: cfg.Retention.CompactMonths,
		FullMonths:    cfg.Retention.FullMonths,
	}

	p := &Pipeline{
		logger:          logger,
		shutdownTimeout: cfg.Pipeline.ShutdownTimeout,
		watchDone:       make(chan struct{}),
	}

	var (
		jobs     jobStore
		contents orchestrator.ContentRepository
	)

	switch cfg.Database.Driver {
	case config.DriverMemory:
		logger.Warn("Using in-memory job store, jobs are lost on restart")
		jobs = memory.NewJobStore(memory.WithRetention(policy))
		contents = memory.NewContentStore()

	default:
		db, err := database.NewClient(&database.Config{
			Driver:          cfg.Database.Driver,
			Host:            cfg.Database.Host,
			Port:            cfg.Database.Port,
			User:            cfg.Database.User,
			Password:        cfg.Database.Password,
			Database:        cfg.Database.Database,
			SSLMode:         cfg.Database.SSLMode,
			Path:            cfg.Database.Path,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		p.db = db

		if err := storage.Migrate(ctx, db.GetDB(), logger); err != nil {
			db.Close()
			return nil, err
		}

		jobs = storage.NewJobStore(db.GetDB(), logger, storage.WithRetention(policy))
		contents = storage.NewContentStore(db.GetDB(), logger)
	}

	p.Supervisor = worker.NewSupervisor(&worker.SupervisorConfig{
		Logger: logger.With(slog.String("component", "supervisor")),
	})
	go p.watchErrors()

	notifier := callback.NewNotifier(&callback.Config{
		URL:         cfg.Callback.URL,
		Secret:      cfg.Callback.Secret,
		Timeout:     cfg.Callback.Timeout,
		RetryDelays: cfg.Callback.RetryDelays,
		Logger:      logger,
	})
	if !notifier.Enabled() {
		logger.Info("Completion callbacks disabled, no url or secret configured")
	}

	processor := pipeline.NewClient(&pipeline.Config{
		BaseURL: cfg.Pipeline.Processor.BaseURL,
		Timeout: cfg.Pipeline.Processor.Timeout,
		Logger:  logger,
	})

	p.Orchestrator = orchestrator.New(&orchestrator.Config{
		Logger:          logger,
		Jobs:            jobs,
		Contents:        contents,
		Processor:       processor,
		Notifier:        notifier,
		Scheduler:       p.Supervisor,
		Limiter:         semaphore.NewWeighted(int64(cfg.Pipeline.MaxConcurrency)),
		Enabled:         cfg.Pipeline.Enabled,
		PipelineVersion: cfg.Pipeline.Version,
	})

	p.Sweeper = retention.NewSweeper(&retention.Config{
		Logger:   logger,
		Store:    jobs,
		Interval: cfg.Retention.Interval,
	})

	logger.Info("Pipeline initialized",
		slog.String("driver", cfg.Database.Driver),
		slog.Bool("enabled", cfg.Pipeline.Enabled),
		slog.String("version", cfg.Pipeline.Version),
		slog.Int("max_concurrency", cfg.Pipeline.MaxConcurrency),
	)

	return p, nil
}

// watchErrors logs every failed or panicked task until the supervisor stops
func (p *Pipeline) watchErrors() {
	defer close(p.watchDone)

	for err := range p.Supervisor.Errors() {
		var taskErr *worker.TaskError
		if errors.As(err, &taskErr) && taskErr.Panic != nil {
			p.logger.Error("Supervised task panicked",
				slog.String("task", taskErr.Task),
				slog.Any("panic", taskErr.Panic),
				slog.String("stack", string(taskErr.Stack)),
			)
			continue
		}
		p.logger.Error("Supervised task failed",
			slog.Any("error", err),
		)
	}
}

// HealthCheck pings the SQL store. The in-memory store is always healthy.
func (p *Pipeline) HealthCheck(ctx context.Context) error {
	if p.db == nil {
		return nil
	}
	return p.db.HealthCheck(ctx)
}

// Shutdown drains running jobs within the pipeline shutdown timeout, then closes the store
func (p *Pipeline) Shutdown(ctx context.Context) error {
	drainCtx, cancel := context.WithTimeout(ctx, p.shutdownTimeout)
	defer cancel()

	err := p.Supervisor.Shutdown(drainCtx)
	if err != nil {
		p.logger.Warn("Jobs were interrupted by shutdown",
			slog.Any("error", err),
		)
	}
	<-p.watchDone

	if p.db != nil {
		p.logger.Info("Database pool statistics",
			slog.String("stats", p.db.Stats()),
		)
		if closeErr := p.db.Close(); closeErr != nil {
			err = errors.Join(err, closeErr)
		}
	}
	return err
}
