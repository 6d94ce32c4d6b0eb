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

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/cuongbtq/vault-pipeline/internal/bootstrap"
	"github.com/cuongbtq/vault-pipeline/internal/config"
	"github.com/cuongbtq/vault-pipeline/internal/worker"
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

	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := bootstrap.NewLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := bootstrap.NewTracing(ctx, cfg, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			appLogger.Error("Failed to flush traces", slog.Any("error", err))
		}
	}()

	pipeline, err := bootstrap.NewPipeline(ctx, cfg, appLogger.Logger)
	if err != nil {
		return err
	}

	rabbitClient, err := bootstrap.NewRabbitMQ(ctx, &cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		pipeline.Shutdown(context.Background())
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}

	consumerTag := cfg.RabbitMQ.Consumer.Tag
	if consumerTag == "" {
		hostname, _ := os.Hostname()
		consumerTag = fmt.Sprintf("%s-%s-%d", cfg.App.Name, hostname, os.Getpid())
	}

	deliveries, err := rabbitClient.Consume(consumerTag, cfg.RabbitMQ.Consumer.PrefetchCount)
	if err != nil {
		rabbitClient.Close()
		pipeline.Shutdown(context.Background())
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	consumer := worker.NewConsumer(&worker.ConsumerConfig{
		Logger:      appLogger.Logger,
		Reprocessor: pipeline.Orchestrator,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return consumer.Run(gctx, deliveries)
	})
	g.Go(func() error {
		return pipeline.Sweeper.Start(gctx)
	})

	appLogger.Info("Worker service started successfully",
		slog.String("consumer_tag", consumerTag),
	)

	runErr := g.Wait()
	appLogger.Info("Shutting down worker service")

	// stop deliveries before draining the jobs they created
	if err := rabbitClient.Close(); err != nil {
		appLogger.Error("Failed to close RabbitMQ", slog.Any("error", err))
	}
	if err := pipeline.Shutdown(context.Background()); err != nil {
		appLogger.Warn("Pipeline shutdown incomplete", slog.Any("error", err))
	}

	if runErr != nil {
		appLogger.Error("Worker service stopped with error", slog.Any("error", runErr))
		return runErr
	}

	appLogger.Info("Worker stopped gracefully")
	return nil
}
