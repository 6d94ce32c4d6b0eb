package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/cuongbtq/vault-pipeline/internal/api/handler"
	"github.com/cuongbtq/vault-pipeline/internal/api/router"
	"github.com/cuongbtq/vault-pipeline/internal/bootstrap"
	"github.com/cuongbtq/vault-pipeline/internal/config"
	"github.com/cuongbtq/vault-pipeline/shared/rabbitmq"
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

	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := bootstrap.NewLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting API service",
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

	var rabbitClient *rabbitmq.Client
	if cfg.RabbitMQ.Enabled {
		rabbitClient, err = bootstrap.NewRabbitMQ(ctx, &cfg.RabbitMQ, appLogger.Logger)
		if err != nil {
			pipeline.Shutdown(context.Background())
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		appLogger.Info("RabbitMQ connection established")
	}

	deps := &handler.Dependencies{
		Logger:      appLogger.Component("http"),
		ServiceName: cfg.App.Name,
		Jobs:        pipeline.Orchestrator,
		Retention:   pipeline.Sweeper,
		Health:      pipeline,
	}
	// a typed nil pointer would defeat the handler's nil check
	if rabbitClient != nil {
		deps.Publisher = rabbitClient
	}

	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router.SetupRouter(deps, router.Options{Tracing: cfg.Tracing.Enabled}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		appLogger.Info("Starting HTTP server",
			slog.String("address", addr),
			slog.Duration("read_timeout", cfg.Server.ReadTimeout),
			slog.Duration("write_timeout", cfg.Server.WriteTimeout),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return pipeline.Sweeper.Start(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		appLogger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	runErr := g.Wait()

	// in-flight jobs finish after the HTTP server stops taking submissions
	if err := pipeline.Shutdown(context.Background()); err != nil {
		appLogger.Warn("Pipeline shutdown incomplete", slog.Any("error", err))
	}
	if rabbitClient != nil {
		if err := rabbitClient.Close(); err != nil {
			appLogger.Error("Failed to close RabbitMQ", slog.Any("error", err))
		}
	}

	if runErr != nil {
		appLogger.Error("API service stopped with error", slog.Any("error", runErr))
		return runErr
	}

	appLogger.Info("Server shutdown complete")
	return nil
}
