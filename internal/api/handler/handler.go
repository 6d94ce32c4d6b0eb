package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/vault-pipeline/internal/domain"
	"github.com/cuongbtq/vault-pipeline/internal/orchestrator"
)

// JobService is the orchestrator surface the handlers drive
type JobService interface {
	Enabled() bool
	Submit(ctx context.Context, req orchestrator.SubmitRequest) (*domain.Job, bool, error)
	Reprocess(ctx context.Context, contentID, submittedVia string) (*domain.Job, bool, error)
	Get(ctx context.Context, id string) (*domain.Job, error)
	List(ctx context.Context, filter domain.JobFilter) ([]*domain.Job, int, error)
	Cancel(ctx context.Context, id string) (*domain.Job, bool, error)
}

// Purger runs an on-demand retention sweep
type Purger interface {
	Run(ctx context.Context) (map[domain.DataTier]int64, error)
}

// HealthChecker reports whether the job store is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Publisher enqueues a message for the worker service
type Publisher interface {
	Publish(ctx context.Context, body []byte, contentType string) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger      *slog.Logger
	ServiceName string
	Jobs        JobService
	Retention   Purger
	Health      HealthChecker

	// Publisher is nil when RabbitMQ is not configured
	Publisher Publisher
}

// JobHandler handles job and content reprocessing requests
type JobHandler struct {
	logger    *slog.Logger
	jobs      JobService
	publisher Publisher
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:    deps.Logger,
		jobs:      deps.Jobs,
		publisher: deps.Publisher,
	}
}

// respondError maps domain errors to HTTP status codes
func respondError(c *gin.Context, logger *slog.Logger, msg string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrJobNotFound), errors.Is(err, domain.ErrContentNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidInput):
		status = http.StatusBadRequest
	}

	if status == http.StatusInternalServerError {
		logger.Error(msg, slog.Any("error", err))
		c.JSON(status, gin.H{"error": msg})
		return
	}

	logger.Warn(msg, slog.Any("error", err))
	c.JSON(status, gin.H{"error": err.Error()})
}

func disabledResponse() gin.H {
	return gin.H{
		"status":  "disabled",
		"message": domain.ErrPipelineDisabled.Error(),
	}
}
