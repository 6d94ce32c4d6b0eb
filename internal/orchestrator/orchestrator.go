// Package orchestrator turns processing requests into tracked, idempotent,
// concurrency-bounded pipeline jobs.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/cuongbtq/vault-pipeline/internal/domain"
	"github.com/cuongbtq/vault-pipeline/internal/worker"
)

const (
	tracerName = "github.com/cuongbtq/vault-pipeline/internal/orchestrator"

	// maxErrorMessageLength bounds the message stored for unexpected failures
	maxErrorMessageLength = 500

	defaultMaxConcurrency = 4
)

var errProcessorPanic = errors.New("pipeline processor panicked")

// JobStore persists jobs and applies status transitions
type JobStore interface {
	Create(ctx context.Context, job *domain.Job) (*domain.Job, error)
	Get(ctx context.Context, id string) (*domain.Job, error)
	FindActiveByResourceKey(ctx context.Context, key string) (*domain.Job, error)
	UpdateStatus(ctx context.Context, id string, status domain.JobStatus, update domain.StatusUpdate) (*domain.Job, error)
	List(ctx context.Context, filter domain.JobFilter) ([]*domain.Job, int, error)
}

// ContentRepository mirrors job progress onto the owning content record
type ContentRepository interface {
	Get(ctx context.Context, id string) (*domain.Content, error)
	UpdateProcessingStatus(ctx context.Context, id string, status domain.ContentStatus, pipelineVersion string) error
	UpdateProcessingResult(ctx context.Context, id string, result domain.Result, pipelineVersion string) error
}

// Processor runs the content pipeline. Pipeline failures come back as an Outcome;
// a non-nil error means something unexpected went wrong.
type Processor interface {
	Process(ctx context.Context, req domain.ProcessRequest) (domain.Outcome, error)
}

// Notifier delivers the terminal outcome of a job. It never fails the caller.
type Notifier interface {
	Notify(ctx context.Context, job *domain.Job, result domain.Result)
}

// Scheduler runs detached tasks
type Scheduler interface {
	Go(name string, task worker.Task) error
}

// Config holds orchestrator configuration
type Config struct {
	Logger    *slog.Logger
	Jobs      JobStore
	Contents  ContentRepository
	Processor Processor
	Notifier  Notifier
	Scheduler Scheduler

	// Limiter bounds how many jobs run the pipeline at once.
	// When nil a limiter of MaxConcurrency slots is created.
	Limiter        *semaphore.Weighted
	MaxConcurrency int

	Enabled         bool
	PipelineVersion string
	Tracer          trace.Tracer
}

// SubmitRequest describes a content item to (re)process
type SubmitRequest struct {
	ContentID    string
	ContentText  string
	ContentType  string
	Title        string
	ResourceKey  string
	DataTier     domain.DataTier
	SubmittedVia string
}

// runInput is what Run needs beyond the job record itself
type runInput struct {
	ContentText string
	ContentType string
	Title       string
}

// Orchestrator accepts submissions and drives jobs through their lifecycle
type Orchestrator struct {
	logger    *slog.Logger
	jobs      JobStore
	contents  ContentRepository
	processor Processor
	notifier  Notifier
	scheduler Scheduler
	limiter   *semaphore.Weighted
	enabled   bool
	version   string
	tracer    trace.Tracer
}

// New creates a new orchestrator
func New(cfg *Config) *Orchestrator {
	limiter := cfg.Limiter
	if limiter == nil {
		n := cfg.MaxConcurrency
		if n <= 0 {
			n = defaultMaxConcurrency
		}
		limiter = semaphore.NewWeighted(int64(n))
	}

	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}

	return &Orchestrator{
		logger:    cfg.Logger.With(slog.String("component", "orchestrator")),
		jobs:      cfg.Jobs,
		contents:  cfg.Contents,
		processor: cfg.Processor,
		notifier:  cfg.Notifier,
		scheduler: cfg.Scheduler,
		limiter:   limiter,
		enabled:   cfg.Enabled,
		version:   cfg.PipelineVersion,
		tracer:    tracer,
	}
}

// Enabled reports whether submissions create jobs
func (o *Orchestrator) Enabled() bool {
	return o.enabled
}

// Submit creates a pending job for req and schedules it, returning immediately.
// created is false when an active job for the same resource key already existed, in which
// case that job is returned untouched. When the pipeline is disabled Submit returns a nil job.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (job *domain.Job, created bool, err error) {
	if !o.enabled {
		o.logger.Debug("Pipeline disabled, skipping submission",
			slog.String("content_id", req.ContentID),
		)
		return nil, false, nil
	}
	if req.ContentID == "" || req.ResourceKey == "" {
		return nil, false, fmt.Errorf("%w: content_id and resource_key are required", domain.ErrInvalidInput)
	}

	ctx, span := o.tracer.Start(ctx, "orchestrator.Submit",
		trace.WithAttributes(
			attribute.String("vault.content_id", req.ContentID),
			attribute.String("vault.resource_key", req.ResourceKey),
		),
	)
	defer span.End()

	existing, err := o.jobs.FindActiveByResourceKey(ctx, req.ResourceKey)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, fmt.Errorf("failed to check for an active job: %w", err)
	}
	if existing != nil {
		o.logger.Info("Active job already exists for resource",
			slog.String("job_id", existing.ID),
			slog.String("resource_key", req.ResourceKey),
			slog.String("status", string(existing.Status)),
		)
		span.SetAttributes(attribute.String("vault.job_id", existing.ID), attribute.Bool("vault.idempotent_hit", true))
		return existing, false, nil
	}

	metadata := map[string]any{
		"content_type": req.ContentType,
		"title":        req.Title,
	}
	if req.SubmittedVia != "" {
		metadata["submitted_via"] = req.SubmittedVia
	}

	job, err = o.jobs.Create(ctx, &domain.Job{
		ResourceKey:     req.ResourceKey,
		ContentID:       req.ContentID,
		PipelineVersion: o.version,
		DataTier:        req.DataTier,
		Metadata:        metadata,
	})
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateActiveJob) {
			// lost the race against a concurrent submission for the same resource
			existing, findErr := o.jobs.FindActiveByResourceKey(ctx, req.ResourceKey)
			if findErr == nil && existing != nil {
				span.SetAttributes(attribute.String("vault.job_id", existing.ID), attribute.Bool("vault.idempotent_hit", true))
				return existing, false, nil
			}
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, fmt.Errorf("failed to create job: %w", err)
	}
	span.SetAttributes(attribute.String("vault.job_id", job.ID))

	o.markContent(ctx, job.ContentID, domain.ContentStatusPending, o.version)

	in := runInput{ContentText: req.ContentText, ContentType: req.ContentType, Title: req.Title}
	scheduled := job
	err = o.scheduler.Go("pipeline-job:"+job.ID, func(ctx context.Context) error {
		return o.run(ctx, scheduled, in)
	})
	if err != nil {
		// nothing will ever run it, so release the resource key
		persist := context.WithoutCancel(ctx)
		if _, cancelErr := o.jobs.UpdateStatus(persist, job.ID, domain.JobStatusCancelled, domain.StatusUpdate{}); cancelErr != nil {
			o.logger.Error("Failed to cancel unscheduled job",
				slog.String("job_id", job.ID),
				slog.Any("error", cancelErr),
			)
		}
		o.markContent(persist, job.ContentID, domain.ContentStatusFailed, "")
		return nil, false, fmt.Errorf("failed to schedule job %s: %w", job.ID, err)
	}

	o.logger.Info("Job submitted",
		slog.String("job_id", job.ID),
		slog.String("content_id", job.ContentID),
		slog.String("resource_key", job.ResourceKey),
	)

	return job, true, nil
}

// Get returns a job by id
func (o *Orchestrator) Get(ctx context.Context, id string) (*domain.Job, error) {
	return o.jobs.Get(ctx, id)
}

// List returns a page of jobs and the total matching the filter
func (o *Orchestrator) List(ctx context.Context, filter domain.JobFilter) ([]*domain.Job, int, error) {
	return o.jobs.List(ctx, filter)
}

// Cancel moves a pending or processing job to cancelled, marks its content failed and
// notifies about it. A job that is already terminal is returned unchanged with
// alreadyTerminal set.
//
// A job whose pipeline call is already in flight is not interrupted; the cancellation
// only prevents it from being recorded as completed or failed.
func (o *Orchestrator) Cancel(ctx context.Context, id string) (job *domain.Job, alreadyTerminal bool, err error) {
	current, err := o.jobs.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if current.Status.IsTerminal() {
		return current, true, nil
	}

	cancelled, err := o.jobs.UpdateStatus(ctx, id, domain.JobStatusCancelled, domain.StatusUpdate{})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			// finished between the read and the write
			latest, getErr := o.jobs.Get(ctx, id)
			if getErr != nil {
				return nil, false, getErr
			}
			return latest, true, nil
		}
		return nil, false, fmt.Errorf("failed to cancel job %s: %w", id, err)
	}

	o.logger.Info("Job cancelled",
		slog.String("job_id", id),
		slog.String("previous_status", string(current.Status)),
	)
	o.markContent(ctx, cancelled.ContentID, domain.ContentStatusFailed, "")

	notifyErr := o.scheduler.Go("callback:"+id, func(ctx context.Context) error {
		o.notifier.Notify(ctx, cancelled, nil)
		return nil
	})
	if notifyErr != nil {
		o.logger.Warn("Failed to schedule cancellation callback",
			slog.String("job_id", id),
			slog.Any("error", notifyErr),
		)
	}

	return cancelled, false, nil
}

func (o *Orchestrator) markContent(ctx context.Context, contentID string, status domain.ContentStatus, version string) {
	if err := o.contents.UpdateProcessingStatus(ctx, contentID, status, version); err != nil {
		o.logger.Warn("Failed to update content processing status",
			slog.String("content_id", contentID),
			slog.String("status", string(status)),
			slog.Any("error", err),
		)
	}
}
