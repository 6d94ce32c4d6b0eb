package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/cuongbtq/vault-pipeline/internal/domain"
)

// terminal is the job status a finished pipeline call resolves to
type terminal struct {
	status  domain.JobStatus
	update  domain.StatusUpdate
	content domain.ContentStatus
	result  domain.Result
}

// run executes a scheduled job. It returns nil for every pipeline outcome, including
// failures, which are recorded on the job. It returns ctx's error when the job was
// interrupted by shutdown, and an error when the processor panicked or the final
// state could not be stored.
func (o *Orchestrator) run(ctx context.Context, job *domain.Job, in runInput) error {
	ctx, span := o.tracer.Start(ctx, "orchestrator.Run",
		trace.WithAttributes(
			attribute.String("vault.job_id", job.ID),
			attribute.String("vault.content_id", job.ContentID),
			attribute.String("vault.resource_key", job.ResourceKey),
		),
	)
	defer span.End()

	logger := o.logger.With(
		slog.String("job_id", job.ID),
		slog.String("resource_key", job.ResourceKey),
	)

	if err := o.limiter.Acquire(ctx, 1); err != nil {
		return o.interrupt(ctx, span, logger, job, err)
	}
	held := true
	release := func() {
		if held {
			o.limiter.Release(1)
			held = false
		}
	}
	defer release()

	logger.Debug("Concurrency slot acquired")

	// the only cancellation check: a cancel landing after it does not stop the pipeline call
	current, err := o.jobs.Get(ctx, job.ID)
	if err != nil {
		if ctx.Err() != nil {
			return o.interrupt(ctx, span, logger, job, ctx.Err())
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to reload job %s: %w", job.ID, err)
	}
	if current.Status == domain.JobStatusCancelled {
		logger.Info("Job was cancelled while queued, skipping")
		span.SetAttributes(attribute.Bool("vault.skipped", true))
		return nil
	}

	if _, err := o.jobs.UpdateStatus(ctx, job.ID, domain.JobStatusProcessing, domain.StatusUpdate{}); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			logger.Info("Job left pending before it could start, skipping",
				slog.Any("error", err),
			)
			span.SetAttributes(attribute.Bool("vault.skipped", true))
			return nil
		}
		if ctx.Err() != nil {
			return o.interrupt(ctx, span, logger, job, ctx.Err())
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to start job %s: %w", job.ID, err)
	}
	o.markContent(ctx, job.ContentID, domain.ContentStatusProcessing, "")

	logger.Info("Job processing started")

	outcome, procErr := o.invoke(ctx, domain.ProcessRequest{
		ContentID:   job.ContentID,
		ContentText: in.ContentText,
		ContentType: in.ContentType,
		Title:       in.Title,
		JobID:       job.ID,
	})
	if procErr != nil && ctx.Err() != nil {
		release()
		return o.interrupt(ctx, span, logger, job, ctx.Err())
	}

	// the result is worth keeping even if shutdown started after the processor returned
	persist := context.WithoutCancel(ctx)
	end := o.resolve(persist, logger, job, outcome, procErr)

	finished, err := o.jobs.UpdateStatus(persist, job.ID, end.status, end.update)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			// cancelled while the pipeline call was running; the cancel stands
			logger.Warn("Job was cancelled during processing, discarding outcome",
				slog.String("outcome", string(end.status)),
			)
			return nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to record outcome of job %s: %w", job.ID, err)
	}
	if end.content != domain.ContentStatusCompleted {
		o.markContent(persist, job.ContentID, end.content, "")
	}

	span.SetAttributes(attribute.String("vault.status", string(finished.Status)))
	if finished.Status == domain.JobStatusFailed {
		span.SetStatus(codes.Error, finished.ErrorCode)
	} else {
		span.SetStatus(codes.Ok, "")
	}

	logger.Info("Job finished",
		slog.String("status", string(finished.Status)),
		slog.String("error_code", finished.ErrorCode),
		slog.String("error_stage", finished.ErrorStage),
	)

	release()
	// retries stop once the supervisor gives up draining
	o.notifier.Notify(ctx, finished, end.result)

	if errors.Is(procErr, errProcessorPanic) {
		return procErr
	}
	return nil
}

// resolve maps a pipeline outcome to the terminal state of the job. A successful result
// is written to the content record first; failing to do so fails the job.
func (o *Orchestrator) resolve(ctx context.Context, logger *slog.Logger, job *domain.Job, outcome domain.Outcome, procErr error) terminal {
	if procErr != nil {
		logger.Error("Pipeline processor failed unexpectedly",
			slog.Any("error", procErr),
		)
		return exception(procErr)
	}

	switch out := outcome.(type) {
	case domain.Success:
		if err := o.contents.UpdateProcessingResult(ctx, job.ContentID, out.Result, o.version); err != nil {
			logger.Error("Failed to store pipeline result",
				slog.Any("error", err),
			)
			return exception(fmt.Errorf("failed to store pipeline result: %w", err))
		}
		return terminal{
			status:  domain.JobStatusCompleted,
			content: domain.ContentStatusCompleted,
			result:  out.Result,
		}

	case domain.NoResult:
		logger.Warn("Pipeline produced no result")
		return terminal{
			status: domain.JobStatusFailed,
			update: domain.StatusUpdate{
				ErrorCode:    domain.ErrorCodeNoResult,
				ErrorMessage: "pipeline produced no result",
			},
			content: domain.ContentStatusFailed,
		}

	case domain.StageFailure:
		logger.Warn("Pipeline stage failed",
			slog.String("stage", out.Stage),
			slog.String("code", out.Code),
			slog.String("message", out.Message),
		)
		return terminal{
			status: domain.JobStatusFailed,
			update: domain.StatusUpdate{
				ErrorCode:    out.Code,
				ErrorMessage: truncate(out.Message, maxErrorMessageLength),
				ErrorStage:   out.Stage,
			},
			content: domain.ContentStatusFailed,
		}

	default:
		return exception(fmt.Errorf("pipeline processor returned unexpected outcome %T", outcome))
	}
}

// invoke calls the processor, turning a panic into an error
func (o *Orchestrator) invoke(ctx context.Context, req domain.ProcessRequest) (outcome domain.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			outcome = nil
			err = fmt.Errorf("%w: %v", errProcessorPanic, r)
		}
	}()
	return o.processor.Process(ctx, req)
}

// interrupt records a shutdown-interrupted job as cancelled and hands cause back to the caller
func (o *Orchestrator) interrupt(ctx context.Context, span trace.Span, logger *slog.Logger, job *domain.Job, cause error) error {
	persist := context.WithoutCancel(ctx)

	if _, err := o.jobs.UpdateStatus(persist, job.ID, domain.JobStatusCancelled, domain.StatusUpdate{}); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			// already cancelled by a user; Cancel settled the content record
			logger.Debug("Interrupted job was already terminal",
				slog.Any("cause", cause),
			)
			span.SetAttributes(attribute.Bool("vault.skipped", true))
			return cause
		}
		logger.Error("Failed to mark interrupted job as cancelled",
			slog.Any("error", err),
		)
	}
	o.markContent(persist, job.ContentID, domain.ContentStatusFailed, "")

	logger.Warn("Job interrupted by shutdown",
		slog.Any("cause", cause),
	)
	span.RecordError(cause)
	span.SetStatus(codes.Error, "interrupted")

	return cause
}

func exception(err error) terminal {
	return terminal{
		status: domain.JobStatusFailed,
		update: domain.StatusUpdate{
			ErrorCode:    domain.ErrorCodeException,
			ErrorMessage: truncate(err.Error(), maxErrorMessageLength),
			ErrorStage:   domain.ErrorStageUnknown,
		},
		content: domain.ContentStatusFailed,
	}
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
