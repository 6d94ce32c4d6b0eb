package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/cuongbtq/vault-pipeline/internal/api/dto"
	"github.com/cuongbtq/vault-pipeline/internal/domain"
	"github.com/cuongbtq/vault-pipeline/internal/orchestrator"
	"github.com/cuongbtq/vault-pipeline/internal/resourcekey"
)

const (
	submittedViaAPI = "api"

	msgAlreadyTerminal = "job already in terminal state"
	msgCancelled       = "job cancelled"
)

// SubmitJob handles POST /api/v1/jobs
// Submits a content item for processing. An active job for the same resource is returned as is.
func (h *JobHandler) SubmitJob(c *gin.Context) {
	var req dto.SubmitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", slog.Any("error", err))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	if !h.jobs.Enabled() {
		c.JSON(http.StatusOK, disabledResponse())
		return
	}

	content := &domain.Content{ID: req.ContentID, ContentType: req.ContentType}
	switch req.ContentType {
	case domain.ContentTypeYouTube:
		content.SourceID = req.Identifier
	case domain.ContentTypeURL:
		content.SourceURL = req.Identifier
	}

	job, created, err := h.jobs.Submit(c.Request.Context(), orchestrator.SubmitRequest{
		ContentID:    req.ContentID,
		ContentText:  req.ContentText,
		ContentType:  req.ContentType,
		Title:        req.Title,
		ResourceKey:  resourcekey.ForContent(content),
		DataTier:     domain.DataTier(req.DataTier),
		SubmittedVia: submittedViaAPI,
	})
	if err != nil {
		respondError(c, h.logger, "Failed to submit job", err)
		return
	}
	if job == nil {
		c.JSON(http.StatusOK, disabledResponse())
		return
	}

	h.respondSubmitted(c, job, created)
}

// GetJob handles GET /api/v1/jobs/:job_id
// Returns the terse job status, or the full record with verbose=true
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID, ok := h.jobIDParam(c)
	if !ok {
		return
	}

	job, err := h.jobs.Get(c.Request.Context(), jobID)
	if err != nil {
		respondError(c, h.logger, "Failed to get job", err)
		return
	}

	if verbose, _ := strconv.ParseBool(c.Query("verbose")); verbose {
		c.JSON(http.StatusOK, dto.FromJob(job))
		return
	}
	c.JSON(http.StatusOK, dto.StatusFromJob(job))
}

// ListJobs handles GET /api/v1/jobs
// Lists jobs newest first with optional content and status filters
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Warn("Invalid query parameters", slog.Any("error", err))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.Limit <= 0 {
		req.Limit = dto.DefaultPageSize
	}
	if req.Limit > dto.MaxPageSize {
		req.Limit = dto.MaxPageSize
	}

	filter := domain.JobFilter{
		ContentID: req.ContentID,
		Limit:     req.Limit,
		Offset:    req.Offset,
	}
	if req.Status != "" {
		status, err := domain.ParseJobStatus(req.Status)
		if err != nil {
			respondError(c, h.logger, "Invalid status filter", err)
			return
		}
		filter.Status = status
	}

	jobs, count, err := h.jobs.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, h.logger, "Failed to list jobs", err)
		return
	}

	items := make([]dto.JobDTO, len(jobs))
	for i, job := range jobs {
		items[i] = dto.FromJob(job)
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{
		Jobs:   items,
		Count:  count,
		Limit:  req.Limit,
		Offset: req.Offset,
	})
}

// CancelJob handles POST /api/v1/jobs/:job_id/cancel
// Cancels a pending or processing job. Terminal jobs are reported unchanged.
func (h *JobHandler) CancelJob(c *gin.Context) {
	jobID, ok := h.jobIDParam(c)
	if !ok {
		return
	}

	job, alreadyTerminal, err := h.jobs.Cancel(c.Request.Context(), jobID)
	if err != nil {
		respondError(c, h.logger, "Failed to cancel job", err)
		return
	}

	message := msgCancelled
	if alreadyTerminal {
		message = msgAlreadyTerminal
	}

	c.JSON(http.StatusOK, dto.CancelJobResponse{
		JobID:   job.ID,
		Status:  string(job.Status),
		Message: message,
	})
}

func (h *JobHandler) respondSubmitted(c *gin.Context, job *domain.Job, created bool) {
	status := http.StatusOK
	if created {
		status = http.StatusAccepted
	}
	c.JSON(status, dto.SubmitJobResponse{
		Job:     dto.FromJob(job),
		Created: created,
	})
}

func (h *JobHandler) jobIDParam(c *gin.Context) (string, bool) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		h.logger.Warn("Invalid job_id format", slog.String("job_id", jobID), slog.Any("error", err))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return "", false
	}
	return jobID, true
}
