package dto

import (
	"time"

	"github.com/cuongbtq/vault-pipeline/internal/domain"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100

	// MaxBulkReprocess bounds the ids accepted by one bulk reprocess request
	MaxBulkReprocess = 500
)

type SubmitJobRequest struct {
	ContentID   string `json:"content_id" binding:"required"`
	ContentType string `json:"content_type" binding:"required"`
	Identifier  string `json:"identifier"`
	Title       string `json:"title"`
	ContentText string `json:"content_text"`
	DataTier    string `json:"data_tier" binding:"omitempty,oneof=compact full"`
}

type ListJobsRequest struct {
	ContentID string `form:"content_id"`
	Status    string `form:"status"`
	Limit     int    `form:"limit" binding:"omitempty,min=0"`
	Offset    int    `form:"offset" binding:"omitempty,min=0"`
}

type ListJobsResponse struct {
	Jobs   []JobDTO `json:"jobs"`
	Count  int      `json:"count"`
	Limit  int      `json:"limit"`
	Offset int      `json:"offset"`
}

type JobDTO struct {
	JobID           string         `json:"job_id"`
	ResourceKey     string         `json:"resource_key"`
	ContentID       string         `json:"content_id"`
	Status          string         `json:"status"`
	PipelineVersion string         `json:"pipeline_version"`
	DataTier        string         `json:"data_tier"`
	CreatedAt       string         `json:"created_at"`
	StartedAt       *string        `json:"started_at"`
	FinishedAt      *string        `json:"finished_at"`
	ErrorCode       string         `json:"error_code,omitempty"`
	ErrorMessage    string         `json:"error_message,omitempty"`
	ErrorStage      string         `json:"error_stage,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// JobStatusDTO is the terse job view
type JobStatusDTO struct {
	JobID     string `json:"job_id"`
	Status    string `json:"status"`
	ErrorCode string `json:"error_code,omitempty"`
}

type SubmitJobResponse struct {
	Job     JobDTO `json:"job"`
	Created bool   `json:"created"`
}

type CancelJobResponse struct {
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type BulkReprocessRequest struct {
	ContentIDs []string `json:"content_ids" binding:"required,min=1,max=500,dive,required"`
}

type BulkReprocessResponse struct {
	Queued int `json:"queued"`
}

type PurgeResponse struct {
	Purged map[string]int64 `json:"purged"`
}

// FromJob converts a domain job to its API representation
func FromJob(job *domain.Job) JobDTO {
	return JobDTO{
		JobID:           job.ID,
		ResourceKey:     job.ResourceKey,
		ContentID:       job.ContentID,
		Status:          string(job.Status),
		PipelineVersion: job.PipelineVersion,
		DataTier:        string(job.DataTier),
		CreatedAt:       job.CreatedAt.UTC().Format(time.RFC3339),
		StartedAt:       formatTime(job.StartedAt),
		FinishedAt:      formatTime(job.FinishedAt),
		ErrorCode:       job.ErrorCode,
		ErrorMessage:    job.ErrorMessage,
		ErrorStage:      job.ErrorStage,
		Metadata:        job.Metadata,
	}
}

// StatusFromJob converts a domain job to the terse view
func StatusFromJob(job *domain.Job) JobStatusDTO {
	return JobStatusDTO{
		JobID:     job.ID,
		Status:    string(job.Status),
		ErrorCode: job.ErrorCode,
	}
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}
