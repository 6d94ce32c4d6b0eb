package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cuongbtq/vault-pipeline/internal/domain"
)

// jobRow is the pipeline_jobs table representation of a domain.Job
type jobRow struct {
	ID              string         `db:"id"`
	ResourceKey     string         `db:"resource_key"`
	ContentID       string         `db:"content_id"`
	Status          string         `db:"status"`
	PipelineVersion string         `db:"pipeline_version"`
	CreatedAt       time.Time      `db:"created_at"`
	StartedAt       sql.NullTime   `db:"started_at"`
	FinishedAt      sql.NullTime   `db:"finished_at"`
	ErrorCode       sql.NullString `db:"error_code"`
	ErrorMessage    sql.NullString `db:"error_message"`
	ErrorStage      sql.NullString `db:"error_stage"`
	DataTier        string         `db:"data_tier"`
	Metadata        string         `db:"metadata"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

const jobColumns = `id, resource_key, content_id, status, pipeline_version, created_at,
	started_at, finished_at, error_code, error_message, error_stage, data_tier, metadata, updated_at`

func toJobRow(j *domain.Job) (*jobRow, error) {
	metadata := j.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job metadata: %w", err)
	}

	return &jobRow{
		ID:              j.ID,
		ResourceKey:     j.ResourceKey,
		ContentID:       j.ContentID,
		Status:          string(j.Status),
		PipelineVersion: j.PipelineVersion,
		CreatedAt:       j.CreatedAt.UTC(),
		StartedAt:       nullTime(j.StartedAt),
		FinishedAt:      nullTime(j.FinishedAt),
		ErrorCode:       nullString(j.ErrorCode),
		ErrorMessage:    nullString(j.ErrorMessage),
		ErrorStage:      nullString(j.ErrorStage),
		DataTier:        string(j.DataTier),
		Metadata:        string(raw),
		UpdatedAt:       j.CreatedAt.UTC(),
	}, nil
}

func fromJobRow(r *jobRow) (*domain.Job, error) {
	job := &domain.Job{
		ID:              r.ID,
		ResourceKey:     r.ResourceKey,
		ContentID:       r.ContentID,
		Status:          domain.JobStatus(r.Status),
		PipelineVersion: r.PipelineVersion,
		CreatedAt:       r.CreatedAt.UTC(),
		StartedAt:       timePtr(r.StartedAt),
		FinishedAt:      timePtr(r.FinishedAt),
		ErrorCode:       r.ErrorCode.String,
		ErrorMessage:    r.ErrorMessage.String,
		ErrorStage:      r.ErrorStage.String,
		DataTier:        domain.DataTier(r.DataTier),
	}

	if r.Metadata != "" {
		if err := json.Unmarshal([]byte(r.Metadata), &job.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata of job %s: %w", r.ID, err)
		}
	}

	return job, nil
}

// contentRow is the contents table representation of a domain.Content
type contentRow struct {
	ID               string         `db:"id"`
	ContentType      string         `db:"content_type"`
	SourceID         sql.NullString `db:"source_id"`
	SourceURL        sql.NullString `db:"source_url"`
	Title            string         `db:"title"`
	Body             string         `db:"body"`
	ProcessingStatus sql.NullString `db:"processing_status"`
	ProcessingResult sql.NullString `db:"processing_result"`
	PipelineVersion  sql.NullString `db:"pipeline_version"`
	UpdatedAt        time.Time      `db:"updated_at"`
}

const contentColumns = `id, content_type, source_id, source_url, title, body,
	processing_status, processing_result, pipeline_version, updated_at`

func fromContentRow(r *contentRow) (*domain.Content, error) {
	content := &domain.Content{
		ID:               r.ID,
		ContentType:      r.ContentType,
		SourceID:         r.SourceID.String,
		SourceURL:        r.SourceURL.String,
		Title:            r.Title,
		Body:             r.Body,
		ProcessingStatus: domain.ContentStatus(r.ProcessingStatus.String),
		PipelineVersion:  r.PipelineVersion.String,
		UpdatedAt:        r.UpdatedAt.UTC(),
	}

	if r.ProcessingResult.Valid && r.ProcessingResult.String != "" {
		if err := json.Unmarshal([]byte(r.ProcessingResult.String), &content.ProcessingResult); err != nil {
			return nil, fmt.Errorf("failed to unmarshal result of content %s: %w", r.ID, err)
		}
	}

	return content, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
