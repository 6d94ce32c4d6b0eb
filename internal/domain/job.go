package domain

import (
	"fmt"
	"time"
)

// JobStatus is the lifecycle state of a pipeline job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// transitions lists, for every status, the statuses it may move to.
// processing -> processing is allowed so repeated starts are harmless.
var transitions = map[JobStatus][]JobStatus{
	JobStatusPending:    {JobStatusProcessing, JobStatusCancelled},
	JobStatusProcessing: {JobStatusProcessing, JobStatusCompleted, JobStatusFailed, JobStatusCancelled},
}

// ParseJobStatus converts a raw string into a JobStatus
func ParseJobStatus(s string) (JobStatus, error) {
	status := JobStatus(s)
	if !status.Valid() {
		return "", fmt.Errorf("%w: unknown job status %q", ErrInvalidInput, s)
	}
	return status, nil
}

// Valid reports whether s is a known status
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition can leave s
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// IsActive reports whether s counts against the one-active-job-per-resource rule
func (s JobStatus) IsActive() bool {
	return s == JobStatusPending || s == JobStatusProcessing
}

// CanTransition reports whether a job in status from may move to status to
func CanTransition(from, to JobStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// SourcesFor returns every status that may transition into to
func SourcesFor(to JobStatus) []JobStatus {
	var sources []JobStatus
	for _, from := range []JobStatus{JobStatusPending, JobStatusProcessing} {
		if CanTransition(from, to) {
			sources = append(sources, from)
		}
	}
	return sources
}

// ActiveStatuses returns the statuses covered by the active-job uniqueness rule
func ActiveStatuses() []JobStatus {
	return []JobStatus{JobStatusPending, JobStatusProcessing}
}

// DataTier controls how long a finished job record is retained
type DataTier string

const (
	DataTierCompact DataTier = "compact"
	DataTierFull    DataTier = "full"
)

// Valid reports whether t is a known tier
func (t DataTier) Valid() bool {
	return t == DataTierCompact || t == DataTierFull
}

// Error codes recorded on failed jobs that did not come from a pipeline stage
const (
	ErrorCodeNoResult  = "PIPELINE_NO_RESULT"
	ErrorCodeException = "PIPELINE_EXCEPTION"
	ErrorStageUnknown  = "unknown"
)

// Job is a single pipeline run and its audit trail
type Job struct {
	ID              string
	ResourceKey     string
	ContentID       string
	Status          JobStatus
	PipelineVersion string
	CreatedAt       time.Time
	StartedAt       *time.Time
	FinishedAt      *time.Time
	ErrorCode       string
	ErrorMessage    string
	ErrorStage      string
	DataTier        DataTier
	Metadata        map[string]any
}

// StatusUpdate carries the optional error fields written with a status change.
// Empty fields leave the stored values untouched.
type StatusUpdate struct {
	ErrorCode    string
	ErrorMessage string
	ErrorStage   string
}

// JobFilter narrows a job listing
type JobFilter struct {
	ContentID string
	Status    JobStatus
	Limit     int
	Offset    int
}
