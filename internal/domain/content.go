package domain

import "time"

// Content types with a dedicated resource key scheme
const (
	ContentTypeYouTube = "youtube"
	ContentTypeURL     = "url"
)

// ContentStatus is the processing state mirrored onto the owning content record
type ContentStatus string

const (
	ContentStatusPending    ContentStatus = "pending"
	ContentStatusProcessing ContentStatus = "processing"
	ContentStatusCompleted  ContentStatus = "completed"
	ContentStatusFailed     ContentStatus = "failed"
)

// Content is a stored document or video owned by the vault
type Content struct {
	ID               string
	ContentType      string
	SourceID         string
	SourceURL        string
	Title            string
	Body             string
	ProcessingStatus ContentStatus
	ProcessingResult Result
	PipelineVersion  string
	UpdatedAt        time.Time
}

// ReprocessMessage is the queue payload asking for one content item to be reprocessed
type ReprocessMessage struct {
	ContentID    string `json:"content_id"`
	SubmittedVia string `json:"submitted_via,omitempty"`
}
