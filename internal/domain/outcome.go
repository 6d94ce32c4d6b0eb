package domain

// Result is the structured output of the content pipeline
type Result map[string]any

// ProcessRequest is the input handed to the external pipeline processor
type ProcessRequest struct {
	ContentID   string `json:"content_id"`
	ContentText string `json:"content_text"`
	ContentType string `json:"content_type"`
	Title       string `json:"title"`
	JobID       string `json:"job_id"`
}

// Outcome is what a pipeline run produced. It is one of Success, NoResult or StageFailure.
type Outcome interface {
	outcome()
}

// Success carries the pipeline result
type Success struct {
	Result Result
}

// NoResult means the pipeline finished without producing anything usable
type NoResult struct{}

// StageFailure is a failure attributed to a named pipeline stage
type StageFailure struct {
	Stage   string
	Code    string
	Message string
}

func (Success) outcome()      {}
func (NoResult) outcome()     {}
func (StageFailure) outcome() {}
