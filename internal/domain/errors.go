package domain

import "errors"

var (
	// ErrJobNotFound is returned when a job cannot be found in the store
	ErrJobNotFound = errors.New("job not found")

	// ErrContentNotFound is returned when the owning content record does not exist
	ErrContentNotFound = errors.New("content not found")

	// ErrDuplicateActiveJob is returned when a second active job is created for a resource key
	ErrDuplicateActiveJob = errors.New("an active job already exists for this resource key")

	// ErrInvalidTransition is returned when a status change is not allowed from the current status
	ErrInvalidTransition = errors.New("invalid job status transition")

	// ErrPipelineDisabled is reported to API callers when processing is switched off
	ErrPipelineDisabled = errors.New("pipeline processing is disabled")

	// ErrInvalidInput is returned for malformed caller input
	ErrInvalidInput = errors.New("invalid input")
)
