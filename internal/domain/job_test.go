package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from JobStatus
		to   JobStatus
		want bool
	}{
		{JobStatusPending, JobStatusProcessing, true},
		{JobStatusPending, JobStatusCancelled, true},
		{JobStatusPending, JobStatusCompleted, false},
		{JobStatusPending, JobStatusFailed, false},
		{JobStatusProcessing, JobStatusProcessing, true},
		{JobStatusProcessing, JobStatusCompleted, true},
		{JobStatusProcessing, JobStatusFailed, true},
		{JobStatusProcessing, JobStatusCancelled, true},
		{JobStatusCompleted, JobStatusFailed, false},
		{JobStatusFailed, JobStatusProcessing, false},
		{JobStatusCancelled, JobStatusCancelled, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestSourcesFor(t *testing.T) {
	assert.Equal(t, []JobStatus{JobStatusPending, JobStatusProcessing}, SourcesFor(JobStatusProcessing))
	assert.ElementsMatch(t, []JobStatus{JobStatusPending, JobStatusProcessing}, SourcesFor(JobStatusCancelled))
	assert.Equal(t, []JobStatus{JobStatusProcessing}, SourcesFor(JobStatusCompleted))
	assert.Empty(t, SourcesFor(JobStatusPending))
}

func TestParseJobStatus(t *testing.T) {
	status, err := ParseJobStatus("failed")
	require.NoError(t, err)
	assert.Equal(t, JobStatusFailed, status)
	assert.True(t, status.IsTerminal())
	assert.False(t, status.IsActive())

	_, err = ParseJobStatus("RUNNING")
	require.ErrorIs(t, err, ErrInvalidInput)
}
