package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/vault-pipeline/internal/domain"
)

const defaultListLimit = 20

// JobStore is an in-memory job store.
// Safe for concurrent access. Intended for unit testing and development.
type JobStore struct {
	mu     sync.RWMutex
	jobs   map[string]*domain.Job
	active map[string]string // resource key -> id of its pending or processing job
	now    func() time.Time
	policy domain.RetentionPolicy
}

// Option configures a JobStore
type Option func(*JobStore)

// WithClock overrides the time source used for job timestamps and retention cutoffs
func WithClock(now func() time.Time) Option {
	return func(s *JobStore) { s.now = now }
}

// WithRetention overrides the default retention horizons
func WithRetention(policy domain.RetentionPolicy) Option {
	return func(s *JobStore) { s.policy = policy }
}

// NewJobStore returns an empty JobStore
func NewJobStore(opts ...Option) *JobStore {
	s := &JobStore{
		jobs:   make(map[string]*domain.Job),
		active: make(map[string]string),
		now:    time.Now,
		policy: domain.DefaultRetentionPolicy(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create stores a new pending job. A second active job for the same resource key
// fails with domain.ErrDuplicateActiveJob.
func (s *JobStore) Create(_ context.Context, job *domain.Job) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.active[job.ResourceKey]; exists {
		return nil, fmt.Errorf("%w: %s", domain.ErrDuplicateActiveJob, job.ResourceKey)
	}

	created := cloneJob(job)
	if created.ID == "" {
		created.ID = uuid.NewString()
	}
	if _, exists := s.jobs[created.ID]; exists {
		return nil, fmt.Errorf("%w: job id %s already used", domain.ErrInvalidInput, created.ID)
	}
	if created.DataTier == "" {
		created.DataTier = domain.DataTierFull
	}
	if !created.DataTier.Valid() {
		return nil, fmt.Errorf("%w: unknown data tier %q", domain.ErrInvalidInput, created.DataTier)
	}
	created.Status = domain.JobStatusPending
	created.CreatedAt = s.now().UTC()
	created.StartedAt = nil
	created.FinishedAt = nil
	created.ErrorCode = ""
	created.ErrorMessage = ""
	created.ErrorStage = ""

	s.jobs[created.ID] = created
	s.active[created.ResourceKey] = created.ID

	return cloneJob(created), nil
}

// Get returns the job with the given id
func (s *JobStore) Get(_ context.Context, id string) (*domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return cloneJob(job), nil
}

// FindActiveByResourceKey returns the pending or processing job for key, or nil if there is none
func (s *JobStore) FindActiveByResourceKey(_ context.Context, key string) (*domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.active[key]
	if !ok {
		return nil, nil
	}
	return cloneJob(s.jobs[id]), nil
}

// UpdateStatus moves a job to status with the same timestamp and error field rules as the SQL store
func (s *JobStore) UpdateStatus(_ context.Context, id string, status domain.JobStatus, update domain.StatusUpdate) (*domain.Job, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown job status %q", domain.ErrInvalidInput, status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	if !domain.CanTransition(job.Status, status) {
		return nil, fmt.Errorf("%w: %s -> %s for job %s",
			domain.ErrInvalidTransition, job.Status, status, id)
	}

	now := s.now().UTC()
	job.Status = status
	if status == domain.JobStatusProcessing && job.StartedAt == nil {
		job.StartedAt = &now
	}
	if status.IsTerminal() {
		job.FinishedAt = &now
		delete(s.active, job.ResourceKey)
	}
	if status == domain.JobStatusFailed {
		if update.ErrorCode != "" {
			job.ErrorCode = update.ErrorCode
		}
		if update.ErrorMessage != "" {
			job.ErrorMessage = update.ErrorMessage
		}
		if update.ErrorStage != "" {
			job.ErrorStage = update.ErrorStage
		}
	}

	return cloneJob(job), nil
}

// List returns one page of jobs, newest first, plus the total count matching the filter
func (s *JobStore) List(_ context.Context, filter domain.JobFilter) ([]*domain.Job, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*domain.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if filter.ContentID != "" && job.ContentID != filter.ContentID {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		matched = append(matched, job)
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	total := len(matched)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}

	page := make([]*domain.Job, 0, end-offset)
	for _, job := range matched[offset:end] {
		page = append(page, cloneJob(job))
	}
	return page, total, nil
}

// PurgeExpired deletes terminal jobs whose finished_at lies beyond their tier's retention horizon
func (s *JobStore) PurgeExpired(_ context.Context) (map[domain.DataTier]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	purged := make(map[domain.DataTier]int64, len(domain.Tiers()))
	for _, tier := range domain.Tiers() {
		purged[tier] = 0
	}

	for id, job := range s.jobs {
		if job.FinishedAt == nil || !job.Status.IsTerminal() {
			continue
		}
		if job.FinishedAt.Before(s.policy.Cutoff(job.DataTier, now)) {
			delete(s.jobs, id)
			purged[job.DataTier]++
		}
	}

	return purged, nil
}

func cloneJob(job *domain.Job) *domain.Job {
	cp := *job
	if job.StartedAt != nil {
		t := *job.StartedAt
		cp.StartedAt = &t
	}
	if job.FinishedAt != nil {
		t := *job.FinishedAt
		cp.FinishedAt = &t
	}
	if job.Metadata != nil {
		cp.Metadata = make(map[string]any, len(job.Metadata))
		for k, v := range job.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}
