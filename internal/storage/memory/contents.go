package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/vault-pipeline/internal/domain"
)

// ContentStore is an in-memory content store
type ContentStore struct {
	mu       sync.RWMutex
	contents map[string]*domain.Content
}

// NewContentStore returns an empty ContentStore
func NewContentStore() *ContentStore {
	return &ContentStore{contents: make(map[string]*domain.Content)}
}

// Create stores a content record, assigning an id when it has none
func (s *ContentStore) Create(_ context.Context, content *domain.Content) (*domain.Content, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *content
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	cp.UpdatedAt = time.Now().UTC()
	s.contents[cp.ID] = &cp

	out := cp
	return &out, nil
}

// Get returns the content with the given id
func (s *ContentStore) Get(_ context.Context, id string) (*domain.Content, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	content, ok := s.contents[id]
	if !ok {
		return nil, domain.ErrContentNotFound
	}
	cp := *content
	return &cp, nil
}

// UpdateProcessingStatus sets the processing status; an empty version leaves the stored one
func (s *ContentStore) UpdateProcessingStatus(_ context.Context, id string, status domain.ContentStatus, pipelineVersion string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	content, ok := s.contents[id]
	if !ok {
		return domain.ErrContentNotFound
	}
	content.ProcessingStatus = status
	if pipelineVersion != "" {
		content.PipelineVersion = pipelineVersion
	}
	content.UpdatedAt = time.Now().UTC()
	return nil
}

// UpdateProcessingResult stores a pipeline result and marks the content completed
func (s *ContentStore) UpdateProcessingResult(_ context.Context, id string, result domain.Result, pipelineVersion string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	content, ok := s.contents[id]
	if !ok {
		return domain.ErrContentNotFound
	}
	content.ProcessingResult = result
	content.ProcessingStatus = domain.ContentStatusCompleted
	content.PipelineVersion = pipelineVersion
	content.UpdatedAt = time.Now().UTC()
	return nil
}
