package orchestrator

import (
	"context"
	"fmt"

	"github.com/cuongbtq/vault-pipeline/internal/domain"
	"github.com/cuongbtq/vault-pipeline/internal/resourcekey"
)

// Reprocess loads a stored content item and submits it for processing under its resource key
func (o *Orchestrator) Reprocess(ctx context.Context, contentID, submittedVia string) (*domain.Job, bool, error) {
	if !o.enabled {
		return nil, false, nil
	}

	content, err := o.contents.Get(ctx, contentID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load content %s: %w", contentID, err)
	}

	return o.Submit(ctx, SubmitRequest{
		ContentID:    content.ID,
		ContentText:  content.Body,
		ContentType:  content.ContentType,
		Title:        content.Title,
		ResourceKey:  resourcekey.ForContent(content),
		SubmittedVia: submittedVia,
	})
}
