package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/cuongbtq/vault-pipeline/internal/domain"
)

// ContentStore reads content records and writes their processing state
type ContentStore struct {
	db     *sqlx.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewContentStore creates a new SQL backed content store
func NewContentStore(db *sqlx.DB, logger *slog.Logger) *ContentStore {
	return &ContentStore{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

// Create inserts a content record, assigning an id when it has none
func (s *ContentStore) Create(ctx context.Context, content *domain.Content) (*domain.Content, error) {
	created := *content
	if created.ID == "" {
		created.ID = uuid.NewString()
	}
	created.UpdatedAt = s.now().UTC()

	var result sql.NullString
	if created.ProcessingResult != nil {
		raw, err := json.Marshal(created.ProcessingResult)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal processing result: %w", err)
		}
		result = sql.NullString{String: string(raw), Valid: true}
	}

	query := s.db.Rebind(`INSERT INTO contents (` + contentColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := s.db.ExecContext(ctx, query,
		created.ID,
		created.ContentType,
		nullString(created.SourceID),
		nullString(created.SourceURL),
		created.Title,
		created.Body,
		nullString(string(created.ProcessingStatus)),
		result,
		nullString(created.PipelineVersion),
		created.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert content: %w", err)
	}

	return &created, nil
}

// Get returns the content with the given id
func (s *ContentStore) Get(ctx context.Context, id string) (*domain.Content, error) {
	var row contentRow
	query := s.db.Rebind(`SELECT ` + contentColumns + ` FROM contents WHERE id = ?`)
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrContentNotFound
		}
		return nil, fmt.Errorf("failed to get content %s: %w", id, err)
	}
	return fromContentRow(&row)
}

// UpdateProcessingStatus sets the processing status of a content record.
// The pipeline version is only written when non-empty.
func (s *ContentStore) UpdateProcessingStatus(ctx context.Context, id string, status domain.ContentStatus, pipelineVersion string) error {
	query := `UPDATE contents SET processing_status = ?, updated_at = ? WHERE id = ?`
	args := []any{string(status), s.now().UTC(), id}
	if pipelineVersion != "" {
		query = `UPDATE contents SET processing_status = ?, updated_at = ?, pipeline_version = ? WHERE id = ?`
		args = []any{string(status), s.now().UTC(), pipelineVersion, id}
	}

	return s.exec(ctx, id, s.db.Rebind(query), args...)
}

// UpdateProcessingResult stores a pipeline result and marks the content completed
func (s *ContentStore) UpdateProcessingResult(ctx context.Context, id string, result domain.Result, pipelineVersion string) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal processing result: %w", err)
	}

	query := s.db.Rebind(`UPDATE contents
		SET processing_result = ?, processing_status = ?, pipeline_version = ?, updated_at = ?
		WHERE id = ?`)

	return s.exec(ctx, id, query,
		string(raw),
		string(domain.ContentStatusCompleted),
		pipelineVersion,
		s.now().UTC(),
		id,
	)
}

func (s *ContentStore) exec(ctx context.Context, id, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update content %s: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return domain.ErrContentNotFound
	}
	return nil
}
