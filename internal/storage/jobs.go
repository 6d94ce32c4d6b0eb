package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/cuongbtq/vault-pipeline/internal/domain"
)

const (
	defaultListLimit = 20

	// postgres unique_violation
	pqUniqueViolation = "23505"
)

// JobStore persists pipeline jobs in a SQL database
type JobStore struct {
	db     *sqlx.DB
	logger *slog.Logger
	now    func() time.Time
	policy domain.RetentionPolicy
}

// Option configures a JobStore
type Option func(*JobStore)

// WithClock overrides the time source used for job timestamps and retention cutoffs
func WithClock(now func() time.Time) Option {
	return func(s *JobStore) {
		s.now = now
	}
}

// WithRetention overrides the default retention horizons
func WithRetention(policy domain.RetentionPolicy) Option {
	return func(s *JobStore) {
		s.policy = policy
	}
}

// NewJobStore creates a new SQL backed job store
func NewJobStore(db *sqlx.DB, logger *slog.Logger, opts ...Option) *JobStore {
	s := &JobStore{
		db:     db,
		logger: logger,
		now:    time.Now,
		policy: domain.DefaultRetentionPolicy(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create inserts a new pending job and returns it with its assigned id.
// A second active job for the same resource key fails with domain.ErrDuplicateActiveJob.
func (s *JobStore) Create(ctx context.Context, job *domain.Job) (*domain.Job, error) {
	created := *job
	if created.ID == "" {
		created.ID = uuid.NewString()
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

	row, err := toJobRow(&created)
	if err != nil {
		return nil, err
	}

	query := s.db.Rebind(`INSERT INTO pipeline_jobs (` + jobColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err = s.db.ExecContext(ctx, query,
		row.ID, row.ResourceKey, row.ContentID, row.Status, row.PipelineVersion, row.CreatedAt,
		row.StartedAt, row.FinishedAt, row.ErrorCode, row.ErrorMessage, row.ErrorStage,
		row.DataTier, row.Metadata, row.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return nil, fmt.Errorf("%w: %s", domain.ErrDuplicateActiveJob, created.ResourceKey)
		}
		return nil, fmt.Errorf("failed to insert job: %w", err)
	}

	s.logger.Debug("Job created",
		slog.String("job_id", created.ID),
		slog.String("resource_key", created.ResourceKey),
	)

	return &created, nil
}

// Get returns the job with the given id
func (s *JobStore) Get(ctx context.Context, id string) (*domain.Job, error) {
	var row jobRow
	query := s.db.Rebind(`SELECT ` + jobColumns + ` FROM pipeline_jobs WHERE id = ?`)
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job %s: %w", id, err)
	}
	return fromJobRow(&row)
}

// FindActiveByResourceKey returns the pending or processing job for key, or nil if there is none
func (s *JobStore) FindActiveByResourceKey(ctx context.Context, key string) (*domain.Job, error) {
	query, args, err := sqlx.In(`SELECT `+jobColumns+` FROM pipeline_jobs
		WHERE resource_key = ? AND status IN (?)
		ORDER BY created_at DESC
		LIMIT 1`, key, statusStrings(domain.ActiveStatuses()))
	if err != nil {
		return nil, fmt.Errorf("failed to build active job query: %w", err)
	}

	var row jobRow
	if err := s.db.GetContext(ctx, &row, s.db.Rebind(query), args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find active job for %s: %w", key, err)
	}
	return fromJobRow(&row)
}

// UpdateStatus moves a job to status. started_at is written once, on the first move into
// processing; finished_at is written on the move into a terminal status. Error fields are
// only written for failed jobs and only when non-empty.
//
// The transition is checked inside the UPDATE itself, so a concurrent change that already
// made the job terminal yields domain.ErrInvalidTransition instead of overwriting it.
func (s *JobStore) UpdateStatus(ctx context.Context, id string, status domain.JobStatus, update domain.StatusUpdate) (*domain.Job, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown job status %q", domain.ErrInvalidInput, status)
	}
	sources := domain.SourcesFor(status)
	if len(sources) == 0 {
		return nil, fmt.Errorf("%w: nothing may move to %s", domain.ErrInvalidTransition, status)
	}

	now := s.now().UTC()
	sets := []string{"status = ?", "updated_at = ?"}
	args := []any{string(status), now}

	if status == domain.JobStatusProcessing {
		sets = append(sets, "started_at = COALESCE(started_at, ?)")
		args = append(args, now)
	}
	if status.IsTerminal() {
		sets = append(sets, "finished_at = ?")
		args = append(args, now)
	}
	if status == domain.JobStatusFailed {
		if update.ErrorCode != "" {
			sets = append(sets, "error_code = ?")
			args = append(args, update.ErrorCode)
		}
		if update.ErrorMessage != "" {
			sets = append(sets, "error_message = ?")
			args = append(args, update.ErrorMessage)
		}
		if update.ErrorStage != "" {
			sets = append(sets, "error_stage = ?")
			args = append(args, update.ErrorStage)
		}
	}

	args = append(args, id, statusStrings(sources))
	query, args, err := sqlx.In(`UPDATE pipeline_jobs SET `+strings.Join(sets, ", ")+`
		WHERE id = ? AND status IN (?)`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to build status update: %w", err)
	}

	res, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		if isDuplicateKey(err) {
			return nil, fmt.Errorf("%w: job %s", domain.ErrDuplicateActiveJob, id)
		}
		return nil, fmt.Errorf("failed to update status of job %s: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		current, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s -> %s for job %s",
			domain.ErrInvalidTransition, current.Status, status, id)
	}

	s.logger.Debug("Job status updated",
		slog.String("job_id", id),
		slog.String("status", string(status)),
	)

	return s.Get(ctx, id)
}

// List returns one page of jobs, newest first, plus the total count matching the filter
func (s *JobStore) List(ctx context.Context, filter domain.JobFilter) ([]*domain.Job, int, error) {
	var (
		conds []string
		args  []any
	)
	if filter.ContentID != "" {
		conds = append(conds, "content_id = ?")
		args = append(args, filter.ContentID)
	}
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(filter.Status))
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	countQuery := s.db.Rebind(`SELECT COUNT(*) FROM pipeline_jobs` + where)
	if err := s.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count jobs: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	listQuery := s.db.Rebind(`SELECT ` + jobColumns + ` FROM pipeline_jobs` + where + `
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`)

	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, listQuery, append(args, limit, offset)...); err != nil {
		return nil, 0, fmt.Errorf("failed to list jobs: %w", err)
	}

	jobs := make([]*domain.Job, 0, len(rows))
	for i := range rows {
		job, err := fromJobRow(&rows[i])
		if err != nil {
			return nil, 0, err
		}
		jobs = append(jobs, job)
	}

	return jobs, total, nil
}

// PurgeExpired deletes terminal jobs whose finished_at lies beyond their tier's retention horizon.
// Jobs that never finished are never eligible.
func (s *JobStore) PurgeExpired(ctx context.Context) (map[domain.DataTier]int64, error) {
	now := s.now().UTC()
	terminal := statusStrings([]domain.JobStatus{
		domain.JobStatusCompleted,
		domain.JobStatusFailed,
		domain.JobStatusCancelled,
	})

	purged := make(map[domain.DataTier]int64, len(domain.Tiers()))
	for _, tier := range domain.Tiers() {
		cutoff := s.policy.Cutoff(tier, now)

		query, args, err := sqlx.In(`DELETE FROM pipeline_jobs
			WHERE data_tier = ?
			AND finished_at IS NOT NULL
			AND finished_at < ?
			AND status IN (?)`, string(tier), cutoff, terminal)
		if err != nil {
			return purged, fmt.Errorf("failed to build purge query: %w", err)
		}

		res, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
		if err != nil {
			return purged, fmt.Errorf("failed to purge %s jobs: %w", tier, err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return purged, fmt.Errorf("failed to read purged rows: %w", err)
		}
		purged[tier] = n

		s.logger.Info("Purged expired jobs",
			slog.String("tier", string(tier)),
			slog.Time("cutoff", cutoff),
			slog.Int64("deleted", n),
		)
	}

	return purged, nil
}

func statusStrings(statuses []domain.JobStatus) []string {
	out := make([]string, len(statuses))
	for i, st := range statuses {
		out[i] = string(st)
	}
	return out
}

func isDuplicateKey(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pqUniqueViolation
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
