package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"github.com/cuongbtq/vault-pipeline/shared/database"
)

// The partial unique index on resource_key is what makes submission idempotent
// under concurrency: two racing inserts for the same resource cannot both be active.
var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS pipeline_jobs (
		id               TEXT PRIMARY KEY,
		resource_key     TEXT NOT NULL,
		content_id       TEXT NOT NULL,
		status           TEXT NOT NULL,
		pipeline_version TEXT NOT NULL DEFAULT '',
		created_at       TIMESTAMPTZ NOT NULL,
		started_at       TIMESTAMPTZ,
		finished_at      TIMESTAMPTZ,
		error_code       TEXT,
		error_message    TEXT,
		error_stage      TEXT,
		data_tier        TEXT NOT NULL DEFAULT 'full',
		metadata         JSONB NOT NULL DEFAULT '{}'::jsonb,
		updated_at       TIMESTAMPTZ NOT NULL,
		CONSTRAINT pipeline_jobs_status_check
			CHECK (status IN ('pending', 'processing', 'completed', 'failed', 'cancelled')),
		CONSTRAINT pipeline_jobs_tier_check
			CHECK (data_tier IN ('compact', 'full')),
		CONSTRAINT pipeline_jobs_finished_check
			CHECK ((finished_at IS NULL) = (status IN ('pending', 'processing')))
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_pipeline_jobs_active_resource
		ON pipeline_jobs (resource_key)
		WHERE status IN ('pending', 'processing')`,
	`CREATE INDEX IF NOT EXISTS idx_pipeline_jobs_content
		ON pipeline_jobs (content_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_pipeline_jobs_retention
		ON pipeline_jobs (data_tier, finished_at)
		WHERE finished_at IS NOT NULL`,
	`CREATE TABLE IF NOT EXISTS contents (
		id                TEXT PRIMARY KEY,
		content_type      TEXT NOT NULL,
		source_id         TEXT,
		source_url        TEXT,
		title             TEXT NOT NULL DEFAULT '',
		body              TEXT NOT NULL DEFAULT '',
		processing_status TEXT,
		processing_result JSONB,
		pipeline_version  TEXT,
		updated_at        TIMESTAMPTZ NOT NULL
	)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS pipeline_jobs (
		id               TEXT PRIMARY KEY,
		resource_key     TEXT NOT NULL,
		content_id       TEXT NOT NULL,
		status           TEXT NOT NULL,
		pipeline_version TEXT NOT NULL DEFAULT '',
		created_at       TIMESTAMP NOT NULL,
		started_at       TIMESTAMP,
		finished_at      TIMESTAMP,
		error_code       TEXT,
		error_message    TEXT,
		error_stage      TEXT,
		data_tier        TEXT NOT NULL DEFAULT 'full',
		metadata         TEXT NOT NULL DEFAULT '{}',
		updated_at       TIMESTAMP NOT NULL,
		CHECK (status IN ('pending', 'processing', 'completed', 'failed', 'cancelled')),
		CHECK (data_tier IN ('compact', 'full')),
		CHECK ((finished_at IS NULL) = (status IN ('pending', 'processing')))
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_pipeline_jobs_active_resource
		ON pipeline_jobs (resource_key)
		WHERE status IN ('pending', 'processing')`,
	`CREATE INDEX IF NOT EXISTS idx_pipeline_jobs_content
		ON pipeline_jobs (content_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_pipeline_jobs_retention
		ON pipeline_jobs (data_tier, finished_at)
		WHERE finished_at IS NOT NULL`,
	`CREATE TABLE IF NOT EXISTS contents (
		id                TEXT PRIMARY KEY,
		content_type      TEXT NOT NULL,
		source_id         TEXT,
		source_url        TEXT,
		title             TEXT NOT NULL DEFAULT '',
		body              TEXT NOT NULL DEFAULT '',
		processing_status TEXT,
		processing_result TEXT,
		pipeline_version  TEXT,
		updated_at        TIMESTAMP NOT NULL
	)`,
}

// Migrate creates the tables and indexes used by the job and content stores
func Migrate(ctx context.Context, db *sqlx.DB, logger *slog.Logger) error {
	statements := postgresSchema
	if db.DriverName() == database.DriverSQLite {
		statements = sqliteSchema
	}

	for i, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement %d: %w", i+1, err)
		}
	}

	logger.Info("Database schema is up to date",
		slog.String("driver", db.DriverName()),
		slog.Int("statements", len(statements)),
	)

	return nil
}
