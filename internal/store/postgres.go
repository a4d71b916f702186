package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/umar7shaikh/financial-document-analyzer/pkg/schema"
)

const ddl = `
CREATE TABLE IF NOT EXISTS analysis_jobs (
    job_id                 UUID PRIMARY KEY,
    user_id                TEXT NOT NULL DEFAULT '',
    document_ref           TEXT NOT NULL,
    document_name          TEXT NOT NULL DEFAULT '',
    query                  TEXT NOT NULL,
    status                 TEXT NOT NULL DEFAULT 'pending',
    stage_outputs          JSONB NOT NULL DEFAULT '{}'::jsonb,
    confidence_rating      TEXT NOT NULL DEFAULT '',
    error_message          TEXT NOT NULL DEFAULT '',
    created_at             TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at             TIMESTAMPTZ NOT NULL DEFAULT now(),
    started_at             TIMESTAMPTZ,
    completed_at           TIMESTAMPTZ,
    processing_duration_ms BIGINT NOT NULL DEFAULT 0
);
`

// Postgres implements Store on a pgx connection pool. Stage outputs live in
// a jsonb column appended with the || operator, guarded so a committed key
// is never overwritten.
type Postgres struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

func NewPostgres(ctx context.Context, databaseURL string, queryTimeout time.Duration) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Postgres{pool: pool, timeout: queryTimeout}, nil
}

func (p *Postgres) Close() { p.pool.Close() }

// Migrate creates the analysis_jobs table if it does not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	ctx, cancel := p.bound(ctx)
	defer cancel()
	if _, err := p.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (p *Postgres) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.timeout)
}

func (p *Postgres) CreateJob(ctx context.Context, job *schema.Job) error {
	ctx, cancel := p.bound(ctx)
	defer cancel()
	_, err := p.pool.Exec(ctx,
		`INSERT INTO analysis_jobs (job_id, user_id, document_ref, document_name, query, status, created_at, updated_at)
         VALUES ($1, $2, $3, $4, $5, $6, now(), now())`,
		job.ID, job.UserID, job.DocumentRef, job.DocumentName, job.Query, job.Status,
	)
	if err != nil {
		return fmt.Errorf("create job %s: %w", job.ID, err)
	}
	return nil
}

func (p *Postgres) GetJob(ctx context.Context, jobID string) (*schema.Job, error) {
	ctx, cancel := p.bound(ctx)
	defer cancel()
	var (
		job     schema.Job
		outputs []byte
	)
	err := p.pool.QueryRow(ctx,
		`SELECT job_id, user_id, document_ref, document_name, query, status, stage_outputs,
                confidence_rating, error_message, created_at, updated_at, started_at, completed_at,
                processing_duration_ms
         FROM analysis_jobs WHERE job_id = $1`, jobID,
	).Scan(&job.ID, &job.UserID, &job.DocumentRef, &job.DocumentName, &job.Query, &job.Status,
		&outputs, &job.ConfidenceRating, &job.ErrorMessage, &job.CreatedAt, &job.UpdatedAt,
		&job.StartedAt, &job.CompletedAt, &job.ProcessingDurationMs)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", jobID, err)
	}
	if len(outputs) > 0 {
		if err := json.Unmarshal(outputs, &job.StageOutputs); err != nil {
			return nil, fmt.Errorf("decode stage outputs for %s: %w", jobID, err)
		}
	}
	return &job, nil
}

func (p *Postgres) ConditionalTransition(ctx context.Context, jobID string, from, to schema.JobStatus) error {
	ctx, cancel := p.bound(ctx)
	defer cancel()
	tag, err := p.pool.Exec(ctx,
		`UPDATE analysis_jobs
         SET status = $3,
             updated_at = now(),
             started_at = CASE WHEN $3 = 'processing' THEN COALESCE(started_at, now()) ELSE started_at END
         WHERE job_id = $1 AND status = $2`,
		jobID, from, to,
	)
	if err != nil {
		return fmt.Errorf("transition job %s %s->%s: %w", jobID, from, to, err)
	}
	if tag.RowsAffected() == 0 {
		return p.conflictOrMissing(ctx, jobID)
	}
	return nil
}

func (p *Postgres) AppendStageOutput(ctx context.Context, jobID, stageName, output string) error {
	ctx, cancel := p.bound(ctx)
	defer cancel()
	tag, err := p.pool.Exec(ctx,
		`UPDATE analysis_jobs
         SET stage_outputs = stage_outputs || jsonb_build_object($2::text, $3::text),
             updated_at = now()
         WHERE job_id = $1 AND NOT (stage_outputs ? $2)`,
		jobID, stageName, output,
	)
	if err != nil {
		return fmt.Errorf("append stage %s for job %s: %w", stageName, jobID, err)
	}
	if tag.RowsAffected() == 0 {
		// Either the job is missing or the stage was already committed by
		// an earlier attempt; the latter is a safe no-op.
		var exists bool
		if err := p.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM analysis_jobs WHERE job_id = $1)`, jobID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("append stage %s for job %s: %w", stageName, jobID, err)
		}
		if !exists {
			return ErrNotFound
		}
	}
	return nil
}

func (p *Postgres) MarkCompleted(ctx context.Context, jobID string, confidence schema.ConfidenceRating) error {
	ctx, cancel := p.bound(ctx)
	defer cancel()
	tag, err := p.pool.Exec(ctx,
		`UPDATE analysis_jobs
         SET status = 'completed',
             confidence_rating = $2,
             completed_at = now(),
             updated_at = now(),
             processing_duration_ms = COALESCE((EXTRACT(EPOCH FROM (now() - started_at)) * 1000)::bigint, 0)
         WHERE job_id = $1 AND status = 'processing'`,
		jobID, confidence,
	)
	if err != nil {
		return fmt.Errorf("complete job %s: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return p.conflictOrMissing(ctx, jobID)
	}
	return nil
}

func (p *Postgres) MarkFailed(ctx context.Context, jobID, message string) error {
	ctx, cancel := p.bound(ctx)
	defer cancel()
	tag, err := p.pool.Exec(ctx,
		`UPDATE analysis_jobs
         SET status = 'failed',
             error_message = $2,
             completed_at = now(),
             updated_at = now(),
             processing_duration_ms = COALESCE((EXTRACT(EPOCH FROM (now() - started_at)) * 1000)::bigint, 0)
         WHERE job_id = $1 AND status IN ('processing', 'pending')`,
		jobID, message,
	)
	if err != nil {
		return fmt.Errorf("fail job %s: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return p.conflictOrMissing(ctx, jobID)
	}
	return nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	ctx, cancel := p.bound(ctx)
	defer cancel()
	return p.pool.Ping(ctx)
}

func (p *Postgres) conflictOrMissing(ctx context.Context, jobID string) error {
	var exists bool
	if err := p.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM analysis_jobs WHERE job_id = $1)`, jobID,
	).Scan(&exists); err != nil {
		return fmt.Errorf("check job %s: %w", jobID, err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrConflict
}
