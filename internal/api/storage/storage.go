package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/cuongbtq/completion-relay/internal/api/model"
	"github.com/cuongbtq/completion-relay/internal/job"
	"github.com/cuongbtq/completion-relay/shared/postgresql"
)

const jobColumns = `
	job_id, status, prompt_count, chunk_count, worker_id, error_message,
	created_at, started_at, completed_at, updated_at
`

type Storage struct {
	db *sqlx.DB
}

func NewStorage(pg *postgresql.Client) *Storage {
	return &Storage{
		db: pg.GetDB(),
	}
}

// CreateJob inserts a QUEUED ledger row
func (s *Storage) CreateJob(ctx context.Context, record *model.JobRecord) error {
	query := `
		INSERT INTO completion_jobs (
			job_id, status, prompt_count, chunk_count, created_at, updated_at
		) VALUES (
			$1, $2, $3, 0, $4, $5
		)
	`

	_, err := s.db.ExecContext(
		ctx,
		query,
		record.JobID,
		record.Status,
		record.PromptCount,
		record.CreatedAt,
		record.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

// GetJobByID returns job.ErrJobNotFound when no row matches
func (s *Storage) GetJobByID(ctx context.Context, jobID string) (*model.JobRecord, error) {
	var record model.JobRecord
	query := `SELECT ` + jobColumns + ` FROM completion_jobs WHERE job_id = $1`

	err := s.db.GetContext(ctx, &record, query, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, job.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &record, nil
}

// MarkFailed records a submission that never reached the queue
func (s *Storage) MarkFailed(ctx context.Context, jobID, errorMsg string) error {
	query := `
		UPDATE completion_jobs
		SET status = $1,
		    error_message = $2,
		    completed_at = NOW(),
		    updated_at = NOW()
		WHERE job_id = $3
	`

	_, err := s.db.ExecContext(ctx, query, job.StatusFailed, errorMsg, jobID)
	if err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}

	return nil
}

type JobFilter struct {
	Status   string
	PageSize int
	Cursor   *JobCursor
}

type JobCursor struct {
	CreatedAt time.Time
	JobID     string
}

// ListJobs returns up to PageSize+1 rows, newest first, so callers can tell
// whether another page exists
func (s *Storage) ListJobs(ctx context.Context, filter JobFilter) ([]model.JobRecord, error) {
	query := `SELECT ` + jobColumns + ` FROM completion_jobs WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, job_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	// Order by created_at DESC, job_id DESC for consistent pagination
	query += " ORDER BY created_at DESC, job_id DESC"

	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var records []model.JobRecord
	err := s.db.SelectContext(ctx, &records, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	return records, nil
}
