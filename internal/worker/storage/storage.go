package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"github.com/cuongbtq/completion-relay/internal/job"
)

// Storage records job lifecycle transitions in the job ledger
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
	}
}

// MarkRunning moves a job to RUNNING and records which worker took it.
// Jobs submitted by producers that bypass the ledger have no row; that is
// logged and not treated as an error.
func (s *Storage) MarkRunning(ctx context.Context, jobID, workerID string) error {
	query := `
		UPDATE completion_jobs
		SET status = $1,
		    worker_id = $2,
		    started_at = NOW(),
		    updated_at = NOW()
		WHERE job_id = $3
		  AND status = $4
	`

	result, err := s.db.ExecContext(ctx, query, job.StatusRunning, workerID, jobID, job.StatusQueued)
	if err != nil {
		return fmt.Errorf("failed to mark job running: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		s.logger.Warn("Job status update - no queued ledger row",
			slog.String("job_id", jobID),
			slog.String("worker_id", workerID),
		)
	}

	return nil
}

// MarkFinished stores the terminal status, the number of chunks relayed and
// the failure reason, if any
func (s *Storage) MarkFinished(ctx context.Context, jobID, status string, chunkCount uint64, errorMsg string) error {
	query := `
		UPDATE completion_jobs
		SET status = $1,
		    chunk_count = $2,
		    error_message = NULLIF($3, ''),
		    completed_at = NOW(),
		    updated_at = NOW()
		WHERE job_id = $4
	`

	_, err := s.db.ExecContext(ctx, query, status, int64(chunkCount), errorMsg, jobID)
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}

	s.logger.Info("Job status updated",
		slog.String("job_id", jobID),
		slog.String("status", status),
		slog.Uint64("chunk_count", chunkCount),
	)

	return nil
}
