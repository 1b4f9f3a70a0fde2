package model

import (
	"database/sql"
	"time"
)

// JobRecord is one row of the completion_jobs ledger
type JobRecord struct {
	JobID        string         `db:"job_id"`
	Status       string         `db:"status"`
	PromptCount  int            `db:"prompt_count"`
	ChunkCount   int64          `db:"chunk_count"`
	WorkerID     sql.NullString `db:"worker_id"`
	ErrorMessage sql.NullString `db:"error_message"`
	CreatedAt    time.Time      `db:"created_at"`
	StartedAt    sql.NullTime   `db:"started_at"`
	CompletedAt  sql.NullTime   `db:"completed_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
}
