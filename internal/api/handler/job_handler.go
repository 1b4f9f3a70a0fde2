package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/cuongbtq/completion-relay/internal/api/dto"
	"github.com/cuongbtq/completion-relay/internal/api/model"
	"github.com/cuongbtq/completion-relay/internal/api/storage"
	"github.com/cuongbtq/completion-relay/internal/job"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// GetJob handles GET /api/v1/jobs/:job_id
// Retrieves the ledger record of a job
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")

	if _, err := uuid.Parse(jobID); err != nil {
		h.logger.Warn("Invalid job_id format", slog.String("job_id", jobID), slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	if h.ledger == nil {
		c.JSON(http.StatusNotImplemented, gin.H{
			"error": "Job ledger is disabled",
		})
		return
	}

	record, err := h.ledger.GetJobByID(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Job not found",
			})
			return
		}

		h.logger.Error("Failed to get job", slog.String("job_id", jobID), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get job",
		})
		return
	}

	c.JSON(http.StatusOK, toJobDTO(record))
}

// ListJobs handles GET /api/v1/jobs
// Lists ledger records newest first with cursor pagination
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Warn("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	switch req.Status {
	case "", job.StatusQueued, job.StatusRunning, job.StatusCompleted, job.StatusFailed:
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid status filter",
		})
		return
	}

	if h.ledger == nil {
		c.JSON(http.StatusNotImplemented, gin.H{
			"error": "Job ledger is disabled",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}

	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		h.logger.Warn("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	records, err := h.ledger.ListJobs(c.Request.Context(), storage.JobFilter{
		Status:   req.Status,
		PageSize: req.PageSize,
		Cursor:   cursor,
	})
	if err != nil {
		h.logger.Error("Failed to list jobs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list jobs",
		})
		return
	}

	hasMore := len(records) > req.PageSize
	if hasMore {
		records = records[:req.PageSize]
	}

	jobs := make([]dto.JobDTO, len(records))
	for i := range records {
		jobs[i] = toJobDTO(&records[i])
	}

	var nextCursor string
	if hasMore {
		last := records[len(records)-1]
		nextCursor = EncodeJobCursor(&storage.JobCursor{
			CreatedAt: last.CreatedAt,
			JobID:     last.JobID,
		})
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{
		Jobs:       jobs,
		NextCursor: nextCursor,
	})
}

func toJobDTO(record *model.JobRecord) dto.JobDTO {
	out := dto.JobDTO{
		JobID:        record.JobID,
		Status:       record.Status,
		PromptCount:  record.PromptCount,
		ChunkCount:   record.ChunkCount,
		WorkerID:     record.WorkerID.String,
		ErrorMessage: record.ErrorMessage.String,
		CreatedAt:    record.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    record.UpdatedAt.Format(time.RFC3339),
	}

	if record.StartedAt.Valid {
		out.StartedAt = record.StartedAt.Time.Format(time.RFC3339)
	}
	if record.CompletedAt.Valid {
		out.CompletedAt = record.CompletedAt.Time.Format(time.RFC3339)
	}

	return out
}
