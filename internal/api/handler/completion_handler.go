package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/completion-relay/internal/api/dto"
	"github.com/cuongbtq/completion-relay/internal/api/model"
	"github.com/cuongbtq/completion-relay/internal/job"
)

// SubmitCompletion handles POST /api/v1/completions.
// It queues the prompts and answers 202 with the job identity and the topic
// on which chunks will be published.
func (h *JobHandler) SubmitCompletion(c *gin.Context) {
	var req dto.CreateCompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	prompts := make([]job.PromptMessage, len(req.Prompts))
	for i, p := range req.Prompts {
		prompts[i] = job.PromptMessage{Role: p.Role, Content: p.Content}
	}

	queued, err := job.New(prompts)
	if err != nil {
		h.logger.Error("Failed to create job identity", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create job",
		})
		return
	}

	payload, err := job.Encode(queued)
	if err != nil {
		h.logger.Error("Failed to encode job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create job",
		})
		return
	}

	ctx := c.Request.Context()
	logger := h.logger.With(slog.String("job_id", queued.JobID))

	h.recordQueued(ctx, logger, queued)

	if err := h.queue.Push(ctx, payload); err != nil {
		logger.Error("Failed to enqueue job", slog.String("error", err.Error()))
		h.recordFailed(ctx, logger, queued.JobID, err.Error())
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Job queue unavailable",
		})
		return
	}

	topic := job.Topic(h.topicPrefix, queued.JobID)

	logger.Info("Job queued",
		slog.Int("prompt_count", len(queued.Prompts)),
		slog.String("topic", topic),
	)

	c.JSON(http.StatusAccepted, dto.CreateCompletionResponse{
		JobID: queued.JobID,
		Topic: topic,
	})
}

func (h *JobHandler) recordQueued(ctx context.Context, logger *slog.Logger, queued job.QueuedJob) {
	if h.ledger == nil {
		return
	}

	now := time.Now().UTC()
	record := &model.JobRecord{
		JobID:       queued.JobID,
		Status:      job.StatusQueued,
		PromptCount: len(queued.Prompts),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := h.ledger.CreateJob(ctx, record); err != nil {
		logger.Warn("Failed to record job in ledger", slog.String("error", err.Error()))
	}
}

func (h *JobHandler) recordFailed(ctx context.Context, logger *slog.Logger, jobID, reason string) {
	if h.ledger == nil {
		return
	}

	if err := h.ledger.MarkFailed(ctx, jobID, reason); err != nil {
		logger.Warn("Failed to mark job failed in ledger", slog.String("error", err.Error()))
	}
}
