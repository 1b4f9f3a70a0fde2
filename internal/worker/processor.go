package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/cuongbtq/completion-relay/internal/job"
	"github.com/cuongbtq/completion-relay/internal/queue"
)

// processJob drives one job to completion, relaying every fragment
func (w *Worker) processJob(ctx context.Context, queued job.QueuedJob, delivery *queue.Delivery) {
	start := time.Now()
	logger := w.logger.With(slog.String("job_id", queued.JobID))

	correlator := NewCorrelator(queued.JobID, job.Topic(w.topicPrefix, queued.JobID), w.publisher, logger)

	logger.Info("Processing job",
		slog.String("worker_id", w.workerID),
		slog.String("topic", correlator.Topic()),
		slog.Int("prompt_count", len(queued.Prompts)),
	)

	w.recordRunning(ctx, logger, queued.JobID)

	execCtx := ctx
	if w.jobTimeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, w.jobTimeout)
		defer cancel()
	}

	err := w.executor.Stream(execCtx, queued.Prompts, func(fragment string) {
		correlator.Relay(execCtx, fragment)
	})

	// Terminal markers and status updates use ctx, which outlives the job timeout
	if err != nil {
		logger.Error("Job execution failed",
			slog.String("topic", correlator.Topic()),
			slog.Uint64("chunks", correlator.Count()),
			slog.Int("dropped", correlator.Dropped()),
			slog.Duration("duration", time.Since(start)),
			slog.Any("error", err),
		)

		if w.terminalMarkers {
			correlator.Fail(ctx, err)
		}
		w.recordFinished(ctx, logger, queued.JobID, job.StatusFailed, correlator.Count(), err.Error())
	} else {
		logger.Info("Job completed successfully",
			slog.String("topic", correlator.Topic()),
			slog.Uint64("chunks", correlator.Count()),
			slog.Int("dropped", correlator.Dropped()),
			slog.Duration("duration", time.Since(start)),
		)

		if w.terminalMarkers {
			correlator.Done(ctx)
		}
		w.recordFinished(ctx, logger, queued.JobID, job.StatusCompleted, correlator.Count(), "")
	}

	if ackErr := delivery.Ack(ctx); ackErr != nil {
		logger.Error("Failed to acknowledge job",
			slog.Any("error", ackErr),
		)
	}
}

func (w *Worker) recordRunning(ctx context.Context, logger *slog.Logger, jobID string) {
	if w.recorder == nil {
		return
	}
	if err := w.recorder.MarkRunning(ctx, jobID, w.workerID); err != nil {
		logger.Warn("Failed to update job status to RUNNING",
			slog.Any("error", err),
		)
	}
}

func (w *Worker) recordFinished(ctx context.Context, logger *slog.Logger, jobID, status string, chunks uint64, errorMsg string) {
	if w.recorder == nil {
		return
	}
	if err := w.recorder.MarkFinished(ctx, jobID, status, chunks, errorMsg); err != nil {
		logger.Warn("Failed to update job status",
			slog.String("status", status),
			slog.Any("error", err),
		)
	}
}
