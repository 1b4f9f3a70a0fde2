package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/cuongbtq/completion-relay/internal/job"
)

// pollOutcome describes what a single poll found
type pollOutcome int

const (
	pollEmpty pollOutcome = iota
	pollFailed
	pollDropped
	pollDispatched
)

// dispatchLoop polls the queue until ctx is canceled. An empty queue or an
// unreachable store triggers the idle wait; a payload, valid or not, is
// followed by an immediate re-poll.
func (w *Worker) dispatchLoop(ctx context.Context) {
	timer := time.NewTimer(w.pollInterval)
	defer timer.Stop()

	for {
		if !w.acquireSlot(ctx) {
			return
		}

		outcome := w.pollOnce(ctx)
		if outcome != pollDispatched {
			w.releaseSlot()
		}

		if outcome == pollEmpty || outcome == pollFailed {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.pollInterval)

			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}
		}

		if ctx.Err() != nil {
			return
		}
	}
}

// pollOnce pops at most one job and hands it to a new execution
func (w *Worker) pollOnce(ctx context.Context) pollOutcome {
	delivery, err := w.queue.Pop(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return pollFailed
		}
		w.logger.Error("Failed to poll queue",
			slog.String("worker_id", w.workerID),
			slog.Any("error", err),
		)
		return pollFailed
	}

	if delivery == nil {
		return pollEmpty
	}

	queued, err := job.Decode(delivery.Body)
	if err != nil {
		w.logger.Error("Dropping malformed job payload",
			slog.Int("body_size", len(delivery.Body)),
			slog.Any("error", err),
		)
		// Malformed payloads are never requeued
		if rejectErr := delivery.Reject(ctx, false); rejectErr != nil {
			w.logger.Error("Failed to reject malformed job payload",
				slog.Any("error", rejectErr),
			)
		}
		return pollDropped
	}

	w.logger.Debug("Job popped from queue",
		slog.String("job_id", queued.JobID),
		slog.Int("prompt_count", len(queued.Prompts)),
	)

	w.spawn(ctx, queued, delivery)
	return pollDispatched
}
