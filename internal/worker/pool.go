package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/completion-relay/internal/job"
	"github.com/cuongbtq/completion-relay/internal/queue"
)

// acquireSlot blocks until an execution slot is free. With no concurrency
// limit it only checks that ctx is still alive. The slot is taken before
// polling so that jobs stay in the queue while the pool is saturated.
func (w *Worker) acquireSlot(ctx context.Context) bool {
	if w.sem == nil {
		return ctx.Err() == nil
	}
	return w.sem.Acquire(ctx, 1) == nil
}

func (w *Worker) releaseSlot() {
	if w.sem != nil {
		w.sem.Release(1)
	}
}

// spawn runs the job on its own goroutine. The execution is detached from
// ctx cancellation: shutdown stops polling but lets running jobs finish.
func (w *Worker) spawn(ctx context.Context, queued job.QueuedJob, delivery *queue.Delivery) {
	jobCtx := context.WithoutCancel(ctx)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer w.releaseSlot()
		defer func() {
			if r := recover(); r != nil {
				w.logger.Error("Job execution panicked",
					slog.String("job_id", queued.JobID),
					slog.String("panic", fmt.Sprint(r)),
				)
			}
		}()

		w.processJob(jobCtx, queued, delivery)
	}()
}
