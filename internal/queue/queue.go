// Package queue implements the durable FIFO that hands encoded jobs from the
// api-service to the worker-service.
//
// Pop is non-blocking: it returns (nil, nil) when the queue is empty. In the
// default mode a popped job is gone from the store (at-most-once). In reliable
// mode the job stays reserved until the Delivery is acknowledged, so a worker
// crash between pop and completion does not lose it.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// ErrUnavailable wraps every failure to reach the queue store
var ErrUnavailable = errors.New("queue store unavailable")

// Recoverer returns jobs reserved by an earlier run to the queue
type Recoverer interface {
	Recover(ctx context.Context) (int, error)
}

// RecoverWhenReady calls Recover until it succeeds, waiting interval after
// each failure. It only gives up when ctx ends.
func RecoverWhenReady(ctx context.Context, r Recoverer, interval time.Duration, logger *slog.Logger) (int, error) {
	for attempt := 1; ; attempt++ {
		moved, err := r.Recover(ctx)
		if err == nil {
			return moved, nil
		}

		logger.Warn("Queue store not ready, retrying recovery",
			slog.Int("attempt", attempt),
			slog.Duration("retry_after", interval),
			slog.Any("error", err),
		)

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return moved, ctx.Err()
		case <-timer.C:
		}
	}
}

// Producer pushes encoded jobs to the tail of the queue
type Producer interface {
	Push(ctx context.Context, payload []byte) error
}

// Consumer pops encoded jobs from the head of the queue
type Consumer interface {
	Pop(ctx context.Context) (*Delivery, error)
}

// Store is a queue backend usable from both sides
type Store interface {
	Producer
	Consumer
	Close() error
}

// Delivery is one popped payload. Ack settles it; Reject drops it or, with
// requeue, returns it to the head of the queue.
type Delivery struct {
	Body []byte

	ack    func(ctx context.Context) error
	reject func(ctx context.Context, requeue bool) error
}

// NewDelivery builds a Delivery. Nil callbacks are treated as no-ops.
func NewDelivery(body []byte, ack func(ctx context.Context) error, reject func(ctx context.Context, requeue bool) error) *Delivery {
	return &Delivery{Body: body, ack: ack, reject: reject}
}

// Ack marks the delivery as done
func (d *Delivery) Ack(ctx context.Context) error {
	if d.ack == nil {
		return nil
	}
	return d.ack(ctx)
}

// Reject drops the delivery, or puts it back at the head of the queue when requeue is set
func (d *Delivery) Reject(ctx context.Context, requeue bool) error {
	if d.reject == nil {
		return nil
	}
	return d.reject(ctx, requeue)
}
