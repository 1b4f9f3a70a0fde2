package worker

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/completion-relay/internal/job"
	"github.com/cuongbtq/completion-relay/internal/notify"
)

// Correlator numbers the fragments of one job and publishes them to the
// job's topic. Indices start at 0 and advance by one per fragment, whether or
// not the publish succeeds. Not safe for concurrent use: fragments of a
// single stream arrive sequentially.
type Correlator struct {
	jobID     string
	topic     string
	publisher notify.Publisher
	logger    *slog.Logger

	next    uint64
	dropped int
}

// NewCorrelator creates a correlator bound to one job
func NewCorrelator(jobID, topic string, publisher notify.Publisher, logger *slog.Logger) *Correlator {
	return &Correlator{
		jobID:     jobID,
		topic:     topic,
		publisher: publisher,
		logger:    logger,
	}
}

// Relay publishes one fragment with the next index
func (c *Correlator) Relay(ctx context.Context, content string) {
	msg := job.ChunkMessage{
		JobID:   c.jobID,
		Content: content,
		Index:   c.next,
	}
	c.next++
	c.publish(ctx, msg)
}

// Done publishes the success marker. Its index is the number of chunks relayed.
func (c *Correlator) Done(ctx context.Context) {
	c.publish(ctx, job.ChunkMessage{
		JobID: c.jobID,
		Index: c.next,
		Kind:  job.KindDone,
	})
}

// Fail publishes the failure marker with the reason
func (c *Correlator) Fail(ctx context.Context, cause error) {
	c.publish(ctx, job.ChunkMessage{
		JobID: c.jobID,
		Index: c.next,
		Kind:  job.KindFailed,
		Error: cause.Error(),
	})
}

// Count returns how many chunks have been relayed
func (c *Correlator) Count() uint64 {
	return c.next
}

// Dropped returns how many publishes failed
func (c *Correlator) Dropped() int {
	return c.dropped
}

// Topic returns the topic this correlator publishes to
func (c *Correlator) Topic() string {
	return c.topic
}

// publish hands one message to the broker. Failures drop the message only.
func (c *Correlator) publish(ctx context.Context, msg job.ChunkMessage) {
	payload, err := job.EncodeChunk(msg)
	if err != nil {
		c.dropped++
		c.logger.Error("Failed to encode chunk",
			slog.Uint64("index", msg.Index),
			slog.Any("error", err),
		)
		return
	}

	if err := c.publisher.Publish(ctx, c.topic, payload); err != nil {
		c.dropped++
		c.logger.Error("Failed to publish chunk, dropping it",
			slog.String("topic", c.topic),
			slog.Uint64("index", msg.Index),
			slog.String("kind", msg.Kind),
			slog.Any("error", err),
		)
		return
	}

	c.logger.Debug("Chunk published",
		slog.String("topic", c.topic),
		slog.Uint64("index", msg.Index),
	)
}
