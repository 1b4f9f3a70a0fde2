package notify

import (
	"context"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"
)

// RedisBroker publishes and subscribes through Redis pub/sub
type RedisBroker struct {
	rdb    *goredis.Client
	logger *slog.Logger
}

// NewRedisBroker creates a Redis-backed publisher/subscriber
func NewRedisBroker(rdb *goredis.Client, logger *slog.Logger) *RedisBroker {
	return &RedisBroker{rdb: rdb, logger: logger}
}

// Publish sends the payload to the channel named by topic
func (b *RedisBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	receivers, err := b.rdb.Publish(ctx, topic, payload).Result()
	if err != nil {
		return fmt.Errorf("%w: topic %s: %v", ErrPublish, topic, err)
	}

	b.logger.Debug("Message published to Redis",
		slog.String("topic", topic),
		slog.Int64("receivers", receivers),
	)
	return nil
}

// Subscribe opens a pub/sub subscription and waits for the broker's confirmation
func (b *RedisBroker) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	pubsub := b.rdb.Subscribe(ctx, topic)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("%w: subscribe %s: %v", ErrConnect, topic, err)
	}

	messages := make(chan []byte)
	done := make(chan struct{})

	go func() {
		defer close(messages)
		for msg := range pubsub.Channel() {
			select {
			case messages <- []byte(msg.Payload):
			case <-done:
				return
			}
		}
	}()

	return &subscription{
		messages: messages,
		closeFn: func() error {
			close(done)
			return pubsub.Close()
		},
	}, nil
}

// Close is a no-op; the Redis client is owned by the caller
func (b *RedisBroker) Close() error {
	return nil
}
