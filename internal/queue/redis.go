package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"
)

// RedisStore keeps jobs in a Redis list: LPUSH on submit, RPOP on dispatch.
// In reliable mode jobs are moved atomically into a per-consumer processing
// list and removed from it on Ack.
type RedisStore struct {
	rdb        *goredis.Client
	name       string
	processing string
	reliable   bool
	logger     *slog.Logger
}

// RedisOptions configures a RedisStore
type RedisOptions struct {
	Name       string
	ConsumerID string
	Reliable   bool
}

// NewRedisStore creates a Redis-backed queue store
func NewRedisStore(rdb *goredis.Client, opts RedisOptions, logger *slog.Logger) *RedisStore {
	return &RedisStore{
		rdb:        rdb,
		name:       opts.Name,
		processing: ProcessingKey(opts.Name, opts.ConsumerID),
		reliable:   opts.Reliable,
		logger:     logger,
	}
}

// ProcessingKey is the list holding jobs reserved by one consumer
func ProcessingKey(name, consumerID string) string {
	if consumerID == "" {
		consumerID = "default"
	}
	return name + ":processing:" + consumerID
}

// Push appends the payload to the tail of the queue
func (s *RedisStore) Push(ctx context.Context, payload []byte) error {
	if err := s.rdb.LPush(ctx, s.name, payload).Err(); err != nil {
		return fmt.Errorf("%w: lpush %s: %v", ErrUnavailable, s.name, err)
	}
	return nil
}

// Pop removes the head of the queue, returning nil when it is empty
func (s *RedisStore) Pop(ctx context.Context) (*Delivery, error) {
	if !s.reliable {
		body, err := s.rdb.RPop(ctx, s.name).Bytes()
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: rpop %s: %v", ErrUnavailable, s.name, err)
		}
		return NewDelivery(body, nil, nil), nil
	}

	body, err := s.rdb.LMove(ctx, s.name, s.processing, "RIGHT", "LEFT").Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: lmove %s: %v", ErrUnavailable, s.name, err)
	}

	return NewDelivery(body, s.acker(body), s.rejecter(body)), nil
}

func (s *RedisStore) acker(body []byte) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if err := s.rdb.LRem(ctx, s.processing, 1, body).Err(); err != nil {
			return fmt.Errorf("%w: lrem %s: %v", ErrUnavailable, s.processing, err)
		}
		return nil
	}
}

func (s *RedisStore) rejecter(body []byte) func(ctx context.Context, requeue bool) error {
	return func(ctx context.Context, requeue bool) error {
		pipe := s.rdb.TxPipeline()
		pipe.LRem(ctx, s.processing, 1, body)
		if requeue {
			// RPUSH puts it at the end RPOP reads from, i.e. the head
			pipe.RPush(ctx, s.name, body)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("%w: reject on %s: %v", ErrUnavailable, s.processing, err)
		}
		return nil
	}
}

// Recover moves jobs left in this consumer's processing list back to the head
// of the queue. It returns the number of jobs moved.
func (s *RedisStore) Recover(ctx context.Context) (int, error) {
	if !s.reliable {
		return 0, nil
	}

	moved := 0
	for {
		// Newest reservation first, so the oldest ends up at the head
		_, err := s.rdb.LMove(ctx, s.processing, s.name, "LEFT", "RIGHT").Result()
		if errors.Is(err, goredis.Nil) {
			break
		}
		if err != nil {
			return moved, fmt.Errorf("%w: recover %s: %v", ErrUnavailable, s.processing, err)
		}
		moved++
	}

	if moved > 0 {
		s.logger.Warn("Recovered reserved jobs from previous run",
			slog.String("queue", s.name),
			slog.Int("count", moved),
		)
	}

	return moved, nil
}

// Len returns the number of queued jobs
func (s *RedisStore) Len(ctx context.Context) (int64, error) {
	n, err := s.rdb.LLen(ctx, s.name).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: llen %s: %v", ErrUnavailable, s.name, err)
	}
	return n, nil
}

// Close is a no-op; the Redis client is owned by the caller
func (s *RedisStore) Close() error {
	return nil
}
