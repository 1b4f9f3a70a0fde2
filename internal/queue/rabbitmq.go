package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cuongbtq/completion-relay/shared/rabbitmq"
)

const jsonContentType = "application/json"

// RabbitMQStore keeps jobs in a durable RabbitMQ queue. Push goes through the
// default exchange with the queue name as routing key; Pop uses basic.get.
// The queue is declared on first use and again after a failed declare.
type RabbitMQStore struct {
	client   *rabbitmq.Client
	name     string
	reliable bool
	logger   *slog.Logger

	mu       sync.Mutex
	declared bool
}

// NewRabbitMQStore returns a store bound to the named queue
func NewRabbitMQStore(client *rabbitmq.Client, name string, reliable bool, logger *slog.Logger) *RabbitMQStore {
	return &RabbitMQStore{
		client:   client,
		name:     name,
		reliable: reliable,
		logger:   logger,
	}
}

func (s *RabbitMQStore) declare() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.declared {
		return nil
	}
	if err := s.client.DeclareQueue(s.name); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	s.declared = true
	s.logger.Info("Job queue declared", slog.String("queue", s.name))
	return nil
}

// Push publishes the payload, retrying with backoff
func (s *RabbitMQStore) Push(ctx context.Context, payload []byte) error {
	if err := s.declare(); err != nil {
		return err
	}
	if err := s.client.PublishWithRetry(ctx, "", s.name, payload, jsonContentType); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Pop fetches one message without blocking. Outside reliable mode the
// message is acknowledged by the broker as it is handed out.
func (s *RabbitMQStore) Pop(ctx context.Context) (*Delivery, error) {
	if err := s.declare(); err != nil {
		return nil, err
	}

	msg, ok, err := s.client.Get(s.name, !s.reliable)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !ok {
		return nil, nil
	}

	if !s.reliable {
		return NewDelivery(msg.Body, nil, nil), nil
	}

	tag := msg.DeliveryTag
	return NewDelivery(msg.Body,
		func(ctx context.Context) error {
			if err := msg.Ack(false); err != nil {
				return fmt.Errorf("%w: ack %d: %v", ErrUnavailable, tag, err)
			}
			return nil
		},
		func(ctx context.Context, requeue bool) error {
			if err := msg.Nack(false, requeue); err != nil {
				return fmt.Errorf("%w: nack %d: %v", ErrUnavailable, tag, err)
			}
			return nil
		},
	), nil
}

// Close is a no-op; the RabbitMQ client is owned by the caller
func (s *RabbitMQStore) Close() error {
	return nil
}
