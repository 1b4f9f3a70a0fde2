package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/completion-relay/shared/rabbitmq"
)

// RabbitMQBroker publishes to a topic exchange using the topic as routing key
type RabbitMQBroker struct {
	client *rabbitmq.Client
	logger *slog.Logger
}

// NewRabbitMQBroker creates a RabbitMQ-backed publisher/subscriber
func NewRabbitMQBroker(client *rabbitmq.Client, logger *slog.Logger) *RabbitMQBroker {
	return &RabbitMQBroker{client: client, logger: logger}
}

// Publish sends the payload once; failures are not retried
func (b *RabbitMQBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := b.client.Publish(ctx, b.client.ExchangeName(), topic, payload, "application/json"); err != nil {
		return fmt.Errorf("%w: topic %s: %v", ErrPublish, topic, err)
	}
	return nil
}

// Subscribe binds an exclusive, auto-deleted queue to the topic and consumes it
func (b *RabbitMQBroker) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	channel, err := b.client.OpenChannel()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnect, err)
	}

	q, err := channel.QueueDeclare(
		"",    // name, server-generated
		false, // durable
		true,  // auto-delete
		true,  // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		channel.Close()
		return nil, fmt.Errorf("%w: declare subscription queue: %v", ErrConnect, err)
	}

	if err := channel.QueueBind(q.Name, topic, b.client.ExchangeName(), false, nil); err != nil {
		channel.Close()
		return nil, fmt.Errorf("%w: bind %s: %v", ErrConnect, topic, err)
	}

	deliveries, err := channel.Consume(
		q.Name, // queue
		"",     // consumer tag
		true,   // auto-ack
		true,   // exclusive
		false,  // no-local
		false,  // no-wait
		nil,    // args
	)
	if err != nil {
		channel.Close()
		return nil, fmt.Errorf("%w: consume %s: %v", ErrConnect, topic, err)
	}

	b.logger.Debug("Subscribed to RabbitMQ topic",
		slog.String("topic", topic),
		slog.String("queue", q.Name),
	)

	messages := make(chan []byte)
	done := make(chan struct{})

	go func() {
		defer close(messages)
		for d := range deliveries {
			select {
			case messages <- d.Body:
			case <-done:
				return
			}
		}
	}()

	return &subscription{
		messages: messages,
		closeFn: func() error {
			close(done)
			return channel.Close()
		},
	}, nil
}

// Close is a no-op; the RabbitMQ client is owned by the caller
func (b *RabbitMQBroker) Close() error {
	return nil
}
