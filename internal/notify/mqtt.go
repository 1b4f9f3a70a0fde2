package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/cuongbtq/completion-relay/shared/mqtt"
)

const mqttWaitTimeout = 10 * time.Second

// MQTTBroker publishes and subscribes through an MQTT broker
type MQTTBroker struct {
	client *mqtt.Client
	qos    byte
	logger *slog.Logger
}

// NewMQTTBroker creates an MQTT-backed publisher/subscriber
func NewMQTTBroker(client *mqtt.Client, qos int, logger *slog.Logger) *MQTTBroker {
	return &MQTTBroker{
		client: client,
		qos:    byte(qos),
		logger: logger,
	}
}

// Publish sends the payload, connecting first if the session is down
func (b *MQTTBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	conn, err := b.client.Conn()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnect, err)
	}

	token := conn.Publish(topic, b.qos, false, payload)
	if err := wait(ctx, token); err != nil {
		return fmt.Errorf("%w: topic %s: %v", ErrPublish, topic, err)
	}

	b.logger.Debug("Message published to MQTT",
		slog.String("topic", topic),
		slog.Int("body_size", len(payload)),
	)
	return nil
}

// Subscribe registers a handler for the topic and exposes it as a channel.
// The channel is closed when the subscription is closed or when the MQTT
// session carrying it is lost; a new session does not inherit it.
func (b *MQTTBroker) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	conn, err := b.client.Conn()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnect, err)
	}

	var (
		mu     sync.Mutex
		closed bool
	)
	messages := make(chan []byte, 64)

	// end closes messages once and reports whether this call did it
	end := func() bool {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return false
		}
		closed = true
		close(messages)
		return true
	}

	handler := func(_ paho.Client, msg paho.Message) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case messages <- msg.Payload():
		default:
			b.logger.Warn("MQTT subscriber buffer full, dropping message",
				slog.String("topic", topic),
			)
		}
	}

	if err := wait(ctx, conn.Subscribe(topic, b.qos, handler)); err != nil {
		return nil, fmt.Errorf("%w: subscribe %s: %v", ErrConnect, topic, err)
	}

	stopWatching := b.client.NotifyLost(conn, func(err error) {
		if end() {
			b.logger.Warn("MQTT session lost, ending subscription",
				slog.String("topic", topic),
				slog.Any("error", err),
			)
		}
	})

	return &subscription{
		messages: messages,
		closeFn: func() error {
			stopWatching()
			// Already ended by a lost session: nothing to unsubscribe from
			if !end() {
				return nil
			}
			return wait(context.Background(), conn.Unsubscribe(topic))
		},
	}, nil
}

// Close disconnects from the broker
func (b *MQTTBroker) Close() error {
	return b.client.Close()
}

// wait blocks on a paho token, bounded by ctx and a fixed timeout
func wait(ctx context.Context, token paho.Token) error {
	timer := time.NewTimer(mqttWaitTimeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("timed out after %s", mqttWaitTimeout)
	}
}
