package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrNotConnected is returned once the client has been closed
var ErrNotConnected = errors.New("not connected to RabbitMQ")

// Config holds RabbitMQ connection configuration
type Config struct {
	Host              string
	Port              int
	User              string
	Password          string
	VHost             string
	Heartbeat         time.Duration
	ConnectionTimeout time.Duration

	// Exchange is declared on every (re)connect when Name is set
	Exchange ExchangeOptions

	Dial    Backoff
	Publish Backoff

	// Lazy returns the client even when the first dial fails; the next call
	// to Channel dials again
	Lazy bool
}

// ExchangeOptions describes the notification exchange
type ExchangeOptions struct {
	Name       string
	Type       string
	Durable    bool
	AutoDelete bool
}

// Backoff describes how often an operation is attempted and how the pause
// between attempts grows. A Multiplier of 0 keeps the delay constant.
type Backoff struct {
	Attempts   int
	Delay      time.Duration
	Multiplier float64
}

// run calls fn until it succeeds, the attempts are used up or ctx ends
func (b Backoff) run(ctx context.Context, logger *slog.Logger, op string, fn func() error) error {
	attempts := max(b.Attempts, 1)
	delay := b.Delay

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(); err == nil {
			if attempt > 1 {
				logger.Info("RabbitMQ operation succeeded after retry",
					slog.String("op", op),
					slog.Int("attempt", attempt),
				)
			}
			return nil
		}

		if attempt == attempts {
			break
		}

		logger.Warn("RabbitMQ operation failed, retrying",
			slog.String("op", op),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
			slog.Duration("retry_after", delay),
			slog.Any("error", err),
		)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s canceled: %w", op, ctx.Err())
		}

		if b.Multiplier > 0 {
			delay = time.Duration(float64(delay) * b.Multiplier)
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", op, attempts, err)
}

// Client is a RabbitMQ connection with a shared channel. Both are
// re-established on demand when the broker drops them.
type Client struct {
	config *Config
	logger *slog.Logger

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
	closed  bool
}

// NewClient dials the broker and declares the notification exchange
func NewClient(config *Config, logger *slog.Logger) (*Client, error) {
	c := &Client{config: config, logger: logger}

	c.mu.Lock()
	err := c.dialLocked()
	c.mu.Unlock()
	if err != nil {
		if config.Lazy {
			logger.Warn("RabbitMQ not reachable yet, will dial on first use",
				slog.String("host", config.Host),
				slog.Any("error", err),
			)
			return c, nil
		}
		return nil, fmt.Errorf("failed to create RabbitMQ client: %w", err)
	}

	return c, nil
}

// url builds the AMQP URL, escaping credentials
func (c *Client) url() string {
	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(c.config.User, c.config.Password),
		Host:   c.config.Host + ":" + strconv.Itoa(c.config.Port),
		Path:   c.config.VHost,
	}
	return u.String()
}

// dialLocked opens a fresh connection and channel. Caller holds mu.
func (c *Client) dialLocked() error {
	amqpConfig := amqp.Config{Heartbeat: c.config.Heartbeat, Locale: "en_US"}
	if c.config.ConnectionTimeout > 0 {
		amqpConfig.Dial = amqp.DefaultDial(c.config.ConnectionTimeout)
	}

	var conn *amqp.Connection
	err := c.config.Dial.run(context.Background(), c.logger, "dial", func() error {
		var err error
		conn, err = amqp.DialConfig(c.url(), amqpConfig)
		return err
	})
	if err != nil {
		return err
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create channel: %w", err)
	}

	if err := c.declareExchange(channel); err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("failed to declare exchange %s: %w", c.config.Exchange.Name, err)
	}

	c.conn = conn
	c.channel = channel

	c.logger.Info("Connected to RabbitMQ",
		slog.String("host", c.config.Host),
		slog.String("exchange", c.config.Exchange.Name),
	)
	return nil
}

func (c *Client) declareExchange(channel *amqp.Channel) error {
	ex := c.config.Exchange
	if ex.Name == "" {
		return nil
	}

	kind := ex.Type
	if kind == "" {
		kind = amqp.ExchangeTopic
	}

	return channel.ExchangeDeclare(ex.Name, kind, ex.Durable, ex.AutoDelete, false, false, nil)
}

// Channel returns the shared channel, reopening it or the whole connection
// if the broker closed them
func (c *Client) Channel() (*amqp.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrNotConnected
	}

	if c.channel != nil && !c.channel.IsClosed() {
		return c.channel, nil
	}

	if c.conn != nil && !c.conn.IsClosed() {
		if channel, err := c.conn.Channel(); err == nil {
			c.channel = channel
			return channel, nil
		}
		c.conn.Close()
	}

	if c.conn != nil {
		c.logger.Warn("RabbitMQ connection lost, redialing")
	}
	if err := c.dialLocked(); err != nil {
		return nil, err
	}
	return c.channel, nil
}

// OpenChannel opens a dedicated channel for a long-lived consumer
func (c *Client) OpenChannel() (*amqp.Channel, error) {
	if _, err := c.Channel(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	channel, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	return channel, nil
}

// ExchangeName returns the configured notification exchange
func (c *Client) ExchangeName() string {
	return c.config.Exchange.Name
}

// DeclareQueue declares a durable work queue
func (c *Client) DeclareQueue(name string) error {
	channel, err := c.Channel()
	if err != nil {
		return err
	}

	if _, err := channel.QueueDeclare(name, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", name, err)
	}
	return nil
}

// Publish sends one persistent message without retrying
func (c *Client) Publish(ctx context.Context, exchange, routingKey string, body []byte, contentType string) error {
	channel, err := c.Channel()
	if err != nil {
		return err
	}

	msg := amqp.Publishing{
		ContentType:  contentType,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	}
	if err := channel.PublishWithContext(ctx, exchange, routingKey, false, false, msg); err != nil {
		return fmt.Errorf("failed to publish to %q: %w", routingKey, err)
	}

	c.logger.Debug("Published to RabbitMQ",
		slog.String("exchange", exchange),
		slog.String("routing_key", routingKey),
		slog.Int("bytes", len(body)),
	)
	return nil
}

// PublishWithRetry publishes using the configured publish backoff
func (c *Client) PublishWithRetry(ctx context.Context, exchange, routingKey string, body []byte, contentType string) error {
	return c.config.Publish.run(ctx, c.logger, "publish", func() error {
		return c.Publish(ctx, exchange, routingKey, body, contentType)
	})
}

// Get performs a non-blocking basic.get. ok is false when the queue is empty.
func (c *Client) Get(queue string, autoAck bool) (amqp.Delivery, bool, error) {
	channel, err := c.Channel()
	if err != nil {
		return amqp.Delivery{}, false, err
	}

	delivery, ok, err := channel.Get(queue, autoAck)
	if err != nil {
		return amqp.Delivery{}, false, fmt.Errorf("failed to get message from %s: %w", queue, err)
	}
	return delivery, ok, nil
}

// Close shuts the channel and connection. Later calls to Channel fail with ErrNotConnected.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true

	var errs []error
	if c.channel != nil {
		if err := c.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, fmt.Errorf("close channel: %w", err))
		}
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, fmt.Errorf("close connection: %w", err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		c.logger.Error("Failed to close RabbitMQ client", slog.Any("error", err))
		return err
	}

	c.logger.Info("RabbitMQ connection closed")
	return nil
}

// IsConnected reports whether the connection is open
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && c.conn != nil && !c.conn.IsClosed()
}
