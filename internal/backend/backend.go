// Package backend builds the queue store, notification broker and completion
// executor selected in the configuration. Broker clients are opened once and
// shared between the queue and the broker when both use the same backend.
package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/completion-relay/internal/completion"
	"github.com/cuongbtq/completion-relay/internal/config"
	"github.com/cuongbtq/completion-relay/internal/notify"
	"github.com/cuongbtq/completion-relay/internal/queue"
	"github.com/cuongbtq/completion-relay/shared/mqtt"
	"github.com/cuongbtq/completion-relay/shared/rabbitmq"
	"github.com/cuongbtq/completion-relay/shared/redis"
)

const defaultClientID = "completion-relay"

// Process roles. The worker connects to Redis and RabbitMQ lazily so that it
// starts, and keeps polling, while they are down; the api fails fast.
const (
	RoleAPI    = "api"
	RoleWorker = "worker"
)

// Connections owns the broker clients of one process
type Connections struct {
	cfg    *config.Config
	role   string
	logger *slog.Logger

	mu     sync.Mutex
	redis  *redis.Client
	rabbit *rabbitmq.Client
	mqtt   *mqtt.Client
}

// NewConnections creates an empty set of connections. role distinguishes the
// processes sharing one broker, RoleAPI or RoleWorker.
func NewConnections(cfg *config.Config, role string, logger *slog.Logger) *Connections {
	return &Connections{
		cfg:    cfg,
		role:   role,
		logger: logger,
	}
}

// Queue opens the configured queue store. consumerID names the reliable-mode
// processing list and is ignored otherwise.
func (c *Connections) Queue(consumerID string) (queue.Store, error) {
	logger := c.logger.With(slog.String("component", "queue"))

	switch c.cfg.Queue.Backend {
	case config.BackendRedis:
		client, err := c.redisClient()
		if err != nil {
			return nil, err
		}
		return queue.NewRedisStore(client.GetClient(), queue.RedisOptions{
			Name:       c.cfg.Queue.Name,
			ConsumerID: consumerID,
			Reliable:   c.cfg.Queue.Reliable,
		}, logger), nil

	case config.BackendRabbitMQ:
		client, err := c.rabbitClient()
		if err != nil {
			return nil, err
		}
		return queue.NewRabbitMQStore(client, c.cfg.Queue.Name, c.cfg.Queue.Reliable, logger), nil

	default:
		return nil, fmt.Errorf("unsupported queue backend: %q", c.cfg.Queue.Backend)
	}
}

// Broker opens the configured notification broker
func (c *Connections) Broker() (notify.Broker, error) {
	logger := c.logger.With(slog.String("component", "notify"))

	switch c.cfg.Broker.Backend {
	case config.BackendMQTT:
		return notify.NewMQTTBroker(c.mqttClient(), c.cfg.MQTT.QoS, logger), nil

	case config.BackendRedis:
		client, err := c.redisClient()
		if err != nil {
			return nil, err
		}
		return notify.NewRedisBroker(client.GetClient(), logger), nil

	case config.BackendRabbitMQ:
		client, err := c.rabbitClient()
		if err != nil {
			return nil, err
		}
		return notify.NewRabbitMQBroker(client, logger), nil

	default:
		return nil, fmt.Errorf("unsupported broker backend: %q", c.cfg.Broker.Backend)
	}
}

// HealthChecks returns one reachability check per opened client
func (c *Connections) HealthChecks() map[string]func(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	checks := make(map[string]func(ctx context.Context) error)

	if c.redis != nil {
		checks["redis"] = c.redis.HealthCheck
	}

	if c.rabbit != nil {
		rabbit := c.rabbit
		checks["rabbitmq"] = func(context.Context) error {
			if !rabbit.IsConnected() {
				return rabbitmq.ErrNotConnected
			}
			return nil
		}
	}

	if c.mqtt != nil {
		client := c.mqtt
		checks["mqtt"] = func(context.Context) error {
			_, err := client.Conn()
			return err
		}
	}

	return checks
}

// Close closes every opened client
func (c *Connections) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	if c.mqtt != nil {
		errs = append(errs, c.mqtt.Close())
	}
	if c.rabbit != nil {
		errs = append(errs, c.rabbit.Close())
	}
	if c.redis != nil {
		errs = append(errs, c.redis.Close())
	}
	return errors.Join(errs...)
}

func (c *Connections) lazy() bool {
	return c.role == RoleWorker
}

func (c *Connections) redisClient() (*redis.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.redis != nil {
		return c.redis, nil
	}

	client, err := redis.NewClient(&redis.Config{
		Host:        c.cfg.Redis.Host,
		Port:        c.cfg.Redis.Port,
		Username:    c.cfg.Redis.Username,
		Password:    c.cfg.Redis.Password,
		DB:          c.cfg.Redis.DB,
		DialTimeout: c.cfg.Redis.DialTimeout,
		Lazy:        c.lazy(),
	}, c.logger)
	if err != nil {
		return nil, err
	}

	c.redis = client
	return client, nil
}

func (c *Connections) rabbitClient() (*rabbitmq.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.rabbit != nil {
		return c.rabbit, nil
	}

	rc := c.cfg.RabbitMQ
	client, err := rabbitmq.NewClient(&rabbitmq.Config{
		Host:              rc.Host,
		Port:              rc.Port,
		User:              rc.User,
		Password:          rc.Password,
		VHost:             rc.VHost,
		Heartbeat:         rc.Connection.Heartbeat,
		ConnectionTimeout: rc.Connection.ConnectionTimeout,
		Exchange: rabbitmq.ExchangeOptions{
			Name:       rc.Exchange.Name,
			Type:       rc.Exchange.Type,
			Durable:    rc.Exchange.Durable,
			AutoDelete: rc.Exchange.AutoDelete,
		},
		Dial: rabbitmq.Backoff{
			Attempts: rc.Connection.RetryAttempts,
			Delay:    rc.Connection.RetryInterval,
		},
		Publish: publishBackoff(rc.Publish),
		Lazy:    c.lazy(),
	}, c.logger)
	if err != nil {
		return nil, err
	}

	c.rabbit = client
	return client, nil
}

func (c *Connections) mqttClient() *mqtt.Client {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mqtt != nil {
		return c.mqtt
	}

	c.mqtt = mqtt.NewClient(&mqtt.Config{
		URL:       c.cfg.MQTT.URL,
		ClientID:  ClientID(c.cfg.MQTT.ClientID, c.role),
		Username:  c.cfg.MQTT.Username,
		Password:  c.cfg.MQTT.Password,
		TLS:       c.cfg.MQTT.TLS,
		KeepAlive: c.cfg.MQTT.KeepAlive,
	}, c.logger)
	return c.mqtt
}

// ClientID derives a broker client id unique to this process. Two sessions
// with the same id would keep disconnecting each other.
func ClientID(base, role string) string {
	if base == "" {
		base = defaultClientID
	}
	return fmt.Sprintf("%s-%s-%s", base, role, uuid.NewString()[:8])
}

// NewExecutor builds the configured completion executor
func NewExecutor(ctx context.Context, cfg *config.CompletionConfig, logger *slog.Logger) (completion.Executor, error) {
	logger = logger.With(slog.String("component", "completion"), slog.String("provider", cfg.Provider))

	switch cfg.Provider {
	case config.ProviderOpenAI:
		return completion.NewOpenAIExecutor(completion.OpenAIConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
		}, logger), nil

	case config.ProviderGemini:
		return completion.NewGeminiExecutor(ctx, completion.GeminiConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
		}, logger)

	default:
		return nil, fmt.Errorf("unsupported completion provider: %q", cfg.Provider)
	}
}

// publishBackoff fills in 4 attempts starting at 100ms and doubling
func publishBackoff(cfg config.PublishConfig) rabbitmq.Backoff {
	b := rabbitmq.Backoff{
		Attempts:   cfg.RetryAttempts + 1,
		Delay:      cfg.RetryInterval,
		Multiplier: cfg.BackoffMultiplier,
	}
	if cfg.RetryAttempts <= 0 {
		b.Attempts = 4
	}
	if b.Delay <= 0 {
		b.Delay = 100 * time.Millisecond
	}
	if b.Multiplier <= 0 {
		b.Multiplier = 2
	}
	return b
}
