package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Backend names accepted by the queue, broker and completion sections
const (
	BackendRedis    = "redis"
	BackendRabbitMQ = "rabbitmq"
	BackendMQTT     = "mqtt"

	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// Config represents the complete application configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	RabbitMQ   RabbitMQConfig   `yaml:"rabbitmq"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Queue      QueueConfig      `yaml:"queue"`
	Broker     BrokerConfig     `yaml:"broker"`
	Completion CompletionConfig `yaml:"completion"`
	Logging    LoggingConfig    `yaml:"logging"`
	App        AppConfig        `yaml:"app"`
	Worker     WorkerConfig     `yaml:"worker"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration for the job ledger
type DatabaseConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Host        string        `yaml:"host"`
	Port        int           `yaml:"port"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
}

// ExchangeConfig holds the RabbitMQ exchange used for chunk notifications
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// MQTTConfig holds MQTT broker settings
type MQTTConfig struct {
	URL       string        `yaml:"url"`
	ClientID  string        `yaml:"client_id"`
	Username  string        `yaml:"username"`
	Password  string        `yaml:"password"`
	TLS       bool          `yaml:"tls"`
	QoS       int           `yaml:"qos"`
	KeepAlive time.Duration `yaml:"keep_alive"`
}

// QueueConfig selects the queue store used to hand jobs to the worker
type QueueConfig struct {
	Backend      string        `yaml:"backend"`
	Name         string        `yaml:"name"`
	PollInterval time.Duration `yaml:"poll_interval"`
	Reliable     bool          `yaml:"reliable"`
}

// BrokerConfig selects the publish/subscribe backend for chunk notifications
type BrokerConfig struct {
	Backend         string `yaml:"backend"`
	TopicPrefix     string `yaml:"topic_prefix"`
	TerminalMarkers bool   `yaml:"terminal_markers"`
}

// CompletionConfig holds the upstream completion provider settings
type CompletionConfig struct {
	Provider string `yaml:"provider"`
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
	Model    string `yaml:"model"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	ID              string        `yaml:"id"`
	Concurrency     int           `yaml:"concurrency"`
	JobTimeout      time.Duration `yaml:"job_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Load reads and parses the configuration file.
// ${VAR} references are expanded from the environment before parsing.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(expanded), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// Validate checks the sections shared by both services
func (c *Config) Validate() error {
	if c.Database.Enabled {
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}

		if c.Database.Port < MinPort || c.Database.Port > MaxPort {
			return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
		}

		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	}

	switch c.Queue.Backend {
	case BackendRedis, BackendRabbitMQ:
	default:
		return fmt.Errorf("unsupported queue backend: %q", c.Queue.Backend)
	}

	if c.Queue.Name == "" {
		return fmt.Errorf("queue name is required")
	}

	switch c.Broker.Backend {
	case BackendRedis, BackendRabbitMQ, BackendMQTT:
	default:
		return fmt.Errorf("unsupported broker backend: %q", c.Broker.Backend)
	}

	if c.usesBackend(BackendRedis) {
		if c.Redis.Host == "" {
			return fmt.Errorf("redis host is required")
		}

		if c.Redis.Port < MinPort || c.Redis.Port > MaxPort {
			return fmt.Errorf("invalid redis port: %d (must be between %d and %d)", c.Redis.Port, MinPort, MaxPort)
		}
	}

	if c.usesBackend(BackendRabbitMQ) {
		if c.RabbitMQ.Host == "" {
			return fmt.Errorf("rabbitmq host is required")
		}

		if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
			return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
		}

		if c.Broker.Backend == BackendRabbitMQ && c.RabbitMQ.Exchange.Name == "" {
			return fmt.Errorf("rabbitmq exchange name is required")
		}
	}

	if c.Broker.Backend == BackendMQTT {
		if c.MQTT.URL == "" {
			return fmt.Errorf("mqtt url is required")
		}

		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			return fmt.Errorf("invalid mqtt qos: %d (must be 0, 1 or 2)", c.MQTT.QoS)
		}
	}

	return nil
}

// ValidateAPIConfig checks the configuration needed by the api-service
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	return c.Validate()
}

// ValidateWorkerConfig checks the configuration needed by the worker-service
func (c *Config) ValidateWorkerConfig() error {
	if c.Worker.Concurrency < 0 {
		return fmt.Errorf("worker concurrency must not be negative")
	}

	if c.Worker.JobTimeout < 0 {
		return fmt.Errorf("worker job_timeout must not be negative")
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	if c.Queue.PollInterval <= 0 {
		return fmt.Errorf("queue poll_interval must be greater than 0")
	}

	switch c.Completion.Provider {
	case ProviderOpenAI, ProviderGemini:
	default:
		return fmt.Errorf("unsupported completion provider: %q", c.Completion.Provider)
	}

	if c.Completion.APIKey == "" {
		return fmt.Errorf("completion api_key is required")
	}

	if c.Completion.Model == "" {
		return fmt.Errorf("completion model is required")
	}

	return c.Validate()
}

func (c *Config) usesBackend(name string) bool {
	return c.Queue.Backend == name || c.Broker.Backend == name
}
