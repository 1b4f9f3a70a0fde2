package mqtt

import (
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// ErrNotConnected is returned when the client has been closed
var ErrNotConnected = errors.New("not connected to MQTT")

// ErrSessionLost is passed to loss listeners when a session is replaced
// without the broker reporting the drop
var ErrSessionLost = errors.New("MQTT session lost")

// Config holds MQTT broker configuration
type Config struct {
	URL            string
	ClientID       string
	Username       string
	Password       string
	TLS            bool
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
}

// Factory builds a paho client from options. paho.NewClient is the default.
type Factory func(opts *paho.ClientOptions) paho.Client

// Option customizes a Client
type Option func(c *Client)

// WithFactory replaces the paho client constructor
func WithFactory(f Factory) Option {
	return func(c *Client) {
		c.factory = f
	}
}

// Client wraps a paho client. Connect is lazy: every call to Conn reuses the
// live session or dials a new one. Subscriptions belong to a session, so
// anything subscribed on it can register with NotifyLost to learn when that
// session ends.
type Client struct {
	config  *Config
	logger  *slog.Logger
	factory Factory

	mu        sync.Mutex
	client    paho.Client
	closed    bool
	listeners map[uint64]func(error)
	nextID    uint64
}

// NewClient creates a new MQTT client without connecting
func NewClient(config *Config, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		config:    config,
		logger:    logger,
		factory:   paho.NewClient,
		listeners: make(map[uint64]func(error)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) options() *paho.ClientOptions {
	keepAlive := c.config.KeepAlive
	if keepAlive <= 0 {
		keepAlive = 20 * time.Second
	}

	opts := paho.NewClientOptions().
		AddBroker(c.config.URL).
		SetClientID(c.config.ClientID).
		SetUsername(c.config.Username).
		SetPassword(c.config.Password).
		SetKeepAlive(keepAlive).
		SetConnectTimeout(c.connectTimeout()).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectionLostHandler(c.connectionLost)

	if c.config.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	return opts
}

// Conn returns a connected paho client, connecting if needed. A session that
// dropped is replaced, and its listeners are told before the new one dials.
func (c *Client) Conn() (paho.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrNotConnected
	}

	if c.client != nil && c.client.IsConnected() {
		return c.client, nil
	}

	if c.client != nil {
		notify(c.detachLocked(), ErrSessionLost)
	}

	client := c.factory(c.options())
	token := client.Connect()
	if !token.WaitTimeout(c.connectTimeout()) {
		return nil, fmt.Errorf("timed out connecting to MQTT broker %s", c.config.URL)
	}
	if err := token.Error(); err != nil {
		c.logger.Error("Unable to connect to MQTT",
			slog.String("url", c.config.URL),
			slog.Any("error", err),
		)
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}

	c.logger.Info("Connected to MQTT broker",
		slog.String("url", c.config.URL),
		slog.String("client_id", c.config.ClientID),
	)

	c.client = client
	return client, nil
}

// NotifyLost registers fn to run once when session ends, either because the
// broker dropped it or because the client was closed. If session is already
// gone, fn runs before NotifyLost returns. fn must not call back into the
// Client. The returned func deregisters fn.
func (c *Client) NotifyLost(session paho.Client, fn func(err error)) (cancel func()) {
	c.mu.Lock()
	if c.closed || c.client != session {
		c.mu.Unlock()
		fn(ErrSessionLost)
		return func() {}
	}

	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// connectionLost is paho's connection-lost handler
func (c *Client) connectionLost(lost paho.Client, err error) {
	c.mu.Lock()
	if lost != c.client {
		c.mu.Unlock()
		return
	}
	listeners := c.detachLocked()
	c.mu.Unlock()

	c.logger.Warn("MQTT connection lost",
		slog.Int("subscriptions", len(listeners)),
		slog.Any("error", err),
	)
	notify(listeners, err)
}

// detachLocked forgets the current session and hands back its listeners.
// Caller holds mu.
func (c *Client) detachLocked() []func(error) {
	c.client = nil

	listeners := make([]func(error), 0, len(c.listeners))
	for id, fn := range c.listeners {
		listeners = append(listeners, fn)
		delete(c.listeners, id)
	}
	return listeners
}

func notify(listeners []func(error), err error) {
	for _, fn := range listeners {
		fn(err)
	}
}

func (c *Client) connectTimeout() time.Duration {
	if c.config.ConnectTimeout > 0 {
		return c.config.ConnectTimeout
	}
	return 10 * time.Second
}

// Close disconnects from the broker and ends every tracked subscription
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	session := c.client
	listeners := c.detachLocked()
	c.mu.Unlock()

	notify(listeners, ErrNotConnected)

	if session != nil && session.IsConnected() {
		session.Disconnect(250)
		c.logger.Info("MQTT connection closed")
	}
	return nil
}
