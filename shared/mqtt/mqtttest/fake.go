// Package mqtttest provides an in-memory paho client for tests
package mqtttest

import (
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// Token is a paho token that is already complete
type Token struct {
	err  error
	done chan struct{}
}

// CompletedToken returns a finished token carrying err
func CompletedToken(err error) *Token {
	done := make(chan struct{})
	close(done)
	return &Token{err: err, done: done}
}

func (t *Token) Wait() bool                     { return true }
func (t *Token) WaitTimeout(time.Duration) bool { return true }
func (t *Token) Done() <-chan struct{}          { return t.done }
func (t *Token) Error() error                   { return t.err }

// Message is a received MQTT message
type Message struct {
	topic   string
	payload []byte
}

func (m *Message) Duplicate() bool   { return false }
func (m *Message) Qos() byte         { return 0 }
func (m *Message) Retained() bool    { return false }
func (m *Message) Topic() string     { return m.topic }
func (m *Message) MessageID() uint16 { return 0 }
func (m *Message) Payload() []byte   { return m.payload }
func (m *Message) Ack()              {}

// Published is one recorded publish
type Published struct {
	Topic   string
	Payload []byte
}

// Client is an in-memory paho.Client. Messages published on a topic are
// delivered to the handler subscribed to exactly that topic.
type Client struct {
	mu           sync.Mutex
	opts         *paho.ClientOptions
	connectErr   error
	connected    bool
	handlers     map[string]paho.MessageHandler
	published    []Published
	unsubscribed []string
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) IsConnectionOpen() bool { return c.IsConnected() }

func (c *Client) Connect() paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connectErr == nil {
		c.connected = true
	}
	return CompletedToken(c.connectErr)
}

func (c *Client) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
}

func (c *Client) Publish(topic string, _ byte, _ bool, payload interface{}) paho.Token {
	c.mu.Lock()
	body, _ := payload.([]byte)
	c.published = append(c.published, Published{Topic: topic, Payload: body})
	handler := c.handlers[topic]
	c.mu.Unlock()

	if handler != nil {
		handler(c, &Message{topic: topic, payload: body})
	}
	return CompletedToken(nil)
}

func (c *Client) Subscribe(topic string, _ byte, callback paho.MessageHandler) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[topic] = callback
	return CompletedToken(nil)
}

func (c *Client) SubscribeMultiple(filters map[string]byte, callback paho.MessageHandler) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	for topic := range filters {
		c.handlers[topic] = callback
	}
	return CompletedToken(nil)
}

func (c *Client) Unsubscribe(topics ...string) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, topic := range topics {
		delete(c.handlers, topic)
		c.unsubscribed = append(c.unsubscribed, topic)
	}
	return CompletedToken(nil)
}

func (c *Client) AddRoute(topic string, callback paho.MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[topic] = callback
}

func (c *Client) OptionsReader() paho.ClientOptionsReader {
	return paho.NewOptionsReader(c.opts)
}

// Drop marks the connection as gone and fires the connection-lost handler
func (c *Client) Drop(err error) {
	c.mu.Lock()
	c.connected = false
	handler := c.opts.OnConnectionLost
	c.mu.Unlock()

	if handler != nil {
		handler(c, err)
	}
}

// Published returns every publish seen so far
func (c *Client) Published() []Published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Published(nil), c.published...)
}

// Unsubscribed returns the topics unsubscribed so far
func (c *Client) Unsubscribed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.unsubscribed...)
}

// ClientID returns the client id the options were built with
func (c *Client) ClientID() string {
	return c.opts.ClientID
}

// Factory hands out a new Client per dial and remembers them in order
type Factory struct {
	mu sync.Mutex

	// ConnectErr makes every subsequent dial fail
	ConnectErr error

	clients []*Client
}

// New satisfies mqtt.Factory
func (f *Factory) New(opts *paho.ClientOptions) paho.Client {
	f.mu.Lock()
	defer f.mu.Unlock()

	c := &Client{
		opts:       opts,
		connectErr: f.ConnectErr,
		handlers:   make(map[string]paho.MessageHandler),
	}
	f.clients = append(f.clients, c)
	return c
}

// Dials reports how many clients were created
func (f *Factory) Dials() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

// Last returns the most recently created client
func (f *Factory) Last() *Client {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.clients) == 0 {
		return nil
	}
	return f.clients[len(f.clients)-1]
}
