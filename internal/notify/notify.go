// Package notify publishes job chunks to a publish/subscribe broker and lets
// readers subscribe to a single job's topic.
//
// Delivery is at-most-once: a failed publish is reported to the caller and
// never buffered or retried here.
package notify

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrConnect is returned when the broker cannot be reached
	ErrConnect = errors.New("broker connection failed")

	// ErrPublish is returned when the broker rejects or fails a publish
	ErrPublish = errors.New("broker publish failed")
)

// Publisher sends a payload to a topic
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Close() error
}

// Subscription delivers payloads published on one topic until closed
type Subscription interface {
	Messages() <-chan []byte
	Close() error
}

// Subscriber opens subscriptions on topics
type Subscriber interface {
	Subscribe(ctx context.Context, topic string) (Subscription, error)
}

// Broker is a backend that can both publish and subscribe
type Broker interface {
	Publisher
	Subscriber
}

// subscription is the channel-backed Subscription shared by the backends
type subscription struct {
	messages chan []byte
	closeFn  func() error
	once     sync.Once
	err      error
}

func (s *subscription) Messages() <-chan []byte {
	return s.messages
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.err = s.closeFn()
	})
	return s.err
}
