// Package pubsub carries request and response envelopes between services.
//
// Delivery is at-most-once: a message published while nobody is subscribed
// is lost, and Publish reports ErrNoSubscribers. Handlers run concurrently,
// one goroutine per message, so ordering across messages is not preserved.
package pubsub

import (
	"context"
	"errors"
	"fmt"

	"github.com/tsaxking/uuid-microservice/pkg/platform/sentinel"
)

var (
	// ErrTransportClosed is returned for calls made after Close.
	ErrTransportClosed = fmt.Errorf("pubsub transport %w", sentinel.ErrClosed)
	// ErrNoSubscribers is returned by Publish when nobody received the message.
	ErrNoSubscribers = errors.New("no subscribers")
)

// Message is a single delivery on a topic.
type Message struct {
	Topic   string
	Payload []byte
}

// Handler processes one message. It must not assume any ordering relative to
// other messages on the same topic.
type Handler func(ctx context.Context, msg Message)

// Subscription is an active registration on a topic.
type Subscription interface {
	// Close stops delivery and waits for in-flight handlers to return.
	Close() error
}

// Transport publishes and subscribes to named topics.
type Transport interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, topic string, h Handler) (Subscription, error)
}
