package pubsub

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// MemoryTransport is an in-process Transport for tests and local runs.
// Publish delivers to every subscriber of the topic before returning.
type MemoryTransport struct {
	mu     sync.RWMutex
	subs   map[string]map[*memorySubscription]struct{}
	closed bool
	logger *slog.Logger
}

// NewMemory creates an empty in-process transport.
func NewMemory(opts ...Option) *MemoryTransport {
	o := buildOptions(opts)
	return &MemoryTransport{
		subs:   make(map[string]map[*memorySubscription]struct{}),
		logger: o.logger,
	}
}

// Publish hands payload to each subscriber of topic. A topic without
// subscribers drops the message and returns ErrNoSubscribers.
func (t *MemoryTransport) Publish(ctx context.Context, topic string, payload []byte) error {
	t.mu.RLock()
	if t.closed {
		t.mu.RUnlock()
		return ErrTransportClosed
	}
	targets := make([]*memorySubscription, 0, len(t.subs[topic]))
	for s := range t.subs[topic] {
		targets = append(targets, s)
	}
	t.mu.RUnlock()

	if len(targets) == 0 {
		return fmt.Errorf("publish to %s: %w", topic, ErrNoSubscribers)
	}
	for _, s := range targets {
		s.deliver(ctx, Message{Topic: topic, Payload: append([]byte(nil), payload...)})
	}
	return nil
}

// Subscribe registers h on topic.
func (t *MemoryTransport) Subscribe(_ context.Context, topic string, h Handler) (Subscription, error) {
	if h == nil {
		return nil, fmt.Errorf("handler is required")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrTransportClosed
	}

	s := &memorySubscription{transport: t, topic: topic, handler: h}
	if t.subs[topic] == nil {
		t.subs[topic] = make(map[*memorySubscription]struct{})
	}
	t.subs[topic][s] = struct{}{}
	return s, nil
}

// Subscribers reports how many active subscriptions topic has.
func (t *MemoryTransport) Subscribers(topic string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subs[topic])
}

// Close rejects further calls and drops all subscriptions.
func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.subs = make(map[string]map[*memorySubscription]struct{})
	return nil
}

func (t *MemoryTransport) remove(s *memorySubscription) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.subs[s.topic], s)
	if len(t.subs[s.topic]) == 0 {
		delete(t.subs, s.topic)
	}
}

type memorySubscription struct {
	transport *MemoryTransport
	topic     string
	handler   Handler

	mu       sync.RWMutex
	closed   bool
	inflight sync.WaitGroup
}

func (s *memorySubscription) deliver(ctx context.Context, m Message) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return
	}
	s.inflight.Add(1)
	s.mu.RUnlock()

	defer s.inflight.Done()
	dispatch(context.WithoutCancel(ctx), s.transport.logger, s.handler, m)
}

// Close stops delivery and waits for handlers already running.
func (s *memorySubscription) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.transport.remove(s)
	s.inflight.Wait()
	return nil
}
