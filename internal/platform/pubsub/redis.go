package pubsub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/tsaxking/uuid-microservice/internal/platform/logger"
	"github.com/tsaxking/uuid-microservice/pkg/platform/sentinel"
)

// RedisTransport implements Transport on Redis PUBLISH/SUBSCRIBE.
type RedisTransport struct {
	client redis.UniversalClient
	logger *slog.Logger
}

// Option configures a transport.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sets the logger used for delivery failures.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

func buildOptions(opts []Option) options {
	o := options{logger: logger.Discard()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewRedis wraps an already connected client.
func NewRedis(client redis.UniversalClient, opts ...Option) (*RedisTransport, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	o := buildOptions(opts)
	return &RedisTransport{client: client, logger: o.logger}, nil
}

// Publish sends payload to every current subscriber of topic. It returns
// ErrNoSubscribers when Redis reports zero receivers.
func (t *RedisTransport) Publish(ctx context.Context, topic string, payload []byte) error {
	receivers, err := t.client.Publish(ctx, topic, payload).Result()
	if err != nil {
		if errors.Is(err, redis.ErrClosed) {
			return ErrTransportClosed
		}
		return fmt.Errorf("publish to %s: %w: %w", topic, sentinel.ErrUnavailable, err)
	}
	if receivers == 0 {
		return fmt.Errorf("publish to %s: %w", topic, ErrNoSubscribers)
	}
	return nil
}

// Subscribe registers h on topic and returns once Redis has confirmed the
// subscription, so a publish issued after Subscribe returns is delivered.
//
// Handlers receive a context detached from ctx's cancellation: shutting down
// the caller's context stops new deliveries via Close but lets handlers that
// already started finish their work.
func (t *RedisTransport) Subscribe(ctx context.Context, topic string, h Handler) (Subscription, error) {
	if h == nil {
		return nil, fmt.Errorf("handler is required")
	}

	ps := t.client.Subscribe(ctx, topic)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe to %s: %w: %w", topic, sentinel.ErrUnavailable, err)
	}

	sub := &redisSubscription{
		ps:     ps,
		topic:  topic,
		logger: t.logger,
		done:   make(chan struct{}),
	}
	go sub.loop(context.WithoutCancel(ctx), h)

	t.logger.DebugContext(ctx, "subscribed", "topic", topic)
	return sub, nil
}

type redisSubscription struct {
	ps       *redis.PubSub
	topic    string
	logger   *slog.Logger
	inflight sync.WaitGroup
	done     chan struct{}
	once     sync.Once
	closeErr error
}

func (s *redisSubscription) loop(ctx context.Context, h Handler) {
	defer close(s.done)
	for msg := range s.ps.Channel() {
		m := Message{Topic: msg.Channel, Payload: []byte(msg.Payload)}
		s.inflight.Add(1)
		go func() {
			defer s.inflight.Done()
			dispatch(ctx, s.logger, h, m)
		}()
	}
}

// Close unsubscribes, then blocks until every started handler has returned.
func (s *redisSubscription) Close() error {
	s.once.Do(func() {
		s.closeErr = s.ps.Close()
		<-s.done
		s.inflight.Wait()
	})
	return s.closeErr
}

// dispatch runs h and contains a panic to the one message that caused it.
func dispatch(ctx context.Context, log *slog.Logger, h Handler, m Message) {
	defer func() {
		if r := recover(); r != nil {
			log.ErrorContext(ctx, "message handler panicked",
				"topic", m.Topic,
				"panic", fmt.Sprint(r),
			)
		}
	}()
	h(ctx, m)
}
