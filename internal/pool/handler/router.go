// Package handler serves reserve requests arriving over the pub/sub transport.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tsaxking/uuid-microservice/internal/platform/logger"
	"github.com/tsaxking/uuid-microservice/internal/platform/pubsub"
	"github.com/tsaxking/uuid-microservice/internal/pool/metrics"
	"github.com/tsaxking/uuid-microservice/internal/pool/models"
	"github.com/tsaxking/uuid-microservice/internal/pool/ports"
	"github.com/tsaxking/uuid-microservice/pkg/platform/tx"
	"github.com/tsaxking/uuid-microservice/pkg/requestcontext"
)

// Subscriber is the inbound half of a pub/sub transport.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string, h pubsub.Handler) (pubsub.Subscription, error)
}

// Router answers reserve requests on query:<service>:reserve.
type Router struct {
	topic     string
	reserver  ports.Reserver
	publisher ports.Publisher
	tx        ports.Transactor
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer

	// seq numbers responses; the first one published carries 1.
	seq atomic.Uint64
}

// Option configures the Router.
type Option func(*Router)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) {
		r.logger = l
	}
}

// WithTransactor runs each reservation in its own transaction. The reply is
// published only after that transaction commits, so a reply never carries
// identifiers that are still in the pool.
func WithTransactor(t ports.Transactor) Option {
	return func(r *Router) {
		r.tx = t
	}
}

// WithMetrics records request outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Router) {
		r.metrics = m
	}
}

// NewRouter builds a Router for serviceName.
func NewRouter(serviceName string, reserver ports.Reserver, publisher ports.Publisher, opts ...Option) (*Router, error) {
	if serviceName == "" {
		return nil, fmt.Errorf("service name is required")
	}
	if reserver == nil {
		return nil, fmt.Errorf("reserver is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	r := &Router{
		topic:     models.ReserveTopic(serviceName),
		reserver:  reserver,
		publisher: publisher,
		tx:        tx.Direct{},
		logger:    logger.Discard(),
		tracer:    otel.Tracer("github.com/tsaxking/uuid-microservice/internal/pool/handler"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Topic is the inbound topic the router listens on.
func (r *Router) Topic() string {
	return r.topic
}

// Start subscribes the router to its topic. Closing the returned subscription
// stops intake and waits for in-flight requests.
func (r *Router) Start(ctx context.Context, sub Subscriber) (pubsub.Subscription, error) {
	s, err := sub.Subscribe(ctx, r.topic, r.HandleMessage)
	if err != nil {
		return nil, fmt.Errorf("start request router: %w", err)
	}
	r.logger.InfoContext(ctx, "request router listening", "topic", r.topic)
	return s, nil
}

// HandleMessage is the pubsub.Handler for the reserve topic. Every failure is
// logged and the message dropped; nothing propagates to the transport.
func (r *Router) HandleMessage(ctx context.Context, msg pubsub.Message) {
	_ = r.Handle(ctx, msg.Payload)
}

// Handle processes one request payload. At most one response is published.
// The returned error classifies why no response was sent.
func (r *Router) Handle(ctx context.Context, payload []byte) error {
	ctx, span := r.tracer.Start(ctx, "pool.reserve", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()
	start := time.Now()

	req, err := ParseRequest(payload)
	if err != nil {
		outcome := metrics.OutcomeInvalid
		if errors.Is(err, ErrMalformedEnvelope) {
			outcome = metrics.OutcomeMalformed
		}
		r.metrics.IncRequest(outcome)
		if errors.Is(err, ErrUnsupportedChannel) {
			// The requester is waiting on a channel we refuse to publish to.
			r.logger.ErrorContext(ctx, "dropping reserve request with unsupported response channel",
				"topic", r.topic,
				"error", err,
			)
		} else {
			r.logger.WarnContext(ctx, "dropping reserve request",
				"topic", r.topic,
				"reason", outcome,
				"error", err,
			)
		}
		span.SetStatus(codes.Error, outcome)
		return err
	}

	ctx = requestcontext.WithRequestID(ctx, req.Envelope.RequestID)
	span.SetAttributes(
		attribute.String("request.id", req.Envelope.RequestID),
		attribute.Int("reserve.count", req.Count),
	)

	var ids []string
	err = r.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		ids, err = r.reserver.Reserve(ctx, req.Count)
		return err
	})
	if err != nil {
		r.metrics.IncRequest(metrics.OutcomeFailed)
		span.RecordError(err)
		span.SetStatus(codes.Error, "reserve failed")
		r.logger.ErrorContext(ctx, "reservation failed, no response sent",
			"request_id", requestcontext.RequestID(ctx),
			"count", req.Count,
			"error", err,
		)
		return err
	}

	if ids == nil {
		ids = []string{}
	}
	resp := models.ResponseEnvelope{
		Data: ids,
		Date: models.FormatDate(requestcontext.Now(ctx)),
		ID:   r.seq.Add(1),
	}
	body, err := json.Marshal(resp)
	if err == nil {
		err = r.publisher.Publish(ctx, req.Envelope.ResponseChannel, body)
	}
	if err != nil {
		// The reservation is committed; these identifiers are gone.
		r.metrics.IncRequest(metrics.OutcomeFailed)
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish failed")
		r.logger.ErrorContext(ctx, "publish response failed, reserved identifiers lost",
			"request_id", requestcontext.RequestID(ctx),
			"response_channel", req.Envelope.ResponseChannel,
			"lost", len(ids),
			"error", err,
		)
		return fmt.Errorf("publish response: %w", err)
	}

	r.metrics.IncRequest(metrics.OutcomeServed)
	span.SetAttributes(attribute.Int("reserve.served", len(ids)), attribute.Int64("response.id", int64(resp.ID)))
	r.logger.InfoContext(ctx, "reserve request served",
		"request_id", requestcontext.RequestID(ctx),
		"requested", req.Count,
		"served", len(ids),
		"response_id", resp.ID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}
