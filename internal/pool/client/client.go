// Package client is the requester side of the reserve protocol: it publishes
// a request envelope and waits for the correlated response.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/tsaxking/uuid-microservice/internal/platform/logger"
	"github.com/tsaxking/uuid-microservice/internal/platform/pubsub"
	"github.com/tsaxking/uuid-microservice/internal/pool/models"
	"github.com/tsaxking/uuid-microservice/pkg/requestcontext"
)

// ErrNoResponse is returned when ctx ends before the service answers. The
// service drops invalid requests without replying, so this is also what an
// invalid request looks like from the caller's side.
var ErrNoResponse = errors.New("no response from pool service")

// Response is a decoded reply.
type Response struct {
	IDs  []string
	ID   uint64
	Date string
}

// Client reserves identifiers from a running pool service.
type Client struct {
	service   string
	transport pubsub.Transport
	logger    *slog.Logger
	seq       atomic.Int64
}

// Option configures the Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// New creates a client for the pool service named service.
func New(service string, transport pubsub.Transport, opts ...Option) (*Client, error) {
	if service == "" {
		return nil, fmt.Errorf("service name is required")
	}
	if transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	c := &Client{service: service, transport: transport, logger: logger.Discard()}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Reserve asks for count identifiers and blocks until the reply arrives or
// ctx is done. Callers should bound ctx with a deadline.
func (c *Client) Reserve(ctx context.Context, count int) (Response, error) {
	requestID := uuid.NewString()
	replyTopic := models.ResponseTopic(c.service, requestID)

	data, err := json.Marshal(models.ReserveData{Count: count})
	if err != nil {
		return Response{}, fmt.Errorf("encode reserve data: %w", err)
	}
	payload, err := json.Marshal(models.RequestEnvelope{
		Data:            data,
		RequestID:       requestID,
		ResponseChannel: replyTopic,
		Date:            models.FormatDate(requestcontext.Now(ctx)),
		ID:              json.Number(strconv.FormatInt(c.seq.Add(1), 10)),
	})
	if err != nil {
		return Response{}, fmt.Errorf("encode request: %w", err)
	}

	replies := make(chan []byte, 1)
	sub, err := c.transport.Subscribe(ctx, replyTopic, func(_ context.Context, m pubsub.Message) {
		select {
		case replies <- m.Payload:
		default:
		}
	})
	if err != nil {
		return Response{}, fmt.Errorf("subscribe to reply topic: %w", err)
	}
	defer func() { _ = sub.Close() }()

	if err := c.transport.Publish(ctx, models.ReserveTopic(c.service), payload); err != nil {
		return Response{}, fmt.Errorf("publish reserve request: %w", err)
	}
	c.logger.DebugContext(ctx, "reserve request sent", "request_id", requestID, "count", count)

	select {
	case <-ctx.Done():
		return Response{}, fmt.Errorf("%w: request %s: %w", ErrNoResponse, requestID, ctx.Err())
	case raw := <-replies:
		var env models.ResponseEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return Response{}, fmt.Errorf("decode response: %w", err)
		}
		return Response{IDs: env.Data, ID: env.ID, Date: env.Date}, nil
	}
}
