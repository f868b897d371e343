package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tsaxking/uuid-microservice/internal/platform/logger"
	"github.com/tsaxking/uuid-microservice/internal/pool/metrics"
	"github.com/tsaxking/uuid-microservice/internal/pool/models"
	"github.com/tsaxking/uuid-microservice/internal/pool/ports"
	"github.com/tsaxking/uuid-microservice/internal/provider"
)

// Policy bounds each refill cycle.
type Policy struct {
	MaxStoredIDs      int           // pool cap
	DailyRequestLimit int           // most values requested per cycle
	FetchInterval     time.Duration // cadence between cycles
}

// Replenisher tops the pool up from the provider on a fixed cadence.
type Replenisher struct {
	store    ports.Store
	provider ports.Provider
	policy   Policy
	clock    clock.Clock
	logger   *slog.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	state    atomic.Int32
}

// ReplenisherOption configures the Replenisher.
type ReplenisherOption func(*Replenisher)

// WithReplenisherLogger sets the logger.
func WithReplenisherLogger(l *slog.Logger) ReplenisherOption {
	return func(r *Replenisher) {
		r.logger = l
	}
}

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c clock.Clock) ReplenisherOption {
	return func(r *Replenisher) {
		r.clock = c
	}
}

// WithReplenisherMetrics records the observed pool size.
func WithReplenisherMetrics(m *metrics.Metrics) ReplenisherOption {
	return func(r *Replenisher) {
		r.metrics = m
	}
}

// NewReplenisher validates its dependencies and policy.
func NewReplenisher(store ports.Store, p ports.Provider, policy Policy, opts ...ReplenisherOption) (*Replenisher, error) {
	if store == nil {
		return nil, fmt.Errorf("pool store is required")
	}
	if p == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if policy.MaxStoredIDs <= 0 {
		return nil, fmt.Errorf("max stored ids must be positive")
	}
	if policy.DailyRequestLimit <= 0 {
		return nil, fmt.Errorf("daily request limit must be positive")
	}
	if policy.FetchInterval <= 0 {
		return nil, fmt.Errorf("fetch interval must be positive")
	}

	r := &Replenisher{
		store:    store,
		provider: p,
		policy:   policy,
		clock:    clock.New(),
		logger:   logger.Discard(),
		tracer:   otel.Tracer("github.com/tsaxking/uuid-microservice/internal/pool/service"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// State reports whether a provider call is in flight.
func (r *Replenisher) State() models.ReplenisherState {
	return models.ReplenisherState(r.state.Load())
}

// Run executes one cycle immediately and then one per FetchInterval until ctx
// is cancelled. Cycle failures never stop the loop and the cadence is fixed:
// no backoff, no jitter.
func (r *Replenisher) Run(ctx context.Context) error {
	ticker := r.clock.Ticker(r.policy.FetchInterval)
	defer ticker.Stop()

	r.logger.InfoContext(ctx, "replenisher started",
		"max_stored_ids", r.policy.MaxStoredIDs,
		"daily_request_limit", r.policy.DailyRequestLimit,
		"fetch_interval", r.policy.FetchInterval.String(),
	)

	_, _ = r.RunCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			_, _ = r.RunCycle(ctx)
		}
	}
}

// RunCycle performs a single refill cycle. The error is already logged; it
// is returned for callers that want the cause.
func (r *Replenisher) RunCycle(ctx context.Context) (models.CycleResult, error) {
	ctx, span := r.tracer.Start(ctx, "pool.refill")
	defer span.End()

	current, err := r.store.Count(ctx)
	if err != nil {
		r.logger.ErrorContext(ctx, "refill cycle abandoned: pool size unavailable", "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "count failed")
		return models.CycleResult{Outcome: models.OutcomeFailed}, err
	}
	r.metrics.SetPoolSize(current)
	span.SetAttributes(attribute.Int("pool.size", current))

	if current >= r.policy.MaxStoredIDs {
		r.logger.InfoContext(ctx, "pool at capacity, skipping refill",
			"pool_size", current,
			"max_stored_ids", r.policy.MaxStoredIDs,
		)
		return models.CycleResult{Outcome: models.OutcomeSkippedCap, PoolSize: current}, nil
	}

	fetchCount := min(r.policy.DailyRequestLimit, r.policy.MaxStoredIDs-current)
	result := models.CycleResult{PoolSize: current, Requested: fetchCount}
	span.SetAttributes(attribute.Int("refill.requested", fetchCount))

	values, err := r.fetch(ctx, fetchCount)
	if err != nil {
		r.logger.ErrorContext(ctx, "refill cycle abandoned: provider call failed",
			"requested", fetchCount,
			"category", string(provider.GetCategory(err)),
			"retryable", provider.IsRetryable(err),
			"error", err,
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, "provider failed")
		result.Outcome = models.OutcomeFailed
		return result, err
	}

	// A provider that over-delivers must not push the pool past the cap.
	if len(values) > fetchCount {
		r.logger.WarnContext(ctx, "provider returned more values than requested, truncating",
			"requested", fetchCount,
			"received", len(values),
		)
		values = values[:fetchCount]
	}

	if err := r.store.InsertBatch(ctx, values); err != nil {
		r.logger.ErrorContext(ctx, "refill cycle abandoned: insert failed",
			"received", len(values),
			"error", err,
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert failed")
		result.Outcome = models.OutcomeFailed
		return result, err
	}

	result.Outcome = models.OutcomeRefilled
	result.Received = len(values)
	r.logger.InfoContext(ctx, "pool refilled",
		"pool_size_before", current,
		"requested", fetchCount,
		"received", len(values),
	)
	return result, nil
}

func (r *Replenisher) fetch(ctx context.Context, n int) ([]string, error) {
	r.state.Store(int32(models.StateFetching))
	defer r.state.Store(int32(models.StateIdle))
	return r.provider.Generate(ctx, n)
}
