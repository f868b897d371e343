package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/tsaxking/uuid-microservice/internal/platform/logger"
)

// SizeReader reports the current pool size.
type SizeReader interface {
	Count(ctx context.Context) (int, error)
}

// Reporter periodically logs the pool totals.
type Reporter struct {
	metrics  *Metrics
	sizer    SizeReader
	interval time.Duration
	clock    clock.Clock
	logger   *slog.Logger
}

// ReporterOption configures the Reporter.
type ReporterOption func(*Reporter)

// WithLogger sets the destination for the periodic report.
func WithLogger(l *slog.Logger) ReporterOption {
	return func(r *Reporter) {
		r.logger = l
	}
}

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c clock.Clock) ReporterOption {
	return func(r *Reporter) {
		r.clock = c
	}
}

// WithPoolSize adds the current pool size to each report.
func WithPoolSize(s SizeReader) ReporterOption {
	return func(r *Reporter) {
		r.sizer = s
	}
}

// NewReporter builds a reporter emitting every interval.
func NewReporter(m *Metrics, interval time.Duration, opts ...ReporterOption) *Reporter {
	r := &Reporter{
		metrics:  m,
		interval: interval,
		clock:    clock.New(),
		logger:   logger.Discard(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run emits a report on every tick until ctx is cancelled.
func (r *Reporter) Run(ctx context.Context) error {
	ticker := r.clock.Ticker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.Report(ctx)
		}
	}
}

// Report logs the current totals once.
func (r *Reporter) Report(ctx context.Context) {
	snap := r.metrics.Snapshot()
	attrs := []any{
		"total_fetched", snap.TotalFetched,
		"total_served", snap.TotalServed,
	}
	if r.sizer != nil {
		size, err := r.sizer.Count(ctx)
		if err != nil {
			r.logger.WarnContext(ctx, "pool size unavailable for report", "error", err)
		} else {
			r.metrics.SetPoolSize(size)
			attrs = append(attrs, "pool_size", size)
		}
	}
	r.logger.InfoContext(ctx, "pool metrics", attrs...)
}
