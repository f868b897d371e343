package store

import "github.com/tsaxking/uuid-microservice/internal/pool/metrics"

type options struct {
	metrics *metrics.Metrics
}

// Option configures a pool store.
type Option func(*options)

// WithMetrics makes the store account fetched and served identifiers.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}
