package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Request outcomes recorded by the router.
const (
	OutcomeServed    = "served"
	OutcomeMalformed = "malformed"
	OutcomeInvalid   = "invalid"
	OutcomeFailed    = "failed"
)

// Metrics holds the process-lifetime pool counters. The atomic totals are the
// source of truth for the periodic log; the Prometheus series mirror them.
// All methods are safe on a nil receiver.
type Metrics struct {
	fetched atomic.Int64
	served  atomic.Int64

	FetchedTotal         prometheus.Counter
	ServedTotal          prometheus.Counter
	Requests             *prometheus.CounterVec
	PoolSize             prometheus.Gauge
	ProviderRequestsLeft prometheus.Gauge
	ProviderBitsLeft     prometheus.Gauge
}

// Snapshot is a point-in-time read of the totals.
type Snapshot struct {
	TotalFetched int64 `json:"total_fetched"`
	TotalServed  int64 `json:"total_served"`
}

// New creates the pool metrics and registers them with reg. A nil reg creates
// unregistered collectors, which keeps tests free of global state.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		FetchedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "uuid_pool_fetched_total",
			Help: "Total number of identifiers received from the provider, duplicates included",
		}),
		ServedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "uuid_pool_served_total",
			Help: "Total number of identifiers removed from the pool and served",
		}),
		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "uuid_pool_requests_total",
			Help: "Reserve requests handled, by outcome",
		}, []string{"outcome"}),
		PoolSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "uuid_pool_size",
			Help: "Pool size observed at the last refill cycle or report",
		}),
		ProviderRequestsLeft: f.NewGauge(prometheus.GaugeOpts{
			Name: "uuid_pool_provider_requests_left",
			Help: "Daily request allowance left at the provider, as last reported",
		}),
		ProviderBitsLeft: f.NewGauge(prometheus.GaugeOpts{
			Name: "uuid_pool_provider_bits_left",
			Help: "Daily bit allowance left at the provider, as last reported",
		}),
	}
}

// AddFetched records n identifiers received from the provider.
func (m *Metrics) AddFetched(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.fetched.Add(int64(n))
	m.FetchedTotal.Add(float64(n))
}

// AddServed records n identifiers handed out.
func (m *Metrics) AddServed(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.served.Add(int64(n))
	m.ServedTotal.Add(float64(n))
}

// IncRequest counts one handled reserve request.
func (m *Metrics) IncRequest(outcome string) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(outcome).Inc()
}

// SetPoolSize records the last observed pool size.
func (m *Metrics) SetPoolSize(n int) {
	if m == nil {
		return
	}
	m.PoolSize.Set(float64(n))
}

// SetProviderQuota records the allowance the provider reported.
func (m *Metrics) SetProviderQuota(requestsLeft, bitsLeft int64) {
	if m == nil {
		return
	}
	m.ProviderRequestsLeft.Set(float64(requestsLeft))
	m.ProviderBitsLeft.Set(float64(bitsLeft))
}

// TotalFetched returns the fetched total.
func (m *Metrics) TotalFetched() int64 {
	if m == nil {
		return 0
	}
	return m.fetched.Load()
}

// TotalServed returns the served total.
func (m *Metrics) TotalServed() int64 {
	if m == nil {
		return 0
	}
	return m.served.Load()
}

// Snapshot reads both totals.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{TotalFetched: m.TotalFetched(), TotalServed: m.TotalServed()}
}
