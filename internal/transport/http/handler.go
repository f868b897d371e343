// Package httptransport exposes the pool service's operational HTTP surface.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/tsaxking/uuid-microservice/internal/platform/logger"
	"github.com/tsaxking/uuid-microservice/internal/pool/metrics"
	"github.com/tsaxking/uuid-microservice/pkg/platform/httputil"
)

const readinessTimeout = 2 * time.Second

// Check probes one dependency.
type Check func(ctx context.Context) error

// Handler serves health, readiness and stats.
type Handler struct {
	metrics *metrics.Metrics
	pool    metrics.SizeReader
	checks  map[string]Check
	logger  *slog.Logger
}

// Option configures the Handler.
type Option func(*Handler)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = l
	}
}

// WithReadinessCheck adds a dependency probed by /readyz.
func WithReadinessCheck(name string, c Check) Option {
	return func(h *Handler) {
		h.checks[name] = c
	}
}

// NewHandler builds the ops handler. pool may be nil, in which case /stats
// omits the pool size.
func NewHandler(m *metrics.Metrics, pool metrics.SizeReader, opts ...Option) *Handler {
	h := &Handler{
		metrics: m,
		pool:    pool,
		checks:  make(map[string]Check),
		logger:  logger.Discard(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// HandleHealth handles GET /healthz. The process is live if it can answer.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

// HandleReady handles GET /readyz by running every registered check.
func (h *Handler) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	resp := healthResponse{Status: "ready", Checks: make(map[string]string, len(names))}
	status := http.StatusOK
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			h.logger.WarnContext(ctx, "readiness check failed", "check", name, "error", err)
			resp.Checks[name] = err.Error()
			resp.Status = "not_ready"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	httputil.WriteJSON(w, status, resp)
}

type statsResponse struct {
	TotalFetched int64 `json:"total_fetched"`
	TotalServed  int64 `json:"total_served"`
	PoolSize     *int  `json:"pool_size,omitempty"`
}

// HandleStats handles GET /stats.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	snap := h.metrics.Snapshot()
	resp := statsResponse{TotalFetched: snap.TotalFetched, TotalServed: snap.TotalServed}

	if h.pool != nil {
		size, err := h.pool.Count(r.Context())
		if err != nil {
			h.logger.ErrorContext(r.Context(), "stats: pool size unavailable", "error", err)
			httputil.WriteError(w, err)
			return
		}
		resp.PoolSize = &size
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}
