package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tsaxking/uuid-microservice/internal/platform/pubsub"
	"github.com/tsaxking/uuid-microservice/internal/pool/client"
)

// TestContext drives a running pool service over Redis and its ops endpoints.
type TestContext struct {
	ServiceName string
	OpsURL      string

	redis     *redis.Client
	transport *pubsub.RedisTransport
	http      *http.Client

	reservations [][]string
	responseIDs  []uint64
	lastErr      error
	servedBefore int64
}

// NewTestContext reads E2E_REDIS_URL, E2E_SERVICE_NAME and E2E_OPS_URL.
func NewTestContext() (*TestContext, error) {
	redisURL := getenv("E2E_REDIS_URL", "redis://localhost:6379/0")
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse E2E_REDIS_URL: %w", err)
	}
	rc := redis.NewClient(opts)
	transport, err := pubsub.NewRedis(rc)
	if err != nil {
		return nil, err
	}
	return &TestContext{
		ServiceName: getenv("E2E_SERVICE_NAME", "uuid"),
		OpsURL:      getenv("E2E_OPS_URL", "http://localhost:9090"),
		redis:       rc,
		transport:   transport,
		http:        &http.Client{Timeout: 5 * time.Second},
	}, nil
}

// Reset clears per-scenario state.
func (tc *TestContext) Reset() {
	tc.reservations = nil
	tc.responseIDs = nil
	tc.lastErr = nil
	tc.servedBefore = 0
}

// Close releases the Redis connection.
func (tc *TestContext) Close() error {
	return tc.redis.Close()
}

// Reserve sends one reserve request and records the outcome.
func (tc *TestContext) Reserve(ctx context.Context, count int, timeout time.Duration) error {
	c, err := client.New(tc.ServiceName, tc.transport)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := c.Reserve(ctx, count)
	tc.lastErr = err
	if err != nil {
		return nil
	}
	tc.reservations = append(tc.reservations, resp.IDs)
	tc.responseIDs = append(tc.responseIDs, resp.ID)
	return nil
}

// LastReservation returns the identifiers from the most recent response.
func (tc *TestContext) LastReservation() ([]string, error) {
	if tc.lastErr != nil {
		return nil, tc.lastErr
	}
	if len(tc.reservations) == 0 {
		return nil, fmt.Errorf("no reservation made")
	}
	return tc.reservations[len(tc.reservations)-1], nil
}

// Reservations returns every response received in the scenario.
func (tc *TestContext) Reservations() [][]string { return tc.reservations }

// ResponseIDs returns the sequence numbers of the responses received.
func (tc *TestContext) ResponseIDs() []uint64 { return tc.responseIDs }

// LastError is the error of the most recent reservation attempt.
func (tc *TestContext) LastError() error { return tc.lastErr }

// Stats is the /stats payload.
type Stats struct {
	TotalFetched int64 `json:"total_fetched"`
	TotalServed  int64 `json:"total_served"`
	PoolSize     *int  `json:"pool_size"`
}

// GetStats fetches /stats.
func (tc *TestContext) GetStats(ctx context.Context) (Stats, error) {
	var s Stats
	body, status, err := tc.get(ctx, "/stats")
	if err != nil {
		return s, err
	}
	if status != http.StatusOK {
		return s, fmt.Errorf("GET /stats: status %d: %s", status, body)
	}
	if err := json.Unmarshal(body, &s); err != nil {
		return s, fmt.Errorf("decode stats: %w", err)
	}
	return s, nil
}

// Ready reports whether /readyz answers 200.
func (tc *TestContext) Ready(ctx context.Context) error {
	body, status, err := tc.get(ctx, "/readyz")
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("service not ready: %s", body)
	}
	return nil
}

// MarkServed remembers the served total before the scenario's reservations.
func (tc *TestContext) MarkServed(ctx context.Context) error {
	s, err := tc.GetStats(ctx)
	if err != nil {
		return err
	}
	tc.servedBefore = s.TotalServed
	return nil
}

// ServedSinceMark is how far the served total moved since MarkServed.
func (tc *TestContext) ServedSinceMark(ctx context.Context) (int64, error) {
	s, err := tc.GetStats(ctx)
	if err != nil {
		return 0, err
	}
	return s.TotalServed - tc.servedBefore, nil
}

// PoolSize reads the current pool size from /stats.
func (tc *TestContext) PoolSize(ctx context.Context) (int, error) {
	s, err := tc.GetStats(ctx)
	if err != nil {
		return 0, err
	}
	if s.PoolSize == nil {
		return 0, fmt.Errorf("stats carry no pool size")
	}
	return *s.PoolSize, nil
}

func (tc *TestContext) get(ctx context.Context, path string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tc.OpsURL+path, nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := tc.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	return body, resp.StatusCode, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
