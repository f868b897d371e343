package models

import (
	"fmt"
	"time"

	"github.com/tsaxking/uuid-microservice/pkg/platform/sentinel"
)

// Reservation bounds enforced by request validation.
const (
	MinReserveCount = 1
	MaxReserveCount = 1000
)

// ErrStoreUnavailable is returned when the pool store cannot answer, including
// a count query that yields no row at all.
var ErrStoreUnavailable = fmt.Errorf("pool store %w", sentinel.ErrUnavailable)

// Record is one unconsumed identifier. Records are only ever created and
// deleted, never updated.
type Record struct {
	Value     string
	CreatedAt time.Time
}

// ReplenisherState reports whether a provider call is in flight.
type ReplenisherState int32

const (
	StateIdle ReplenisherState = iota
	StateFetching
)

func (s ReplenisherState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	default:
		return "unknown"
	}
}

// CycleOutcome classifies a single refill cycle.
type CycleOutcome string

const (
	OutcomeRefilled   CycleOutcome = "refilled"
	OutcomeSkippedCap CycleOutcome = "skipped_at_cap"
	OutcomeFailed     CycleOutcome = "failed"
)

// CycleResult summarises one refill cycle.
type CycleResult struct {
	Outcome   CycleOutcome
	PoolSize  int // pool size read at the start of the cycle
	Requested int // values asked from the provider
	Received  int // values handed to the store
}

// ReserveTopic is the inbound topic the router subscribes to.
func ReserveTopic(serviceName string) string {
	return "query:" + serviceName + ":reserve"
}

// ResponseTopic builds a per-request reply channel for requesters.
func ResponseTopic(serviceName, requestID string) string {
	return "response:" + serviceName + ":" + requestID
}
