// Package ports defines the interfaces shared by the pool services.
// Interfaces live here when more than one package consumes them.
package ports

//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks Store,Provider,Reserver,Publisher,Transactor

import (
	"context"
)

// Store is the durable pool of unconsumed identifiers.
type Store interface {
	// Count returns the number of unconsumed identifiers.
	Count(ctx context.Context) (int, error)

	// InsertBatch stores values, silently ignoring ones already present.
	InsertBatch(ctx context.Context, values []string) error

	// PopOldest removes and returns up to n identifiers, oldest first.
	// Concurrent callers never receive the same identifier.
	PopOldest(ctx context.Context, n int) ([]string, error)
}

// Provider fetches fresh random identifiers from an external source.
type Provider interface {
	// Generate returns up to n fresh identifiers.
	Generate(ctx context.Context, n int) ([]string, error)
}

// Reserver hands out identifiers to requesters.
type Reserver interface {
	Reserve(ctx context.Context, count int) ([]string, error)
}

// Publisher sends a payload to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Transactor runs fn atomically against the pool store. fn's work is durable
// only once RunInTx returns nil.
type Transactor interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}
