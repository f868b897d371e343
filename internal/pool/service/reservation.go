package service

import (
	"context"
	"fmt"

	"github.com/tsaxking/uuid-microservice/internal/pool/ports"
)

// Reservation hands out identifiers by removing them from the pool.
type Reservation struct {
	store ports.Store
}

// NewReservation wraps the pool store.
func NewReservation(store ports.Store) (*Reservation, error) {
	if store == nil {
		return nil, fmt.Errorf("pool store is required")
	}
	return &Reservation{store: store}, nil
}

// Reserve removes and returns up to count identifiers. count is validated by
// the caller. A short or empty result means the pool ran low; it is not an
// error.
func (s *Reservation) Reserve(ctx context.Context, count int) ([]string, error) {
	ids, err := s.store.PopOldest(ctx, count)
	if err != nil {
		return nil, fmt.Errorf("reserve %d identifiers: %w", count, err)
	}
	return ids, nil
}
