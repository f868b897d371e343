package reserve

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cucumber/godog"
	"github.com/google/uuid"

	"github.com/tsaxking/uuid-microservice/internal/pool/client"
)

// TestContext is what the reserve steps need from the main test context.
type TestContext interface {
	Ready(ctx context.Context) error
	Reserve(ctx context.Context, count int, timeout time.Duration) error
	LastReservation() ([]string, error)
	Reservations() [][]string
	ResponseIDs() []uint64
	LastError() error
	PoolSize(ctx context.Context) (int, error)
	MarkServed(ctx context.Context) error
	ServedSinceMark(ctx context.Context) (int64, error)
}

// RegisterSteps registers reserve protocol step definitions.
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &reserveSteps{tc: tc}

	ctx.Step(`^the pool service is ready$`, steps.serviceIsReady)
	ctx.Step(`^the pool holds at least (\d+) identifiers$`, steps.poolHoldsAtLeast)

	ctx.Step(`^I reserve (\d+) identifiers?$`, steps.reserve)
	ctx.Step(`^I reserve (\d+) identifiers? (\d+) times$`, steps.reserveRepeatedly)
	ctx.Step(`^I reserve (\d+) identifiers? and wait (\d+) ms$`, steps.reserveWithTimeout)

	ctx.Step(`^I receive (\d+) identifiers$`, steps.receiveN)
	ctx.Step(`^every identifier is a UUID$`, steps.everyIdentifierIsUUID)
	ctx.Step(`^no identifier is repeated across my reservations$`, steps.noRepeats)
	ctx.Step(`^the response sequence numbers increase$`, steps.sequenceIncreases)
	ctx.Step(`^I receive no response$`, steps.noResponse)
	ctx.Step(`^the served total grew by at least (\d+)$`, steps.servedGrewBy)
}

type reserveSteps struct {
	tc TestContext
}

func (s *reserveSteps) serviceIsReady(ctx context.Context) error {
	if err := s.tc.Ready(ctx); err != nil {
		return err
	}
	return s.tc.MarkServed(ctx)
}

func (s *reserveSteps) poolHoldsAtLeast(ctx context.Context, n int) error {
	size, err := s.tc.PoolSize(ctx)
	if err != nil {
		return err
	}
	if size < n {
		return fmt.Errorf("pool holds %d identifiers, scenario needs %d", size, n)
	}
	return nil
}

func (s *reserveSteps) reserve(ctx context.Context, count int) error {
	return s.tc.Reserve(ctx, count, 5*time.Second)
}

func (s *reserveSteps) reserveRepeatedly(ctx context.Context, count, times int) error {
	for i := 0; i < times; i++ {
		if err := s.tc.Reserve(ctx, count, 5*time.Second); err != nil {
			return err
		}
		if err := s.tc.LastError(); err != nil {
			return fmt.Errorf("reservation %d: %w", i+1, err)
		}
	}
	return nil
}

func (s *reserveSteps) reserveWithTimeout(ctx context.Context, count, ms int) error {
	return s.tc.Reserve(ctx, count, time.Duration(ms)*time.Millisecond)
}

func (s *reserveSteps) receiveN(n int) error {
	ids, err := s.tc.LastReservation()
	if err != nil {
		return err
	}
	if len(ids) != n {
		return fmt.Errorf("expected %d identifiers, got %d", n, len(ids))
	}
	return nil
}

func (s *reserveSteps) everyIdentifierIsUUID() error {
	for _, batch := range s.tc.Reservations() {
		for _, id := range batch {
			if _, err := uuid.Parse(id); err != nil {
				return fmt.Errorf("%q is not a UUID: %w", id, err)
			}
		}
	}
	return nil
}

func (s *reserveSteps) noRepeats() error {
	seen := make(map[string]struct{})
	for _, batch := range s.tc.Reservations() {
		for _, id := range batch {
			if _, dup := seen[id]; dup {
				return fmt.Errorf("identifier %s served twice", id)
			}
			seen[id] = struct{}{}
		}
	}
	return nil
}

func (s *reserveSteps) sequenceIncreases() error {
	ids := s.tc.ResponseIDs()
	for i := 1; i < len(ids); i++ {
		if ids[i] <= ids[i-1] {
			return fmt.Errorf("response id %d followed %d", ids[i], ids[i-1])
		}
	}
	return nil
}

func (s *reserveSteps) noResponse() error {
	if err := s.tc.LastError(); !errors.Is(err, client.ErrNoResponse) {
		return fmt.Errorf("expected no response, got error %v", err)
	}
	return nil
}

func (s *reserveSteps) servedGrewBy(ctx context.Context, n int) error {
	grew, err := s.tc.ServedSinceMark(ctx)
	if err != nil {
		return err
	}
	if grew < int64(n) {
		return fmt.Errorf("served total grew by %d, expected at least %d", grew, n)
	}
	return nil
}
