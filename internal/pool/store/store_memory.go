package store

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/tsaxking/uuid-microservice/internal/pool/metrics"
	"github.com/tsaxking/uuid-microservice/internal/pool/models"
	"github.com/tsaxking/uuid-microservice/pkg/requestcontext"
)

// InMemoryStore implements ports.Store in process memory.
// Used for tests and local runs without PostgreSQL.
type InMemoryStore struct {
	mu      sync.Mutex
	records []memoryRecord // ordered oldest first
	index   map[string]struct{}
	nextSeq int64
	metrics *metrics.Metrics
}

type memoryRecord struct {
	models.Record
	seq int64
}

// NewInMemory creates an empty in-memory pool.
func NewInMemory(opts ...Option) *InMemoryStore {
	o := buildOptions(opts)
	return &InMemoryStore{
		index:   make(map[string]struct{}),
		metrics: o.metrics,
	}
}

// Count returns the number of unconsumed identifiers.
func (s *InMemoryStore) Count(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records), nil
}

// InsertBatch adds values not yet present, stamped with requestcontext.Now.
func (s *InMemoryStore) InsertBatch(ctx context.Context, values []string) error {
	if len(values) == 0 {
		return nil
	}
	now := requestcontext.Now(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, v := range values {
		if _, exists := s.index[v]; exists {
			continue
		}
		s.index[v] = struct{}{}
		s.nextSeq++
		s.records = append(s.records, memoryRecord{
			Record: models.Record{Value: v, CreatedAt: now},
			seq:    s.nextSeq,
		})
	}
	slices.SortStableFunc(s.records, compareRecords)

	s.metrics.AddFetched(len(values))
	return nil
}

// PopOldest removes and returns up to n identifiers, oldest first.
func (s *InMemoryStore) PopOldest(_ context.Context, n int) ([]string, error) {
	if n <= 0 {
		return []string{}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n = min(n, len(s.records))
	values := make([]string, n)
	for i := 0; i < n; i++ {
		values[i] = s.records[i].Value
		delete(s.index, s.records[i].Value)
	}
	s.records = slices.Delete(s.records, 0, n)

	s.metrics.AddServed(n)
	return values, nil
}

// Records returns a copy of the pool, oldest first.
func (s *InMemoryStore) Records() []models.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Record, len(s.records))
	for i, r := range s.records {
		out[i] = r.Record
	}
	return out
}

// Ping always succeeds.
func (s *InMemoryStore) Ping(context.Context) error {
	return nil
}

func compareRecords(a, b memoryRecord) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.seq, b.seq)
}
