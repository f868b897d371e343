package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsaxking/uuid-microservice/internal/pool/metrics"
	"github.com/tsaxking/uuid-microservice/pkg/requestcontext"
)

func values(prefix string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%s-%03d", prefix, i)
	}
	return out
}

func TestInMemoryStore_InsertBatch(t *testing.T) {
	ctx := context.Background()

	t.Run("duplicates are ignored", func(t *testing.T) {
		s := NewInMemory()
		require.NoError(t, s.InsertBatch(ctx, []string{"a", "b", "a"}))
		require.NoError(t, s.InsertBatch(ctx, []string{"b", "c"}))

		count, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, count)
	})

	t.Run("fetched counter counts attempted values", func(t *testing.T) {
		m := metrics.New(nil)
		s := NewInMemory(WithMetrics(m))
		require.NoError(t, s.InsertBatch(ctx, []string{"a", "b"}))
		require.NoError(t, s.InsertBatch(ctx, []string{"b", "c"}))

		assert.Equal(t, int64(4), m.TotalFetched())
	})

	t.Run("empty batch is a no-op", func(t *testing.T) {
		m := metrics.New(nil)
		s := NewInMemory(WithMetrics(m))
		require.NoError(t, s.InsertBatch(ctx, nil))
		assert.Equal(t, int64(0), m.TotalFetched())
	})
}

func TestInMemoryStore_PopOldest(t *testing.T) {
	ctx := context.Background()

	t.Run("conservation", func(t *testing.T) {
		s := NewInMemory()
		require.NoError(t, s.InsertBatch(ctx, values("v", 5)))

		got, err := s.PopOldest(ctx, 3)
		require.NoError(t, err)
		assert.Len(t, got, 3)

		count, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, count)

		got, err = s.PopOldest(ctx, 10)
		require.NoError(t, err)
		assert.Len(t, got, 2, "short result when pool holds fewer")

		count, err = s.Count(ctx)
		require.NoError(t, err)
		assert.Zero(t, count)
	})

	t.Run("empty pool returns empty slice", func(t *testing.T) {
		s := NewInMemory()
		got, err := s.PopOldest(ctx, 10)
		require.NoError(t, err)
		assert.NotNil(t, got)
		assert.Empty(t, got)
	})

	t.Run("non-positive n returns nothing", func(t *testing.T) {
		s := NewInMemory()
		require.NoError(t, s.InsertBatch(ctx, values("v", 2)))
		got, err := s.PopOldest(ctx, 0)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("fifo across batches", func(t *testing.T) {
		s := NewInMemory()
		base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		require.NoError(t, s.InsertBatch(requestcontext.WithTime(ctx, base.Add(2*time.Hour)), []string{"t3"}))
		require.NoError(t, s.InsertBatch(requestcontext.WithTime(ctx, base), []string{"t1"}))
		require.NoError(t, s.InsertBatch(requestcontext.WithTime(ctx, base.Add(time.Hour)), []string{"t2"}))

		got, err := s.PopOldest(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, []string{"t1", "t2"}, got)
	})

	t.Run("fifo within a batch follows insertion order", func(t *testing.T) {
		s := NewInMemory()
		fixed := requestcontext.WithTime(ctx, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
		require.NoError(t, s.InsertBatch(fixed, []string{"x", "y", "z"}))

		got, err := s.PopOldest(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, []string{"x", "y"}, got)
	})

	t.Run("popped values can be inserted again", func(t *testing.T) {
		s := NewInMemory()
		require.NoError(t, s.InsertBatch(ctx, []string{"a"}))
		_, err := s.PopOldest(ctx, 1)
		require.NoError(t, err)
		require.NoError(t, s.InsertBatch(ctx, []string{"a"}))

		count, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("served counter counts returned values", func(t *testing.T) {
		m := metrics.New(nil)
		s := NewInMemory(WithMetrics(m))
		require.NoError(t, s.InsertBatch(ctx, values("v", 3)))
		_, err := s.PopOldest(ctx, 5)
		require.NoError(t, err)
		assert.Equal(t, int64(3), m.TotalServed())
	})
}

func TestInMemoryStore_ConcurrentPopNeverDoubleServes(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	const poolSize = 500
	require.NoError(t, s.InsertBatch(ctx, values("v", poolSize)))

	const goroutines = 40
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[string]int)
	)
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			got, err := s.PopOldest(ctx, 17)
			assert.NoError(t, err)
			mu.Lock()
			for _, v := range got {
				seen[v]++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	total := 0
	for v, n := range seen {
		assert.Equal(t, 1, n, "value %s served more than once", v)
		total += n
	}
	assert.LessOrEqual(t, total, poolSize)

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, poolSize-total, count)
}
