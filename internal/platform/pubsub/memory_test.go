package pubsub

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsaxking/uuid-microservice/pkg/platform/sentinel"
)

func TestMemoryTransport(t *testing.T) {
	ctx := context.Background()

	t.Run("delivers to subscribers of the topic only", func(t *testing.T) {
		tr := NewMemory()
		var got []Message
		_, err := tr.Subscribe(ctx, "query:ids:reserve", func(_ context.Context, m Message) {
			got = append(got, m)
		})
		require.NoError(t, err)

		require.NoError(t, tr.Publish(ctx, "query:ids:reserve", []byte(`{"a":1}`)))
		require.ErrorIs(t, tr.Publish(ctx, "query:other:reserve", []byte(`{"b":2}`)), ErrNoSubscribers)

		require.Len(t, got, 1)
		assert.Equal(t, "query:ids:reserve", got[0].Topic)
		assert.JSONEq(t, `{"a":1}`, string(got[0].Payload))
	})

	t.Run("publish without subscribers is reported", func(t *testing.T) {
		tr := NewMemory()
		assert.ErrorIs(t, tr.Publish(ctx, "nobody", []byte("x")), ErrNoSubscribers)
	})

	t.Run("fans out to every subscriber", func(t *testing.T) {
		tr := NewMemory()
		var n atomic.Int32
		for i := 0; i < 3; i++ {
			_, err := tr.Subscribe(ctx, "t", func(context.Context, Message) { n.Add(1) })
			require.NoError(t, err)
		}
		require.NoError(t, tr.Publish(ctx, "t", nil))
		assert.Equal(t, int32(3), n.Load())
	})

	t.Run("closed subscription stops delivery", func(t *testing.T) {
		tr := NewMemory()
		var n atomic.Int32
		sub, err := tr.Subscribe(ctx, "t", func(context.Context, Message) { n.Add(1) })
		require.NoError(t, err)

		require.NoError(t, tr.Publish(ctx, "t", nil))
		require.NoError(t, sub.Close())
		require.NoError(t, sub.Close())
		require.ErrorIs(t, tr.Publish(ctx, "t", nil), ErrNoSubscribers)

		assert.Equal(t, int32(1), n.Load())
		assert.Zero(t, tr.Subscribers("t"))
	})

	t.Run("close waits for running handlers", func(t *testing.T) {
		tr := NewMemory()
		started := make(chan struct{})
		release := make(chan struct{})
		var finished atomic.Bool
		sub, err := tr.Subscribe(ctx, "t", func(context.Context, Message) {
			close(started)
			<-release
			finished.Store(true)
		})
		require.NoError(t, err)

		go func() { _ = tr.Publish(ctx, "t", nil) }()
		<-started

		closed := make(chan struct{})
		go func() {
			_ = sub.Close()
			close(closed)
		}()

		select {
		case <-closed:
			t.Fatal("close returned while a handler was running")
		case <-time.After(20 * time.Millisecond):
		}
		close(release)
		<-closed
		assert.True(t, finished.Load())
	})

	t.Run("handler panic is contained", func(t *testing.T) {
		tr := NewMemory()
		_, err := tr.Subscribe(ctx, "t", func(context.Context, Message) { panic("boom") })
		require.NoError(t, err)
		assert.NotPanics(t, func() { _ = tr.Publish(ctx, "t", nil) })
	})

	t.Run("handlers see a context that outlives cancellation", func(t *testing.T) {
		tr := NewMemory()
		var handlerErr error
		_, err := tr.Subscribe(ctx, "t", func(hctx context.Context, _ Message) { handlerErr = hctx.Err() })
		require.NoError(t, err)

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		require.NoError(t, tr.Publish(cctx, "t", nil))
		assert.NoError(t, handlerErr)
	})

	t.Run("closed transport rejects calls", func(t *testing.T) {
		tr := NewMemory()
		require.NoError(t, tr.Close())

		err := tr.Publish(ctx, "t", nil)
		assert.ErrorIs(t, err, sentinel.ErrClosed)
		_, err = tr.Subscribe(ctx, "t", func(context.Context, Message) {})
		assert.ErrorIs(t, err, ErrTransportClosed)
	})

	t.Run("nil handler is rejected", func(t *testing.T) {
		_, err := NewMemory().Subscribe(ctx, "t", nil)
		assert.Error(t, err)
	})

	t.Run("concurrent publishers", func(t *testing.T) {
		tr := NewMemory()
		var n atomic.Int32
		_, err := tr.Subscribe(ctx, "t", func(context.Context, Message) { n.Add(1) })
		require.NoError(t, err)

		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = tr.Publish(ctx, "t", nil)
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(50), n.Load())
	})
}

func TestNewRedisRequiresClient(t *testing.T) {
	_, err := NewRedis(nil)
	assert.Error(t, err)
}
