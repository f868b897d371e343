//go:build integration

package pubsub_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/tsaxking/uuid-microservice/internal/platform/pubsub"
	"github.com/tsaxking/uuid-microservice/pkg/testutil/containers"
)

type RedisTransportSuite struct {
	suite.Suite
	redis     *containers.RedisContainer
	transport *pubsub.RedisTransport
}

func TestRedisTransportSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisTransportSuite))
}

func (s *RedisTransportSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	var err error
	s.transport, err = pubsub.NewRedis(s.redis.NewClient(s.T()))
	s.Require().NoError(err)
}

func (s *RedisTransportSuite) TestPublishAfterSubscribeIsDelivered() {
	ctx := context.Background()
	got := make(chan pubsub.Message, 1)

	sub, err := s.transport.Subscribe(ctx, "query:it-ids:reserve", func(_ context.Context, m pubsub.Message) {
		got <- m
	})
	s.Require().NoError(err)
	defer sub.Close()

	s.Require().NoError(s.transport.Publish(ctx, "query:it-ids:reserve", []byte(`{"hello":"world"}`)))

	select {
	case m := <-got:
		s.Equal("query:it-ids:reserve", m.Topic)
		s.JSONEq(`{"hello":"world"}`, string(m.Payload))
	case <-time.After(5 * time.Second):
		s.Fail("message not delivered")
	}
}

func (s *RedisTransportSuite) TestCloseStopsDeliveryAndDrains() {
	ctx := context.Background()
	var handled atomic.Int32
	release := make(chan struct{})

	sub, err := s.transport.Subscribe(ctx, "drain-topic", func(context.Context, pubsub.Message) {
		<-release
		handled.Add(1)
	})
	s.Require().NoError(err)

	s.Require().NoError(s.transport.Publish(ctx, "drain-topic", []byte("1")))
	time.Sleep(100 * time.Millisecond)

	closed := make(chan struct{})
	go func() {
		_ = sub.Close()
		close(closed)
	}()
	close(release)

	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		s.Fail("close did not return")
	}
	s.Equal(int32(1), handled.Load())

	s.ErrorIs(s.transport.Publish(ctx, "drain-topic", []byte("2")), pubsub.ErrNoSubscribers)
	s.Equal(int32(1), handled.Load())
}

func (s *RedisTransportSuite) TestClosedClientIsReported() {
	client := s.redis.NewClient(s.T())
	tr, err := pubsub.NewRedis(client)
	s.Require().NoError(err)
	s.Require().NoError(client.Close())

	err = tr.Publish(context.Background(), "t", []byte("x"))
	s.ErrorIs(err, pubsub.ErrTransportClosed)
}
