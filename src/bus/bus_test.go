package bus

import (
	"context"
	"testing"
	"time"

	logger "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T, cfg Config) *Bus {
	b, err := New(cfg, logger.NewEntry(logger.New()))
	require.NoError(t, err)
	return b
}

func TestBus_PublishIsDeliveredToSubscriber(t *testing.T) {
	b := newTestBus(t, Config{LocalBuffer: 4})
	ch := b.Subscribe()

	b.Publish(context.Background(), ItemFilled{BatchItemID: 7})

	select {
	case evt := <-ch:
		assert.Equal(t, uint(7), evt.BatchItemID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for local nudge")
	}
}

func TestBus_PublishDoesNotBlockOnFullBuffer(t *testing.T) {
	b := newTestBus(t, Config{LocalBuffer: 1})

	done := make(chan struct{})
	go func() {
		b.Publish(context.Background(), ItemFilled{BatchItemID: 1})
		b.Publish(context.Background(), ItemFilled{BatchItemID: 2})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full local buffer instead of dropping")
	}
}

func TestBus_NewWithNoRedisAddrIsInProcessOnly(t *testing.T) {
	b := newTestBus(t, Config{LocalBuffer: 4})
	assert.Nil(t, b.redis)
	assert.NoError(t, b.Close())
}

func TestBus_NewWithUnreachableRedisFails(t *testing.T) {
	_, err := New(Config{LocalBuffer: 4, RedisAddr: "127.0.0.1:1"}, logger.NewEntry(logger.New()))
	assert.Error(t, err)
}
