package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBuckets_OrderBurstThenBlocks(t *testing.T) {
	b := New(Config{OrderCallsPerSecond: 1, OrderBurst: 1, InfoCallsPerSecond: 1, InfoBurst: 1})

	ctx := context.Background()
	assert.NoError(t, b.WaitOrder(ctx))

	start := time.Now()
	assert.NoError(t, b.WaitOrder(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 500*time.Millisecond)
}

func TestBuckets_WaitOrderTimeoutExpires(t *testing.T) {
	b := New(Config{OrderCallsPerSecond: 0.1, OrderBurst: 1, InfoCallsPerSecond: 1, InfoBurst: 1})
	ctx := context.Background()
	assert.NoError(t, b.WaitOrder(ctx))

	err := b.WaitOrderTimeout(ctx, 20*time.Millisecond)
	assert.Error(t, err)
}
