package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T) (*RedisLimiter, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLimiter(client), s
}

func TestRedisLimiterBlocksAfterLimit(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Limit: 3, Window: time.Minute}

	for i := 0; i < 3; i++ {
		decision, err := limiter.Allow(ctx, "push:usr_a", rule)
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
		assert.Equal(t, 2-i, decision.Remaining)
	}

	decision, err := limiter.Allow(ctx, "push:usr_a", rule)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, 60, decision.RetryAfterSeconds())

	other, err := limiter.Allow(ctx, "push:usr_b", rule)
	require.NoError(t, err)
	assert.True(t, other.Allowed)
}

func TestRedisLimiterWindowResets(t *testing.T) {
	limiter, s := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Limit: 1, Window: time.Minute}

	decision, err := limiter.Allow(ctx, "sync:usr_a", rule)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	decision, err = limiter.Allow(ctx, "sync:usr_a", rule)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)

	s.FastForward(61 * time.Second)

	decision, err = limiter.Allow(ctx, "sync:usr_a", rule)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestRedisLimiterReportsRedisFailure(t *testing.T) {
	limiter, s := newTestLimiter(t)
	s.Close()
	_, err := limiter.Allow(context.Background(), "push:usr_a", PushRule)
	assert.Error(t, err)
}

func TestNoopAllows(t *testing.T) {
	decision, err := Noop{}.Allow(context.Background(), "push:usr_a", PushRule)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestRetryAfterSecondsRoundsUp(t *testing.T) {
	assert.Equal(t, 2, Decision{RetryAfter: 1500 * time.Millisecond}.RetryAfterSeconds())
	assert.Equal(t, 1, Decision{}.RetryAfterSeconds())
}
