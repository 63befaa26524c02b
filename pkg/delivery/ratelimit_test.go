package delivery

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRateLimiter_AllowsWithinBurst(t *testing.T) {
	rl := NewMemoryRateLimiter()
	ok, wait, err := rl.Allow(context.Background(), "provider:twilio", 600)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Zero(t, wait)
}

func TestMemoryRateLimiter_BlocksOnceBucketExhausted(t *testing.T) {
	rl := NewMemoryRateLimiter()
	ctx := context.Background()

	// perMinute=6 gives a burst of max(6/10,1)=1, so the second call in
	// the same instant must be throttled.
	ok, _, err := rl.Allow(ctx, "tenant:acme", 6)
	require.NoError(t, err)
	require.True(t, ok)

	ok, wait, err := rl.Allow(ctx, "tenant:acme", 6)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Positive(t, wait)
}

func TestMemoryRateLimiter_SeparateKeysAreIndependent(t *testing.T) {
	rl := NewMemoryRateLimiter()
	ctx := context.Background()

	ok1, _, err := rl.Allow(ctx, "domain:gmail.com", 6)
	require.NoError(t, err)
	ok2, _, err := rl.Allow(ctx, "domain:yahoo.com", 6)
	require.NoError(t, err)
	assert.True(t, ok1)
	assert.True(t, ok2)
}
