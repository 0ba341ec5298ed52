package common

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterBurstThenBlocks(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(1, 2)
	assert.True(t, rl.Allow())
	assert.True(t, rl.Allow())
	assert.False(t, rl.Allow())
}

func TestRateLimiterWaitHonorsContext(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(0.001, 1)
	require.NoError(t, rl.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, rl.Wait(ctx))
}

func TestRateLimiterUpdateLimits(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(1, 1)
	assert.True(t, rl.Allow())
	assert.False(t, rl.Allow())

	rl.UpdateLimits(1000, 5)
	time.Sleep(5 * time.Millisecond)
	assert.True(t, rl.Allow())
}
