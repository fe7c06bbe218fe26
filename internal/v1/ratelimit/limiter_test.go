package ratelimit

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/arenamesh/zarena/internal/v1/config"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T) (*Limiter, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cfg := &config.Config{
		RateLimitDiscovery: "3-M",
		RateLimitConnect:   "2-M",
	}

	l, err := New(cfg, rc)
	require.NoError(t, err)
	return l, mr
}

func TestNewLimiterFallsBackToMemoryWithoutRedis(t *testing.T) {
	cfg := &config.Config{RateLimitDiscovery: "10-M", RateLimitConnect: "10-M"}
	l, err := New(cfg, nil)
	require.NoError(t, err)
	assert.NotNil(t, l)
	assert.Nil(t, l.redisClient)
}

func TestAllowDiscoveryPermitsWithinRate(t *testing.T) {
	l, mr := newTestLimiter(t)
	defer mr.Close()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		assert.NoError(t, l.AllowDiscovery(ctx, "vexa"))
	}
}

func TestAllowDiscoveryRejectsOverRate(t *testing.T) {
	l, mr := newTestLimiter(t)
	defer mr.Close()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, l.AllowDiscovery(ctx, "vexa"))
	}
	assert.Error(t, l.AllowDiscovery(ctx, "vexa"))
}

func TestAllowConnectIsIndependentPerNode(t *testing.T) {
	l, mr := newTestLimiter(t)
	defer mr.Close()

	ctx := context.Background()
	require.NoError(t, l.AllowConnect(ctx, "vexa"))
	require.NoError(t, l.AllowConnect(ctx, "vexa"))
	assert.Error(t, l.AllowConnect(ctx, "vexa"))

	// A different node id has its own independent bucket.
	assert.NoError(t, l.AllowConnect(ctx, "mira"))
}
