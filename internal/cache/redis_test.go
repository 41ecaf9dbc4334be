package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisCache(client), mr
}

func TestRedisCacheSetGet(t *testing.T) {
	c, _ := newTestRedisCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", []byte("payload"), time.Minute))

	data, ok := c.Get(ctx, "a")
	require.True(t, ok)
	assert.Equal(t, []byte("payload"), data)
}

func TestRedisCacheMiss(t *testing.T) {
	c, _ := newTestRedisCache(t)
	_, ok := c.Get(context.Background(), "nonexistent")
	assert.False(t, ok)
}

func TestRedisCacheExpiry(t *testing.T) {
	c, mr := newTestRedisCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", []byte("payload"), time.Second))
	mr.FastForward(2 * time.Second)

	_, ok := c.Get(ctx, "a")
	assert.False(t, ok)
}

func TestRedisCacheGetFailsClosedWhenUnreachable(t *testing.T) {
	c, mr := newTestRedisCache(t)
	mr.Close()

	_, ok := c.Get(context.Background(), "a")
	assert.False(t, ok)
}

func TestRedisCachePing(t *testing.T) {
	c, _ := newTestRedisCache(t)
	assert.NoError(t, c.Ping(context.Background()))
}
