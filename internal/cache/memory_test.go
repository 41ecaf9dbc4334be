package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCacheSetGet(t *testing.T) {
	c := NewMemoryCache()
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", []byte("hello"), time.Minute))

	data, ok := c.Get(ctx, "a")
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), data)
}

func TestMemoryCacheMiss(t *testing.T) {
	c := NewMemoryCache()
	defer c.Close()

	_, ok := c.Get(context.Background(), "nonexistent")
	assert.False(t, ok)
}

func TestMemoryCacheExpiry(t *testing.T) {
	c := NewMemoryCache()
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", []byte("hello"), time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	_, ok := c.Get(ctx, "a")
	assert.False(t, ok)
}

func TestKeyIsDeterministicPerTitleAndRevision(t *testing.T) {
	k1 := Key("Go (programming language)", 12345)
	k2 := Key("Go (programming language)", 12345)
	k3 := Key("Go (programming language)", 12346)

	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
}
