package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisCacheWithClient(client), mr
}

func TestRedisCacheSetGet(t *testing.T) {
	c, _ := newTestRedisCache(t)
	defer func() { _ = c.Close() }()

	ctx := context.Background()

	type payload struct {
		Allowed bool   `json:"allowed"`
		Reason  string `json:"reason"`
	}

	require.NoError(t, c.Set(ctx, "k1", payload{Allowed: true, Reason: "ok"}, time.Minute))

	var got payload
	require.NoError(t, c.Get(ctx, "k1", &got))
	assert.Equal(t, payload{Allowed: true, Reason: "ok"}, got)

	err := c.Get(ctx, "absent", &got)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisCacheTTL(t *testing.T) {
	c, mr := newTestRedisCache(t)

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k1", "v1", time.Minute))

	var got string
	require.NoError(t, c.Get(ctx, "k1", &got))

	mr.FastForward(time.Minute + time.Second)

	err := c.Get(ctx, "k1", &got)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisCacheDeleteByPrefix(t *testing.T) {
	c, _ := newTestRedisCache(t)

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "auth:permission:org1:alice:doc:read", true, time.Minute))
	require.NoError(t, c.Set(ctx, "auth:permission:org1:alice:doc:write", false, time.Minute))
	require.NoError(t, c.Set(ctx, "auth:permission:org2:alice:doc:read", true, time.Minute))

	require.NoError(t, c.DeleteByPrefix(ctx, "auth:permission:org1:alice:"))

	var got bool
	assert.ErrorIs(t, c.Get(ctx, "auth:permission:org1:alice:doc:read", &got), ErrNotFound)
	assert.ErrorIs(t, c.Get(ctx, "auth:permission:org1:alice:doc:write", &got), ErrNotFound)
	assert.NoError(t, c.Get(ctx, "auth:permission:org2:alice:doc:read", &got))
}

func TestRedisCacheExistsAndDelete(t *testing.T) {
	c, _ := newTestRedisCache(t)

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k1", 1, time.Minute))

	exists, err := c.Exists(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, c.Delete(ctx, "k1"))

	exists, err = c.Exists(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, exists)
}
