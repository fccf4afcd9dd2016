package ratelimit

import (
	"context"
	"testing"
	"time"

	"lettertool/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStore(client, "lettertool:ratelimit:")
	t.Cleanup(func() { store.Close() })
	return store, mr
}

func TestRedisStore_WindowLifecycle(t *testing.T) {
	store, mr := newRedisStore(t)
	cfg := Config{MaxRequests: 3, WindowSeconds: 60}

	for _, want := range []int{2, 1, 0} {
		res := take(t, store, "1.2.3.4", cfg, time.Now())
		assert.True(t, res.Success)
		assert.Equal(t, want, res.Remaining)
		assert.Equal(t, 3, res.Limit)
		assert.Equal(t, 60, res.ResetIn)
	}

	res := take(t, store, "1.2.3.4", cfg, time.Now())
	assert.False(t, res.Success)
	assert.Equal(t, 0, res.Remaining)
	assert.Greater(t, res.ResetIn, 0)

	// Rejection did not increment the counter
	val, err := mr.Get("lettertool:ratelimit:1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, "3", val)

	mr.FastForward(61 * time.Second)

	res = take(t, store, "1.2.3.4", cfg, time.Now())
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.Remaining)
}

func TestRedisStore_KeyExpiresWithWindow(t *testing.T) {
	store, mr := newRedisStore(t)
	cfg := Config{MaxRequests: 5, WindowSeconds: 30}

	take(t, store, "k", cfg, time.Now())

	ttl := mr.TTL("lettertool:ratelimit:k")
	assert.Equal(t, 30*time.Second, ttl)
}

func TestRedisStore_IndependentKeys(t *testing.T) {
	store, _ := newRedisStore(t)
	cfg := Config{MaxRequests: 1, WindowSeconds: 60}

	assert.True(t, take(t, store, "a", cfg, time.Now()).Success)
	assert.False(t, take(t, store, "a", cfg, time.Now()).Success)
	assert.True(t, take(t, store, "b", cfg, time.Now()).Success)
}

func TestRedisStore_ErrorWhenServerDown(t *testing.T) {
	store, mr := newRedisStore(t)
	mr.Close()

	_, err := store.Take(context.Background(), "k", DefaultConfig(), time.Now())
	assert.Error(t, err)
}

func TestLimiter_RedisOutageUsesFallback(t *testing.T) {
	store, mr := newRedisStore(t)
	l, err := NewLimiter(store)
	require.NoError(t, err)

	cfg := Config{MaxRequests: 1, WindowSeconds: 60}
	assert.True(t, l.Check(context.Background(), "k", cfg).Success)

	mr.Close()

	// The fallback window starts fresh
	assert.True(t, l.Check(context.Background(), "k", cfg).Success)
	assert.False(t, l.Check(context.Background(), "k", cfg).Success)
}

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewRedisClient(models.RedisConfig{Addr: mr.Addr(), PoolSize: 2})
	require.NoError(t, err)
	assert.NoError(t, client.Close())

	_, err = NewRedisClient(models.RedisConfig{})
	assert.Error(t, err)
}
