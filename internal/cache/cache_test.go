package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	c, err := New(context.Background(), Config{Addr: mr.Addr()}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func TestCachedFillsOnMiss(t *testing.T) {
	t.Parallel()

	c, mr := newTestCache(t)
	ctx := context.Background()

	calls := 0
	fill := func(context.Context) (string, error) {
		calls++
		return "https://signed.example/v1", nil
	}

	val, err := c.Cached(ctx, "url:stream:v1:360", time.Minute, fill)
	require.NoError(t, err)
	assert.Equal(t, "https://signed.example/v1", val)
	assert.Equal(t, 1, calls)

	// Second lookup hits the cache.
	val, err = c.Cached(ctx, "url:stream:v1:360", time.Minute, fill)
	require.NoError(t, err)
	assert.Equal(t, "https://signed.example/v1", val)
	assert.Equal(t, 1, calls)

	// The entry expires with its TTL.
	mr.FastForward(2 * time.Minute)
	_, err = c.Cached(ctx, "url:stream:v1:360", time.Minute, fill)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestCachedFillError(t *testing.T) {
	t.Parallel()

	c, _ := newTestCache(t)

	wantErr := errors.New("signing failed")
	_, err := c.Cached(context.Background(), "k", time.Minute, func(context.Context) (string, error) {
		return "", wantErr
	})
	assert.ErrorIs(t, err, wantErr)
}

func TestCachedDegradesWhenRedisDown(t *testing.T) {
	t.Parallel()

	c, mr := newTestCache(t)
	mr.Close()

	val, err := c.Cached(context.Background(), "k", time.Minute, func(context.Context) (string, error) {
		return "direct", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "direct", val)
}

func TestInvalidate(t *testing.T) {
	t.Parallel()

	c, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, mr.Set("url:thumb:v1", "stale"))
	c.Invalidate(ctx, "url:thumb:v1", "url:stream:v1:360")

	assert.False(t, mr.Exists("url:thumb:v1"))
}

func TestNilCacheIsPassthrough(t *testing.T) {
	t.Parallel()

	var c *Cache

	val, err := c.Cached(context.Background(), "k", time.Minute, func(context.Context) (string, error) {
		return "computed", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "computed", val)

	c.Invalidate(context.Background(), "k")
	assert.NoError(t, c.Close())
}
