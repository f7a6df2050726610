package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-push-router/internal/storage/cache"
)

func TestLocalClient(t *testing.T) {
	ctx := context.Background()
	c := cache.NewLocalClient(time.Minute, 0)

	var out map[string]int
	assert.ErrorIs(t, c.Get(ctx, "k", &out), cache.ErrCacheMiss)

	require.NoError(t, c.Set(ctx, "k", map[string]int{"a": 1}, time.Minute))
	require.NoError(t, c.Get(ctx, "k", &out))
	assert.Equal(t, map[string]int{"a": 1}, out)

	require.NoError(t, c.Set(ctx, "short", "v", time.Millisecond))
	time.Sleep(5 * time.Millisecond)
	var s string
	assert.ErrorIs(t, c.Get(ctx, "short", &s), cache.ErrCacheMiss)

	require.NoError(t, c.Del(ctx, "k"))
	assert.ErrorIs(t, c.Get(ctx, "k", &out), cache.ErrCacheMiss)
}
