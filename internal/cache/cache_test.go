package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/catalog-engine/internal/config"
)

func TestMemoryClient_SetGetExpire(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryClient(10)
	defer c.Close()

	require.NoError(t, c.Set(ctx, "a", []byte("1"), time.Minute))
	v, err := c.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), v)

	require.NoError(t, c.Set(ctx, "b", []byte("2"), -time.Second))
	_, err = c.Get(ctx, "b")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryClient_EvictsWhenFull(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryClient(2)
	defer c.Close()

	require.NoError(t, c.Set(ctx, "short", []byte("x"), time.Second))
	require.NoError(t, c.Set(ctx, "long", []byte("y"), time.Hour))
	require.NoError(t, c.Set(ctx, "new", []byte("z"), time.Hour))

	_, err := c.Get(ctx, "short")
	assert.ErrorIs(t, err, ErrCacheMiss)
	_, err = c.Get(ctx, "long")
	assert.NoError(t, err)
}

func TestMemoryClient_EvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryClient(2)
	defer c.Close()

	require.NoError(t, c.Set(ctx, "a", []byte("1"), time.Hour))
	require.NoError(t, c.Set(ctx, "b", []byte("2"), time.Hour))
	_, err := c.Get(ctx, "a")
	require.NoError(t, err)
	require.NoError(t, c.Set(ctx, "c", []byte("3"), time.Hour))

	_, err = c.Get(ctx, "b")
	assert.ErrorIs(t, err, ErrCacheMiss)
	_, err = c.Get(ctx, "a")
	assert.NoError(t, err)
	assert.Equal(t, 2, c.Len())
}

func TestSetManyJSON(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryClient(10)
	defer c.Close()

	require.NoError(t, SetManyJSON(ctx, c, map[string]int{
		BrandQualityKey("acana"):  3,
		BrandQualityKey("orijen"): 5,
	}, time.Minute))

	var n int
	require.NoError(t, GetJSON(ctx, c, BrandQualityKey("orijen"), &n))
	assert.Equal(t, 5, n)
	assert.Equal(t, 2, c.Len())
}

func TestMemoryClient_PublishSubscribe(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryClient(10)
	defer c.Close()

	msgs, stop, err := c.Subscribe(ctx, RunsChannel)
	require.NoError(t, err)

	require.NoError(t, c.Publish(ctx, RunsChannel, map[string]string{"run_id": "r1"}))
	require.NoError(t, c.Publish(ctx, "other", map[string]string{"run_id": "r2"}))

	select {
	case msg := <-msgs:
		assert.JSONEq(t, `{"run_id":"r1"}`, string(msg))
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
	}

	stop()
	stop()
	_, open := <-msgs
	assert.False(t, open)
	require.NoError(t, c.Publish(ctx, RunsChannel, map[string]string{"run_id": "r3"}))
}

func TestMemoryClient_SubscriptionEndsWithContext(t *testing.T) {
	c := NewMemoryClient(10)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	msgs, _, err := c.Subscribe(ctx, RunsChannel)
	require.NoError(t, err)
	cancel()

	select {
	case _, open := <-msgs:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("subscription not closed")
	}
}

func TestMemoryClient_DeleteByPrefix(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryClient(10)
	defer c.Close()

	require.NoError(t, SetJSON(ctx, c, BrandQualityKey("acana"), map[string]int{"sku": 3}, time.Minute))
	require.NoError(t, SetJSON(ctx, c, BrandQualityKey("orijen"), map[string]int{"sku": 5}, time.Minute))
	require.NoError(t, c.Set(ctx, AliasTableKey(), []byte("[]"), time.Minute))

	require.NoError(t, c.DeleteByPrefix(ctx, BrandQualityPrefix()))

	var out map[string]int
	assert.ErrorIs(t, GetJSON(ctx, c, BrandQualityKey("acana"), &out), ErrCacheMiss)
	_, err := c.Get(ctx, AliasTableKey())
	assert.NoError(t, err)
}

func TestNew_Memory(t *testing.T) {
	c, err := New(config.CacheConfig{Driver: "memory", MaxEntries: 5})
	require.NoError(t, err)
	defer c.Close()
	assert.IsType(t, &MemoryClient{}, c)

	_, err = New(config.CacheConfig{Driver: "bogus"})
	assert.Error(t, err)
}

func TestCacheKeys(t *testing.T) {
	assert.Equal(t, "brand:aliases", AliasTableKey())
	assert.Equal(t, "brand:quality:acana", BrandQualityKey("acana"))
}
