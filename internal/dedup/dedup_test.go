package dedup

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	m, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(m.Close)

	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client, time.Minute), m
}

func TestRedis_ClaimRelease(t *testing.T) {
	d, m := newRedis(t)
	ctx := context.Background()

	ok, err := d.Claim(ctx, "t1", "k1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = d.Claim(ctx, "t1", "k1")
	require.NoError(t, err)
	require.False(t, ok)

	// same key, other tenant
	ok, err = d.Claim(ctx, "t2", "k1")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, m.Exists("lotus:idem:t1:k1"))

	require.NoError(t, d.Release(ctx, "t1", "k1"))
	ok, err = d.Claim(ctx, "t1", "k1")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRedis_KeyExpires(t *testing.T) {
	d, m := newRedis(t)
	ctx := context.Background()

	ok, err := d.Claim(ctx, "t1", "k1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, time.Minute, m.TTL("lotus:idem:t1:k1"))

	m.FastForward(2 * time.Minute)
	ok, err = d.Claim(ctx, "t1", "k1")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestMemory_ClaimExpiryRelease(t *testing.T) {
	d := NewMemory(time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }
	ctx := context.Background()

	ok, _ := d.Claim(ctx, "t1", "k")
	require.True(t, ok)
	ok, _ = d.Claim(ctx, "t1", "k")
	require.False(t, ok)

	now = now.Add(2 * time.Minute)
	ok, _ = d.Claim(ctx, "t1", "k")
	require.True(t, ok)

	require.NoError(t, d.Release(ctx, "t1", "k"))
	ok, _ = d.Claim(ctx, "t1", "k")
	require.True(t, ok)
}
