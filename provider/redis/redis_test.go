package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	p, err := New(Config{
		Client:      goredis.NewClient(&goredis.Options{Addr: mr.Addr()}),
		CloseClient: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close(context.Background()) })
	return p, mr
}

func TestNewRequiresClient(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, ErrNilClient)
}

func TestGetSetDel(t *testing.T) {
	ctx := context.Background()
	p, _ := setupTestRedis(t)

	t.Run("miss", func(t *testing.T) {
		b, ok, err := p.Get(ctx, "absent")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, b)
	})

	t.Run("byte-for-byte round trip", func(t *testing.T) {
		in := []byte{0x00, 'L', 'Y', 0xFF}
		require.NoError(t, p.Set(ctx, "k", in, time.Minute))
		b, ok, err := p.Get(ctx, "k")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, in, b)
	})

	t.Run("del", func(t *testing.T) {
		require.NoError(t, p.Del(ctx, "k"))
		_, ok, err := p.Get(ctx, "k")
		require.NoError(t, err)
		assert.False(t, ok)
		// deleting a missing key is fine
		assert.NoError(t, p.Del(ctx, "k"))
	})
}

func TestTTL(t *testing.T) {
	ctx := context.Background()
	p, mr := setupTestRedis(t)

	require.NoError(t, p.Set(ctx, "ttl", []byte("v"), time.Second))
	assert.Equal(t, time.Second, mr.TTL("ttl"))

	mr.FastForward(2 * time.Second)
	_, ok, err := p.Get(ctx, "ttl")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, p.Set(ctx, "forever", []byte("v"), 0))
	assert.Equal(t, time.Duration(0), mr.TTL("forever"))
}

func TestGetReportsTransportErrors(t *testing.T) {
	ctx := context.Background()
	p, mr := setupTestRedis(t)
	mr.Close()

	_, ok, err := p.Get(ctx, "k")
	assert.Error(t, err)
	assert.False(t, ok)
	assert.Error(t, p.Set(ctx, "k", []byte("v"), time.Minute))
}
