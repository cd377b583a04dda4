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

func newTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisCacheFromClient(client), mr
}

func TestBlacklist(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	assert.False(t, c.IsTokenBlacklisted(ctx, "h1"))
	require.NoError(t, c.BlacklistToken(ctx, "h1", time.Now().Add(time.Minute)))
	assert.True(t, c.IsTokenBlacklisted(ctx, "h1"))

	mr.FastForward(2 * time.Minute)
	assert.False(t, c.IsTokenBlacklisted(ctx, "h1"))

	// 已过期的 token 不写入
	require.NoError(t, c.BlacklistToken(ctx, "h2", time.Now().Add(-time.Second)))
	assert.False(t, mr.Exists("jwt:blacklist:h2"))
}

func TestSendLock(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	release, err := c.AcquireSendLock(ctx, "u-1", "public", time.Minute)
	require.NoError(t, err)

	_, err = c.AcquireSendLock(ctx, "u-1", "public", time.Minute)
	assert.ErrorIs(t, err, ErrLockHeld)

	// 不同频道互不影响
	releasePrivate, err := c.AcquireSendLock(ctx, "u-1", "private", time.Minute)
	require.NoError(t, err)
	releasePrivate()

	release()
	release()

	release, err = c.AcquireSendLock(ctx, "u-1", "public", time.Minute)
	require.NoError(t, err)

	// 锁过期后被别人拿到，旧持有者的释放不能删掉新锁
	mr.FastForward(2 * time.Minute)
	_, err = c.AcquireSendLock(ctx, "u-1", "public", time.Minute)
	require.NoError(t, err)
	release()
	_, err = c.AcquireSendLock(ctx, "u-1", "public", time.Minute)
	assert.ErrorIs(t, err, ErrLockHeld)
}

func TestUsernameCache(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	_, ok := c.GetUsername(ctx, "u-1")
	assert.False(t, ok)

	require.NoError(t, c.SetUsername(ctx, "u-1", "neo", time.Minute))
	name, ok := c.GetUsername(ctx, "u-1")
	assert.True(t, ok)
	assert.Equal(t, "neo", name)

	require.NoError(t, c.DeleteUsername(ctx, "u-1"))
	_, ok = c.GetUsername(ctx, "u-1")
	assert.False(t, ok)
}

func TestPublishSubscribe(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	sub := c.PSubscribe(ctx, "realtime:*")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, c.Publish(ctx, "realtime:public_chats", []byte(`{"x":1}`)))

	select {
	case m := <-sub.Channel():
		assert.Equal(t, "realtime:public_chats", m.Channel)
		assert.Equal(t, `{"x":1}`, m.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for published message")
	}
}
