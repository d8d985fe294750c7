package redlock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func newTestRedis(t *testing.T) redis.UniversalClient {
	mr, err := miniredis.Run()
	assert.NoError(t, err)
	t.Cleanup(mr.Close)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestLockExcludesSecondHolder(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	first := NewLocker(client, "wallet:0xabc", "worker-1")
	second := NewLocker(client, "wallet:0xabc", "worker-2")

	assert.NoError(t, first.Lock(ctx, time.Minute))
	assert.Error(t, second.Lock(ctx, time.Minute))

	assert.NoError(t, first.Unlock(ctx))
	assert.NoError(t, second.Lock(ctx, time.Minute))
}

func TestUnlockOnlyByHolder(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	holder := NewLocker(client, "wallet:0xabc", "worker-1")
	impostor := NewLocker(client, "wallet:0xabc", "worker-2")

	assert.NoError(t, holder.Lock(ctx, time.Minute))
	assert.Error(t, impostor.Unlock(ctx))
	assert.NoError(t, holder.Unlock(ctx))
}

func TestExtendLock(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	holder := NewLocker(client, "wallet:0xabc", "worker-1")
	assert.NoError(t, holder.Lock(ctx, time.Minute))
	assert.NoError(t, holder.ExtendLock(ctx, 2*time.Minute))

	stranger := NewLocker(client, "wallet:0xabc", "worker-2")
	assert.Error(t, stranger.ExtendLock(ctx, time.Minute))
}

func TestWaitLockRespectsContext(t *testing.T) {
	client := newTestRedis(t)

	holder := NewLocker(client, "wallet:0xabc", "worker-1")
	assert.NoError(t, holder.Lock(context.Background(), time.Minute))

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	waiter := NewLocker(client, "wallet:0xabc", "worker-2")
	err := waiter.WaitLock(ctx, time.Minute, time.Minute)
	assert.Error(t, err)
}
