package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livinlefevreloca/stationsync/internal/testutil"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisLock_AcquireAndRelease(t *testing.T) {
	mr, client := setupTestRedis(t)
	l := NewRedisLock(client, "cycle", time.Minute, testutil.NewTestLogger().Logger())
	ctx := context.Background()

	release, err := l.TryAcquire(ctx)
	require.NoError(t, err)

	owner, err := mr.Get("cycle")
	require.NoError(t, err)
	assert.Equal(t, l.OwnerID(), owner)
	assert.Equal(t, time.Minute, mr.TTL("cycle"))

	require.NoError(t, release(ctx))
	assert.False(t, mr.Exists("cycle"))

	// Second release is a no-op
	require.NoError(t, release(ctx))
}

func TestRedisLock_HeldByAnotherInstance(t *testing.T) {
	_, client := setupTestRedis(t)
	logger := testutil.NewTestLogger().Logger()
	first := NewRedisLock(client, "cycle", time.Minute, logger)
	second := NewRedisLock(client, "cycle", time.Minute, logger)
	ctx := context.Background()

	release, err := first.TryAcquire(ctx)
	require.NoError(t, err)

	_, err = second.TryAcquire(ctx)
	assert.ErrorIs(t, err, ErrNotAcquired)

	require.NoError(t, release(ctx))

	release2, err := second.TryAcquire(ctx)
	require.NoError(t, err)
	require.NoError(t, release2(ctx))
}

func TestRedisLock_ReleaseKeepsForeignLock(t *testing.T) {
	mr, client := setupTestRedis(t)
	l := NewRedisLock(client, "cycle", time.Minute, testutil.NewTestLogger().Logger())
	ctx := context.Background()

	release, err := l.TryAcquire(ctx)
	require.NoError(t, err)

	// Our lease expired and another instance took over
	mr.FastForward(2 * time.Minute)
	require.NoError(t, mr.Set("cycle", "someone-else"))

	require.NoError(t, release(ctx))
	owner, err := mr.Get("cycle")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", owner)
}

func TestRedisLock_ExpiryExtendedWhileHeld(t *testing.T) {
	mr, client := setupTestRedis(t)
	l := NewRedisLock(client, "cycle", 3*time.Second, testutil.NewTestLogger().Logger())
	ctx := context.Background()

	release, err := l.TryAcquire(ctx)
	require.NoError(t, err)
	defer func() { _ = release(ctx) }()

	mr.SetTTL("cycle", 100*time.Millisecond)
	ok := testutil.WaitFor(t, func() bool {
		return mr.TTL("cycle") > time.Second
	}, 3*time.Second, "expected keepalive to extend the lock")
	assert.True(t, ok)
}

func TestRedisLock_Unreachable(t *testing.T) {
	mr, client := setupTestRedis(t)
	mr.Close()

	l := NewRedisLock(client, "cycle", time.Minute, testutil.NewTestLogger().Logger())
	_, err := l.TryAcquire(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotAcquired)
	assert.Error(t, l.Ping(context.Background()))
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate(), "disabled lock needs nothing")

	cfg := DefaultConfig()
	cfg.Enabled = true
	assert.NoError(t, cfg.Validate())

	cfg.TTL = 10 * time.Millisecond
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Enabled = true
	cfg.Addr = ""
	assert.Error(t, cfg.Validate())
}
