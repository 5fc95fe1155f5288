package repository

import (
	"context"
	"testing"
	"time"

	"github.com/dvillagrablanco/inmova-app-sub011/internal/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *RedisLockRepository) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewRedisLockRepository(client)
}

func testLockRepositories(t *testing.T) map[string]domain.LockRepository {
	_, redisRepo := setupRedis(t)
	return map[string]domain.LockRepository{
		"redis":  redisRepo,
		"memory": NewMemoryLockRepository(),
	}
}

func TestAcquireJobLock_Exclusive(t *testing.T) {
	for name, repo := range testLockRepositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			ok, err := repo.AcquireJobLock(ctx, 1, "calendar", time.Minute)
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = repo.AcquireJobLock(ctx, 1, "calendar", time.Minute)
			require.NoError(t, err)
			assert.False(t, ok)

			// Other facets and connections are independent.
			ok, err = repo.AcquireJobLock(ctx, 1, "bookings", time.Minute)
			require.NoError(t, err)
			assert.True(t, ok)
			ok, err = repo.AcquireJobLock(ctx, 2, "calendar", time.Minute)
			require.NoError(t, err)
			assert.True(t, ok)

			require.NoError(t, repo.ReleaseJobLock(ctx, 1, "calendar"))
			ok, err = repo.AcquireJobLock(ctx, 1, "calendar", time.Minute)
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}

func TestAcquireJobLock_TTLExpiry(t *testing.T) {
	mr, repo := setupRedis(t)
	ctx := context.Background()

	ok, err := repo.AcquireJobLock(ctx, 1, "calendar", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	ok, err = repo.AcquireJobLock(ctx, 1, "calendar", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAllowManualSync_Window(t *testing.T) {
	for name, repo := range testLockRepositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			ok, err := repo.AllowManualSync(ctx, 1, "calendar", time.Minute)
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = repo.AllowManualSync(ctx, 1, "calendar", time.Minute)
			require.NoError(t, err)
			assert.False(t, ok)

			ok, err = repo.AllowManualSync(ctx, 1, "bookings", time.Minute)
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}

func TestAllowManualSync_WindowExpiry(t *testing.T) {
	mr, repo := setupRedis(t)
	ctx := context.Background()

	ok, err := repo.AllowManualSync(ctx, 1, "calendar", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	ok, err = repo.AllowManualSync(ctx, 1, "calendar", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCancelFlag(t *testing.T) {
	for name, repo := range testLockRepositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			cancelled, err := repo.IsCancelled(ctx, 1)
			require.NoError(t, err)
			assert.False(t, cancelled)

			require.NoError(t, repo.SetCancelled(ctx, 1))
			cancelled, err = repo.IsCancelled(ctx, 1)
			require.NoError(t, err)
			assert.True(t, cancelled)

			cancelled, err = repo.IsCancelled(ctx, 2)
			require.NoError(t, err)
			assert.False(t, cancelled)

			require.NoError(t, repo.ClearCancelled(ctx, 1))
			cancelled, err = repo.IsCancelled(ctx, 1)
			require.NoError(t, err)
			assert.False(t, cancelled)
		})
	}
}

func TestFailover_FallsBackAndRecovers(t *testing.T) {
	mr, redisRepo := setupRedis(t)
	logger := zerolog.Nop()
	repo := NewFailoverLockRepository(redisRepo, NewMemoryLockRepository(), &logger)
	ctx := context.Background()

	ok, err := repo.AcquireJobLock(ctx, 1, "calendar", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	mr.SetError("redis is down")

	// Primary errors; the fallback answers. Its lock space is fresh, so the
	// pair lock is acquirable there.
	ok, err = repo.AcquireJobLock(ctx, 2, "calendar", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, repo.isDown.Load())

	ok, err = repo.AcquireJobLock(ctx, 2, "calendar", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	// After the recovery interval the primary is probed again.
	mr.SetError("")
	repo.mu.Lock()
	repo.lastCheck = time.Now().Add(-2 * recoveryInterval)
	repo.mu.Unlock()

	ok, err = repo.AcquireJobLock(ctx, 3, "calendar", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, repo.isDown.Load())
}

func TestFailover_CancelReachesBothBackends(t *testing.T) {
	_, redisRepo := setupRedis(t)
	memory := NewMemoryLockRepository()
	logger := zerolog.Nop()
	repo := NewFailoverLockRepository(redisRepo, memory, &logger)
	ctx := context.Background()

	require.NoError(t, repo.SetCancelled(ctx, 1))

	cancelled, err := memory.IsCancelled(ctx, 1)
	require.NoError(t, err)
	assert.True(t, cancelled)

	cancelled, err = redisRepo.IsCancelled(ctx, 1)
	require.NoError(t, err)
	assert.True(t, cancelled)
}
