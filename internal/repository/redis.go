// Package repository implements the advisory lock store backing the
// scheduler's idempotent-enqueue guarantee: per-(connection, facet) job
// locks, manual-trigger rate limits, and cancellation flags. Redis is the
// primary backend with an in-memory fallback behind a failover wrapper.
package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/dvillagrablanco/inmova-app-sub011/internal/config"

	"github.com/redis/go-redis/v9"
)

type RedisLockRepository struct {
	client *redis.Client
}

// NewRedisClient creates a Redis client from config.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	options := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}
	return redis.NewClient(options)
}

func NewRedisLockRepository(client *redis.Client) *RedisLockRepository {
	return &RedisLockRepository{client: client}
}

func jobLockKey(connectionID int64, facet string) string {
	return fmt.Sprintf("sync_lock:%d:%s", connectionID, facet)
}

func manualSyncKey(connectionID int64, facet string) string {
	return fmt.Sprintf("manual_sync:%d:%s", connectionID, facet)
}

func cancelKey(connectionID int64) string {
	return fmt.Sprintf("sync_cancel:%d", connectionID)
}

// AcquireJobLock takes the pair lock with SET NX, the compare-and-set that
// makes enqueue idempotent under concurrent ticks and manual triggers. The
// TTL guards against a crashed executor leaving the pair locked forever.
func (r *RedisLockRepository) AcquireJobLock(ctx context.Context, connectionID int64, facet string, ttl time.Duration) (bool, error) {
	if r.client == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	ok, err := r.client.SetNX(ctx, jobLockKey(connectionID, facet), time.Now().UnixNano(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire job lock: %w", err)
	}
	return ok, nil
}

func (r *RedisLockRepository) ReleaseJobLock(ctx context.Context, connectionID int64, facet string) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := r.client.Del(ctx, jobLockKey(connectionID, facet)).Err(); err != nil {
		return fmt.Errorf("failed to release job lock: %w", err)
	}
	return nil
}

// AllowManualSync admits one manual trigger per pair per window via
// INCR + EXPIRE.
func (r *RedisLockRepository) AllowManualSync(ctx context.Context, connectionID int64, facet string, window time.Duration) (bool, error) {
	if r.client == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	key := manualSyncKey(connectionID, facet)
	count, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to increment manual sync counter: %w", err)
	}
	if count == 1 {
		r.client.Expire(ctx, key, window)
	}
	return count <= 1, nil
}

func (r *RedisLockRepository) SetCancelled(ctx context.Context, connectionID int64) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := r.client.Set(ctx, cancelKey(connectionID), "1", 0).Err(); err != nil {
		return fmt.Errorf("failed to set cancel flag: %w", err)
	}
	return nil
}

func (r *RedisLockRepository) ClearCancelled(ctx context.Context, connectionID int64) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := r.client.Del(ctx, cancelKey(connectionID)).Err(); err != nil {
		return fmt.Errorf("failed to clear cancel flag: %w", err)
	}
	return nil
}

func (r *RedisLockRepository) IsCancelled(ctx context.Context, connectionID int64) (bool, error) {
	if r.client == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	n, err := r.client.Exists(ctx, cancelKey(connectionID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check cancel flag: %w", err)
	}
	return n > 0, nil
}

// Ping verifies the Redis connection.
func Ping(ctx context.Context, client *redis.Client) error {
	if _, err := client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
