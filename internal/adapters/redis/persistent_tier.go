package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"gitlab.com/arvasys/api/eam-gateway-service/internal/domain"
	"gitlab.com/arvasys/api/eam-gateway-service/pkg/cachekeys"
)

// PersistentTierAdapter implements domain.PersistentTierStore on Redis, for
// deployments that prefer a shared slow tier over per-host files. Entries
// carry the same ownership metadata as the file tier; Redis expiry is set to
// the stale-fallback window so degraded reads keep working, while the nominal
// TTL is still enforced by the tiered cache itself.
type PersistentTierAdapter struct {
	redisClient *redis.Client
	logger      domain.Logger
	maxStale    time.Duration
}

func NewPersistentTierAdapter(redisClient *redis.Client, logger domain.Logger, maxStale time.Duration) *PersistentTierAdapter {
	if redisClient == nil {
		panic("redisClient cannot be nil in NewPersistentTierAdapter")
	}
	if logger == nil {
		panic("logger cannot be nil in NewPersistentTierAdapter")
	}
	return &PersistentTierAdapter{
		redisClient: redisClient,
		logger:      logger,
		maxStale:    maxStale,
	}
}

// Get retrieves a cache entry from Redis.
func (a *PersistentTierAdapter) Get(ctx context.Context, key domain.CacheKey) (*domain.PersistentEntry, error) {
	val, err := a.redisClient.Get(ctx, cachekeys.RedisKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("%w: redis GET: %v", domain.ErrDiskUnavailable, err)
	}

	var entry domain.PersistentEntry
	if err := json.Unmarshal([]byte(val), &entry); err != nil {
		a.logger.Warn(ctx, "Removing corrupt persistent cache entry", "key", cachekeys.RedisKey(key), "error", err.Error())
		_ = a.redisClient.Del(ctx, cachekeys.RedisKey(key)).Err()
		return nil, domain.ErrCacheMiss
	}
	return &entry, nil
}

// Set stores a cache entry with the stale-fallback window as Redis expiry.
func (a *PersistentTierAdapter) Set(ctx context.Context, key domain.CacheKey, entry *domain.PersistentEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry for key '%s': %w", cachekeys.RedisKey(key), err)
	}
	if err := a.redisClient.Set(ctx, cachekeys.RedisKey(key), payload, a.maxStale).Err(); err != nil {
		return fmt.Errorf("%w: redis SET: %v", domain.ErrDiskUnavailable, err)
	}
	return nil
}

// Delete removes the entry for key.
func (a *PersistentTierAdapter) Delete(ctx context.Context, key domain.CacheKey) error {
	if err := a.redisClient.Del(ctx, cachekeys.RedisKey(key)).Err(); err != nil {
		return fmt.Errorf("%w: redis DEL: %v", domain.ErrDiskUnavailable, err)
	}
	return nil
}

// DeleteNamespace scans and removes every entry of (identity, namespace).
func (a *PersistentTierAdapter) DeleteNamespace(ctx context.Context, identity, namespace string) error {
	pattern := cachekeys.RedisNamespacePattern(identity, namespace)
	iter := a.redisClient.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := a.redisClient.Del(ctx, iter.Val()).Err(); err != nil {
			a.logger.Warn(ctx, "Failed to delete cache entry during namespace wipe", "key", iter.Val(), "error", err.Error())
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("%w: redis SCAN %s: %v", domain.ErrDiskUnavailable, pattern, err)
	}
	return nil
}

// Ping reports whether Redis is reachable.
func (a *PersistentTierAdapter) Ping(ctx context.Context) error {
	if err := a.redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: redis PING: %v", domain.ErrDiskUnavailable, err)
	}
	return nil
}
