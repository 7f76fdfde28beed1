package application

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/arvasys/api/eam-gateway-service/internal/domain"
)

const testEndpoint = "https://eam.example.com"

func newTestCache(store domain.PersistentTierStore, at *time.Time) *TieredCache[domain.DomainRecord] {
	c := NewTieredCache[domain.DomainRecord](nopLogger{}, store, TieredCacheOptions{
		Namespace:     "profile",
		MemoryTTL:     4 * time.Minute,
		PersistentTTL: 20 * time.Minute,
		MaxStale:      30 * time.Minute,
	})
	c.now = func() time.Time { return *at }
	return c
}

func TestTieredCacheMemoryTier(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store := newMemStore()
	cache := newTestCache(store, &now)
	key := domain.CacheKey{Identity: "maint", Namespace: "profile"}
	record := domain.DomainRecord{"userid": "maint"}

	_, ok := cache.Get(ctx, key, testEndpoint)
	assert.False(t, ok, "empty cache must miss")

	cache.Put(ctx, key, testEndpoint, record)

	got, ok := cache.Get(ctx, key, testEndpoint)
	require.True(t, ok)
	assert.Equal(t, record, got)
	assert.Equal(t, 1, store.len(), "put must write through to the persistent tier")

	// Within the memory TTL the entry stays served even if the persistent
	// tier breaks.
	store.getErr = domain.ErrDiskUnavailable
	now = now.Add(3 * time.Minute)
	_, ok = cache.Get(ctx, key, testEndpoint)
	assert.True(t, ok)
	store.getErr = nil

	// Past the memory TTL but within the persistent TTL: served from disk and
	// promoted back into memory.
	now = now.Add(10 * time.Minute)
	got, ok = cache.Get(ctx, key, testEndpoint)
	require.True(t, ok)
	assert.Equal(t, record, got)
}

func TestTieredCachePromotionKeepsOriginalAge(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store := newMemStore()
	cache := newTestCache(store, &now)
	key := domain.CacheKey{Identity: "maint", Namespace: "profile"}

	cache.Put(ctx, key, testEndpoint, domain.DomainRecord{"userid": "maint"})

	// 19 minutes later the memory entry is long gone; the persistent entry is
	// still valid and gets promoted.
	now = now.Add(19 * time.Minute)
	_, ok := cache.Get(ctx, key, testEndpoint)
	require.True(t, ok)

	// Two minutes later the original write is 21 minutes old. The promoted
	// memory entry must not extend its life past the persistent TTL.
	now = now.Add(2 * time.Minute)
	_, ok = cache.Get(ctx, key, testEndpoint)
	assert.False(t, ok, "promotion must not reset the entry's age")
}

func TestTieredCacheStaleRules(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store := newMemStore()
	cache := newTestCache(store, &now)
	key := domain.CacheKey{Identity: "maint", Namespace: "profile"}
	record := domain.DomainRecord{"userid": "maint"}

	cache.Put(ctx, key, testEndpoint, record)

	// 25 minutes: past the persistent TTL, so Get misses...
	now = now.Add(25 * time.Minute)
	_, ok := cache.Get(ctx, key, testEndpoint)
	assert.False(t, ok)

	// ...but GetStale still serves it within the stale window.
	got, ok := cache.GetStale(ctx, key, testEndpoint)
	require.True(t, ok)
	assert.Equal(t, record, got)

	// 31 minutes: past the stale window, gone for good.
	now = now.Add(6 * time.Minute)
	_, ok = cache.GetStale(ctx, key, testEndpoint)
	assert.False(t, ok)
}

func TestTieredCacheOwnershipValidation(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	key := domain.CacheKey{Identity: "maint", Namespace: "profile"}

	t.Run("identity mismatch discards the entry", func(t *testing.T) {
		store := newMemStore()
		cache := newTestCache(store, &now)
		store.entries[key] = &domain.PersistentEntry{
			Payload:         []byte(`{"userid":"intruder"}`),
			StoredAt:        now,
			Identity:        "somebody-else",
			EndpointBaseURL: testEndpoint,
		}
		_, ok := cache.Get(ctx, key, testEndpoint)
		assert.False(t, ok)
		assert.Equal(t, 0, store.len(), "mismatched entry must be deleted")
	})

	t.Run("endpoint mismatch discards the entry", func(t *testing.T) {
		store := newMemStore()
		cache := newTestCache(store, &now)
		store.entries[key] = &domain.PersistentEntry{
			Payload:         []byte(`{"userid":"maint"}`),
			StoredAt:        now,
			Identity:        "maint",
			EndpointBaseURL: "https://other-remote.example.com",
		}
		_, ok := cache.Get(ctx, key, testEndpoint)
		assert.False(t, ok)
		assert.Equal(t, 0, store.len())
	})

	t.Run("corrupt payload discards the entry", func(t *testing.T) {
		store := newMemStore()
		cache := newTestCache(store, &now)
		store.entries[key] = &domain.PersistentEntry{
			Payload:         []byte(`{not json`),
			StoredAt:        now,
			Identity:        "maint",
			EndpointBaseURL: testEndpoint,
		}
		_, ok := cache.Get(ctx, key, testEndpoint)
		assert.False(t, ok)
		assert.Equal(t, 0, store.len())
	})
}

func TestTieredCacheInvalidation(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store := newMemStore()
	cache := newTestCache(store, &now)

	keyA := domain.CacheKey{Identity: "maint", Namespace: "profile"}
	keyB := domain.CacheKey{Identity: "other", Namespace: "profile"}
	cache.Put(ctx, keyA, testEndpoint, domain.DomainRecord{"userid": "maint"})
	cache.Put(ctx, keyB, testEndpoint, domain.DomainRecord{"userid": "other"})

	cache.Invalidate(ctx, keyA)
	_, ok := cache.Get(ctx, keyA, testEndpoint)
	assert.False(t, ok)
	_, ok = cache.Get(ctx, keyB, testEndpoint)
	assert.True(t, ok, "other keys must survive a single invalidation")

	cache.Put(ctx, keyA, testEndpoint, domain.DomainRecord{"userid": "maint"})
	cache.InvalidateIdentity(ctx, "maint")
	_, ok = cache.Get(ctx, keyA, testEndpoint)
	assert.False(t, ok)
	_, ok = cache.Get(ctx, keyB, testEndpoint)
	assert.True(t, ok, "identity wipe must not touch other identities")
}

func TestTieredCachePersistentWriteFailureIsNonFatal(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store := newMemStore()
	store.setErr = domain.ErrDiskUnavailable
	cache := newTestCache(store, &now)
	key := domain.CacheKey{Identity: "maint", Namespace: "profile"}

	cache.Put(ctx, key, testEndpoint, domain.DomainRecord{"userid": "maint"})
	_, ok := cache.Get(ctx, key, testEndpoint)
	assert.True(t, ok, "memory tier must still serve when disk writes fail")
}
