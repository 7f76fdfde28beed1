package application

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"gitlab.com/arvasys/api/eam-gateway-service/internal/adapters/metrics"
	"gitlab.com/arvasys/api/eam-gateway-service/internal/domain"
)

// TieredCacheOptions fixes the lifetimes of one cache instance. The two TTLs
// differ on purpose: the memory TTL bounds data freshness, the persistent TTL
// is the tolerance for riding out short remote outages. MaxStale bounds the
// degraded last-resort read after a failed remote call.
type TieredCacheOptions struct {
	Namespace     string
	MemoryTTL     time.Duration
	PersistentTTL time.Duration
	MaxStale      time.Duration
}

type memoryEntry[T any] struct {
	value    T
	storedAt time.Time
}

// TieredCache is a generic two-tier cache: an in-process map with TTL in
// front of a persistent tier with a longer staleness tolerance. A persistent
// entry past its TTL is served only through GetStale, which callers invoke
// after a remote attempt has already failed in the same call; it is never
// preferred over a working remote.
//
// All memory-tier mutations go through a single mutex; persistent-tier I/O
// happens outside the lock so a slow disk or Redis never blocks readers.
type TieredCache[T any] struct {
	logger     domain.Logger
	persistent domain.PersistentTierStore
	opts       TieredCacheOptions

	mu      sync.Mutex
	entries map[domain.CacheKey]memoryEntry[T]

	now func() time.Time
}

func NewTieredCache[T any](logger domain.Logger, persistent domain.PersistentTierStore, opts TieredCacheOptions) *TieredCache[T] {
	if logger == nil {
		panic("logger cannot be nil in NewTieredCache")
	}
	if persistent == nil {
		panic("persistent tier cannot be nil in NewTieredCache")
	}
	return &TieredCache[T]{
		logger:     logger,
		persistent: persistent,
		opts:       opts,
		entries:    make(map[domain.CacheKey]memoryEntry[T]),
		now:        time.Now,
	}
}

// Get returns the cached value for key: memory tier first, then the
// persistent tier (validated for TTL and ownership, promoted into memory on a
// hit).
func (c *TieredCache[T]) Get(ctx context.Context, key domain.CacheKey, endpointBaseURL string) (T, bool) {
	var zero T
	now := c.now()

	c.mu.Lock()
	if entry, ok := c.entries[key]; ok {
		if now.Sub(entry.storedAt) < c.opts.MemoryTTL {
			c.mu.Unlock()
			metrics.IncrementCacheHit(c.opts.Namespace, "memory")
			return entry.value, true
		}
		delete(c.entries, key)
	}
	c.mu.Unlock()

	value, storedAt, ok := c.persistentLookup(ctx, key, endpointBaseURL, c.opts.PersistentTTL)
	if !ok {
		metrics.IncrementCacheMiss(c.opts.Namespace)
		return zero, false
	}

	// Promote: the disk copy becomes the memory entry, keeping its original
	// storedAt so the memory TTL cannot resurrect old data indefinitely.
	c.mu.Lock()
	c.entries[key] = memoryEntry[T]{value: value, storedAt: storedAt}
	c.mu.Unlock()

	metrics.IncrementCacheHit(c.opts.Namespace, "persistent")
	return value, true
}

// GetStale is the degraded last-resort read: a persistent entry is usable
// past its nominal TTL as long as it is younger than MaxStale and the
// ownership metadata matches. Callers use it only after a remote attempt
// failed in the same call.
func (c *TieredCache[T]) GetStale(ctx context.Context, key domain.CacheKey, endpointBaseURL string) (T, bool) {
	value, _, ok := c.persistentLookup(ctx, key, endpointBaseURL, c.opts.MaxStale)
	if !ok {
		var zero T
		return zero, false
	}
	metrics.IncrementStaleFallback(c.opts.Namespace)
	return value, true
}

func (c *TieredCache[T]) persistentLookup(ctx context.Context, key domain.CacheKey, endpointBaseURL string, maxAge time.Duration) (T, time.Time, bool) {
	var zero T
	entry, err := c.persistent.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, domain.ErrCacheMiss) {
			c.logger.Warn(ctx, "Persistent cache tier read failed", "namespace", c.opts.Namespace, "error", err.Error())
		}
		return zero, time.Time{}, false
	}
	if entry.Identity != key.Identity || entry.EndpointBaseURL != endpointBaseURL {
		// Never serve another identity's or another remote's data.
		c.logger.Warn(ctx, "Discarding persistent cache entry with mismatched ownership",
			"namespace", c.opts.Namespace, "entry_identity", entry.Identity, "want_identity", key.Identity)
		_ = c.persistent.Delete(ctx, key)
		return zero, time.Time{}, false
	}
	if c.now().Sub(entry.StoredAt) >= maxAge {
		return zero, time.Time{}, false
	}

	var value T
	if err := json.Unmarshal(entry.Payload, &value); err != nil {
		c.logger.Warn(ctx, "Persistent cache entry payload is corrupt", "namespace", c.opts.Namespace, "error", err.Error())
		_ = c.persistent.Delete(ctx, key)
		return zero, time.Time{}, false
	}
	return value, entry.StoredAt, true
}

// Put writes the value through both tiers. The memory write is immediate; the
// persistent write is best-effort and never fails the operation.
func (c *TieredCache[T]) Put(ctx context.Context, key domain.CacheKey, endpointBaseURL string, value T) {
	now := c.now()

	c.mu.Lock()
	c.entries[key] = memoryEntry[T]{value: value, storedAt: now}
	c.mu.Unlock()

	payload, err := json.Marshal(value)
	if err != nil {
		c.logger.Error(ctx, "Failed to marshal value for persistent cache tier", "namespace", c.opts.Namespace, "error", err.Error())
		return
	}
	entry := &domain.PersistentEntry{
		Payload:         payload,
		StoredAt:        now,
		Identity:        key.Identity,
		EndpointBaseURL: endpointBaseURL,
	}
	if err := c.persistent.Set(ctx, key, entry); err != nil {
		// Log-and-continue: disk is an optimization, memory is authoritative.
		c.logger.Warn(ctx, "Persistent cache tier write failed", "namespace", c.opts.Namespace, "error", err.Error())
	}
}

// Invalidate removes key from both tiers.
func (c *TieredCache[T]) Invalidate(ctx context.Context, key domain.CacheKey) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()

	if err := c.persistent.Delete(ctx, key); err != nil {
		c.logger.Warn(ctx, "Persistent cache tier delete failed", "namespace", c.opts.Namespace, "error", err.Error())
	}
}

// InvalidateIdentity removes every entry of the given identity from both
// tiers, including the whole persistent namespace.
func (c *TieredCache[T]) InvalidateIdentity(ctx context.Context, identity string) {
	c.mu.Lock()
	for key := range c.entries {
		if key.Identity == identity {
			delete(c.entries, key)
		}
	}
	c.mu.Unlock()

	if err := c.persistent.DeleteNamespace(ctx, identity, c.opts.Namespace); err != nil {
		c.logger.Warn(ctx, "Persistent cache namespace wipe failed", "namespace", c.opts.Namespace, "error", err.Error())
	}
}
