package domain

import (
	"context"
	"encoding/json"
	"time"
)

// CacheKey is the structured composite key for cache entries. Keeping the
// parts separate (instead of concatenating strings) gives a defined equality
// and rules out accidental collisions across identities.
type CacheKey struct {
	Identity  string
	Namespace string
	Qualifier string
}

// PersistentEntry is the record a persistent tier stores per key. Identity
// and endpoint are stored alongside the payload so a stale file from another
// identity or another remote can never be served.
type PersistentEntry struct {
	Payload         json.RawMessage `json:"payload"`
	StoredAt        time.Time       `json:"stored_at"`
	Identity        string          `json:"identity"`
	EndpointBaseURL string          `json:"endpoint_base_url"`
}

// PersistentTierStore is the port for the slow cache tier (one file per key,
// or a Redis hash in deployments that have one). Get returns ErrCacheMiss
// when the key is absent. Implementations do their own I/O; TTL and ownership
// validation happen in the tiered cache.
type PersistentTierStore interface {
	Get(ctx context.Context, key CacheKey) (*PersistentEntry, error)
	Set(ctx context.Context, key CacheKey, entry *PersistentEntry) error
	Delete(ctx context.Context, key CacheKey) error
	// DeleteNamespace removes every entry belonging to (identity, namespace).
	// Essential on identity switch to prevent cross-identity leakage.
	DeleteNamespace(ctx context.Context, identity, namespace string) error
	// Ping reports whether the tier is usable (readiness probing).
	Ping(ctx context.Context) error
}
