package cachestore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/arvasys/api/eam-gateway-service/internal/domain"
	"gitlab.com/arvasys/api/eam-gateway-service/pkg/cachekeys"
)

type nopLogger struct{}

func (nopLogger) Debug(ctx context.Context, msg string, fields ...any) {}
func (nopLogger) Info(ctx context.Context, msg string, fields ...any)  {}
func (nopLogger) Warn(ctx context.Context, msg string, fields ...any)  {}
func (nopLogger) Error(ctx context.Context, msg string, fields ...any) {}
func (nopLogger) Fatal(ctx context.Context, msg string, fields ...any) {}
func (n nopLogger) With(fields ...any) domain.Logger                   { return n }

func testEntry(identity string) *domain.PersistentEntry {
	return &domain.PersistentEntry{
		Payload:         json.RawMessage(`{"userid":"` + identity + `"}`),
		StoredAt:        time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		Identity:        identity,
		EndpointBaseURL: "https://eam.example.com",
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir(), nopLogger{})
	require.NoError(t, err)

	key := domain.CacheKey{Identity: "maint", Namespace: "profile"}
	want := testEntry("maint")

	_, err = store.Get(ctx, key)
	assert.ErrorIs(t, err, domain.ErrCacheMiss)

	require.NoError(t, store.Set(ctx, key, want))

	got, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, want.Identity, got.Identity)
	assert.Equal(t, want.EndpointBaseURL, got.EndpointBaseURL)
	assert.True(t, want.StoredAt.Equal(got.StoredAt))
	assert.JSONEq(t, string(want.Payload), string(got.Payload))
}

func TestFileStoreDelete(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir(), nopLogger{})
	require.NoError(t, err)

	key := domain.CacheKey{Identity: "maint", Namespace: "profile"}
	require.NoError(t, store.Set(ctx, key, testEntry("maint")))
	require.NoError(t, store.Delete(ctx, key))

	_, err = store.Get(ctx, key)
	assert.ErrorIs(t, err, domain.ErrCacheMiss)

	// Deleting a missing key is not an error.
	assert.NoError(t, store.Delete(ctx, key))
}

func TestFileStoreCorruptFileIsRemoved(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := NewFileStore(dir, nopLogger{})
	require.NoError(t, err)

	key := domain.CacheKey{Identity: "maint", Namespace: "profile"}
	path := filepath.Join(dir, cachekeys.FileName(key))
	require.NoError(t, os.WriteFile(path, []byte("{corrupt"), 0o600))

	_, err = store.Get(ctx, key)
	assert.ErrorIs(t, err, domain.ErrCacheMiss)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "corrupt file must be removed")
}

func TestFileStoreDeleteNamespace(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir(), nopLogger{})
	require.NoError(t, err)

	keep := []domain.CacheKey{
		{Identity: "other", Namespace: "profile"},
		{Identity: "maint", Namespace: "sites"},
	}
	drop := []domain.CacheKey{
		{Identity: "maint", Namespace: "profile"},
		{Identity: "maint", Namespace: "profile", Qualifier: "alt"},
	}
	for _, key := range append(append([]domain.CacheKey{}, keep...), drop...) {
		require.NoError(t, store.Set(ctx, key, testEntry(key.Identity)))
	}

	require.NoError(t, store.DeleteNamespace(ctx, "maint", "profile"))

	for _, key := range drop {
		_, err := store.Get(ctx, key)
		assert.ErrorIs(t, err, domain.ErrCacheMiss, "key %+v must be gone", key)
	}
	for _, key := range keep {
		_, err := store.Get(ctx, key)
		assert.NoError(t, err, "key %+v must survive", key)
	}
}

func TestFileStorePing(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, nopLogger{})
	require.NoError(t, err)
	assert.NoError(t, store.Ping(context.Background()))

	require.NoError(t, os.RemoveAll(dir))
	assert.ErrorIs(t, store.Ping(context.Background()), domain.ErrDiskUnavailable)
}
