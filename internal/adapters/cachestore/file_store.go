package cachestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gitlab.com/arvasys/api/eam-gateway-service/internal/domain"
	"gitlab.com/arvasys/api/eam-gateway-service/pkg/cachekeys"
)

// FileStore implements domain.PersistentTierStore with one JSON file per
// cache key. Files are plain serialized records, not a database: concurrent
// writers from multiple processes can race. That is a documented limitation;
// the memory tier is the source of truth and disk is a fallback only.
type FileStore struct {
	dir    string
	logger domain.Logger
}

func NewFileStore(dir string, logger domain.Logger) (*FileStore, error) {
	if logger == nil {
		panic("logger cannot be nil in NewFileStore")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("%w: cannot create cache dir %s: %v", domain.ErrDiskUnavailable, dir, err)
	}
	return &FileStore{dir: dir, logger: logger}, nil
}

// Get reads the entry for key. Absent files map to ErrCacheMiss; a corrupt
// file is removed and also reported as a miss.
func (s *FileStore) Get(ctx context.Context, key domain.CacheKey) (*domain.PersistentEntry, error) {
	path := filepath.Join(s.dir, cachekeys.FileName(key))
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.ErrCacheMiss
		}
		return nil, fmt.Errorf("%w: read %s: %v", domain.ErrDiskUnavailable, path, err)
	}

	var entry domain.PersistentEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		s.logger.Warn(ctx, "Removing corrupt cache file", "path", path, "error", err.Error())
		_ = os.Remove(path)
		return nil, domain.ErrCacheMiss
	}
	return &entry, nil
}

// Set writes the entry for key, replacing any previous file.
func (s *FileStore) Set(ctx context.Context, key domain.CacheKey, entry *domain.PersistentEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry for %s/%s: %w", key.Namespace, key.Qualifier, err)
	}
	path := filepath.Join(s.dir, cachekeys.FileName(key))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("%w: write %s: %v", domain.ErrDiskUnavailable, path, err)
	}
	return nil
}

// Delete removes the entry for key; a missing file is not an error.
func (s *FileStore) Delete(ctx context.Context, key domain.CacheKey) error {
	path := filepath.Join(s.dir, cachekeys.FileName(key))
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: remove %s: %v", domain.ErrDiskUnavailable, path, err)
	}
	return nil
}

// DeleteNamespace removes every file belonging to (identity, namespace).
func (s *FileStore) DeleteNamespace(ctx context.Context, identity, namespace string) error {
	prefix := cachekeys.NamespacePrefix(identity, namespace)
	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("%w: list %s: %v", domain.ErrDiskUnavailable, s.dir, err)
	}
	for _, de := range dirEntries {
		if de.IsDir() || !strings.HasPrefix(de.Name(), prefix) {
			continue
		}
		path := filepath.Join(s.dir, de.Name())
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn(ctx, "Failed to remove cache file during namespace wipe", "path", path, "error", err.Error())
		}
	}
	return nil
}

// Ping verifies the cache directory is still usable.
func (s *FileStore) Ping(ctx context.Context) error {
	if _, err := os.Stat(s.dir); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrDiskUnavailable, err)
	}
	return nil
}
