package storage

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"studio/internal/cache"
)

// URLCache is the subset of cache.Cache used to memoize blob URLs.
type URLCache interface {
	Get(ctx context.Context, key string) (string, error)
	Store(ctx context.Context, key string, ttl time.Duration, value string) error
	Remove(ctx context.Context, key string) error
}

// CachedURLStore memoizes URL lookups of an underlying store. Cache failures
// degrade to direct lookups.
type CachedURLStore struct {
	BlobStore
	cache  URLCache
	ttl    time.Duration
	logger zerolog.Logger
}

// NewCachedURLStore wraps store. ttl must stay below the lifetime of the
// URLs the store hands out.
func NewCachedURLStore(store BlobStore, c URLCache, ttl time.Duration, logger zerolog.Logger) *CachedURLStore {
	return &CachedURLStore{BlobStore: store, cache: c, ttl: ttl, logger: logger}
}

func (s *CachedURLStore) URL(ctx context.Context, storageID string) (string, error) {
	if storageID == "" {
		return "", nil
	}
	cached, err := s.cache.Get(ctx, storageID)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, cache.ErrMiss) {
		s.logger.Warn().Err(err).Str("storage_id", storageID).Msg("url cache read failed")
	}
	u, err := s.BlobStore.URL(ctx, storageID)
	if err != nil || u == "" {
		return u, err
	}
	if err := s.cache.Store(ctx, storageID, s.ttl, u); err != nil {
		s.logger.Warn().Err(err).Str("storage_id", storageID).Msg("url cache write failed")
	}
	return u, nil
}

func (s *CachedURLStore) Delete(ctx context.Context, storageID string) error {
	if err := s.BlobStore.Delete(ctx, storageID); err != nil {
		return err
	}
	if err := s.cache.Remove(ctx, storageID); err != nil {
		s.logger.Warn().Err(err).Str("storage_id", storageID).Msg("url cache evict failed")
	}
	return nil
}

var (
	_ BlobStore = (*CachedURLStore)(nil)
	_ URLCache  = (*cache.Cache)(nil)
)
