// Package bootstrap assembles the storage backends shared by the API server
// and the export CLI from configuration.
package bootstrap

import (
	"context"
	"fmt"

	"studio/internal/adapter/memstore"
	"studio/internal/adapter/repo"
	"studio/internal/cache"
	"studio/internal/domain"
	"studio/internal/infra"
	"studio/internal/storage"
)

// Store is everything the services need from the metadata backend.
type Store interface {
	domain.AssetStore
	domain.BundleLoader
}

var (
	_ Store = (*repo.AssetRepositoryPG)(nil)
	_ Store = (*memstore.Store)(nil)
)

// Backend holds the opened backends. Close releases them in reverse order.
type Backend struct {
	Store    Store
	Blobs    storage.BlobStore
	Reporter infra.ErrorReporter
	// StaticDir is set when blobs live on the local filesystem and must be
	// served by the API.
	StaticDir string
	// Ping reports metadata backend readiness.
	Ping func(ctx context.Context) error

	closers []func()
}

// Open connects the configured store, blob driver, URL cache and error
// reporter. On error everything opened so far is released.
func Open(ctx context.Context, cfg *infra.Config, logger infra.Logger, release string) (_ *Backend, err error) {
	b := &Backend{Ping: func(context.Context) error { return nil }}
	defer func() {
		if err != nil {
			b.Close()
		}
	}()

	reporter, flush, err := infra.NewErrorReporter(cfg, release)
	if err != nil {
		return nil, fmt.Errorf("init error reporting: %w", err)
	}
	b.Reporter = reporter
	b.closers = append(b.closers, flush)

	switch cfg.StoreDriver {
	case infra.StoreDriverPostgres:
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, pool.Close)
		runner := infra.NewSQLRunner(pool, infra.Component(logger, "sql"))
		if err := infra.Migrate(ctx, runner, logger); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		b.Store = repo.NewAssetRepository(runner)
		b.Ping = pool.Ping
	case infra.StoreDriverMemory:
		logger.Warn().Msg("using in-memory store; data is lost on exit")
		b.Store = memstore.New()
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}

	switch cfg.BlobDriver {
	case infra.BlobDriverS3:
		s3Store, err := storage.NewS3Store(ctx, storage.S3Options{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretKey,
			PresignTTL:      cfg.S3PresignTTL,
		})
		if err != nil {
			return nil, err
		}
		b.Blobs = s3Store
	default:
		fs, err := storage.NewFileStore(cfg.StoragePath, cfg.StorageBaseURL)
		if err != nil {
			return nil, err
		}
		b.Blobs = fs
		b.StaticDir = fs.BasePath()
	}

	rdb, err := infra.NewRedisClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if rdb != nil {
		b.closers = append(b.closers, func() { _ = rdb.Close() })
		ttl := cfg.URLCacheTTL
		if cfg.BlobDriver == infra.BlobDriverS3 && ttl >= cfg.S3PresignTTL {
			ttl = cfg.S3PresignTTL / 2
		}
		b.Blobs = storage.NewCachedURLStore(b.Blobs, cache.NewCache("blob_url", rdb), ttl, infra.Component(logger, "url_cache"))
	}
	return b, nil
}

func (b *Backend) Close() {
	if b == nil {
		return
	}
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	b.closers = nil
}
