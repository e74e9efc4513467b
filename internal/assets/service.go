// Package assets keeps every generated, edited or uploaded image as an
// immutable version under a logical asset, maintains the asset's current
// version pointer and mirrors style frame assets into their style.
package assets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"studio/internal/domain"
	"studio/internal/infra"
	"studio/internal/storage"
)

// Service implements the asset version store on top of an AssetStore and a
// blob store.
type Service struct {
	store    domain.AssetStore
	blobs    storage.BlobStore
	logger   infra.Logger
	reporter infra.ErrorReporter
	now      func() time.Time
	newID    func() string
}

// Option customizes a Service.
type Option func(*Service)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDs overrides id generation.
func WithIDs(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

// WithReporter sets where recovered failures are reported.
func WithReporter(r infra.ErrorReporter) Option {
	return func(s *Service) { s.reporter = r }
}

func NewService(store domain.AssetStore, blobs storage.BlobStore, logger infra.Logger, opts ...Option) *Service {
	s := &Service{
		store:    store,
		blobs:    blobs,
		logger:   infra.Component(logger, "assets"),
		reporter: infra.NopReporter{},
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetByOwner lists the owner's assets with their current versions resolved
// to fetchable URLs. A URL that cannot be resolved is left empty.
func (s *Service) GetByOwner(ctx context.Context, owner domain.Owner) ([]domain.OwnedAsset, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	owned, err := s.store.ListOwnerAssets(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("list assets for %s: %w", owner, err)
	}
	for i := range owned {
		if owned[i].Current == nil {
			continue
		}
		u, err := s.blobs.URL(ctx, owned[i].Current.StorageID)
		if err != nil {
			s.logger.Warn().Err(err).
				Str("asset_id", owned[i].Asset.ID).
				Str("storage_id", owned[i].Current.StorageID).
				Msg("resolve asset url failed")
			continue
		}
		owned[i].URL = u
	}
	return owned, nil
}

// GetAsset returns the asset addressed by key with all versions newest
// first, or nil when no such asset exists.
func (s *Service) GetAsset(ctx context.Context, key domain.AssetKey) (*domain.AssetDetail, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	asset, err := s.store.FindAsset(ctx, key)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find asset: %w", err)
	}
	versions, err := s.store.ListVersions(ctx, asset.ID)
	if err != nil {
		return nil, fmt.Errorf("list versions of %s: %w", asset.ID, err)
	}
	detail := &domain.AssetDetail{Asset: *asset, Versions: versions}
	if asset.CurrentVersionID != nil {
		for i := range versions {
			if versions[i].ID == *asset.CurrentVersionID {
				detail.Current = &versions[i]
				break
			}
		}
	}
	return detail, nil
}

// AddVersionInput describes a freshly produced image.
type AddVersionInput struct {
	Key         domain.AssetKey
	Data        []byte
	ContentType string
	Prompt      string
	Source      domain.VersionSource
	// KeepCurrent leaves the current pointer alone instead of promoting the new version.
	KeepCurrent bool
}

// AddVersion stores the image, creates the asset on first write, records an
// immutable version and, unless KeepCurrent is set, makes it current.
func (s *Service) AddVersion(ctx context.Context, in AddVersionInput) (*domain.AssetVersion, error) {
	if err := in.Key.Validate(); err != nil {
		return nil, err
	}
	if len(in.Data) == 0 {
		return nil, fmt.Errorf("%w: image data is required", domain.ErrInvalidInput)
	}
	source := in.Source
	if source == "" {
		source = domain.VersionSourceUploaded
	}
	if _, err := domain.ParseVersionSource(string(source)); err != nil {
		return nil, err
	}

	storageID, err := s.blobs.Put(ctx, in.Data, in.ContentType)
	if err != nil {
		return nil, fmt.Errorf("store image: %w", err)
	}

	var version domain.AssetVersion
	err = s.store.InTx(ctx, func(tx domain.AssetTx) error {
		now := s.now()
		asset := domain.Asset{
			ID:        s.newID(),
			Owner:     in.Key.Owner,
			AssetType: in.Key.AssetType,
			AssetKey:  in.Key.AssetKey,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.InsertAsset(ctx, &asset); err != nil {
			return fmt.Errorf("ensure asset: %w", err)
		}
		version = domain.AssetVersion{
			ID:        s.newID(),
			AssetID:   asset.ID,
			StorageID: storageID,
			Prompt:    strings.TrimSpace(in.Prompt),
			Source:    source,
			CreatedAt: now,
		}
		if err := tx.InsertVersion(ctx, &version); err != nil {
			return fmt.Errorf("insert version: %w", err)
		}
		if in.KeepCurrent && asset.CurrentVersionID != nil {
			return nil
		}
		return s.pointTo(ctx, tx, asset, &version, now)
	})
	if err != nil {
		s.deleteBlob(ctx, storageID, "add_version_rollback")
		return nil, err
	}
	s.logger.Info().
		Str("asset_id", version.AssetID).
		Str("version_id", version.ID).
		Str("source", string(version.Source)).
		Msg("asset version added")
	return &version, nil
}

// SetCurrentVersion moves the asset's current pointer to versionID.
func (s *Service) SetCurrentVersion(ctx context.Context, assetID, versionID string) error {
	return s.store.InTx(ctx, func(tx domain.AssetTx) error {
		asset, err := tx.GetAsset(ctx, assetID)
		if err != nil {
			return fmt.Errorf("asset %s: %w", assetID, err)
		}
		version, err := tx.GetVersion(ctx, versionID)
		if err != nil {
			return fmt.Errorf("version %s: %w", versionID, err)
		}
		if version.AssetID != asset.ID {
			return fmt.Errorf("version %s of asset %s set on asset %s: %w",
				version.ID, version.AssetID, asset.ID, domain.ErrOwnershipMismatch)
		}
		return s.pointTo(ctx, tx, *asset, version, s.now())
	})
}

// PinVersion sets the pinned flag. Missing versions are ignored.
func (s *Service) PinVersion(ctx context.Context, versionID string, pinned bool) error {
	return s.store.InTx(ctx, func(tx domain.AssetTx) error {
		return tx.SetPinned(ctx, versionID, pinned)
	})
}

// DeleteVersion removes a version and its blob, then promotes the newest
// remaining version of the asset (or clears the pointer). Missing versions
// are ignored; pinned versions are refused with ErrVersionPinned.
//
// Rows are locked asset first, then version, the same order SetCurrentVersion
// uses. The blob is removed only after the pinned flag was re-read under
// that lock.
func (s *Service) DeleteVersion(ctx context.Context, versionID string) error {
	version, err := s.store.GetVersion(ctx, versionID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("version %s: %w", versionID, err)
	}
	if version.Pinned {
		return fmt.Errorf("delete version %s: %w", version.ID, domain.ErrVersionPinned)
	}

	var removedBlob string
	err = s.store.InTx(ctx, func(tx domain.AssetTx) error {
		asset, err := tx.GetAsset(ctx, version.AssetID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("asset %s: %w", version.AssetID, err)
		}
		locked, err := tx.GetVersion(ctx, versionID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("version %s: %w", versionID, err)
		}
		if locked.Pinned {
			return fmt.Errorf("delete version %s: %w", locked.ID, domain.ErrVersionPinned)
		}

		// A failed blob delete leaks the blob but must not keep the row.
		s.deleteBlob(ctx, locked.StorageID, "delete_version")
		removedBlob = locked.StorageID

		if err := tx.DeleteVersion(ctx, locked.ID); err != nil {
			return fmt.Errorf("delete version %s: %w", locked.ID, err)
		}
		remaining, err := tx.ListVersions(ctx, asset.ID)
		if err != nil {
			return fmt.Errorf("list versions of %s: %w", asset.ID, err)
		}
		var next *domain.AssetVersion
		if len(remaining) > 0 {
			next = &remaining[0]
		}
		return s.pointTo(ctx, tx, *asset, next, s.now())
	})
	if err != nil && removedBlob != "" {
		s.logger.Error().Err(err).
			Str("version_id", versionID).
			Str("storage_id", removedBlob).
			Msg("version row kept after its blob was deleted")
		s.reporter.Report(ctx, err, map[string]string{
			"version_id": versionID,
			"storage_id": removedBlob,
			"op":         "delete_version",
		})
	}
	return err
}

// pointTo sets the current pointer (nil clears it) and propagates style
// frames in the same transaction.
func (s *Service) pointTo(ctx context.Context, tx domain.AssetTx, asset domain.Asset, version *domain.AssetVersion, at time.Time) error {
	var versionID *string
	if version != nil {
		id := version.ID
		versionID = &id
	}
	if err := tx.SetCurrentVersion(ctx, asset.ID, versionID, at); err != nil {
		return fmt.Errorf("set current version of %s: %w", asset.ID, err)
	}
	asset.CurrentVersionID = versionID
	asset.UpdatedAt = at
	return propagateFrame(ctx, tx, asset, version, at)
}

func (s *Service) deleteBlob(ctx context.Context, storageID, op string) {
	if storageID == "" {
		return
	}
	if err := s.blobs.Delete(ctx, storageID); err != nil {
		s.logger.Error().Err(err).
			Str("storage_id", storageID).
			Str("op", op).
			Msg("blob delete failed, blob leaked")
		s.reporter.Report(ctx, err, map[string]string{"storage_id": storageID, "op": op})
	}
}
