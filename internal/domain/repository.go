package domain

import (
	"context"
	"time"
)

// AssetReader loads assets, versions and style frames.
//
// Lookups of a single row return ErrNotFound when the row is absent.
type AssetReader interface {
	ListOwnerAssets(ctx context.Context, owner Owner) ([]OwnedAsset, error)
	FindAsset(ctx context.Context, key AssetKey) (*Asset, error)
	GetAsset(ctx context.Context, assetID string) (*Asset, error)
	GetVersion(ctx context.Context, versionID string) (*AssetVersion, error)
	// ListVersions returns the versions of an asset newest first.
	ListVersions(ctx context.Context, assetID string) ([]AssetVersion, error)
	GetStyleFrames(ctx context.Context, styleID string) (StyleFrames, error)
}

// AssetWriter mutates assets, versions and style frames.
type AssetWriter interface {
	InsertAsset(ctx context.Context, asset *Asset) error
	InsertVersion(ctx context.Context, version *AssetVersion) error
	SetCurrentVersion(ctx context.Context, assetID string, versionID *string, at time.Time) error
	SetPinned(ctx context.Context, versionID string, pinned bool) error
	DeleteVersion(ctx context.Context, versionID string) error
	// SetStyleFrames replaces the frames map. Nil clears the field.
	SetStyleFrames(ctx context.Context, styleID string, frames StyleFrames, at time.Time) error
}

// AssetTx is the view of the store inside one transaction. Reads of assets
// and style frames lock the rows they return until the transaction ends.
type AssetTx interface {
	AssetReader
	AssetWriter
}

// AssetStore persists assets and runs atomic units of work.
type AssetStore interface {
	AssetReader
	InTx(ctx context.Context, fn func(tx AssetTx) error) error
}

// BundleLoader fetches export bundles for many resources in one round trip.
// Bundles are returned in input order; unknown ids yield ErrNotFound.
type BundleLoader interface {
	LoadBundles(ctx context.Context, resourceIDs []string) ([]ExportBundle, error)
}
