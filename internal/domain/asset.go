package domain

import (
	"fmt"
	"strings"
	"time"
)

// OwnerType enumerates the entities that can own assets.
type OwnerType string

const (
	OwnerTypeResource OwnerType = "resource"
	OwnerTypeStyle    OwnerType = "style"
)

// ParseOwnerType validates a raw owner type string.
func ParseOwnerType(raw string) (OwnerType, error) {
	switch OwnerType(strings.TrimSpace(strings.ToLower(raw))) {
	case OwnerTypeResource:
		return OwnerTypeResource, nil
	case OwnerTypeStyle:
		return OwnerTypeStyle, nil
	default:
		return "", fmt.Errorf("%w: owner type %q", ErrInvalidInput, raw)
	}
}

// Owner identifies the resource or style an asset belongs to.
type Owner struct {
	Type OwnerType
	ID   string
}

// ResourceOwner returns the owner reference for a resource.
func ResourceOwner(resourceID string) Owner {
	return Owner{Type: OwnerTypeResource, ID: resourceID}
}

// StyleOwner returns the owner reference for a style.
func StyleOwner(styleID string) Owner {
	return Owner{Type: OwnerTypeStyle, ID: styleID}
}

// Validate reports whether the owner is well formed.
func (o Owner) Validate() error {
	switch o.Type {
	case OwnerTypeResource, OwnerTypeStyle:
	default:
		return fmt.Errorf("%w: owner type %q", ErrInvalidInput, o.Type)
	}
	if strings.TrimSpace(o.ID) == "" {
		return fmt.Errorf("%w: owner id is required", ErrInvalidInput)
	}
	return nil
}

func (o Owner) String() string {
	return string(o.Type) + ":" + o.ID
}

// AssetKey is the unique lookup key of an asset.
type AssetKey struct {
	Owner     Owner
	AssetType string
	AssetKey  string
}

// Validate reports whether the key can address an asset.
func (k AssetKey) Validate() error {
	if err := k.Owner.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(k.AssetType) == "" {
		return fmt.Errorf("%w: asset type is required", ErrInvalidInput)
	}
	return nil
}

// VersionSource records how a version came to exist.
type VersionSource string

const (
	VersionSourceGenerated VersionSource = "generated"
	VersionSourceEdited    VersionSource = "edited"
	VersionSourceUploaded  VersionSource = "uploaded"
)

// ParseVersionSource validates a raw source string. Empty input defaults to uploaded.
func ParseVersionSource(raw string) (VersionSource, error) {
	switch VersionSource(strings.TrimSpace(strings.ToLower(raw))) {
	case "", VersionSourceUploaded:
		return VersionSourceUploaded, nil
	case VersionSourceGenerated:
		return VersionSourceGenerated, nil
	case VersionSourceEdited:
		return VersionSourceEdited, nil
	default:
		return "", fmt.Errorf("%w: version source %q", ErrInvalidInput, raw)
	}
}

// Asset is a logical image slot. Its images live in AssetVersion rows.
type Asset struct {
	ID               string
	Owner            Owner
	AssetType        string
	AssetKey         string
	CurrentVersionID *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Key returns the unique lookup key of the asset.
func (a Asset) Key() AssetKey {
	return AssetKey{Owner: a.Owner, AssetType: a.AssetType, AssetKey: a.AssetKey}
}

// IsCurrent reports whether versionID is the live version of the asset.
func (a Asset) IsCurrent(versionID string) bool {
	return a.CurrentVersionID != nil && *a.CurrentVersionID == versionID
}

// AssetVersion is one immutable image captured under an asset. Only Pinned may change.
type AssetVersion struct {
	ID        string
	AssetID   string
	StorageID string
	Prompt    string
	Source    VersionSource
	Pinned    bool
	CreatedAt time.Time
}

// NewerThan orders versions newest first, breaking timestamp ties by id.
func (v AssetVersion) NewerThan(other AssetVersion) bool {
	if !v.CreatedAt.Equal(other.CreatedAt) {
		return v.CreatedAt.After(other.CreatedAt)
	}
	return v.ID > other.ID
}

// OwnedAsset pairs an asset with its resolved current version.
type OwnedAsset struct {
	Asset   Asset
	Current *AssetVersion
	URL     string
}

// AssetDetail is the full version history of one asset.
type AssetDetail struct {
	Asset    Asset
	Versions []AssetVersion
	Current  *AssetVersion
}
