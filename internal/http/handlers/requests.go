package handlers

import (
	"time"

	"studio/internal/domain"
)

type SetCurrentReq struct {
	VersionID string `json:"version_id"`
}

type PinReq struct {
	Pinned *bool `json:"pinned"`
}

type StartExportReq struct {
	ResourceIDs []string `json:"resource_ids"`
	Watermark   bool     `json:"watermark"`
}

type versionView struct {
	ID        string    `json:"id"`
	AssetID   string    `json:"asset_id"`
	StorageID string    `json:"storage_id"`
	Prompt    string    `json:"prompt,omitempty"`
	Source    string    `json:"source"`
	Pinned    bool      `json:"pinned"`
	URL       string    `json:"url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type assetView struct {
	ID               string       `json:"id"`
	OwnerType        string       `json:"owner_type"`
	OwnerID          string       `json:"owner_id"`
	AssetType        string       `json:"asset_type"`
	AssetKey         string       `json:"asset_key"`
	CurrentVersionID *string      `json:"current_version_id"`
	CurrentVersion   *versionView `json:"current_version"`
	URL              *string      `json:"url"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

type assetDetailView struct {
	Asset          assetView     `json:"asset"`
	Versions       []versionView `json:"versions"`
	CurrentVersion *versionView  `json:"current_version"`
}

func newVersionView(v domain.AssetVersion) versionView {
	return versionView{
		ID:        v.ID,
		AssetID:   v.AssetID,
		StorageID: v.StorageID,
		Prompt:    v.Prompt,
		Source:    string(v.Source),
		Pinned:    v.Pinned,
		CreatedAt: v.CreatedAt,
	}
}

func newAssetView(a domain.Asset) assetView {
	return assetView{
		ID:               a.ID,
		OwnerType:        string(a.Owner.Type),
		OwnerID:          a.Owner.ID,
		AssetType:        a.AssetType,
		AssetKey:         a.AssetKey,
		CurrentVersionID: a.CurrentVersionID,
		CreatedAt:        a.CreatedAt,
		UpdatedAt:        a.UpdatedAt,
	}
}
