package domain

// CurrentAsset is the live version of one resource asset as seen by export.
type CurrentAsset struct {
	AssetID   string
	AssetType string
	AssetKey  string
	VersionID string
	StorageID string
	Prompt    string
}

// SlotKey identifies an asset slot within a resource.
func SlotKey(assetType, assetKey string) string {
	if assetKey == "" {
		return assetType
	}
	return assetType + "/" + assetKey
}

// ExportBundle is everything the renderer needs for one resource.
type ExportBundle struct {
	Resource Resource
	Assets   []CurrentAsset
	Style    *Style
}

// RenderAsset is one resolved asset slot handed to the renderer.
type RenderAsset struct {
	AssetType string `json:"assetType"`
	AssetKey  string `json:"assetKey"`
	StorageID string `json:"storageId"`
	URL       string `json:"url"`
	Prompt    string `json:"prompt,omitempty"`
}

// RenderFrame is a style frame with its fetchable URL.
type RenderFrame struct {
	StorageID string `json:"storageId"`
	URL       string `json:"url"`
}

// RenderInput is what the document renderer needs to lay out one resource.
type RenderInput struct {
	Resource  Resource
	Assets    map[string]RenderAsset
	Style     *Style
	Frames    map[FrameRole]RenderFrame
	Watermark bool
}
