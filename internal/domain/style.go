package domain

import (
	"encoding/json"
	"time"
)

// FrameRole names a decorative frame slot on a style.
type FrameRole string

const (
	FrameRoleBorder   FrameRole = "border"
	FrameRoleFullCard FrameRole = "fullCard"
)

// Asset types backing the frame roles.
const (
	AssetTypeFrameBorder   = "frame_border"
	AssetTypeFrameFullCard = "frame_full_card"
)

// FrameRoleForAssetType maps an asset type to the frame role it feeds.
func FrameRoleForAssetType(assetType string) (FrameRole, bool) {
	switch assetType {
	case AssetTypeFrameBorder:
		return FrameRoleBorder, true
	case AssetTypeFrameFullCard:
		return FrameRoleFullCard, true
	default:
		return "", false
	}
}

// StyleFrame is the denormalized copy of a frame asset's current version.
type StyleFrame struct {
	StorageID   string    `json:"storageId"`
	Prompt      string    `json:"prompt,omitempty"`
	GeneratedAt time.Time `json:"generatedAt"`
}

// StyleFrames maps frame roles to their current images. A nil map means no frames.
type StyleFrames map[FrameRole]StyleFrame

// Clone returns an independent copy.
func (f StyleFrames) Clone() StyleFrames {
	if f == nil {
		return nil
	}
	out := make(StyleFrames, len(f))
	for role, frame := range f {
		out[role] = frame
	}
	return out
}

// MarshalFrames encodes frames for storage. Nil frames encode to nil.
func MarshalFrames(f StyleFrames) ([]byte, error) {
	if len(f) == 0 {
		return nil, nil
	}
	return json.Marshal(f)
}

// UnmarshalFrames decodes stored frames. Empty input yields nil frames.
func UnmarshalFrames(raw []byte) (StyleFrames, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var f StyleFrames
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, err
	}
	if len(f) == 0 {
		return nil, nil
	}
	return f, nil
}

// Style is the visual theme shared by resources.
type Style struct {
	ID        string
	Name      string
	Frames    StyleFrames
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Resource is a printable document definition (emotion cards, worksheet, ...).
type Resource struct {
	ID        string
	Name      string
	Kind      string
	StyleID   *string
	Content   json.RawMessage
	CreatedAt time.Time
	UpdatedAt time.Time
}
