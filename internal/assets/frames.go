package assets

import (
	"context"
	"errors"
	"fmt"
	"time"

	"studio/internal/domain"
)

// applyFrame returns frames with exactly one role replaced by frame, or
// removed when frame is nil. Other roles are carried over untouched. The
// result is nil when no role remains so the stored field stays absent rather
// than empty. The input map is never modified.
func applyFrame(frames domain.StyleFrames, role domain.FrameRole, frame *domain.StyleFrame) domain.StyleFrames {
	next := frames.Clone()
	if next == nil {
		next = domain.StyleFrames{}
	}
	if frame != nil {
		next[role] = *frame
	} else {
		delete(next, role)
	}
	if len(next) == 0 {
		return nil
	}
	return next
}

// frameFromVersion projects a version into its style frame representation.
func frameFromVersion(v *domain.AssetVersion) *domain.StyleFrame {
	if v == nil {
		return nil
	}
	return &domain.StyleFrame{
		StorageID:   v.StorageID,
		Prompt:      v.Prompt,
		GeneratedAt: v.CreatedAt,
	}
}

// propagateFrame mirrors the current version of a style frame asset into the
// style's frames map. It must run inside the transaction that moved the
// asset's pointer. Assets that are not style frames are ignored.
func propagateFrame(ctx context.Context, tx domain.AssetTx, asset domain.Asset, current *domain.AssetVersion, at time.Time) error {
	if asset.Owner.Type != domain.OwnerTypeStyle {
		return nil
	}
	role, ok := domain.FrameRoleForAssetType(asset.AssetType)
	if !ok {
		return nil
	}
	frames, err := tx.GetStyleFrames(ctx, asset.Owner.ID)
	if errors.Is(err, domain.ErrNotFound) {
		// Assets may outlive their style; nothing to mirror into.
		return nil
	}
	if err != nil {
		return fmt.Errorf("load style frames %s: %w", asset.Owner.ID, err)
	}
	if err := tx.SetStyleFrames(ctx, asset.Owner.ID, applyFrame(frames, role, frameFromVersion(current)), at); err != nil {
		return fmt.Errorf("store style frames %s: %w", asset.Owner.ID, err)
	}
	return nil
}
