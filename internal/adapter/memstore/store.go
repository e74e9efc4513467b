// Package memstore is an in-process AssetStore used by tests and by the
// api when STORE_DRIVER=memory.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"studio/internal/domain"
)

type state struct {
	assets    map[string]domain.Asset
	versions  map[string]domain.AssetVersion
	styles    map[string]domain.Style
	resources map[string]domain.Resource
}

func newState() *state {
	return &state{
		assets:    map[string]domain.Asset{},
		versions:  map[string]domain.AssetVersion{},
		styles:    map[string]domain.Style{},
		resources: map[string]domain.Resource{},
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.assets {
		c.assets[k] = v
	}
	for k, v := range s.versions {
		c.versions[k] = v
	}
	for k, v := range s.styles {
		v.Frames = v.Frames.Clone()
		c.styles[k] = v
	}
	for k, v := range s.resources {
		c.resources[k] = v
	}
	return c
}

// Store keeps everything in maps guarded by one mutex. Transactions run
// against a copy that replaces the live state on commit, so InTx callers
// are serialized and see their own writes.
type Store struct {
	mu sync.Mutex
	st *state
}

func New() *Store {
	return &Store{st: newState()}
}

// PutStyle inserts or replaces a style.
func (s *Store) PutStyle(style domain.Style) {
	s.mu.Lock()
	defer s.mu.Unlock()
	style.Frames = style.Frames.Clone()
	s.st.styles[style.ID] = style
}

// PutResource inserts or replaces a resource.
func (s *Store) PutResource(res domain.Resource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.resources[res.ID] = res
}

// Style returns a copy of the stored style.
func (s *Store) Style(id string) (domain.Style, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.st.styles[id]
	st.Frames = st.Frames.Clone()
	return st, ok
}

func (s *Store) read() *view {
	s.mu.Lock()
	return &view{st: s.st, unlock: s.mu.Unlock}
}

func (s *Store) ListOwnerAssets(ctx context.Context, owner domain.Owner) ([]domain.OwnedAsset, error) {
	v := s.read()
	defer v.unlock()
	return v.ListOwnerAssets(ctx, owner)
}

func (s *Store) FindAsset(ctx context.Context, key domain.AssetKey) (*domain.Asset, error) {
	v := s.read()
	defer v.unlock()
	return v.FindAsset(ctx, key)
}

func (s *Store) GetAsset(ctx context.Context, assetID string) (*domain.Asset, error) {
	v := s.read()
	defer v.unlock()
	return v.GetAsset(ctx, assetID)
}

func (s *Store) GetVersion(ctx context.Context, versionID string) (*domain.AssetVersion, error) {
	v := s.read()
	defer v.unlock()
	return v.GetVersion(ctx, versionID)
}

func (s *Store) ListVersions(ctx context.Context, assetID string) ([]domain.AssetVersion, error) {
	v := s.read()
	defer v.unlock()
	return v.ListVersions(ctx, assetID)
}

func (s *Store) GetStyleFrames(ctx context.Context, styleID string) (domain.StyleFrames, error) {
	v := s.read()
	defer v.unlock()
	return v.GetStyleFrames(ctx, styleID)
}

// InTx runs fn against a private copy and publishes it when fn succeeds.
func (s *Store) InTx(ctx context.Context, fn func(tx domain.AssetTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	work := &view{st: s.st.clone()}
	if err := fn(work); err != nil {
		return err
	}
	s.st = work.st
	return nil
}

// LoadBundles assembles export bundles from current versions.
func (s *Store) LoadBundles(ctx context.Context, resourceIDs []string) ([]domain.ExportBundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ExportBundle, 0, len(resourceIDs))
	for _, id := range resourceIDs {
		res, ok := s.st.resources[id]
		if !ok {
			return nil, fmt.Errorf("resource %s: %w", id, domain.ErrNotFound)
		}
		b := domain.ExportBundle{Resource: res}
		if len(res.Content) > 0 {
			b.Resource.Content = append(json.RawMessage(nil), res.Content...)
		}
		for _, a := range s.st.assets {
			if a.Owner != domain.ResourceOwner(id) || a.CurrentVersionID == nil {
				continue
			}
			ver, ok := s.st.versions[*a.CurrentVersionID]
			if !ok {
				continue
			}
			b.Assets = append(b.Assets, domain.CurrentAsset{
				AssetID:   a.ID,
				AssetType: a.AssetType,
				AssetKey:  a.AssetKey,
				VersionID: ver.ID,
				StorageID: ver.StorageID,
				Prompt:    ver.Prompt,
			})
		}
		sort.Slice(b.Assets, func(i, j int) bool {
			if b.Assets[i].AssetType != b.Assets[j].AssetType {
				return b.Assets[i].AssetType < b.Assets[j].AssetType
			}
			return b.Assets[i].AssetKey < b.Assets[j].AssetKey
		})
		if res.StyleID != nil {
			if st, ok := s.st.styles[*res.StyleID]; ok {
				st.Frames = st.Frames.Clone()
				b.Style = &st
			}
		}
		out = append(out, b)
	}
	return out, nil
}

// view reads and writes one state. Outside a transaction it holds the store
// lock until unlock is called.
type view struct {
	st     *state
	unlock func()
}

func (v *view) ListOwnerAssets(_ context.Context, owner domain.Owner) ([]domain.OwnedAsset, error) {
	var out []domain.OwnedAsset
	for _, a := range v.st.assets {
		if a.Owner != owner {
			continue
		}
		oa := domain.OwnedAsset{Asset: a}
		if a.CurrentVersionID != nil {
			if ver, ok := v.st.versions[*a.CurrentVersionID]; ok {
				oa.Current = &ver
			}
		}
		out = append(out, oa)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Asset.AssetType != out[j].Asset.AssetType {
			return out[i].Asset.AssetType < out[j].Asset.AssetType
		}
		return out[i].Asset.AssetKey < out[j].Asset.AssetKey
	})
	return out, nil
}

func (v *view) FindAsset(_ context.Context, key domain.AssetKey) (*domain.Asset, error) {
	for _, a := range v.st.assets {
		if a.Key() == key {
			return &a, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (v *view) GetAsset(_ context.Context, assetID string) (*domain.Asset, error) {
	a, ok := v.st.assets[assetID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &a, nil
}

func (v *view) GetVersion(_ context.Context, versionID string) (*domain.AssetVersion, error) {
	ver, ok := v.st.versions[versionID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &ver, nil
}

func (v *view) ListVersions(_ context.Context, assetID string) ([]domain.AssetVersion, error) {
	var out []domain.AssetVersion
	for _, ver := range v.st.versions {
		if ver.AssetID == assetID {
			out = append(out, ver)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NewerThan(out[j]) })
	return out, nil
}

func (v *view) GetStyleFrames(_ context.Context, styleID string) (domain.StyleFrames, error) {
	st, ok := v.st.styles[styleID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return st.Frames.Clone(), nil
}

// InsertAsset creates the asset or, when the key is taken, loads the
// existing row into asset.
func (v *view) InsertAsset(_ context.Context, asset *domain.Asset) error {
	for _, a := range v.st.assets {
		if a.Key() == asset.Key() {
			*asset = a
			return nil
		}
	}
	v.st.assets[asset.ID] = *asset
	return nil
}

func (v *view) InsertVersion(_ context.Context, version *domain.AssetVersion) error {
	if _, ok := v.st.assets[version.AssetID]; !ok {
		return fmt.Errorf("asset %s: %w", version.AssetID, domain.ErrNotFound)
	}
	if _, dup := v.st.versions[version.ID]; dup {
		return fmt.Errorf("version %s already exists", version.ID)
	}
	v.st.versions[version.ID] = *version
	return nil
}

func (v *view) SetCurrentVersion(_ context.Context, assetID string, versionID *string, at time.Time) error {
	a, ok := v.st.assets[assetID]
	if !ok {
		return domain.ErrNotFound
	}
	if versionID != nil {
		ver, ok := v.st.versions[*versionID]
		if !ok {
			return fmt.Errorf("version %s: %w", *versionID, domain.ErrNotFound)
		}
		if ver.AssetID != assetID {
			return domain.ErrOwnershipMismatch
		}
		id := *versionID
		versionID = &id
	}
	a.CurrentVersionID = versionID
	a.UpdatedAt = at
	v.st.assets[assetID] = a
	return nil
}

func (v *view) SetPinned(_ context.Context, versionID string, pinned bool) error {
	ver, ok := v.st.versions[versionID]
	if !ok {
		return nil
	}
	ver.Pinned = pinned
	v.st.versions[versionID] = ver
	return nil
}

// DeleteVersion removes the row and, like the foreign key, nulls any
// pointer that referenced it.
func (v *view) DeleteVersion(_ context.Context, versionID string) error {
	ver, ok := v.st.versions[versionID]
	if !ok {
		return nil
	}
	delete(v.st.versions, versionID)
	if a, ok := v.st.assets[ver.AssetID]; ok && a.IsCurrent(versionID) {
		a.CurrentVersionID = nil
		v.st.assets[a.ID] = a
	}
	return nil
}

func (v *view) SetStyleFrames(_ context.Context, styleID string, frames domain.StyleFrames, at time.Time) error {
	st, ok := v.st.styles[styleID]
	if !ok {
		return domain.ErrNotFound
	}
	if len(frames) == 0 {
		st.Frames = nil
	} else {
		st.Frames = frames.Clone()
	}
	st.UpdatedAt = at
	v.st.styles[styleID] = st
	return nil
}

var (
	_ domain.AssetStore   = (*Store)(nil)
	_ domain.AssetTx      = (*view)(nil)
	_ domain.BundleLoader = (*Store)(nil)
)
