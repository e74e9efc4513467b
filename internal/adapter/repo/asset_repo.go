package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"studio/internal/domain"
	"studio/internal/infra"
	"studio/internal/sqlinline"
)

// AssetRepositoryPG implements domain.AssetStore and domain.BundleLoader
// using PostgreSQL.
type AssetRepositoryPG struct {
	db infra.TxRunner
	assetQueries
}

// NewAssetRepository constructs a new asset repository instance.
func NewAssetRepository(db infra.TxRunner) *AssetRepositoryPG {
	return &AssetRepositoryPG{db: db, assetQueries: assetQueries{exec: db}}
}

// InTx runs fn in one transaction. Asset, version and style reads made
// through the tx take row locks.
func (r *AssetRepositoryPG) InTx(ctx context.Context, fn func(tx domain.AssetTx) error) error {
	return r.db.InTx(ctx, func(exec infra.SQLExecutor) error {
		return fn(&pgAssetTx{assetQueries{exec: exec, lock: true}})
	})
}

// validID reports whether id can be bound to a uuid parameter. Anything
// else cannot name a row.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

type assetQueries struct {
	exec infra.SQLExecutor
	lock bool
}

func (q assetQueries) pick(plain, locking string) string {
	if q.lock {
		return locking
	}
	return plain
}

func (q assetQueries) ListOwnerAssets(ctx context.Context, owner domain.Owner) ([]domain.OwnedAsset, error) {
	if !validID(owner.ID) {
		return nil, nil
	}
	rows, err := q.exec.Query(ctx, sqlinline.QSelectOwnerAssets, string(owner.Type), owner.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.OwnedAsset
	for rows.Next() {
		var (
			a        domain.Asset
			ownerTyp string
			vID      *string
			vStorage *string
			vPrompt  *string
			vSource  *string
			vPinned  *bool
			vCreated *time.Time
		)
		if err := rows.Scan(
			&a.ID, &ownerTyp, &a.Owner.ID, &a.AssetType, &a.AssetKey, &a.CurrentVersionID, &a.CreatedAt, &a.UpdatedAt,
			&vID, &vStorage, &vPrompt, &vSource, &vPinned, &vCreated,
		); err != nil {
			return nil, err
		}
		a.Owner.Type = domain.OwnerType(ownerTyp)
		oa := domain.OwnedAsset{Asset: a}
		if vID != nil {
			oa.Current = &domain.AssetVersion{
				ID:        *vID,
				AssetID:   a.ID,
				StorageID: deref(vStorage),
				Prompt:    deref(vPrompt),
				Source:    domain.VersionSource(deref(vSource)),
				Pinned:    vPinned != nil && *vPinned,
			}
			if vCreated != nil {
				oa.Current.CreatedAt = *vCreated
			}
		}
		out = append(out, oa)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (q assetQueries) FindAsset(ctx context.Context, key domain.AssetKey) (*domain.Asset, error) {
	if !validID(key.Owner.ID) {
		return nil, domain.ErrNotFound
	}
	row := q.exec.QueryRow(ctx, q.pick(sqlinline.QSelectAssetByKey, sqlinline.QSelectAssetByKeyForUpdate),
		string(key.Owner.Type), key.Owner.ID, key.AssetType, key.AssetKey)
	return scanAsset(row)
}

func (q assetQueries) GetAsset(ctx context.Context, assetID string) (*domain.Asset, error) {
	if !validID(assetID) {
		return nil, domain.ErrNotFound
	}
	row := q.exec.QueryRow(ctx, q.pick(sqlinline.QSelectAssetByID, sqlinline.QSelectAssetByIDForUpdate), assetID)
	return scanAsset(row)
}

func (q assetQueries) GetVersion(ctx context.Context, versionID string) (*domain.AssetVersion, error) {
	if !validID(versionID) {
		return nil, domain.ErrNotFound
	}
	row := q.exec.QueryRow(ctx, q.pick(sqlinline.QSelectVersionByID, sqlinline.QSelectVersionByIDForUpdate), versionID)
	v, err := scanVersion(row)
	if infra.IsNoRows(err) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (q assetQueries) ListVersions(ctx context.Context, assetID string) ([]domain.AssetVersion, error) {
	if !validID(assetID) {
		return nil, nil
	}
	rows, err := q.exec.Query(ctx, sqlinline.QListVersionsByAsset, assetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.AssetVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (q assetQueries) GetStyleFrames(ctx context.Context, styleID string) (domain.StyleFrames, error) {
	if !validID(styleID) {
		return nil, domain.ErrNotFound
	}
	var raw []byte
	err := q.exec.QueryRow(ctx, q.pick(sqlinline.QSelectStyleFrames, sqlinline.QSelectStyleFramesForUpdate), styleID).Scan(&raw)
	if infra.IsNoRows(err) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	frames, err := domain.UnmarshalFrames(raw)
	if err != nil {
		return nil, fmt.Errorf("decode frames of style %s: %w", styleID, err)
	}
	return frames, nil
}

// pgAssetTx adds the write side to locking queries bound to one transaction.
type pgAssetTx struct {
	assetQueries
}

func (t *pgAssetTx) InsertAsset(ctx context.Context, asset *domain.Asset) error {
	err := t.exec.QueryRow(ctx, sqlinline.QUpsertAsset,
		asset.ID, string(asset.Owner.Type), asset.Owner.ID, asset.AssetType, asset.AssetKey, asset.CreatedAt,
	).Scan(&asset.ID, &asset.CurrentVersionID, &asset.CreatedAt, &asset.UpdatedAt)
	if err != nil {
		return err
	}
	return nil
}

func (t *pgAssetTx) InsertVersion(ctx context.Context, v *domain.AssetVersion) error {
	_, err := t.exec.Exec(ctx, sqlinline.QInsertVersion,
		v.ID, v.AssetID, v.StorageID, v.Prompt, string(v.Source), v.Pinned, v.CreatedAt)
	return err
}

func (t *pgAssetTx) SetCurrentVersion(ctx context.Context, assetID string, versionID *string, at time.Time) error {
	if !validID(assetID) {
		return domain.ErrNotFound
	}
	tag, err := t.exec.Exec(ctx, sqlinline.QUpdateAssetCurrent, assetID, deref(versionID), at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (t *pgAssetTx) SetPinned(ctx context.Context, versionID string, pinned bool) error {
	if !validID(versionID) {
		return nil
	}
	_, err := t.exec.Exec(ctx, sqlinline.QUpdateVersionPinned, versionID, pinned)
	return err
}

func (t *pgAssetTx) DeleteVersion(ctx context.Context, versionID string) error {
	if !validID(versionID) {
		return nil
	}
	_, err := t.exec.Exec(ctx, sqlinline.QDeleteVersion, versionID)
	return err
}

func (t *pgAssetTx) SetStyleFrames(ctx context.Context, styleID string, frames domain.StyleFrames, at time.Time) error {
	if !validID(styleID) {
		return domain.ErrNotFound
	}
	raw, err := domain.MarshalFrames(frames)
	if err != nil {
		return fmt.Errorf("encode frames of style %s: %w", styleID, err)
	}
	tag, err := t.exec.Exec(ctx, sqlinline.QUpdateStyleFrames, styleID, raw, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// LoadBundles fetches resources with their styles and current assets. Both
// queries run in one read-only transaction so styles and asset pointers come
// from the same snapshot.
func (r *AssetRepositoryPG) LoadBundles(ctx context.Context, resourceIDs []string) ([]domain.ExportBundle, error) {
	if len(resourceIDs) == 0 {
		return nil, nil
	}
	for _, id := range resourceIDs {
		if !validID(id) {
			return nil, fmt.Errorf("resource %s: %w", id, domain.ErrNotFound)
		}
	}

	var bundles []domain.ExportBundle
	err := r.db.InReadTx(ctx, func(exec infra.SQLExecutor) error {
		var (
			index map[string][]int
			err   error
		)
		bundles, index, err = loadExportResources(ctx, exec, resourceIDs)
		if err != nil {
			return err
		}
		for _, id := range resourceIDs {
			if _, ok := index[canonicalID(id)]; !ok {
				return fmt.Errorf("resource %s: %w", id, domain.ErrNotFound)
			}
		}
		return attachExportAssets(ctx, exec, resourceIDs, bundles, index)
	})
	if err != nil {
		return nil, err
	}
	return bundles, nil
}

// loadExportResources returns one bundle per requested id in input order and
// the bundle positions of each resource id.
func loadExportResources(ctx context.Context, exec infra.SQLExecutor, resourceIDs []string) ([]domain.ExportBundle, map[string][]int, error) {
	rows, err := exec.Query(ctx, sqlinline.QSelectExportResources, resourceIDs)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var bundles []domain.ExportBundle
	index := map[string][]int{}
	for rows.Next() {
		var (
			b          domain.ExportBundle
			styleID    *string
			styleName  *string
			frames     []byte
			styleCreat *time.Time
			styleUpd   *time.Time
		)
		if err := rows.Scan(
			&b.Resource.ID, &b.Resource.Name, &b.Resource.Kind, &b.Resource.StyleID, &b.Resource.Content,
			&b.Resource.CreatedAt, &b.Resource.UpdatedAt,
			&styleID, &styleName, &frames, &styleCreat, &styleUpd,
		); err != nil {
			return nil, nil, err
		}
		if styleID != nil {
			st := &domain.Style{ID: *styleID, Name: deref(styleName)}
			if styleCreat != nil {
				st.CreatedAt = *styleCreat
			}
			if styleUpd != nil {
				st.UpdatedAt = *styleUpd
			}
			if st.Frames, err = domain.UnmarshalFrames(frames); err != nil {
				return nil, nil, fmt.Errorf("decode frames of style %s: %w", st.ID, err)
			}
			b.Style = st
		}
		index[b.Resource.ID] = append(index[b.Resource.ID], len(bundles))
		bundles = append(bundles, b)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return bundles, index, nil
}

func attachExportAssets(ctx context.Context, exec infra.SQLExecutor, resourceIDs []string, bundles []domain.ExportBundle, index map[string][]int) error {
	rows, err := exec.Query(ctx, sqlinline.QSelectExportAssets, resourceIDs)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var ownerID string
		var ca domain.CurrentAsset
		if err := rows.Scan(&ownerID, &ca.AssetID, &ca.AssetType, &ca.AssetKey, &ca.VersionID, &ca.StorageID, &ca.Prompt); err != nil {
			return err
		}
		for _, i := range index[ownerID] {
			bundles[i].Assets = append(bundles[i].Assets, ca)
		}
	}
	return rows.Err()
}

// canonicalID renders id the way postgres prints uuids.
func canonicalID(id string) string {
	u, err := uuid.Parse(id)
	if err != nil {
		return id
	}
	return u.String()
}

func scanAsset(row interface{ Scan(dest ...any) error }) (*domain.Asset, error) {
	var a domain.Asset
	var ownerType string
	err := row.Scan(&a.ID, &ownerType, &a.Owner.ID, &a.AssetType, &a.AssetKey, &a.CurrentVersionID, &a.CreatedAt, &a.UpdatedAt)
	if infra.IsNoRows(err) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.Owner.Type = domain.OwnerType(ownerType)
	return &a, nil
}

func scanVersion(row interface{ Scan(dest ...any) error }) (*domain.AssetVersion, error) {
	var v domain.AssetVersion
	var source string
	if err := row.Scan(&v.ID, &v.AssetID, &v.StorageID, &v.Prompt, &source, &v.Pinned, &v.CreatedAt); err != nil {
		return nil, err
	}
	v.Source = domain.VersionSource(source)
	return &v, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

var (
	_ domain.AssetStore   = (*AssetRepositoryPG)(nil)
	_ domain.BundleLoader = (*AssetRepositoryPG)(nil)
	_ domain.AssetTx      = (*pgAssetTx)(nil)
)
