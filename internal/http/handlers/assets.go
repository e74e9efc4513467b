package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"studio/internal/assets"
	"studio/internal/domain"
)

const defaultMaxUploadBytes = 20 << 20

func ownerFromPath(r *http.Request) (domain.Owner, error) {
	ownerType, err := domain.ParseOwnerType(chi.URLParam(r, "ownerType"))
	if err != nil {
		return domain.Owner{}, err
	}
	owner := domain.Owner{Type: ownerType, ID: strings.TrimSpace(chi.URLParam(r, "ownerID"))}
	return owner, owner.Validate()
}

func keyFromPath(r *http.Request) (domain.AssetKey, error) {
	owner, err := ownerFromPath(r)
	if err != nil {
		return domain.AssetKey{}, err
	}
	key := domain.AssetKey{
		Owner:     owner,
		AssetType: chi.URLParam(r, "assetType"),
		AssetKey:  chi.URLParam(r, "assetKey"),
	}
	return key, key.Validate()
}

// ListOwnerAssets returns every asset of the owner with its current version.
func (a *App) ListOwnerAssets(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerFromPath(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	owned, err := a.Assets.GetByOwner(r.Context(), owner)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	items := make([]assetView, 0, len(owned))
	for _, oa := range owned {
		view := newAssetView(oa.Asset)
		if oa.Current != nil {
			cv := newVersionView(*oa.Current)
			cv.URL = oa.URL
			view.CurrentVersion = &cv
		}
		if oa.URL != "" {
			u := oa.URL
			view.URL = &u
		}
		items = append(items, view)
	}
	a.json(w, http.StatusOK, map[string]any{"items": items})
}

// GetOwnerAsset returns one asset with its full version history.
func (a *App) GetOwnerAsset(w http.ResponseWriter, r *http.Request) {
	key, err := keyFromPath(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	detail, err := a.Assets.GetAsset(r.Context(), key)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if detail == nil {
		a.error(w, http.StatusNotFound, "not_found", "asset not found")
		return
	}
	out := assetDetailView{Asset: newAssetView(detail.Asset), Versions: make([]versionView, 0, len(detail.Versions))}
	for _, v := range detail.Versions {
		view := newVersionView(v)
		view.URL = a.versionURL(r, v.StorageID)
		out.Versions = append(out.Versions, view)
		if detail.Current != nil && v.ID == detail.Current.ID {
			cv := view
			out.CurrentVersion = &cv
			out.Asset.CurrentVersion = &cv
			if cv.URL != "" {
				u := cv.URL
				out.Asset.URL = &u
			}
		}
	}
	a.json(w, http.StatusOK, out)
}

func (a *App) versionURL(r *http.Request, storageID string) string {
	if a.URLs == nil {
		return ""
	}
	u, err := a.URLs.URL(r.Context(), storageID)
	if err != nil {
		a.Logger.Warn().Err(err).Str("storage_id", storageID).Msg("resolve version url failed")
		return ""
	}
	return u
}

// UploadVersion stores a new image version from a multipart form with a
// "file" part and optional prompt, source and keep_current fields.
func (a *App) UploadVersion(w http.ResponseWriter, r *http.Request) {
	key, err := keyFromPath(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	limit := a.MaxUploadBytes
	if limit <= 0 {
		limit = defaultMaxUploadBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit+(1<<20))
	if err := r.ParseMultipartForm(limit); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			a.error(w, http.StatusRequestEntityTooLarge, "too_large", "upload exceeds size limit")
			return
		}
		a.error(w, http.StatusBadRequest, "invalid_input", "expected multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		a.error(w, http.StatusBadRequest, "invalid_input", "file part is required")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		a.fail(w, r, fmt.Errorf("read upload: %w", err))
		return
	}
	if int64(len(data)) > limit {
		a.error(w, http.StatusRequestEntityTooLarge, "too_large", "upload exceeds size limit")
		return
	}
	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	if !strings.HasPrefix(contentType, "image/") {
		a.error(w, http.StatusUnsupportedMediaType, "unsupported_media_type", "only images can be stored as asset versions")
		return
	}
	source, err := domain.ParseVersionSource(r.FormValue("source"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	keepCurrent, _ := strconv.ParseBool(r.FormValue("keep_current"))

	version, err := a.Assets.AddVersion(r.Context(), assets.AddVersionInput{
		Key:         key,
		Data:        data,
		ContentType: contentType,
		Prompt:      r.FormValue("prompt"),
		Source:      source,
		KeepCurrent: keepCurrent,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	view := newVersionView(*version)
	view.URL = a.versionURL(r, version.StorageID)
	a.json(w, http.StatusCreated, view)
}

// SetCurrentVersion moves the asset's current pointer.
func (a *App) SetCurrentVersion(w http.ResponseWriter, r *http.Request) {
	var req SetCurrentReq
	if err := decodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if strings.TrimSpace(req.VersionID) == "" {
		a.error(w, http.StatusBadRequest, "invalid_input", "version_id is required")
		return
	}
	if err := a.Assets.SetCurrentVersion(r.Context(), chi.URLParam(r, "assetID"), req.VersionID); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PinVersion sets or clears the pinned flag.
func (a *App) PinVersion(w http.ResponseWriter, r *http.Request) {
	var req PinReq
	if err := decodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if req.Pinned == nil {
		a.error(w, http.StatusBadRequest, "invalid_input", "pinned is required")
		return
	}
	if err := a.Assets.PinVersion(r.Context(), chi.URLParam(r, "versionID"), *req.Pinned); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteVersion removes one version and its image.
func (a *App) DeleteVersion(w http.ResponseWriter, r *http.Request) {
	if err := a.Assets.DeleteVersion(r.Context(), chi.URLParam(r, "versionID")); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
