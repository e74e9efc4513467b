package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"studio/internal/assets"
	"studio/internal/domain"
	"studio/internal/export"
	"studio/internal/infra"
)

// AssetService is the asset version store as seen by the API.
type AssetService interface {
	GetByOwner(ctx context.Context, owner domain.Owner) ([]domain.OwnedAsset, error)
	GetAsset(ctx context.Context, key domain.AssetKey) (*domain.AssetDetail, error)
	AddVersion(ctx context.Context, in assets.AddVersionInput) (*domain.AssetVersion, error)
	SetCurrentVersion(ctx context.Context, assetID, versionID string) error
	PinVersion(ctx context.Context, versionID string, pinned bool) error
	DeleteVersion(ctx context.Context, versionID string) error
}

// ExportService runs batch exports.
type ExportService interface {
	Start(resourceIDs []string, watermark bool) (*export.Job, error)
	Get(id string) (*export.Job, error)
	Cancel(id string) (*export.Job, error)
	TakeArchive(id string) ([]byte, error)
}

// URLResolver resolves version blobs for the history view.
type URLResolver interface {
	URL(ctx context.Context, storageID string) (string, error)
}

type App struct {
	Assets         AssetService
	Exports        ExportService
	URLs           URLResolver
	Logger         infra.Logger
	MaxUploadBytes int64
	// Ping reports backend readiness for /healthz. Nil means always ready.
	Ping func(ctx context.Context) error
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (a *App) error(w http.ResponseWriter, code int, kind, message string) {
	a.json(w, code, errorBody{Error: kind, Message: message})
}

// fail maps service errors onto HTTP responses. Unknown errors are logged
// and answered with a generic 500.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		a.error(w, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrOwnershipMismatch):
		a.error(w, http.StatusConflict, "ownership_mismatch", err.Error())
	case errors.Is(err, domain.ErrVersionPinned):
		a.error(w, http.StatusConflict, "version_pinned", err.Error())
	case errors.Is(err, domain.ErrEmptyExport):
		a.error(w, http.StatusUnprocessableEntity, "empty_export", err.Error())
	case errors.Is(err, export.ErrNotReady):
		a.error(w, http.StatusConflict, "not_ready", err.Error())
	case errors.Is(err, export.ErrNoArchive):
		a.error(w, http.StatusGone, "no_archive", err.Error())
	default:
		a.Logger.Error().Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("request failed")
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

// decodeJSON reads a small JSON body into v, rejecting unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.Join(domain.ErrInvalidInput, err)
	}
	return nil
}
