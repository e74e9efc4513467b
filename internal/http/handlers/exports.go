package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

const sseKeepAlive = 15 * time.Second

// StartExport queues a batch export and answers with its id.
func (a *App) StartExport(w http.ResponseWriter, r *http.Request) {
	var req StartExportReq
	if err := decodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	job, err := a.Exports.Start(req.ResourceIDs, req.Watermark)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/exports/"+job.ID)
	a.json(w, http.StatusAccepted, map[string]string{"export_id": job.ID})
}

func (a *App) GetExport(w http.ResponseWriter, r *http.Request) {
	job, err := a.Exports.Get(chi.URLParam(r, "exportID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, job.Snapshot())
}

// CancelExport flags the job; the runner stops before the next resource.
func (a *App) CancelExport(w http.ResponseWriter, r *http.Request) {
	job, err := a.Exports.Cancel(chi.URLParam(r, "exportID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusAccepted, job.Snapshot())
}

// ExportEvents streams status snapshots as server-sent events until the job
// settles or the client goes away.
func (a *App) ExportEvents(w http.ResponseWriter, r *http.Request) {
	job, err := a.Exports.Get(chi.URLParam(r, "exportID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	updates, unsubscribe := job.Subscribe()
	defer unsubscribe()

	ticker := time.NewTicker(sseKeepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		case st, ok := <-updates:
			if !ok {
				return
			}
			payload, err := json.Marshal(st)
			if err != nil {
				a.Logger.Error().Err(err).Str("export_id", job.ID).Msg("encode export status")
				return
			}
			event := "progress"
			if st.State.Settled() {
				event = "settled"
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

// DownloadExport hands out the finished archive once.
func (a *App) DownloadExport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "exportID")
	data, err := a.Exports.TakeArchive(id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="export-%s.zip"`, id))
	w.Header().Set("Content-Length", fmt.Sprint(len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		a.Logger.Warn().Err(err).Str("export_id", id).Msg("write export archive")
	}
}
