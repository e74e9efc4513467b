package handlers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"studio/internal/adapter/memstore"
	"studio/internal/assets"
	"studio/internal/domain"
	"studio/internal/export"
	"studio/internal/storage"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

type stubRenderer struct {
	mu    sync.Mutex
	fail  map[string]bool
	block chan struct{}
}

func (s *stubRenderer) Render(ctx context.Context, in domain.RenderInput) ([]byte, error) {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail[in.Resource.ID] {
		return nil, errors.New("layout failed")
	}
	return []byte("%PDF-1.7 " + in.Resource.Name), nil
}

type testEnv struct {
	app      *App
	store    *memstore.Store
	renderer *stubRenderer
	manager  *export.Manager
	router   chi.Router
}

// tickingClock advances one second per call so version order is stable.
func tickingClock() func() time.Time {
	var mu sync.Mutex
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := zerolog.Nop()
	store := memstore.New()
	blobs, err := storage.NewFileStore(t.TempDir(), "http://localhost/static")
	if err != nil {
		t.Fatalf("file store: %v", err)
	}
	renderer := &stubRenderer{fail: map[string]bool{}}
	runner := export.NewRunner(store, renderer, blobs, log, export.WithRenderTimeout(time.Second))
	manager := export.NewManager(runner, log)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = manager.Shutdown(ctx)
	})

	app := &App{
		Assets:         assets.NewService(store, blobs, log, assets.WithClock(tickingClock())),
		Exports:        manager,
		URLs:           blobs,
		Logger:         log,
		MaxUploadBytes: 1 << 10,
	}

	r := chi.NewRouter()
	r.Get("/owners/{ownerType}/{ownerID}/assets", app.ListOwnerAssets)
	r.Get("/owners/{ownerType}/{ownerID}/assets/{assetType}", app.GetOwnerAsset)
	r.Get("/owners/{ownerType}/{ownerID}/assets/{assetType}/{assetKey}", app.GetOwnerAsset)
	r.Post("/owners/{ownerType}/{ownerID}/assets/{assetType}/versions", app.UploadVersion)
	r.Post("/owners/{ownerType}/{ownerID}/assets/{assetType}/{assetKey}/versions", app.UploadVersion)
	r.Put("/assets/{assetID}/current", app.SetCurrentVersion)
	r.Put("/versions/{versionID}/pin", app.PinVersion)
	r.Delete("/versions/{versionID}", app.DeleteVersion)
	r.Post("/exports", app.StartExport)
	r.Get("/exports/{exportID}", app.GetExport)
	r.Get("/exports/{exportID}/events", app.ExportEvents)
	r.Post("/exports/{exportID}/cancel", app.CancelExport)
	r.Get("/exports/{exportID}/archive", app.DownloadExport)

	return &testEnv{app: app, store: store, renderer: renderer, manager: manager, router: r}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func uploadRequest(t *testing.T, path string, data []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	h := textproto.MIMEHeader{}
	h.Set("Content-Disposition", `form-data; name="file"; filename="card.png"`)
	h.Set("Content-Type", "image/png")
	part, err := w.CreatePart(h)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	_, _ = part.Write(data)
	if err := w.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func (e *testEnv) upload(t *testing.T, path string, fields map[string]string) versionView {
	t.Helper()
	rec := e.do(uploadRequest(t, path, pngBytes, fields))
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload status %d: %s", rec.Code, rec.Body.String())
	}
	var v versionView
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode version: %v", err)
	}
	return v
}

func jsonRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestUploadAndReadAsset(t *testing.T) {
	env := newTestEnv(t)
	base := "/owners/resource/res-1/assets/card_image/front"

	first := env.upload(t, base+"/versions", map[string]string{"prompt": "a fox", "source": "generated"})
	if first.Source != "generated" || first.Prompt != "a fox" || first.URL == "" {
		t.Fatalf("unexpected version %+v", first)
	}
	second := env.upload(t, base+"/versions", map[string]string{"keep_current": "true"})

	rec := env.do(httptest.NewRequest(http.MethodGet, base, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("get status %d", rec.Code)
	}
	var detail assetDetailView
	if err := json.NewDecoder(rec.Body).Decode(&detail); err != nil {
		t.Fatalf("decode detail: %v", err)
	}
	if len(detail.Versions) != 2 || detail.Versions[0].ID != second.ID {
		t.Fatalf("versions not newest first: %+v", detail.Versions)
	}
	if detail.CurrentVersion == nil || detail.CurrentVersion.ID != first.ID {
		t.Fatalf("keep_current moved the pointer: %+v", detail.CurrentVersion)
	}
	if detail.Asset.URL == nil || *detail.Asset.URL != first.URL {
		t.Fatalf("asset url = %v, want %q", detail.Asset.URL, first.URL)
	}

	rec = env.do(httptest.NewRequest(http.MethodGet, "/owners/resource/res-1/assets", nil))
	var list struct {
		Items []assetView `json:"items"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Items) != 1 || list.Items[0].CurrentVersion == nil {
		t.Fatalf("unexpected list %+v", list.Items)
	}
}

func TestGetMissingAsset(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(httptest.NewRequest(http.MethodGet, "/owners/style/s-1/assets/frame_border", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status %d", rec.Code)
	}
	rec = env.do(httptest.NewRequest(http.MethodGet, "/owners/planet/p/assets", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad owner type status %d", rec.Code)
	}
}

func TestUploadRejectsBadInput(t *testing.T) {
	env := newTestEnv(t)
	path := "/owners/resource/res-1/assets/card_image/front/versions"

	rec := env.do(uploadRequest(t, path, bytes.Repeat([]byte{1}, 2<<10), nil))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("oversized upload status %d", rec.Code)
	}

	req := uploadRequest(t, path, pngBytes, map[string]string{"source": "stolen"})
	if rec := env.do(req); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad source status %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, path, strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json")
	if rec := env.do(req); rec.Code != http.StatusBadRequest {
		t.Fatalf("non multipart status %d", rec.Code)
	}
}

func TestUploadRejectsNonImage(t *testing.T) {
	env := newTestEnv(t)
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, _ := w.CreateFormFile("file", "notes.txt")
	_, _ = part.Write([]byte("plain text, not an image"))
	_ = w.Close()
	req := httptest.NewRequest(http.MethodPost, "/owners/resource/res-1/assets/card_image/front/versions", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	if rec := env.do(req); rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestStyleFrameUploadUpdatesStyle(t *testing.T) {
	env := newTestEnv(t)
	env.store.PutStyle(domain.Style{ID: "style-1", Name: "Warm"})

	v := env.upload(t, "/owners/style/style-1/assets/frame_border/versions", nil)
	style, _ := env.store.Style("style-1")
	if style.Frames == nil || style.Frames[domain.FrameRoleBorder].StorageID != v.StorageID {
		t.Fatalf("frames not synced: %+v", style.Frames)
	}

	if rec := env.do(httptest.NewRequest(http.MethodDelete, "/versions/"+v.ID, nil)); rec.Code != http.StatusNoContent {
		t.Fatalf("delete status %d", rec.Code)
	}
	style, _ = env.store.Style("style-1")
	if _, ok := style.Frames[domain.FrameRoleBorder]; ok {
		t.Fatalf("border frame survived delete: %+v", style.Frames)
	}
}

func TestSetCurrentPinAndDelete(t *testing.T) {
	env := newTestEnv(t)
	base := "/owners/resource/res-1/assets/card_image/front"
	first := env.upload(t, base+"/versions", nil)
	second := env.upload(t, base+"/versions", nil)

	rec := env.do(jsonRequest(http.MethodPut, "/assets/"+first.AssetID+"/current", `{"version_id":"`+first.ID+`"}`))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("set current status %d: %s", rec.Code, rec.Body.String())
	}

	other := env.upload(t, "/owners/resource/res-1/assets/card_image/back/versions", nil)
	rec = env.do(jsonRequest(http.MethodPut, "/assets/"+first.AssetID+"/current", `{"version_id":"`+other.ID+`"}`))
	if rec.Code != http.StatusConflict {
		t.Fatalf("foreign version status %d", rec.Code)
	}
	rec = env.do(jsonRequest(http.MethodPut, "/assets/"+first.AssetID+"/current", `{"version":"x"}`))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown field status %d", rec.Code)
	}

	rec = env.do(jsonRequest(http.MethodPut, "/versions/"+second.ID+"/pin", `{"pinned":true}`))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("pin status %d", rec.Code)
	}
	rec = env.do(httptest.NewRequest(http.MethodDelete, "/versions/"+second.ID, nil))
	if rec.Code != http.StatusConflict {
		t.Fatalf("delete pinned status %d", rec.Code)
	}
	rec = env.do(jsonRequest(http.MethodPut, "/versions/"+second.ID+"/pin", `{}`))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing pinned status %d", rec.Code)
	}

	rec = env.do(httptest.NewRequest(http.MethodDelete, "/versions/"+first.ID, nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status %d", rec.Code)
	}
	rec = env.do(httptest.NewRequest(http.MethodGet, base, nil))
	var detail assetDetailView
	_ = json.NewDecoder(rec.Body).Decode(&detail)
	if detail.CurrentVersion == nil || detail.CurrentVersion.ID != second.ID {
		t.Fatalf("newest remaining version not promoted: %+v", detail.CurrentVersion)
	}
	rec = env.do(httptest.NewRequest(http.MethodDelete, "/versions/"+first.ID, nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("repeat delete status %d", rec.Code)
	}
}

func waitSettled(t *testing.T, env *testEnv, id string) domain.ExportStatus {
	t.Helper()
	job, err := env.manager.Get(id)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	select {
	case <-job.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("export did not settle")
	}
	return job.Snapshot()
}

func startExport(t *testing.T, env *testEnv, body string) string {
	t.Helper()
	rec := env.do(jsonRequest(http.MethodPost, "/exports", body))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("start status %d: %s", rec.Code, rec.Body.String())
	}
	var out struct {
		ExportID string `json:"export_id"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil || out.ExportID == "" {
		t.Fatalf("decode start: %v %+v", err, out)
	}
	return out.ExportID
}

func TestExportLifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.store.PutResource(domain.Resource{ID: "r1", Name: "Feelings"})
	env.store.PutResource(domain.Resource{ID: "r2", Name: "Feelings"})
	env.store.PutResource(domain.Resource{ID: "r3", Name: "Broken"})
	env.renderer.fail["r3"] = true

	id := startExport(t, env, `{"resource_ids":["r1","r2","r3"],"watermark":true}`)
	st := waitSettled(t, env, id)
	if st.State != domain.ExportStateCompletedWithSkips || st.SuccessCount != 2 {
		t.Fatalf("unexpected status %+v", st)
	}

	rec := env.do(httptest.NewRequest(http.MethodGet, "/exports/"+id, nil))
	var got domain.ExportStatus
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if len(got.Skipped) != 1 || got.Skipped[0] != "Broken" || !got.ArchiveReady {
		t.Fatalf("unexpected status body %+v", got)
	}

	rec = env.do(httptest.NewRequest(http.MethodGet, "/exports/"+id+"/archive", nil))
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "application/zip" {
		t.Fatalf("archive status %d type %q", rec.Code, rec.Header().Get("Content-Type"))
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")) {
		t.Fatal("archive is not a zip")
	}
	rec = env.do(httptest.NewRequest(http.MethodGet, "/exports/"+id+"/archive", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second download status %d", rec.Code)
	}
}

func TestExportAllFailedIsEmpty(t *testing.T) {
	env := newTestEnv(t)
	env.store.PutResource(domain.Resource{ID: "r1", Name: "One"})
	env.renderer.fail["r1"] = true

	id := startExport(t, env, `{"resource_ids":["r1"]}`)
	if st := waitSettled(t, env, id); st.State != domain.ExportStateCompletedEmpty {
		t.Fatalf("state %s", st.State)
	}
	rec := env.do(httptest.NewRequest(http.MethodGet, "/exports/"+id+"/archive", nil))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("archive status %d", rec.Code)
	}
}

func TestExportValidationAndMissing(t *testing.T) {
	env := newTestEnv(t)
	if rec := env.do(jsonRequest(http.MethodPost, "/exports", `{"resource_ids":[]}`)); rec.Code != http.StatusBadRequest {
		t.Fatalf("empty ids status %d", rec.Code)
	}
	if rec := env.do(httptest.NewRequest(http.MethodGet, "/exports/nope", nil)); rec.Code != http.StatusNotFound {
		t.Fatalf("missing export status %d", rec.Code)
	}
}

func TestCancelExport(t *testing.T) {
	env := newTestEnv(t)
	env.renderer.block = make(chan struct{})
	env.store.PutResource(domain.Resource{ID: "r1", Name: "One"})
	env.store.PutResource(domain.Resource{ID: "r2", Name: "Two"})

	id := startExport(t, env, `{"resource_ids":["r1","r2"]}`)
	rec := env.do(httptest.NewRequest(http.MethodPost, "/exports/"+id+"/cancel", nil))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("cancel status %d", rec.Code)
	}
	close(env.renderer.block)

	if st := waitSettled(t, env, id); st.State != domain.ExportStateCancelled {
		t.Fatalf("state %s", st.State)
	}
	rec = env.do(httptest.NewRequest(http.MethodGet, "/exports/"+id+"/archive", nil))
	if rec.Code != http.StatusGone {
		t.Fatalf("archive after cancel status %d", rec.Code)
	}
}

func TestExportEventsStream(t *testing.T) {
	env := newTestEnv(t)
	env.store.PutResource(domain.Resource{ID: "r1", Name: "One"})
	id := startExport(t, env, `{"resource_ids":["r1"]}`)
	waitSettled(t, env, id)

	srv := httptest.NewServer(env.router)
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/exports/" + id + "/events")
	if err != nil {
		t.Fatalf("get events: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type %q", ct)
	}

	var events []string
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		if line := sc.Text(); strings.HasPrefix(line, "event: ") {
			events = append(events, strings.TrimPrefix(line, "event: "))
		}
	}
	if len(events) != 1 || events[0] != "settled" {
		t.Fatalf("events = %v", events)
	}
}
