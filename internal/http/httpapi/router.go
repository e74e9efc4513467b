package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"studio/internal/http/handlers"
	mw "studio/internal/middleware"
)

// Options tunes the router around the handler set.
type Options struct {
	CORSAllowedOrigins []string
	// ExportRateLimit caps export starts per client per minute. Zero disables it.
	ExportRateLimit int
	// StaticDir serves filesystem blobs under /static when set.
	StaticDir string
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		mw.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		mw.Logger(app.Logger),
		mw.CORS(opts.CORSAllowedOrigins),
	)

	r.Get("/v1/healthz", app.Health)
	r.Get("/v1/openapi.json", app.OpenAPIJSON)
	r.Get("/v1/docs", app.OpenAPIDocs)

	r.Route("/v1/owners/{ownerType}/{ownerID}/assets", func(r chi.Router) {
		r.Get("/", app.ListOwnerAssets)
		r.Get("/{assetType}", app.GetOwnerAsset)
		r.Get("/{assetType}/{assetKey}", app.GetOwnerAsset)
		r.Post("/{assetType}/versions", app.UploadVersion)
		r.Post("/{assetType}/{assetKey}/versions", app.UploadVersion)
	})

	r.Route("/v1/assets/{assetID}", func(r chi.Router) {
		r.Put("/current", app.SetCurrentVersion)
	})

	r.Route("/v1/versions/{versionID}", func(r chi.Router) {
		r.Put("/pin", app.PinVersion)
		r.Delete("/", app.DeleteVersion)
	})

	r.Route("/v1/exports", func(r chi.Router) {
		r.With(mw.RateLimit(opts.ExportRateLimit, time.Minute)).Post("/", app.StartExport)
		r.Get("/{exportID}", app.GetExport)
		r.Get("/{exportID}/events", app.ExportEvents)
		r.Post("/{exportID}/cancel", app.CancelExport)
		r.Get("/{exportID}/archive", app.DownloadExport)
	})

	if opts.StaticDir != "" {
		fs := http.StripPrefix("/static/", http.FileServer(http.Dir(opts.StaticDir)))
		r.Get("/static/*", func(w http.ResponseWriter, req *http.Request) {
			w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
			fs.ServeHTTP(w, req)
		})
	}

	return r
}
