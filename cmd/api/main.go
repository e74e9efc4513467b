package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"studio/internal/assets"
	"studio/internal/bootstrap"
	"studio/internal/export"
	"studio/internal/http/handlers"
	httpapi "studio/internal/http/httpapi"
	"studio/internal/infra"
	"studio/internal/render"
)

var version = "dev"

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := bootstrap.Open(ctx, cfg, logger, version)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open backends")
	}
	defer backend.Close()

	assetSvc := assets.NewService(backend.Store, backend.Blobs, logger, assets.WithReporter(backend.Reporter))

	renderLogger := infra.Component(logger, "render")
	renderer := render.NewClient(render.Options{
		BaseURL:        cfg.RenderServiceURL,
		Logger:         &renderLogger,
		RequestTimeout: cfg.RenderTimeout + 5*time.Second,
	})
	if cfg.RenderServiceURL == "" {
		logger.Warn().Msg("RENDER_SERVICE_URL not set; every export will be skipped")
	}
	runner := export.NewRunner(backend.Store, renderer, backend.Blobs, logger,
		export.WithRenderTimeout(cfg.RenderTimeout),
		export.WithReporter(backend.Reporter),
	)
	exports := export.NewManager(runner, logger, export.WithRetention(cfg.ExportRetention))
	go exports.Run(ctx)

	app := &handlers.App{
		Assets:         assetSvc,
		Exports:        exports,
		URLs:           backend.Blobs,
		Logger:         logger,
		MaxUploadBytes: cfg.MaxUploadBytes,
		Ping:           backend.Ping,
	}
	router := httpapi.NewRouter(app, httpapi.Options{
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		ExportRateLimit:    cfg.ExportRateLimit,
		StaticDir:          backend.StaticDir,
	})
	server := infra.NewHTTPServer(cfg, router, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("http server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	if err := exports.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("export jobs did not stop in time")
	}
	logger.Info().Msg("server stopped")
}
