// Package export renders many resources into one zip archive with progress
// reporting, cooperative cancellation and per-resource failure isolation.
package export

import (
	"context"
	"fmt"
	"time"

	"studio/internal/domain"
	"studio/internal/infra"
	"studio/pkg/zip"
)

// Renderer lays out one resource as a PDF.
type Renderer interface {
	Render(ctx context.Context, in domain.RenderInput) ([]byte, error)
}

// URLResolver turns storage ids into URLs the renderer can fetch.
type URLResolver interface {
	URL(ctx context.Context, storageID string) (string, error)
}

// RenderError describes a resource that could not be rendered. It is
// recovered into Result.Skipped and never fails the run.
type RenderError struct {
	ResourceID string
	Name       string
	Err        error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render %q (%s): %v", e.Name, e.ResourceID, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// Result is the outcome of a settled run. Archive is only set for the
// completed states.
type Result struct {
	State        domain.ExportState
	Archive      []byte
	SuccessCount int
	Skipped      []string
}

// Err reports the empty export outcome as domain.ErrEmptyExport.
func (r *Result) Err() error {
	if r != nil && r.State == domain.ExportStateCompletedEmpty {
		return domain.ErrEmptyExport
	}
	return nil
}

const defaultRenderTimeout = 60 * time.Second

// Runner executes export jobs one resource at a time.
type Runner struct {
	loader        domain.BundleLoader
	renderer      Renderer
	urls          URLResolver
	logger        infra.Logger
	reporter      infra.ErrorReporter
	renderTimeout time.Duration
	now           func() time.Time
}

// RunnerOption customizes a Runner.
type RunnerOption func(*Runner)

// WithRenderTimeout bounds each render call.
func WithRenderTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.renderTimeout = d
		}
	}
}

// WithReporter sets where recovered render failures are reported.
func WithReporter(rep infra.ErrorReporter) RunnerOption {
	return func(r *Runner) { r.reporter = rep }
}

// WithRunnerClock overrides the time source.
func WithRunnerClock(now func() time.Time) RunnerOption {
	return func(r *Runner) { r.now = now }
}

func NewRunner(loader domain.BundleLoader, renderer Renderer, urls URLResolver, logger infra.Logger, opts ...RunnerOption) *Runner {
	r := &Runner{
		loader:        loader,
		renderer:      renderer,
		urls:          urls,
		logger:        infra.Component(logger, "export"),
		reporter:      infra.NopReporter{},
		renderTimeout: defaultRenderTimeout,
		now:           func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes the job to completion and settles it. A non-nil error means
// the bundles could not be loaded; cancellation and empty exports are
// reported through Result.State.
func (r *Runner) Run(ctx context.Context, job *Job) (*Result, error) {
	job.start()
	log := r.logger.With().Str("export_id", job.ID).Int("total", len(job.ResourceIDs)).Logger()
	log.Info().Bool("watermark", job.Watermark).Msg("export started")

	bundles, err := r.loader.LoadBundles(ctx, job.ResourceIDs)
	if err != nil {
		err = fmt.Errorf("load export bundles: %w", err)
		log.Error().Err(err).Msg("export failed")
		job.settle(nil, err, r.now())
		return nil, err
	}

	archive := zip.NewArchive(r.now())
	names := newNamer()
	res := &Result{Skipped: []string{}}
	cancelled := func() bool { return job.Cancelled() || ctx.Err() != nil }

	for i, b := range bundles {
		if cancelled() {
			return r.cancel(job, log, i)
		}
		job.publish(domain.ExportProgress{Current: i + 1, Total: len(bundles), CurrentName: b.Resource.Name})

		pdf, err := r.render(ctx, b, job.Watermark)
		if err != nil {
			rerr := &RenderError{ResourceID: b.Resource.ID, Name: b.Resource.Name, Err: err}
			log.Warn().Err(rerr).Str("resource_id", b.Resource.ID).Msg("export: resource skipped")
			r.reporter.Report(ctx, rerr, map[string]string{"export_id": job.ID, "resource_id": b.Resource.ID})
			res.Skipped = append(res.Skipped, b.Resource.Name)
			job.recordSkip(b.Resource.Name)
			continue
		}
		if err := archive.AddFile(names.next(b.Resource.Name), pdf); err != nil {
			err = fmt.Errorf("add %q to archive: %w", b.Resource.Name, err)
			job.settle(nil, err, r.now())
			return nil, err
		}
		res.SuccessCount++
		job.recordSuccess()
	}

	if cancelled() {
		return r.cancel(job, log, len(bundles))
	}
	if res.SuccessCount == 0 {
		res.State = domain.ExportStateCompletedEmpty
		log.Info().Strs("skipped", res.Skipped).Msg("export: nothing to export")
		job.settle(res, nil, r.now())
		return res, nil
	}

	data, err := archive.Finalize()
	if err != nil {
		err = fmt.Errorf("finalize archive: %w", err)
		job.settle(nil, err, r.now())
		return nil, err
	}
	res.Archive = data
	res.State = domain.ExportStateCompleted
	if len(res.Skipped) > 0 {
		res.State = domain.ExportStateCompletedWithSkips
	}
	log.Info().
		Int("success_count", res.SuccessCount).
		Strs("skipped", res.Skipped).
		Int("bytes", len(data)).
		Msg("export completed")
	job.settle(res, nil, r.now())
	return res, nil
}

func (r *Runner) cancel(job *Job, log infra.Logger, processed int) (*Result, error) {
	log.Info().Int("processed", processed).Msg("export cancelled")
	res := &Result{State: domain.ExportStateCancelled, Skipped: []string{}}
	job.settle(res, nil, r.now())
	return res, nil
}

// render resolves asset and frame URLs and calls the renderer under the
// per-resource timeout.
func (r *Runner) render(ctx context.Context, b domain.ExportBundle, watermark bool) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.renderTimeout)
	defer cancel()

	in := domain.RenderInput{
		Resource:  b.Resource,
		Assets:    make(map[string]domain.RenderAsset, len(b.Assets)),
		Style:     b.Style,
		Watermark: watermark,
	}
	for _, a := range b.Assets {
		u, err := r.urls.URL(ctx, a.StorageID)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", domain.SlotKey(a.AssetType, a.AssetKey), err)
		}
		in.Assets[domain.SlotKey(a.AssetType, a.AssetKey)] = domain.RenderAsset{
			AssetType: a.AssetType,
			AssetKey:  a.AssetKey,
			StorageID: a.StorageID,
			URL:       u,
			Prompt:    a.Prompt,
		}
	}
	if b.Style != nil && len(b.Style.Frames) > 0 {
		in.Frames = make(map[domain.FrameRole]domain.RenderFrame, len(b.Style.Frames))
		for role, f := range b.Style.Frames {
			u, err := r.urls.URL(ctx, f.StorageID)
			if err != nil {
				return nil, fmt.Errorf("resolve %s frame: %w", role, err)
			}
			in.Frames[role] = domain.RenderFrame{StorageID: f.StorageID, URL: u}
		}
	}
	return r.renderer.Render(ctx, in)
}
