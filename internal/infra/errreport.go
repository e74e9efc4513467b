package infra

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"
)

// ErrorReporter receives failures that are recovered locally and therefore
// never reach a caller, such as leaked blobs or skipped renders.
type ErrorReporter interface {
	Report(ctx context.Context, err error, tags map[string]string)
}

// NopReporter discards reports.
type NopReporter struct{}

func (NopReporter) Report(context.Context, error, map[string]string) {}

// SentryReporter forwards reports to Sentry.
type SentryReporter struct {
	hub *sentry.Hub
}

// NewErrorReporter initializes Sentry when a DSN is configured and falls back
// to a no-op reporter otherwise. The returned flush func must be called before exit.
func NewErrorReporter(cfg *Config, release string) (ErrorReporter, func(), error) {
	if cfg == nil || cfg.SentryDSN == "" {
		return NopReporter{}, func() {}, nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.SentryDSN,
		Environment: cfg.AppEnv,
		Release:     release,
	})
	if err != nil {
		return nil, nil, err
	}
	flush := func() { sentry.Flush(2 * time.Second) }
	return &SentryReporter{hub: sentry.CurrentHub()}, flush, nil
}

func (r *SentryReporter) Report(ctx context.Context, err error, tags map[string]string) {
	if r == nil || err == nil {
		return
	}
	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = r.hub
	}
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		hub.CaptureException(err)
	})
}
