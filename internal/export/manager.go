package export

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"studio/internal/domain"
	"studio/internal/infra"
)

const (
	defaultRetention = 30 * time.Minute
	sweepInterval    = time.Minute
)

// Manager runs export jobs in the background and keeps settled jobs around
// until their archive is fetched or the retention period passes.
type Manager struct {
	runner    *Runner
	logger    infra.Logger
	retention time.Duration
	now       func() time.Time
	newID     func() string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.Mutex
	jobs map[string]*Job
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithRetention sets how long settled jobs are kept.
func WithRetention(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.retention = d
		}
	}
}

// WithManagerClock overrides the time source.
func WithManagerClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

func NewManager(runner *Runner, logger infra.Logger, opts ...ManagerOption) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		runner:    runner,
		logger:    infra.Component(logger, "export_manager"),
		retention: defaultRetention,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
		ctx:       ctx,
		cancel:    cancel,
		jobs:      map[string]*Job{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start validates the request and launches a job. The job outlives the
// caller's request; it stops on Cancel or Shutdown.
func (m *Manager) Start(resourceIDs []string, watermark bool) (*Job, error) {
	ids := make([]string, 0, len(resourceIDs))
	for _, id := range resourceIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, fmt.Errorf("%w: empty resource id", domain.ErrInvalidInput)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: resource_ids is required", domain.ErrInvalidInput)
	}
	if err := m.ctx.Err(); err != nil {
		return nil, fmt.Errorf("export manager stopped: %w", err)
	}

	job := NewJob(m.newID(), ids, watermark, m.now())
	m.mu.Lock()
	m.jobs[job.ID] = job
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if _, err := m.runner.Run(m.ctx, job); err != nil {
			m.logger.Warn().Err(err).Str("export_id", job.ID).Msg("export job failed")
		}
	}()
	return job, nil
}

// Get returns the job or domain.ErrNotFound.
func (m *Manager) Get(id string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("export %s: %w", id, domain.ErrNotFound)
	}
	return job, nil
}

// Cancel requests cancellation of a running job. Cancelling a settled job
// is a no-op.
func (m *Manager) Cancel(id string) (*Job, error) {
	job, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	if job.Cancel() {
		m.logger.Info().Str("export_id", id).Msg("export cancel requested")
	}
	return job, nil
}

// TakeArchive hands out the archive of a completed job once and forgets
// the job afterwards.
func (m *Manager) TakeArchive(id string) ([]byte, error) {
	job, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	data, err := job.TakeArchive()
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	delete(m.jobs, id)
	m.mu.Unlock()
	return data, nil
}

// Sweep drops settled jobs older than the retention period and returns how
// many were removed.
func (m *Manager) Sweep() int {
	cutoff := m.now().Add(-m.retention)
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, job := range m.jobs {
		if at, ok := job.settledSince(); ok && at.Before(cutoff) {
			delete(m.jobs, id)
			removed++
		}
	}
	return removed
}

// Run sweeps expired jobs until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				m.logger.Debug().Int("removed", n).Msg("expired export jobs swept")
			}
		}
	}
}

// Shutdown cancels every running job and waits for them to settle or for
// ctx to expire.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	for _, job := range m.jobs {
		job.Cancel()
	}
	m.mu.Unlock()
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
