package export

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"studio/internal/domain"
)

var (
	// ErrNotReady is returned for archive downloads of jobs still running.
	ErrNotReady = errors.New("export: job has not settled")
	// ErrNoArchive is returned when a settled job has no archive to hand out,
	// because it was cancelled, failed or the archive was already taken.
	ErrNoArchive = errors.New("export: no archive available")
)

// subscriberBuffer is how many status updates a slow subscriber may lag
// before the oldest pending update is dropped.
const subscriberBuffer = 16

// Job is one batch export run. The cancel flag is shared with the runner
// and only ever goes from false to true.
type Job struct {
	ID          string
	ResourceIDs []string
	Watermark   bool
	CreatedAt   time.Time

	cancelled atomic.Bool
	done      chan struct{}

	mu           sync.Mutex
	state        domain.ExportState
	progress     *domain.ExportProgress
	successCount int
	skipped      []string
	err          error
	archive      []byte
	archiveTaken bool
	settledAt    *time.Time
	subs         map[chan domain.ExportStatus]struct{}
}

// NewJob creates an idle job for the given resources.
func NewJob(id string, resourceIDs []string, watermark bool, createdAt time.Time) *Job {
	ids := make([]string, len(resourceIDs))
	copy(ids, resourceIDs)
	return &Job{
		ID:          id,
		ResourceIDs: ids,
		Watermark:   watermark,
		CreatedAt:   createdAt,
		done:        make(chan struct{}),
		state:       domain.ExportStateIdle,
		subs:        map[chan domain.ExportStatus]struct{}{},
	}
}

// Cancel requests cooperative cancellation. It reports whether this call
// set the flag; cancelling a settled job has no effect.
func (j *Job) Cancel() bool {
	j.mu.Lock()
	settled := j.state.Settled()
	j.mu.Unlock()
	if settled {
		return false
	}
	return j.cancelled.CompareAndSwap(false, true)
}

// Cancelled reports whether cancellation was requested.
func (j *Job) Cancelled() bool {
	return j.cancelled.Load()
}

// Done is closed once the job settles.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Err is the failure of a job in the failed state.
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// Snapshot returns the current status.
func (j *Job) Snapshot() domain.ExportStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.snapshotLocked()
}

func (j *Job) snapshotLocked() domain.ExportStatus {
	st := domain.ExportStatus{
		ID:           j.ID,
		State:        j.state,
		ResourceIDs:  append([]string(nil), j.ResourceIDs...),
		Watermark:    j.Watermark,
		SuccessCount: j.successCount,
		Skipped:      append([]string{}, j.skipped...),
		ArchiveReady: j.archive != nil && !j.archiveTaken,
		CreatedAt:    j.CreatedAt,
		SettledAt:    j.settledAt,
	}
	if j.progress != nil {
		p := *j.progress
		st.Progress = &p
	}
	switch {
	case j.err != nil:
		st.Error = j.err.Error()
	case j.state == domain.ExportStateCompletedEmpty:
		st.Error = domain.ErrEmptyExport.Error()
	}
	return st
}

// Subscribe streams status updates starting with the current one. The
// channel is closed after the final status once the job settles. A slow
// reader loses the oldest pending updates, never the final one.
func (j *Job) Subscribe() (<-chan domain.ExportStatus, func()) {
	ch := make(chan domain.ExportStatus, subscriberBuffer)
	j.mu.Lock()
	defer j.mu.Unlock()
	ch <- j.snapshotLocked()
	if j.state.Settled() {
		close(ch)
		return ch, func() {}
	}
	j.subs[ch] = struct{}{}
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			j.mu.Lock()
			defer j.mu.Unlock()
			if _, ok := j.subs[ch]; ok {
				delete(j.subs, ch)
				close(ch)
			}
		})
	}
}

// TakeArchive hands out the archive exactly once.
func (j *Job) TakeArchive() ([]byte, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	switch {
	case !j.state.Settled():
		return nil, ErrNotReady
	case j.state == domain.ExportStateCompletedEmpty:
		return nil, domain.ErrEmptyExport
	case j.archive == nil || j.archiveTaken:
		return nil, ErrNoArchive
	}
	data := j.archive
	j.archive = nil
	j.archiveTaken = true
	j.broadcastLocked()
	return data, nil
}

func (j *Job) settledSince() (time.Time, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.settledAt == nil {
		return time.Time{}, false
	}
	return *j.settledAt, true
}

func (j *Job) start() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.state = domain.ExportStateExporting
	j.broadcastLocked()
}

func (j *Job) publish(p domain.ExportProgress) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.progress = &p
	j.broadcastLocked()
}

func (j *Job) recordSuccess() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.successCount++
}

func (j *Job) recordSkip(name string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.skipped = append(j.skipped, name)
}

// settle moves the job to a terminal state, clears progress and closes all
// subscriptions after the final status.
func (j *Job) settle(res *Result, err error, at time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state.Settled() {
		return
	}
	if res != nil {
		j.state = res.State
		j.archive = res.Archive
		j.successCount = res.SuccessCount
		j.skipped = append([]string(nil), res.Skipped...)
	}
	if err != nil {
		j.state = domain.ExportStateFailed
		j.err = err
	}
	j.progress = nil
	j.settledAt = &at
	j.broadcastLocked()
	for ch := range j.subs {
		close(ch)
		delete(j.subs, ch)
	}
	close(j.done)
}

func (j *Job) broadcastLocked() {
	st := j.snapshotLocked()
	for ch := range j.subs {
		for {
			select {
			case ch <- st:
			default:
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}
