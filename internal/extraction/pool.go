// Package extraction implements the bounded worker pool that executes
// snapshot and clip jobs against the live pipe or the HLS archive (spec.md
// §4.7).
//
// The pool shape — bounded queue, fixed worker count, an in-flight dedup set
// guarding each job id — is adapted from an upload processor that is no
// longer part of this repository.
package extraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"bitriver-live/internal/models"
	"bitriver-live/internal/observability/metrics"
)

// JobKind distinguishes the two extraction artifact types.
type JobKind string

const (
	JobSnapshot JobKind = "snapshot"
	JobBookmark JobKind = "bookmark"
)

// Job is one queued extraction request.
type Job struct {
	ID       string
	Kind     JobKind
	StreamID string
	Source   models.ExtractionSource

	// Timestamp is the requested capture point for a Snapshot, or the
	// center_timestamp for a Bookmark. Zero for Snapshot(LIVE).
	Timestamp time.Time

	// Before/After are the Bookmark window halves; unused for Snapshot.
	Before time.Duration
	After  time.Duration
}

// Backend performs the actual media work; production wiring reads the HLS
// archive or taps the live transcoder, out of this package's concern. id is
// the job id; implementations must write artifacts to the deterministic
// storage.SnapshotArtifactPath/BookmarkVideoPath/BookmarkThumbnailPath
// locations for id so Store's tombstone-triggered artifact cleanup (which
// reconstructs those paths from id alone, after the record itself may have
// been deleted) finds what was actually written.
type Backend interface {
	SnapshotLive(ctx context.Context, id, streamID string) (imagePath string, err error)
	SnapshotHistorical(ctx context.Context, id, streamID string, at time.Time) (imagePath string, err error)
	// BookmarkHistorical re-muxes (or cut-and-splices) the clip covering
	// [center-before, center+after] and writes a thumbnail from its middle
	// frame. truncated reports whether the requested window was clipped to
	// the available archive range, in which case startTime is the actual
	// (clipped) window start rather than center.Add(-before).
	BookmarkHistorical(ctx context.Context, id, streamID string, center time.Time, before, after time.Duration) (videoPath, thumbnailPath string, startTime time.Time, durationSeconds float64, truncated bool, err error)
}

// Store persists job outcomes; a subset of the storage Repository surface.
type Store interface {
	SnapshotTombstoned(id string) (bool, error)
	CompleteSnapshot(id string, imagePath string) error
	FailSnapshot(id string, errMsg string) error
	DeleteSnapshotArtifact(id string) error

	BookmarkTombstoned(id string) (bool, error)
	CompleteBookmark(id, videoPath, thumbnailPath string, startTime time.Time, durationSeconds float64, truncated bool) error
	FailBookmark(id string, errMsg string) error
	DeleteBookmarkArtifact(id string) error
}

// Config configures the pool.
type Config struct {
	Backend   Backend
	Store     Store
	Workers   int
	QueueSize int
	Logger    *slog.Logger
	Metrics   *metrics.Recorder

	SnapshotLiveDeadline       time.Duration
	SnapshotHistoricalDeadline time.Duration
	BookmarkDeadline           time.Duration
}

const (
	defaultWorkers                    = 4
	defaultQueueSize                  = 128
	defaultSnapshotLiveDeadline       = 5 * time.Second
	defaultSnapshotHistoricalDeadline = 10 * time.Second
	defaultBookmarkDeadline           = 60 * time.Second

	// snapshotWeight and bookmarkWeight are the units each job kind draws
	// from the pool's weighted semaphore. Bookmarks re-mux a video window
	// and render a thumbnail — heavier than a single-frame snapshot — so
	// they draw proportionally more of the shared capacity, leaving fewer
	// concurrent slots for other bookmarks while snapshots (tighter
	// deadlines, spec.md §4.7) stay cheap to schedule.
	snapshotWeight = 1
	bookmarkWeight = 2
)

// Pool is the bounded extraction worker pool.
type Pool struct {
	backend Backend
	store   Store
	workers int
	logger  *slog.Logger
	metrics *metrics.Recorder

	snapshotLiveDeadline       time.Duration
	snapshotHistoricalDeadline time.Duration
	bookmarkDeadline           time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	queue chan Job
	sem   *semaphore.Weighted
	wg    sync.WaitGroup

	mu       sync.Mutex
	inFlight map[string]struct{}
	started  bool
}

// New constructs a Pool; call Start to launch its workers.
func New(cfg Config) *Pool {
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	snapshotLive := cfg.SnapshotLiveDeadline
	if snapshotLive <= 0 {
		snapshotLive = defaultSnapshotLiveDeadline
	}
	snapshotHistorical := cfg.SnapshotHistoricalDeadline
	if snapshotHistorical <= 0 {
		snapshotHistorical = defaultSnapshotHistoricalDeadline
	}
	bookmarkDeadline := cfg.BookmarkDeadline
	if bookmarkDeadline <= 0 {
		bookmarkDeadline = defaultBookmarkDeadline
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		backend:                    cfg.Backend,
		store:                      cfg.Store,
		workers:                    workers,
		logger:                     logger,
		metrics:                    recorder,
		snapshotLiveDeadline:       snapshotLive,
		snapshotHistoricalDeadline: snapshotHistorical,
		bookmarkDeadline:           bookmarkDeadline,
		ctx:                        ctx,
		cancel:                     cancel,
		queue:                      make(chan Job, queueSize),
		sem:                        semaphore.NewWeighted(semCapacity(workers)),
		inFlight:                   make(map[string]struct{}),
	}
}

// semCapacity sizes the job-slot semaphore to the worker count, but never
// below bookmarkWeight: a single-worker pool must still be able to admit one
// Bookmark job on its own.
func semCapacity(workers int) int64 {
	if workers < bookmarkWeight {
		return bookmarkWeight
	}
	return int64(workers)
}

// Start launches the worker goroutines. Idempotent.
func (p *Pool) Start() {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Shutdown stops accepting work and waits for in-flight jobs to finish, or
// until ctx is done.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.cancel()
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Enqueue submits a job. It fails fast with ErrBacklogged when the queue is
// full rather than blocking the caller (spec.md §5: create_snapshot/
// create_bookmark "returns immediately").
func (p *Pool) Enqueue(job Job) error {
	select {
	case <-p.ctx.Done():
		return errors.New("extraction: pool is shut down")
	default:
	}
	select {
	case p.queue <- job:
		return nil
	default:
		return ErrBacklogged
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case job := <-p.queue:
			if !p.beginWork(job.ID) {
				continue
			}
			weight := int64(snapshotWeight)
			if job.Kind == JobBookmark {
				weight = bookmarkWeight
			}
			if err := p.sem.Acquire(p.ctx, weight); err != nil {
				p.finishWork(job.ID)
				continue
			}
			p.metrics.ExtractionJobStarted(string(job.Kind))
			p.process(job)
			p.sem.Release(weight)
			p.finishWork(job.ID)
		}
	}
}

func (p *Pool) beginWork(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.inFlight[id]; exists {
		return false
	}
	p.inFlight[id] = struct{}{}
	return true
}

func (p *Pool) finishWork(id string) {
	p.mu.Lock()
	delete(p.inFlight, id)
	p.mu.Unlock()
}

func (p *Pool) process(job Job) {
	switch job.Kind {
	case JobSnapshot:
		p.processSnapshot(job)
	case JobBookmark:
		p.processBookmark(job)
	default:
		p.logger.Error("extraction: unknown job kind", "job_id", job.ID, "kind", job.Kind)
	}
}

func (p *Pool) processSnapshot(job Job) {
	deadline := p.snapshotHistoricalDeadline
	if job.Source == models.SourceLive {
		deadline = p.snapshotLiveDeadline
	}
	ctx, cancel := context.WithTimeout(p.ctx, deadline)
	defer cancel()

	var imagePath string
	var err error
	if job.Source == models.SourceLive {
		imagePath, err = p.backend.SnapshotLive(ctx, job.ID, job.StreamID)
	} else {
		imagePath, err = p.backend.SnapshotHistorical(ctx, job.ID, job.StreamID, job.Timestamp)
	}

	if p.tombstoned(job.ID, p.store.SnapshotTombstoned) {
		if imagePath != "" {
			_ = p.store.DeleteSnapshotArtifact(job.ID)
		}
		p.metrics.ExtractionJobFinished(string(job.Kind), "tombstoned")
		return
	}

	if err != nil {
		p.failSnapshot(job, ctx, err)
		return
	}
	if completeErr := p.store.CompleteSnapshot(job.ID, imagePath); completeErr != nil {
		p.logger.Error("extraction: failed to mark snapshot ready", "job_id", job.ID, "error", completeErr)
	}
	p.metrics.ExtractionJobFinished(string(job.Kind), "completed")
}

func (p *Pool) failSnapshot(job Job, ctx context.Context, err error) {
	classified := classifyDeadline(ctx, err)
	if failErr := p.store.FailSnapshot(job.ID, classified.Error()); failErr != nil {
		p.logger.Error("extraction: failed to mark snapshot failed", "job_id", job.ID, "error", failErr)
	}
	p.metrics.ExtractionJobFinished(string(job.Kind), "failed")
}

func (p *Pool) processBookmark(job Job) {
	center := job.Timestamp
	if job.Source == models.SourceLive {
		// spec.md §4.7: record t_now, wait for the after-window to elapse,
		// then extract via the historical path against that fixed center.
		center = time.Now()
		select {
		case <-time.After(job.After):
		case <-p.ctx.Done():
			_ = p.store.FailBookmark(job.ID, ErrSourceStreamGone.Error())
			p.metrics.ExtractionJobFinished(string(job.Kind), "failed")
			return
		}
	}

	ctx, cancel := context.WithTimeout(p.ctx, p.bookmarkDeadline)
	defer cancel()

	videoPath, thumbPath, startTime, duration, truncated, err := p.backend.BookmarkHistorical(ctx, job.ID, job.StreamID, center, job.Before, job.After)

	if p.tombstoned(job.ID, p.store.BookmarkTombstoned) {
		if videoPath != "" || thumbPath != "" {
			_ = p.store.DeleteBookmarkArtifact(job.ID)
		}
		p.metrics.ExtractionJobFinished(string(job.Kind), "tombstoned")
		return
	}

	if err != nil {
		classified := classifyDeadline(ctx, err)
		if failErr := p.store.FailBookmark(job.ID, classified.Error()); failErr != nil {
			p.logger.Error("extraction: failed to mark bookmark failed", "job_id", job.ID, "error", failErr)
		}
		p.metrics.ExtractionJobFinished(string(job.Kind), "failed")
		return
	}
	if completeErr := p.store.CompleteBookmark(job.ID, videoPath, thumbPath, startTime, duration, truncated); completeErr != nil {
		p.logger.Error("extraction: failed to mark bookmark ready", "job_id", job.ID, "error", completeErr)
	}
	p.metrics.ExtractionJobFinished(string(job.Kind), "completed")
}

func (p *Pool) tombstoned(id string, check func(string) (bool, error)) bool {
	tombstoned, err := check(id)
	if err != nil {
		p.logger.Error("extraction: failed to check tombstone", "job_id", id, "error", err)
		return false
	}
	return tombstoned
}

func classifyDeadline(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrExtractionTimeout
	}
	return fmt.Errorf("%w", err)
}
