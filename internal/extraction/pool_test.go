package extraction

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"bitriver-live/internal/models"
)

type fakeBackend struct {
	mu              sync.Mutex
	snapshotLiveErr error
	bookmarkErr     error
	blockUntil      chan struct{}
}

func (b *fakeBackend) SnapshotLive(ctx context.Context, id, streamID string) (string, error) {
	if b.blockUntil != nil {
		select {
		case <-b.blockUntil:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if b.snapshotLiveErr != nil {
		return "", b.snapshotLiveErr
	}
	return "/snapshots/" + id + ".jpg", nil
}

func (b *fakeBackend) SnapshotHistorical(ctx context.Context, id, streamID string, at time.Time) (string, error) {
	return "/snapshots/" + id + "-historical.jpg", nil
}

func (b *fakeBackend) BookmarkHistorical(ctx context.Context, id, streamID string, center time.Time, before, after time.Duration) (string, string, time.Time, float64, bool, error) {
	if b.bookmarkErr != nil {
		return "", "", time.Time{}, 0, false, b.bookmarkErr
	}
	return "/clips/" + id + ".ts", "/clips/" + id + ".jpg", center.Add(-before), (before + after).Seconds(), false, nil
}

type fakeStore struct {
	mu               sync.Mutex
	snapshotReady    map[string]string
	snapshotFailed   map[string]string
	snapshotTomb     map[string]bool
	bookmarkReady    map[string]string
	bookmarkFailed   map[string]string
	bookmarkTomb     map[string]bool
	deletedArtifacts []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		snapshotReady:  make(map[string]string),
		snapshotFailed: make(map[string]string),
		snapshotTomb:   make(map[string]bool),
		bookmarkReady:  make(map[string]string),
		bookmarkFailed: make(map[string]string),
		bookmarkTomb:   make(map[string]bool),
	}
}

func (s *fakeStore) SnapshotTombstoned(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotTomb[id], nil
}

func (s *fakeStore) CompleteSnapshot(id, imagePath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshotReady[id] = imagePath
	return nil
}

func (s *fakeStore) FailSnapshot(id, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshotFailed[id] = errMsg
	return nil
}

func (s *fakeStore) DeleteSnapshotArtifact(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletedArtifacts = append(s.deletedArtifacts, id)
	return nil
}

func (s *fakeStore) BookmarkTombstoned(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bookmarkTomb[id], nil
}

func (s *fakeStore) CompleteBookmark(id, videoPath, thumbnailPath string, startTime time.Time, durationSeconds float64, truncated bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bookmarkReady[id] = videoPath
	return nil
}

func (s *fakeStore) FailBookmark(id, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bookmarkFailed[id] = errMsg
	return nil
}

func (s *fakeStore) DeleteBookmarkArtifact(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletedArtifacts = append(s.deletedArtifacts, id)
	return nil
}

func (s *fakeStore) snapshotStatus(id string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.snapshotReady[id]; ok {
		return p, true
	}
	return "", false
}

func waitForCondition(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for condition")
}

func TestPoolProcessesSnapshotJob(t *testing.T) {
	backend := &fakeBackend{}
	store := newFakeStore()
	pool := New(Config{Backend: backend, Store: store, Workers: 1, QueueSize: 4})
	pool.Start()
	defer pool.Shutdown(context.Background())

	if err := pool.Enqueue(Job{ID: "snap-1", Kind: JobSnapshot, StreamID: "stream-1", Source: models.SourceLive}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	waitForCondition(t, time.Second, func() bool {
		_, ok := store.snapshotStatus("snap-1")
		return ok
	})
}

func TestPoolFailsSnapshotOnBackendError(t *testing.T) {
	backend := &fakeBackend{snapshotLiveErr: errors.New("camera offline")}
	store := newFakeStore()
	pool := New(Config{Backend: backend, Store: store, Workers: 1, QueueSize: 4})
	pool.Start()
	defer pool.Shutdown(context.Background())

	if err := pool.Enqueue(Job{ID: "snap-2", Kind: JobSnapshot, StreamID: "stream-1", Source: models.SourceLive}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	waitForCondition(t, time.Second, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		_, ok := store.snapshotFailed["snap-2"]
		return ok
	})
}

func TestPoolSkipsCompletionForTombstonedSnapshot(t *testing.T) {
	backend := &fakeBackend{}
	store := newFakeStore()
	store.snapshotTomb["snap-3"] = true
	pool := New(Config{Backend: backend, Store: store, Workers: 1, QueueSize: 4})
	pool.Start()
	defer pool.Shutdown(context.Background())

	if err := pool.Enqueue(Job{ID: "snap-3", Kind: JobSnapshot, StreamID: "stream-1", Source: models.SourceLive}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	waitForCondition(t, time.Second, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		for _, id := range store.deletedArtifacts {
			if id == "snap-3" {
				return true
			}
		}
		return false
	})

	store.mu.Lock()
	_, ready := store.snapshotReady["snap-3"]
	store.mu.Unlock()
	if ready {
		t.Fatal("tombstoned snapshot should not be marked ready")
	}
}

func TestPoolEnqueueReturnsBackloggedWhenQueueFull(t *testing.T) {
	backend := &fakeBackend{blockUntil: make(chan struct{})}
	store := newFakeStore()
	pool := New(Config{Backend: backend, Store: store, Workers: 1, QueueSize: 1})
	pool.Start()
	defer func() {
		close(backend.blockUntil)
		pool.Shutdown(context.Background())
	}()

	if err := pool.Enqueue(Job{ID: "a", Kind: JobSnapshot, StreamID: "s", Source: models.SourceLive}); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if err := pool.Enqueue(Job{ID: "b", Kind: JobSnapshot, StreamID: "s", Source: models.SourceLive}); err != nil {
		t.Fatalf("second enqueue: %v", err)
	}
	if err := pool.Enqueue(Job{ID: "c", Kind: JobSnapshot, StreamID: "s", Source: models.SourceLive}); !errors.Is(err, ErrBacklogged) {
		t.Fatalf("expected ErrBacklogged, got %v", err)
	}
}

func TestPoolBookmarkLiveWaitsForAfterWindow(t *testing.T) {
	backend := &fakeBackend{}
	store := newFakeStore()
	pool := New(Config{Backend: backend, Store: store, Workers: 1, QueueSize: 4})
	pool.Start()
	defer pool.Shutdown(context.Background())

	start := time.Now()
	job := Job{
		ID:       "bm-1",
		Kind:     JobBookmark,
		StreamID: "stream-1",
		Source:   models.SourceLive,
		Before:   5 * time.Second,
		After:    50 * time.Millisecond,
	}
	if err := pool.Enqueue(job); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	waitForCondition(t, time.Second, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		_, ok := store.bookmarkReady["bm-1"]
		return ok
	})
	if time.Since(start) < 50*time.Millisecond {
		t.Fatal("expected bookmark to wait for the after-window before extracting")
	}
}

func TestPoolMarksJobInFlightWhileProcessing(t *testing.T) {
	release := make(chan struct{})
	backend := &fakeBackend{blockUntil: release}
	store := newFakeStore()
	pool := New(Config{Backend: backend, Store: store, Workers: 2, QueueSize: 4})
	pool.Start()
	defer pool.Shutdown(context.Background())

	job := Job{ID: "dup-1", Kind: JobSnapshot, StreamID: "stream-1", Source: models.SourceLive}
	if err := pool.Enqueue(job); err != nil {
		t.Fatalf("enqueue 1: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	pool.mu.Lock()
	_, inFlight := pool.inFlight["dup-1"]
	pool.mu.Unlock()
	if !inFlight {
		t.Fatal("expected job to be marked in-flight")
	}

	close(release)
	waitForCondition(t, time.Second, func() bool {
		_, ok := store.snapshotStatus("dup-1")
		return ok
	})
}
