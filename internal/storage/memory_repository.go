package storage

import (
	"context"
	"os"
	"sync"
	"time"

	"bitriver-live/internal/models"
)

// MemoryRepository is an in-process Repository backed by mutex-guarded
// maps. It's the default for tests and single-instance deployments that
// don't need Postgres.
type MemoryRepository struct {
	artifactRoot string

	mu        sync.Mutex
	devices   map[string]models.Device
	streams   map[string]models.Stream
	producers map[string]models.Producer // keyed by streamID
	snapshots map[string]models.Snapshot
	bookmarks map[string]models.Bookmark
	clients   map[string]models.Client
}

// NewMemoryRepository constructs an empty MemoryRepository. artifactRoot is
// the directory extraction backends write Snapshot/Bookmark files under;
// DeleteSnapshotArtifact/DeleteBookmarkArtifact derive their target path
// from it the same way a real backend would (see artifact_paths.go).
func NewMemoryRepository(artifactRoot string) *MemoryRepository {
	return &MemoryRepository{
		artifactRoot: artifactRoot,
		devices:      make(map[string]models.Device),
		streams:      make(map[string]models.Stream),
		producers:    make(map[string]models.Producer),
		snapshots:    make(map[string]models.Snapshot),
		bookmarks:    make(map[string]models.Bookmark),
		clients:      make(map[string]models.Client),
	}
}

func (r *MemoryRepository) CreateDevice(device models.Device) (models.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	if device.CreatedAt.IsZero() {
		device.CreatedAt = now
	}
	device.UpdatedAt = now
	r.devices[device.ID] = device
	return device, nil
}

func (r *MemoryRepository) GetDevice(deviceID string) (models.Device, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[deviceID]
	return d, ok, nil
}

func (r *MemoryRepository) ListDevices() ([]models.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d)
	}
	return out, nil
}

func (r *MemoryRepository) DeleteDevice(deviceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.devices, deviceID)
	return nil
}

func (r *MemoryRepository) SaveStream(stream models.Stream) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stream.UpdatedAt = time.Now()
	r.streams[stream.ID] = stream
	return nil
}

func (r *MemoryRepository) GetStream(streamID string) (models.Stream, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.streams[streamID]
	return s, ok, nil
}

func (r *MemoryRepository) ListStreams() ([]models.Stream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Stream, 0, len(r.streams))
	for _, s := range r.streams {
		out = append(out, s)
	}
	return out, nil
}

// FindActiveStreamByDevice returns the most recently started non-terminal
// stream for deviceID, matching the at-most-one-non-terminal-stream
// invariant spec.md §3 describes.
func (r *MemoryRepository) FindActiveStreamByDevice(deviceID string) (models.Stream, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best models.Stream
	found := false
	for _, s := range r.streams {
		if s.DeviceID != deviceID || !s.State.NonTerminal() {
			continue
		}
		if !found || s.StartedAt.After(best.StartedAt) {
			best = s
			found = true
		}
	}
	return best, found, nil
}

func (r *MemoryRepository) SaveProducer(producer models.Producer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.producers[producer.StreamID] = producer
	return nil
}

func (r *MemoryRepository) GetProducerByStream(streamID string) (models.Producer, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.producers[streamID]
	return p, ok, nil
}

func (r *MemoryRepository) ClearProducer(streamID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.producers, streamID)
	return nil
}

func (r *MemoryRepository) CreateSnapshot(snapshot models.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if snapshot.CreatedAt.IsZero() {
		snapshot.CreatedAt = time.Now()
	}
	r.snapshots[snapshot.ID] = snapshot
	return nil
}

func (r *MemoryRepository) GetSnapshot(id string) (models.Snapshot, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.snapshots[id]
	if !ok || s.Tombstone {
		return models.Snapshot{}, false, nil
	}
	return s, true, nil
}

func (r *MemoryRepository) ListSnapshotsByStream(streamID string) ([]models.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Snapshot
	for _, s := range r.snapshots {
		if s.StreamID == streamID && !s.Tombstone {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *MemoryRepository) ListSnapshots() ([]models.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Snapshot, 0, len(r.snapshots))
	for _, s := range r.snapshots {
		if !s.Tombstone {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *MemoryRepository) SnapshotTombstoned(id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.snapshots[id]
	if !ok {
		return true, nil
	}
	return s.Tombstone, nil
}

func (r *MemoryRepository) CompleteSnapshot(id string, imagePath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.snapshots[id]
	if !ok {
		return ErrNotFound
	}
	s.Status = models.JobReady
	s.ImagePath = imagePath
	r.snapshots[id] = s
	return nil
}

func (r *MemoryRepository) FailSnapshot(id string, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.snapshots[id]
	if !ok {
		return ErrNotFound
	}
	s.Status = models.JobFailed
	s.Error = errMsg
	r.snapshots[id] = s
	return nil
}

func (r *MemoryRepository) DeleteSnapshotArtifact(id string) error {
	path := SnapshotArtifactPath(r.artifactRoot, id)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (r *MemoryRepository) CreateBookmark(bookmark models.Bookmark) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if bookmark.CreatedAt.IsZero() {
		bookmark.CreatedAt = time.Now()
	}
	r.bookmarks[bookmark.ID] = bookmark
	return nil
}

func (r *MemoryRepository) GetBookmark(id string) (models.Bookmark, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookmarks[id]
	if !ok || b.Tombstone {
		return models.Bookmark{}, false, nil
	}
	return b, true, nil
}

func (r *MemoryRepository) ListBookmarksByStream(streamID string) ([]models.Bookmark, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Bookmark
	for _, b := range r.bookmarks {
		if b.StreamID == streamID && !b.Tombstone {
			out = append(out, b)
		}
	}
	return out, nil
}

func (r *MemoryRepository) ListBookmarks() ([]models.Bookmark, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Bookmark, 0, len(r.bookmarks))
	for _, b := range r.bookmarks {
		if !b.Tombstone {
			out = append(out, b)
		}
	}
	return out, nil
}

func (r *MemoryRepository) BookmarkTombstoned(id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookmarks[id]
	if !ok {
		return true, nil
	}
	return b.Tombstone, nil
}

func (r *MemoryRepository) CompleteBookmark(id, videoPath, thumbnailPath string, startTime time.Time, durationSeconds float64, truncated bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookmarks[id]
	if !ok {
		return ErrNotFound
	}
	b.Status = models.JobReady
	b.VideoPath = videoPath
	b.ThumbnailPath = thumbnailPath
	b.DurationSeconds = durationSeconds
	b.Truncated = truncated
	if truncated {
		b.StartTime = startTime
		b.EndTime = startTime.Add(time.Duration(durationSeconds * float64(time.Second)))
	}
	r.bookmarks[id] = b
	return nil
}

func (r *MemoryRepository) FailBookmark(id string, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookmarks[id]
	if !ok {
		return ErrNotFound
	}
	b.Status = models.JobFailed
	b.Error = errMsg
	r.bookmarks[id] = b
	return nil
}

func (r *MemoryRepository) DeleteBookmarkArtifact(id string) error {
	for _, path := range []string{BookmarkVideoPath(r.artifactRoot, id), BookmarkThumbnailPath(r.artifactRoot, id)} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

func (r *MemoryRepository) CreateClient(client models.Client) (models.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if client.CreatedAt.IsZero() {
		client.CreatedAt = time.Now()
	}
	r.clients[client.ClientID] = client
	return client, nil
}

func (r *MemoryRepository) GetClient(clientID string) (models.Client, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[clientID]
	return c, ok, nil
}

func (r *MemoryRepository) ListClients() ([]models.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	return out, nil
}

// Ping always succeeds; MemoryRepository has no external resource to check.
func (r *MemoryRepository) Ping(ctx context.Context) error { return nil }

// Close is a no-op; MemoryRepository holds no external resources.
func (r *MemoryRepository) Close() error { return nil }
