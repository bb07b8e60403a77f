// Package storage persists the gateway's entities (Device, Stream,
// Producer, Snapshot, Bookmark, Client) behind one Repository interface,
// with an in-memory implementation for tests and single-process
// deployments and a Postgres-backed implementation for production.
package storage

import (
	"context"
	"errors"
	"time"

	"bitriver-live/internal/models"
)

// ErrNotFound is returned by any lookup against an entity that doesn't
// exist. Repository methods that already report existence via a bool
// return value (the GetX(id) (T, bool, error) shape used throughout the
// orchestrator and API layers) never return it; it is reserved for
// methods with no such bool, e.g. the mutation helpers Extraction Pool
// calls against an already-known Snapshot/Bookmark id.
var ErrNotFound = errors.New("storage: not found")

// Repository is the full persistence surface the gateway needs. Callers
// above this package generally depend on a narrower, locally-declared
// interface (orchestrator.Store, extraction.Store, auth.ClientStore) that
// either concrete implementation below satisfies structurally.
type Repository interface {
	CreateDevice(device models.Device) (models.Device, error)
	GetDevice(deviceID string) (models.Device, bool, error)
	ListDevices() ([]models.Device, error)
	DeleteDevice(deviceID string) error

	SaveStream(stream models.Stream) error
	GetStream(streamID string) (models.Stream, bool, error)
	ListStreams() ([]models.Stream, error)
	FindActiveStreamByDevice(deviceID string) (models.Stream, bool, error)

	SaveProducer(producer models.Producer) error
	GetProducerByStream(streamID string) (models.Producer, bool, error)
	ClearProducer(streamID string) error

	CreateSnapshot(snapshot models.Snapshot) error
	GetSnapshot(id string) (models.Snapshot, bool, error)
	ListSnapshots() ([]models.Snapshot, error)
	ListSnapshotsByStream(streamID string) ([]models.Snapshot, error)
	SnapshotTombstoned(id string) (bool, error)
	CompleteSnapshot(id string, imagePath string) error
	FailSnapshot(id string, errMsg string) error
	DeleteSnapshotArtifact(id string) error

	CreateBookmark(bookmark models.Bookmark) error
	GetBookmark(id string) (models.Bookmark, bool, error)
	ListBookmarks() ([]models.Bookmark, error)
	ListBookmarksByStream(streamID string) ([]models.Bookmark, error)
	BookmarkTombstoned(id string) (bool, error)
	CompleteBookmark(id, videoPath, thumbnailPath string, startTime time.Time, durationSeconds float64, truncated bool) error
	FailBookmark(id string, errMsg string) error
	DeleteBookmarkArtifact(id string) error

	CreateClient(client models.Client) (models.Client, error)
	GetClient(clientID string) (models.Client, bool, error)
	ListClients() ([]models.Client, error)

	// Ping reports whether the backing store is reachable; used by the
	// /v2/health/* readiness surface.
	Ping(ctx context.Context) error

	Close() error
}
