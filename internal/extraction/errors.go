package extraction

import "errors"

// Failure taxonomy from spec.md §4.7.
var (
	// ErrNoRecordingData means the requested range is outside retention or
	// the archive has a gap across it.
	ErrNoRecordingData = errors.New("extraction: no recording data for requested range")

	// ErrExtractionTimeout means the job's deadline elapsed before the
	// backend produced a result.
	ErrExtractionTimeout = errors.New("extraction: timed out")

	// ErrDiskFull means writing the artifact failed.
	ErrDiskFull = errors.New("extraction: disk write failed")

	// ErrSourceStreamGone means the stream_id no longer exists.
	ErrSourceStreamGone = errors.New("extraction: source stream no longer exists")

	// ErrBacklogged means the bounded job queue is full; callers should
	// surface this as an HTTP 503 (spec.md §5).
	ErrBacklogged = errors.New("extraction: queue is backlogged")
)
