package extraction

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"bitriver-live/internal/hls"
)

// fakeExecCommand replaces the real ffmpeg binary with a POSIX shell script
// that touches whatever output path was passed as the last argument,
// mirroring internal/transcoder/supervisor_test.go's shellCommand fake.
func fakeExecCommand(ctx context.Context, name string, args ...string) *exec.Cmd {
	script := `eval "out=\${$#}"; : > "$out"`
	shArgs := append([]string{"-c", script, "fake-ffmpeg"}, args...)
	return exec.CommandContext(ctx, "/bin/sh", shArgs...)
}

func newFakeBackend(t *testing.T, registry *hls.Registry) *FFmpegBackend {
	t.Helper()
	b := NewFFmpegBackend(registry, t.TempDir(), nil)
	b.execCommand = fakeExecCommand
	return b
}

func TestSnapshotHistoricalWritesFrameFromCoveringSegment(t *testing.T) {
	registry := hls.NewRegistry()
	playlist := registry.Playlist("stream-1")
	base := time.Unix(1_700_000_000, 0).UTC()
	segDir := t.TempDir()
	seg := hls.Segment{
		StreamID:  "stream-1",
		Path:      filepath.Join(segDir, hls.SegmentFileName(base)),
		StartTime: base,
		Duration:  6 * time.Second,
	}
	playlist.Append(seg)

	b := newFakeBackend(t, registry)
	out, err := b.SnapshotHistorical(context.Background(), "snap-1", "stream-1", base.Add(2*time.Second))
	if err != nil {
		t.Fatalf("SnapshotHistorical: %v", err)
	}
	if _, err := os.Stat(out); err != nil {
		t.Fatalf("expected output file at %s: %v", out, err)
	}
}

func TestSnapshotHistoricalReturnsNoRecordingDataOutsideArchive(t *testing.T) {
	registry := hls.NewRegistry()
	playlist := registry.Playlist("stream-1")
	base := time.Unix(1_700_000_000, 0).UTC()
	playlist.Append(hls.Segment{StreamID: "stream-1", Path: "segment-1.ts", StartTime: base, Duration: 6 * time.Second})

	b := newFakeBackend(t, registry)
	_, err := b.SnapshotHistorical(context.Background(), "snap-2", "stream-1", base.Add(-time.Hour))
	if err != ErrNoRecordingData {
		t.Fatalf("expected ErrNoRecordingData, got %v", err)
	}
}

func TestSnapshotLiveUsesLatestSegment(t *testing.T) {
	registry := hls.NewRegistry()
	playlist := registry.Playlist("stream-1")
	base := time.Unix(1_700_000_000, 0).UTC()
	playlist.Append(hls.Segment{StreamID: "stream-1", Path: "segment-1.ts", StartTime: base, Duration: 6 * time.Second})
	playlist.Append(hls.Segment{StreamID: "stream-1", Path: "segment-2.ts", StartTime: base.Add(6 * time.Second), Duration: 6 * time.Second})

	b := newFakeBackend(t, registry)
	out, err := b.SnapshotLive(context.Background(), "snap-3", "stream-1")
	if err != nil {
		t.Fatalf("SnapshotLive: %v", err)
	}
	if _, err := os.Stat(out); err != nil {
		t.Fatalf("expected output file at %s: %v", out, err)
	}
}

func TestSnapshotLiveWithNoSegmentsReturnsNoRecordingData(t *testing.T) {
	registry := hls.NewRegistry()
	b := newFakeBackend(t, registry)
	_, err := b.SnapshotLive(context.Background(), "snap-4", "stream-empty")
	if err != ErrNoRecordingData {
		t.Fatalf("expected ErrNoRecordingData, got %v", err)
	}
}

func TestBookmarkHistoricalTruncatesWhenWindowExceedsArchive(t *testing.T) {
	registry := hls.NewRegistry()
	playlist := registry.Playlist("stream-1")
	base := time.Unix(1_700_000_000, 0).UTC()
	for i := 0; i < 3; i++ {
		start := base.Add(time.Duration(i) * 6 * time.Second)
		playlist.Append(hls.Segment{
			StreamID:  "stream-1",
			Path:      filepath.Join(t.TempDir(), hls.SegmentFileName(start)),
			StartTime: start,
			Duration:  6 * time.Second,
		})
	}

	b := newFakeBackend(t, registry)
	center := base.Add(9 * time.Second)
	video, thumb, startTime, duration, truncated, err := b.BookmarkHistorical(context.Background(), "bm-1", "stream-1", center, time.Hour, time.Hour)
	if err != nil {
		t.Fatalf("BookmarkHistorical: %v", err)
	}
	if !truncated {
		t.Fatal("expected truncated=true when the requested window exceeds the archive")
	}
	if duration <= 0 {
		t.Fatalf("expected positive duration, got %f", duration)
	}
	if !startTime.Equal(base) {
		t.Fatalf("expected truncated start time to clip to the archive's earliest segment %v, got %v", base, startTime)
	}
	for _, path := range []string{video, thumb} {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("expected output file at %s: %v", path, err)
		}
	}
}

func TestBookmarkHistoricalReturnsNoRecordingDataWithoutOverlap(t *testing.T) {
	registry := hls.NewRegistry()
	playlist := registry.Playlist("stream-1")
	base := time.Unix(1_700_000_000, 0).UTC()
	playlist.Append(hls.Segment{StreamID: "stream-1", Path: "segment-1.ts", StartTime: base, Duration: 6 * time.Second})

	b := newFakeBackend(t, registry)
	_, _, _, _, _, err := b.BookmarkHistorical(context.Background(), "bm-2", "stream-1", base.Add(time.Hour), time.Second, time.Second)
	if err != ErrNoRecordingData {
		t.Fatalf("expected ErrNoRecordingData, got %v", err)
	}
}
