package hls

import (
	"testing"
	"time"
)

func TestSegmentFileNameRoundTrip(t *testing.T) {
	start := time.Unix(1700000000, 0).UTC()
	name := SegmentFileName(start)
	if name != "segment-1700000000.ts" {
		t.Fatalf("unexpected filename: %s", name)
	}
	parsed, err := ParseSegmentStart(name)
	if err != nil {
		t.Fatalf("ParseSegmentStart: %v", err)
	}
	if !parsed.Equal(start) {
		t.Fatalf("expected %v, got %v", start, parsed)
	}
}

func TestParseSegmentStartRejectsNonSegmentNames(t *testing.T) {
	if _, err := ParseSegmentStart("index.m3u8"); err == nil {
		t.Fatal("expected error for non-segment filename")
	}
}

func newTestPlaylist() *Playlist {
	p := NewPlaylist("stream-1")
	base := time.Unix(1700000000, 0).UTC()
	for i := 0; i < 3; i++ {
		start := base.Add(time.Duration(i) * 6 * time.Second)
		p.Append(Segment{
			StreamID:  "stream-1",
			Path:      SegmentFileName(start),
			StartTime: start,
			Duration:  6 * time.Second,
		})
	}
	return p
}

func TestLocateFindsCoveringSegment(t *testing.T) {
	p := newTestPlaylist()
	base := time.Unix(1700000000, 0).UTC()
	seg, offset, err := p.Locate(base.Add(8 * time.Second))
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}
	if seg.Path != SegmentFileName(base.Add(6*time.Second)) {
		t.Fatalf("unexpected segment: %+v", seg)
	}
	if offset != 2*time.Second {
		t.Fatalf("expected 2s offset, got %v", offset)
	}
}

func TestLocateReturnsNoRecordingDataOutsideRange(t *testing.T) {
	p := newTestPlaylist()
	base := time.Unix(1700000000, 0).UTC()
	if _, _, err := p.Locate(base.Add(-time.Hour)); err != ErrNoRecordingData {
		t.Fatalf("expected ErrNoRecordingData, got %v", err)
	}
	if _, _, err := p.Locate(base.Add(time.Hour)); err != ErrNoRecordingData {
		t.Fatalf("expected ErrNoRecordingData, got %v", err)
	}
}

func TestPruneSkipsPinnedSegments(t *testing.T) {
	p := newTestPlaylist()
	segs := p.Segments()
	release := p.Pin(segs[0].Path)

	cutoff := segs[2].StartTime.Add(time.Second)
	removed := p.Prune(cutoff)
	if len(removed) != 2 {
		t.Fatalf("expected 2 unpinned segments removed, got %d", len(removed))
	}
	remaining := p.Segments()
	if len(remaining) != 1 || remaining[0].Path != segs[0].Path {
		t.Fatalf("expected pinned segment to survive, got %+v", remaining)
	}

	release()
	removed = p.Prune(cutoff)
	if len(removed) != 1 {
		t.Fatalf("expected pinned segment to be pruned after release, got %d", len(removed))
	}
	if len(p.Segments()) != 0 {
		t.Fatalf("expected playlist empty after final prune")
	}
}
