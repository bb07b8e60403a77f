// Package hls models the rolling HLS segment archive the Transcoder
// Supervisor writes to (spec.md §4.5, §4.8): segment filenames embed their
// start time, a Playlist indexes them for wall-clock lookup, and a
// retention pruner reclaims old segments while respecting in-use pins.
package hls

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ErrNoRecordingData is returned when a wall-clock timestamp falls into a
// gap between segments (a hole left by a transcoder restart) or outside the
// retained window entirely (spec.md §4.8).
var ErrNoRecordingData = errors.New("hls: no recording data for requested time")

// Segment is one recorded fMPEG-TS file, named per spec.md §4.5:
// segment-<unix_epoch>.ts.
type Segment struct {
	StreamID  string
	Path      string
	StartTime time.Time
	Duration  time.Duration
}

// SegmentFileName builds the filename spec.md §4.5 specifies.
func SegmentFileName(start time.Time) string {
	return fmt.Sprintf("segment-%d.ts", start.Unix())
}

// ParseSegmentStart extracts the start time embedded in a segment filename.
func ParseSegmentStart(name string) (time.Time, error) {
	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	const prefix = "segment-"
	if !strings.HasPrefix(base, prefix) {
		return time.Time{}, fmt.Errorf("hls: %q is not a segment filename", name)
	}
	epoch, err := strconv.ParseInt(strings.TrimPrefix(base, prefix), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("hls: %q has a non-numeric epoch: %w", name, err)
	}
	return time.Unix(epoch, 0).UTC(), nil
}

// Playlist is the rolling, append-only index of segments for one stream. It
// mirrors the EXTINF-durations the real M3U8 carries, but holds them as a
// typed slice so §4.8's walk ("accumulate start times until the one that
// covers t") is a direct loop instead of playlist text parsing.
type Playlist struct {
	streamID string

	mu       sync.RWMutex
	segments []Segment      // ascending by StartTime
	pins     map[string]int // path -> active extraction refcount
}

// NewPlaylist returns an empty playlist for streamID.
func NewPlaylist(streamID string) *Playlist {
	return &Playlist{streamID: streamID, pins: make(map[string]int)}
}

// Append records a newly closed segment. Segments must be appended in
// non-decreasing StartTime order; the transcoder's own write order
// guarantees this.
func (p *Playlist) Append(seg Segment) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.segments = append(p.segments, seg)
}

// Locate finds the segment covering wall-clock time t and the offset into it,
// per spec.md §4.8: "the segment covering t is the one with start <= t <
// start+duration". A t that falls between the end of one segment and the
// start of the next (a hole) or outside the retained range returns
// ErrNoRecordingData.
func (p *Playlist) Locate(t time.Time) (Segment, time.Duration, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, seg := range p.segments {
		end := seg.StartTime.Add(seg.Duration)
		if !t.Before(seg.StartTime) && t.Before(end) {
			return seg, t.Sub(seg.StartTime), nil
		}
	}
	return Segment{}, 0, ErrNoRecordingData
}

// Pin marks path as in-use by an active extraction job; Prune skips pinned
// segments until every pin on them is released. The returned func releases
// one pin.
func (p *Playlist) Pin(path string) func() {
	p.mu.Lock()
	p.pins[path]++
	p.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			if p.pins[path] > 0 {
				p.pins[path]--
				if p.pins[path] == 0 {
					delete(p.pins, path)
				}
			}
			p.mu.Unlock()
		})
	}
}

// Prune removes and returns every segment whose StartTime is strictly before
// cutoff and that is not currently pinned. Pinned segments are left in place
// for a later Prune call once released (spec.md §4.8).
func (p *Playlist) Prune(cutoff time.Time) []Segment {
	p.mu.Lock()
	defer p.mu.Unlock()

	var removed []Segment
	kept := p.segments[:0:0]
	for _, seg := range p.segments {
		if seg.StartTime.Before(cutoff) && p.pins[seg.Path] == 0 {
			removed = append(removed, seg)
			continue
		}
		kept = append(kept, seg)
	}
	p.segments = kept
	return removed
}

// Segments returns a snapshot copy of the current segment list, oldest first.
func (p *Playlist) Segments() []Segment {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Segment, len(p.segments))
	copy(out, p.segments)
	return out
}
