package hls

import (
	"context"
	"testing"
	"time"
)

type fakeTicker struct {
	c chan time.Time
}

func (f *fakeTicker) C() <-chan time.Time { return f.c }
func (f *fakeTicker) Stop()               {}

func TestPrunerRemovesExpiredSegmentsOnTick(t *testing.T) {
	registry := NewRegistry()
	playlist := registry.Playlist("stream-1")
	old := time.Now().Add(-8 * 24 * time.Hour)
	fresh := time.Now().Add(-time.Minute)
	playlist.Append(Segment{StreamID: "stream-1", Path: "old.ts", StartTime: old, Duration: 6 * time.Second})
	playlist.Append(Segment{StreamID: "stream-1", Path: "fresh.ts", StartTime: fresh, Duration: 6 * time.Second})

	tick := &fakeTicker{c: make(chan time.Time, 1)}
	removedPaths := make(chan string, 4)

	stop := StartPruner(context.Background(), PrunerConfig{
		Registry:  registry,
		Retention: 7 * 24 * time.Hour,
		Interval:  time.Hour,
		newTicker: func(time.Duration) ticker { return tick },
		removeFile: func(path string) error {
			removedPaths <- path
			return nil
		},
	})
	defer stop()

	tick.c <- time.Now()

	select {
	case path := <-removedPaths:
		if path != "old.ts" {
			t.Fatalf("expected old.ts removed, got %s", path)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for prune to remove the expired segment")
	}

	remaining := playlist.Segments()
	if len(remaining) != 1 || remaining[0].Path != "fresh.ts" {
		t.Fatalf("expected only fresh.ts to remain, got %+v", remaining)
	}
}

func TestStopHaltsPruning(t *testing.T) {
	registry := NewRegistry()
	tick := &fakeTicker{c: make(chan time.Time, 1)}
	stop := StartPruner(context.Background(), PrunerConfig{
		Registry:  registry,
		newTicker: func(time.Duration) ticker { return tick },
	})
	stop()
	stop() // idempotent
}
