package hls

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DurationLookup returns the configured segment duration for streamID, used
// to stamp newly discovered segments before the next one tells us its
// actual start time.
type DurationLookup func(streamID string) time.Duration

// WatcherConfig configures the segment-discovery poller that feeds a
// Registry from the transcoder's on-disk output (spec.md §4.5: ffmpeg
// writes segment-<unix_epoch>.ts files directly; nothing else in the
// pipeline learns about a closed segment except by seeing it appear).
type WatcherConfig struct {
	Registry       *Registry
	RecordingsRoot string
	SegmentDuration DurationLookup
	Interval       time.Duration
	Logger         *slog.Logger

	newTicker tickerFactory // test hook, mirrors PrunerConfig
}

const defaultWatchInterval = 2 * time.Second

// StartWatcher launches the poller and returns a stop function, following
// the same start-worker-return-stop-closure shape as StartPruner.
func StartWatcher(ctx context.Context, cfg WatcherConfig) func() {
	if cfg.Registry == nil || cfg.RecordingsRoot == "" {
		return func() {}
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultWatchInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	newTicker := cfg.newTicker
	if newTicker == nil {
		newTicker = func(d time.Duration) ticker { return timeTicker{t: time.NewTicker(d)} }
	}

	workerCtx, cancel := context.WithCancel(ctx)
	t := newTicker(interval)
	done := make(chan struct{})
	var once sync.Once

	seen := make(map[string]map[string]struct{}) // streamID -> known segment paths

	go func() {
		defer close(done)
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-t.C():
				scanOnce(cfg, seen, logger)
			}
		}
	}()

	return func() {
		once.Do(func() {
			cancel()
			t.Stop()
		})
		<-done
	}
}

func scanOnce(cfg WatcherConfig, seen map[string]map[string]struct{}, logger *slog.Logger) {
	streamDirs, err := os.ReadDir(cfg.RecordingsRoot)
	if err != nil {
		return
	}
	for _, streamDir := range streamDirs {
		if !streamDir.IsDir() {
			continue
		}
		streamID := streamDir.Name()
		dir := filepath.Join(cfg.RecordingsRoot, streamID)
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		known := seen[streamID]
		if known == nil {
			known = make(map[string]struct{})
			seen[streamID] = known
		}

		duration := defaultSegmentDuration
		if cfg.SegmentDuration != nil {
			if d := cfg.SegmentDuration(streamID); d > 0 {
				duration = d
			}
		}

		playlist := cfg.Registry.Playlist(streamID)
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			if _, ok := known[path]; ok {
				continue
			}
			start, err := ParseSegmentStart(entry.Name())
			if err != nil {
				continue
			}
			known[path] = struct{}{}
			playlist.Append(Segment{StreamID: streamID, Path: path, StartTime: start, Duration: duration})
			logger.Debug("hls: discovered segment", "stream_id", streamID, "path", path)
		}
	}
}

const defaultSegmentDuration = 6 * time.Second
