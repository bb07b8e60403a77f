package extraction

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"bitriver-live/internal/hls"
	"bitriver-live/internal/storage"
)

// FFmpegBackend implements Backend against the HLS segment archive, spawning
// one short-lived ffmpeg subprocess per call under the job's own context
// deadline. The subprocess-invocation shape — exec.CommandContext plus a
// line-oriented stderr logger — follows internal/transcoder/supervisor.go's
// Start/logWriter pair, but each run here completes and exits rather than
// being supervised for the life of a stream.
type FFmpegBackend struct {
	Registry     *hls.Registry
	ArtifactRoot string
	Logger       *slog.Logger

	// execCommand is overridable in tests to avoid spawning a real ffmpeg.
	execCommand func(ctx context.Context, name string, args ...string) *exec.Cmd
}

// NewFFmpegBackend constructs a Backend that reads registry's segment
// archives and writes artifacts under artifactRoot.
func NewFFmpegBackend(registry *hls.Registry, artifactRoot string, logger *slog.Logger) *FFmpegBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &FFmpegBackend{Registry: registry, ArtifactRoot: artifactRoot, Logger: logger}
}

func (b *FFmpegBackend) newCmd() func(ctx context.Context, name string, args ...string) *exec.Cmd {
	if b.execCommand != nil {
		return b.execCommand
	}
	return exec.CommandContext
}

// SnapshotLive grabs a single frame from the most recently closed segment of
// streamID's archive. This layer has no separate RTSP tap of its own, so the
// freshest archived segment stands in for "now".
func (b *FFmpegBackend) SnapshotLive(ctx context.Context, id, streamID string) (string, error) {
	playlist := b.Registry.Playlist(streamID)
	segments := playlist.Segments()
	if len(segments) == 0 {
		return "", ErrNoRecordingData
	}
	latest := segments[len(segments)-1]
	release := playlist.Pin(latest.Path)
	defer release()

	out := storage.SnapshotArtifactPath(b.ArtifactRoot, id)
	nearEnd := latest.Duration - time.Second
	if nearEnd < 0 {
		nearEnd = 0
	}
	if err := b.extractFrame(ctx, latest.Path, nearEnd, out); err != nil {
		return "", err
	}
	return out, nil
}

// SnapshotHistorical grabs the frame at wall-clock time at.
func (b *FFmpegBackend) SnapshotHistorical(ctx context.Context, id, streamID string, at time.Time) (string, error) {
	playlist := b.Registry.Playlist(streamID)
	seg, offset, err := playlist.Locate(at)
	if err != nil {
		if errors.Is(err, hls.ErrNoRecordingData) {
			return "", ErrNoRecordingData
		}
		return "", err
	}
	release := playlist.Pin(seg.Path)
	defer release()

	out := storage.SnapshotArtifactPath(b.ArtifactRoot, id)
	if err := b.extractFrame(ctx, seg.Path, offset, out); err != nil {
		return "", err
	}
	return out, nil
}

func (b *FFmpegBackend) extractFrame(ctx context.Context, segmentPath string, offset time.Duration, out string) error {
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return fmt.Errorf("extraction: create snapshot dir: %w", err)
	}
	return b.run(ctx, []string{
		"-y",
		"-ss", formatSeconds(offset),
		"-i", segmentPath,
		"-frames:v", "1",
		"-q:v", "2",
		out,
	})
}

// BookmarkHistorical concatenates every segment overlapping
// [center-before, center+after], trims the result to the exact window, and
// writes a thumbnail from the clip's middle frame. truncated reports whether
// the archive did not fully cover the requested window, in which case the
// returned start time is the clipped window start rather than
// center.Add(-before).
func (b *FFmpegBackend) BookmarkHistorical(ctx context.Context, id, streamID string, center time.Time, before, after time.Duration) (string, string, time.Time, float64, bool, error) {
	playlist := b.Registry.Playlist(streamID)
	start := center.Add(-before)
	end := center.Add(after)

	all := playlist.Segments()
	var covering []hls.Segment
	for _, seg := range all {
		segEnd := seg.StartTime.Add(seg.Duration)
		if segEnd.After(start) && seg.StartTime.Before(end) {
			covering = append(covering, seg)
		}
	}
	if len(covering) == 0 {
		return "", "", time.Time{}, 0, false, ErrNoRecordingData
	}

	truncated := false
	if covering[0].StartTime.After(start) {
		truncated = true
		start = covering[0].StartTime
	}
	last := covering[len(covering)-1]
	lastEnd := last.StartTime.Add(last.Duration)
	if lastEnd.Before(end) {
		truncated = true
		end = lastEnd
	}

	releases := make([]func(), 0, len(covering))
	defer func() {
		for _, release := range releases {
			release()
		}
	}()
	for _, seg := range covering {
		releases = append(releases, playlist.Pin(seg.Path))
	}

	listPath, err := b.writeConcatList(covering)
	if err != nil {
		return "", "", time.Time{}, 0, false, err
	}
	defer os.Remove(listPath)

	videoOut := storage.BookmarkVideoPath(b.ArtifactRoot, id)
	thumbOut := storage.BookmarkThumbnailPath(b.ArtifactRoot, id)
	if err := os.MkdirAll(filepath.Dir(videoOut), 0o755); err != nil {
		return "", "", time.Time{}, 0, false, fmt.Errorf("extraction: create bookmark dir: %w", err)
	}

	trimOffset := start.Sub(covering[0].StartTime)
	duration := end.Sub(start)

	if err := b.run(ctx, []string{
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-ss", formatSeconds(trimOffset),
		"-t", formatSeconds(duration),
		"-c", "copy",
		videoOut,
	}); err != nil {
		return "", "", time.Time{}, 0, false, err
	}

	if err := b.run(ctx, []string{
		"-y",
		"-ss", formatSeconds(duration / 2),
		"-i", videoOut,
		"-frames:v", "1",
		"-q:v", "2",
		thumbOut,
	}); err != nil {
		return "", "", time.Time{}, 0, false, err
	}

	return videoOut, thumbOut, start, duration.Seconds(), truncated, nil
}

func (b *FFmpegBackend) writeConcatList(segments []hls.Segment) (string, error) {
	f, err := os.CreateTemp("", "bookmark-concat-*.txt")
	if err != nil {
		return "", fmt.Errorf("extraction: create concat list: %w", err)
	}
	defer f.Close()

	var sb strings.Builder
	for _, seg := range segments {
		fmt.Fprintf(&sb, "file '%s'\n", filepath.ToSlash(seg.Path))
	}
	if _, err := f.WriteString(sb.String()); err != nil {
		return "", fmt.Errorf("extraction: write concat list: %w", err)
	}
	return f.Name(), nil
}

func (b *FFmpegBackend) run(ctx context.Context, args []string) error {
	cmd := b.newCmd()(ctx, "ffmpeg", args...)
	cmd.Stdout = newFFmpegLogWriter(b.Logger, "stdout")
	cmd.Stderr = newFFmpegLogWriter(b.Logger, "stderr")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("extraction: ffmpeg: %w", err)
	}
	return nil
}

func formatSeconds(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}

// ffmpegLogWriter line-buffers a subprocess stream into structured debug
// logs, mirroring internal/transcoder/supervisor.go's logWriter.
type ffmpegLogWriter struct {
	logger   *slog.Logger
	prefix   string
	leftover []byte
}

func newFFmpegLogWriter(logger *slog.Logger, stream string) *ffmpegLogWriter {
	return &ffmpegLogWriter{logger: logger, prefix: "[extraction][" + stream + "]"}
}

func (w *ffmpegLogWriter) Write(p []byte) (int, error) {
	total := len(p)
	data := append(w.leftover, p...)
	for {
		idx := bytes.IndexByte(data, '\n')
		if idx == -1 {
			w.leftover = append([]byte(nil), data...)
			break
		}
		line := bytes.TrimSpace(data[:idx])
		data = data[idx+1:]
		if len(line) == 0 {
			continue
		}
		w.logger.Debug("extraction ffmpeg output", "prefix", w.prefix, "line", string(line))
	}
	return total, nil
}
