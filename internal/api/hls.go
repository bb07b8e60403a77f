package api

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"bitriver-live/internal/models"
)

// hlsRoute dispatches the two HLS sub-resources nested under a stream:
// GET .../hls/playlist.m3u8 and GET .../hls/{segment}.
func (h *Handler) hlsRoute(w http.ResponseWriter, r *http.Request, streamID string, rest []string) {
	if len(rest) != 1 || rest[0] == "" {
		writeAPIError(w, r, codeResourceNotFound, "unknown hls route", nil)
		return
	}
	if rest[0] == "playlist.m3u8" {
		h.hlsPlaylist(w, r, streamID)
		return
	}
	h.hlsSegment(w, r, streamID, rest[0])
}

func (h *Handler) hlsPlaylist(w http.ResponseWriter, r *http.Request, streamID string) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := h.requireScope(w, r, models.ScopeStreamsRead); !ok {
		return
	}

	segments := h.HLS.Playlist(streamID).Segments()
	if len(segments) == 0 {
		writeAPIError(w, r, codeNoRecordingData, "no recorded segments for this stream", nil)
		return
	}

	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	longest := 0
	for _, seg := range segments {
		if secs := int(seg.Duration.Seconds() + 0.5); secs > longest {
			longest = secs
		}
	}
	fmt.Fprintf(&b, "#EXT-X-TARGETDURATION:%d\n", longest)
	fmt.Fprintf(&b, "#EXT-X-MEDIA-SEQUENCE:0\n")
	for _, seg := range segments {
		fmt.Fprintf(&b, "#EXTINF:%.3f,\n", seg.Duration.Seconds())
		b.WriteString(filepath.Base(seg.Path))
		b.WriteString("\n")
	}

	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(b.String()))
}

func (h *Handler) hlsSegment(w http.ResponseWriter, r *http.Request, streamID, segment string) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := h.requireScope(w, r, models.ScopeStreamsRead); !ok {
		return
	}
	if strings.Contains(segment, "..") || strings.ContainsAny(segment, "/\\") {
		writeAPIError(w, r, codeValidationError, "invalid segment name", nil)
		return
	}

	path := filepath.Join(h.RecordingsRoot, streamID, segment)
	f, err := os.Open(path)
	if err != nil {
		writeAPIError(w, r, codeResourceNotFound, "segment not found", nil)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		writeAPIError(w, r, codeInternal, "an internal error occurred", nil)
		return
	}

	w.Header().Set("Content-Type", "video/mp2t")
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, f)
}
