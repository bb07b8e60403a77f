package api

import (
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"bitriver-live/internal/models"
	"bitriver-live/internal/orchestrator"
)

type createBookmarkRequest struct {
	Source          string     `json:"source"`
	CenterTimestamp *time.Time `json:"center_timestamp,omitempty"`
	BeforeSeconds   float64    `json:"before_seconds"`
	AfterSeconds    float64    `json:"after_seconds"`
	Label           string     `json:"label,omitempty"`
	EventType       string     `json:"event_type,omitempty"`
	Confidence      *float64   `json:"confidence,omitempty"`
	Tags            []string   `json:"tags,omitempty"`
}

type updateBookmarkRequest struct {
	Label     *string   `json:"label,omitempty"`
	Tags      *[]string `json:"tags,omitempty"`
	EventType *string   `json:"event_type,omitempty"`
}

type bookmarkResponse struct {
	ID              string    `json:"id"`
	StreamID        string    `json:"streamId"`
	CenterTimestamp time.Time `json:"centerTimestamp"`
	StartTime       time.Time `json:"startTime"`
	EndTime         time.Time `json:"endTime"`
	DurationSeconds float64   `json:"durationSeconds"`
	Source          string    `json:"source"`
	Label           string    `json:"label,omitempty"`
	EventType       string    `json:"eventType,omitempty"`
	Confidence      *float64  `json:"confidence,omitempty"`
	Tags            []string  `json:"tags,omitempty"`
	Status          string    `json:"status"`
	Error           string    `json:"error,omitempty"`
	Truncated       bool      `json:"truncated,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

func newBookmarkResponse(b models.Bookmark) bookmarkResponse {
	return bookmarkResponse{
		ID:              b.ID,
		StreamID:        b.StreamID,
		CenterTimestamp: b.CenterTimestamp,
		StartTime:       b.StartTime,
		EndTime:         b.EndTime,
		DurationSeconds: b.DurationSeconds,
		Source:          strings.ToLower(string(b.Source)),
		Label:           b.Label,
		EventType:       b.EventType,
		Confidence:      b.Confidence,
		Tags:            b.Tags,
		Status:          strings.ToLower(string(b.Status)),
		Error:           b.Error,
		Truncated:       b.Truncated,
		CreatedAt:       b.CreatedAt,
	}
}

type bookmarkListResponse struct {
	Bookmarks []bookmarkResponse `json:"bookmarks"`
	Limit     int                `json:"limit"`
	Offset    int                `json:"offset"`
	Total     int                `json:"total"`
}

func (h *Handler) createBookmark(w http.ResponseWriter, r *http.Request, streamID string) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, r, http.MethodPost)
		return
	}
	if _, ok := h.requireScope(w, r, models.ScopeBookmarksWrite); !ok {
		return
	}

	var req createBookmarkRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	source, ok := parseExtractionSource(req.Source)
	if !ok {
		writeAPIError(w, r, codeValidationError, `source must be "live" or "historical"`, nil)
		return
	}
	if req.BeforeSeconds < 0 || req.AfterSeconds < 0 {
		writeAPIError(w, r, codeValidationError, "before_seconds and after_seconds must not be negative", nil)
		return
	}

	center := time.Now()
	if req.CenterTimestamp != nil {
		center = *req.CenterTimestamp
	}
	before := time.Duration(req.BeforeSeconds * float64(time.Second))
	after := time.Duration(req.AfterSeconds * float64(time.Second))

	bm, err := h.Orchestrator.CreateBookmark(streamID, source, center, before, after, orchestrator.BookmarkRequest{
		Label:      req.Label,
		EventType:  req.EventType,
		Confidence: req.Confidence,
		Tags:       req.Tags,
	})
	if err != nil {
		translateError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, newBookmarkResponse(bm))
}

// Bookmarks implements GET /v2/bookmarks: a global, paginated listing with
// optional stream_id/status/event_type filters.
func (h *Handler) Bookmarks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := h.requireScope(w, r, models.ScopeBookmarksRead); !ok {
		return
	}

	all, err := h.Store.ListBookmarks()
	if err != nil {
		writeAPIError(w, r, codeInternal, "an internal error occurred", nil)
		return
	}

	streamFilter := r.URL.Query().Get("stream_id")
	statusFilter := r.URL.Query().Get("status")
	eventFilter := r.URL.Query().Get("event_type")

	filtered := make([]bookmarkResponse, 0, len(all))
	for _, b := range all {
		if streamFilter != "" && b.StreamID != streamFilter {
			continue
		}
		if statusFilter != "" && !strings.EqualFold(string(b.Status), statusFilter) {
			continue
		}
		if eventFilter != "" && !strings.EqualFold(b.EventType, eventFilter) {
			continue
		}
		filtered = append(filtered, newBookmarkResponse(b))
	}

	limit, offset := parsePagination(r)
	WriteJSON(w, http.StatusOK, bookmarkListResponse{
		Bookmarks: paginateBookmarks(filtered, limit, offset),
		Limit:     limit,
		Offset:    offset,
		Total:     len(filtered),
	})
}

// BookmarkByID routes GET/PUT/DELETE /v2/bookmarks/{id} and its binary
// .../video, .../thumbnail sub-resources.
func (h *Handler) BookmarkByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v2/bookmarks/")
	parts := strings.Split(path, "/")
	for len(parts) > 1 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	if len(parts) == 0 || parts[0] == "" {
		writeAPIError(w, r, codeResourceNotFound, "bookmark id missing", nil)
		return
	}
	id := parts[0]

	switch {
	case len(parts) == 1:
		h.bookmarkRecord(w, r, id)
	case len(parts) == 2 && parts[1] == "video":
		h.bookmarkArtifact(w, r, id, artifactVideo)
	case len(parts) == 2 && parts[1] == "thumbnail":
		h.bookmarkArtifact(w, r, id, artifactThumbnail)
	default:
		writeAPIError(w, r, codeResourceNotFound, "unknown bookmark route", nil)
	}
}

func (h *Handler) bookmarkRecord(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		if _, ok := h.requireScope(w, r, models.ScopeBookmarksRead); !ok {
			return
		}
		bm, ok, err := h.Store.GetBookmark(id)
		if err != nil {
			writeAPIError(w, r, codeInternal, "an internal error occurred", nil)
			return
		}
		if !ok {
			writeAPIError(w, r, codeResourceNotFound, "bookmark not found", nil)
			return
		}
		WriteJSON(w, http.StatusOK, newBookmarkResponse(bm))
	case http.MethodPut:
		h.updateBookmark(w, r, id)
	case http.MethodDelete:
		if _, ok := h.requireScope(w, r, models.ScopeBookmarksWrite); !ok {
			return
		}
		if _, ok, err := h.Store.GetBookmark(id); err != nil || !ok {
			writeAPIError(w, r, codeResourceNotFound, "bookmark not found", nil)
			return
		}
		if err := h.Store.DeleteBookmarkArtifact(id); err != nil {
			writeAPIError(w, r, codeInternal, "an internal error occurred", nil)
			return
		}
		if err := h.Store.FailBookmark(id, "deleted by request"); err != nil {
			writeAPIError(w, r, codeInternal, "an internal error occurred", nil)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeMethodNotAllowed(w, r, http.MethodGet, http.MethodPut, http.MethodDelete)
	}
}

func (h *Handler) updateBookmark(w http.ResponseWriter, r *http.Request, id string) {
	if _, ok := h.requireScope(w, r, models.ScopeBookmarksWrite); !ok {
		return
	}
	bm, ok, err := h.Store.GetBookmark(id)
	if err != nil {
		writeAPIError(w, r, codeInternal, "an internal error occurred", nil)
		return
	}
	if !ok {
		writeAPIError(w, r, codeResourceNotFound, "bookmark not found", nil)
		return
	}

	var req updateBookmarkRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.Label != nil {
		bm.Label = *req.Label
	}
	if req.Tags != nil {
		bm.Tags = *req.Tags
	}
	if req.EventType != nil {
		bm.EventType = *req.EventType
	}
	if err := h.Store.CreateBookmark(bm); err != nil {
		writeAPIError(w, r, codeInternal, "an internal error occurred", nil)
		return
	}
	WriteJSON(w, http.StatusOK, newBookmarkResponse(bm))
}

type bookmarkArtifactKind int

const (
	artifactVideo bookmarkArtifactKind = iota
	artifactThumbnail
)

func (h *Handler) bookmarkArtifact(w http.ResponseWriter, r *http.Request, id string, kind bookmarkArtifactKind) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := h.requireScope(w, r, models.ScopeBookmarksRead); !ok {
		return
	}
	bm, ok, err := h.Store.GetBookmark(id)
	if err != nil {
		writeAPIError(w, r, codeInternal, "an internal error occurred", nil)
		return
	}
	if !ok {
		writeAPIError(w, r, codeResourceNotFound, "bookmark not found", nil)
		return
	}
	if bm.Status != models.JobReady {
		WriteJSON(w, http.StatusAccepted, newBookmarkResponse(bm))
		return
	}

	path, contentType := bm.VideoPath, "video/mp4"
	if kind == artifactThumbnail {
		path, contentType = bm.ThumbnailPath, "image/jpeg"
	}
	f, err := os.Open(path)
	if err != nil {
		writeAPIError(w, r, codeNoRecordingData, "bookmark artifact is unavailable", nil)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, f)
}
