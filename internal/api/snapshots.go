package api

import (
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"bitriver-live/internal/models"
)

type createSnapshotRequest struct {
	Source    string         `json:"source"`
	Timestamp *time.Time     `json:"timestamp,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type snapshotResponse struct {
	ID        string         `json:"id"`
	StreamID  string         `json:"streamId"`
	Timestamp time.Time      `json:"timestamp"`
	Source    string         `json:"source"`
	Status    string         `json:"status"`
	Error     string         `json:"error,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

func newSnapshotResponse(s models.Snapshot) snapshotResponse {
	return snapshotResponse{
		ID:        s.ID,
		StreamID:  s.StreamID,
		Timestamp: s.Timestamp,
		Source:    strings.ToLower(string(s.Source)),
		Status:    strings.ToLower(string(s.Status)),
		Error:     s.Error,
		Metadata:  s.Metadata,
		CreatedAt: s.CreatedAt,
	}
}

type snapshotListResponse struct {
	Snapshots []snapshotResponse `json:"snapshots"`
	Limit     int                `json:"limit"`
	Offset    int                `json:"offset"`
	Total     int                `json:"total"`
}

func parseExtractionSource(raw string) (models.ExtractionSource, bool) {
	switch strings.ToLower(raw) {
	case "live":
		return models.SourceLive, true
	case "historical":
		return models.SourceHistorical, true
	default:
		return "", false
	}
}

func (h *Handler) createSnapshot(w http.ResponseWriter, r *http.Request, streamID string) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, r, http.MethodPost)
		return
	}
	if _, ok := h.requireScope(w, r, models.ScopeSnapshotsWrite); !ok {
		return
	}

	var req createSnapshotRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	source, ok := parseExtractionSource(req.Source)
	if !ok {
		writeAPIError(w, r, codeValidationError, `source must be "live" or "historical"`, nil)
		return
	}
	if source == models.SourceHistorical && req.Timestamp == nil {
		writeAPIError(w, r, codeValidationError, "timestamp is required for a historical snapshot", nil)
		return
	}

	at := time.Now()
	if req.Timestamp != nil {
		at = *req.Timestamp
	}

	snap, err := h.Orchestrator.CreateSnapshot(streamID, source, at, req.Metadata)
	if err != nil {
		translateError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, newSnapshotResponse(snap))
}

// Snapshots implements GET /v2/snapshots: a global, paginated listing with
// optional stream_id/status filters.
func (h *Handler) Snapshots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := h.requireScope(w, r, models.ScopeSnapshotsRead); !ok {
		return
	}

	all, err := h.Store.ListSnapshots()
	if err != nil {
		writeAPIError(w, r, codeInternal, "an internal error occurred", nil)
		return
	}

	streamFilter := r.URL.Query().Get("stream_id")
	statusFilter := r.URL.Query().Get("status")

	filtered := make([]snapshotResponse, 0, len(all))
	for _, s := range all {
		if streamFilter != "" && s.StreamID != streamFilter {
			continue
		}
		if statusFilter != "" && !strings.EqualFold(string(s.Status), statusFilter) {
			continue
		}
		filtered = append(filtered, newSnapshotResponse(s))
	}

	limit, offset := parsePagination(r)
	WriteJSON(w, http.StatusOK, snapshotListResponse{
		Snapshots: paginateSnapshots(filtered, limit, offset),
		Limit:     limit,
		Offset:    offset,
		Total:     len(filtered),
	})
}

// SnapshotByID routes GET/DELETE /v2/snapshots/{id} and GET .../image.
func (h *Handler) SnapshotByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v2/snapshots/")
	parts := strings.Split(path, "/")
	for len(parts) > 1 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	if len(parts) == 0 || parts[0] == "" {
		writeAPIError(w, r, codeResourceNotFound, "snapshot id missing", nil)
		return
	}
	id := parts[0]

	switch {
	case len(parts) == 1:
		h.snapshotRecord(w, r, id)
	case len(parts) == 2 && parts[1] == "image":
		h.snapshotImage(w, r, id)
	default:
		writeAPIError(w, r, codeResourceNotFound, "unknown snapshot route", nil)
	}
}

func (h *Handler) snapshotRecord(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		if _, ok := h.requireScope(w, r, models.ScopeSnapshotsRead); !ok {
			return
		}
		snap, ok, err := h.Store.GetSnapshot(id)
		if err != nil {
			writeAPIError(w, r, codeInternal, "an internal error occurred", nil)
			return
		}
		if !ok {
			writeAPIError(w, r, codeResourceNotFound, "snapshot not found", nil)
			return
		}
		WriteJSON(w, http.StatusOK, newSnapshotResponse(snap))
	case http.MethodDelete:
		if _, ok := h.requireScope(w, r, models.ScopeSnapshotsWrite); !ok {
			return
		}
		if _, ok, err := h.Store.GetSnapshot(id); err != nil || !ok {
			writeAPIError(w, r, codeResourceNotFound, "snapshot not found", nil)
			return
		}
		if err := h.Store.DeleteSnapshotArtifact(id); err != nil {
			writeAPIError(w, r, codeInternal, "an internal error occurred", nil)
			return
		}
		if err := h.Store.FailSnapshot(id, "deleted by request"); err != nil {
			writeAPIError(w, r, codeInternal, "an internal error occurred", nil)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeMethodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
	}
}

func (h *Handler) snapshotImage(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := h.requireScope(w, r, models.ScopeSnapshotsRead); !ok {
		return
	}
	snap, ok, err := h.Store.GetSnapshot(id)
	if err != nil {
		writeAPIError(w, r, codeInternal, "an internal error occurred", nil)
		return
	}
	if !ok {
		writeAPIError(w, r, codeResourceNotFound, "snapshot not found", nil)
		return
	}
	if snap.Status != models.JobReady {
		WriteJSON(w, http.StatusAccepted, newSnapshotResponse(snap))
		return
	}

	f, err := os.Open(snap.ImagePath)
	if err != nil {
		writeAPIError(w, r, codeNoRecordingData, "snapshot image is unavailable", nil)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "image/jpeg")
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, f)
}
