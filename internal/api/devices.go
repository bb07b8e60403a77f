package api

import (
	"errors"
	"net/http"
	"strings"

	"bitriver-live/internal/models"
	"bitriver-live/internal/orchestrator"
)

type startStreamResponse struct {
	V2StreamID string                  `json:"v2_stream_id"`
	Producers  startStreamProducersRef `json:"producers"`
	RoomID     string                  `json:"room_id"`
	Stream     streamSummaryResponse   `json:"stream"`
	Reconnect  bool                    `json:"reconnect"`
}

type startStreamProducersRef struct {
	Video string `json:"video"`
}

type stopStreamResponse struct {
	Stopped bool `json:"stopped"`
}

// DeviceByID routes the /v1/devices/{id}/... sub-resources, mirroring the
// trim-prefix-then-split-path idiom the rest of this package's predecessor
// used for nested resources.
func (h *Handler) DeviceByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/devices/")
	parts := strings.Split(path, "/")
	for len(parts) > 1 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	if len(parts) == 0 || parts[0] == "" {
		writeAPIError(w, r, codeResourceNotFound, "device id missing", nil)
		return
	}
	deviceID := parts[0]

	if len(parts) != 2 {
		writeAPIError(w, r, codeResourceNotFound, "unknown device route", nil)
		return
	}

	switch parts[1] {
	case "start-stream":
		h.startStream(w, r, deviceID)
	case "stop-stream":
		h.stopStream(w, r, deviceID)
	default:
		writeAPIError(w, r, codeResourceNotFound, "unknown device route", nil)
	}
}

func (h *Handler) startStream(w http.ResponseWriter, r *http.Request, deviceID string) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, r, http.MethodPost)
		return
	}
	if _, ok := h.requireScope(w, r, models.ScopeStreamsWrite); !ok {
		return
	}

	started, err := h.Orchestrator.StartStream(r.Context(), deviceID)
	if err != nil {
		if errors.Is(err, orchestrator.ErrDeviceNotFound) {
			writeAPIError(w, r, codeResourceNotFound, err.Error(), nil)
			return
		}
		translateError(w, r, err)
		return
	}

	stream, ok, err := h.Store.GetStream(started.StreamID)
	if err != nil || !ok {
		writeAPIError(w, r, codeInternal, "stream was started but could not be reloaded", nil)
		return
	}

	WriteJSON(w, http.StatusOK, startStreamResponse{
		V2StreamID: started.StreamID,
		Producers:  startStreamProducersRef{Video: started.ProducerID},
		RoomID:     started.StreamID,
		Stream:     newStreamSummaryResponse(stream),
		Reconnect:  started.Reconnect,
	})
}

func (h *Handler) stopStream(w http.ResponseWriter, r *http.Request, deviceID string) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, r, http.MethodPost)
		return
	}
	if _, ok := h.requireScope(w, r, models.ScopeStreamsWrite); !ok {
		return
	}

	stream, ok, err := h.Store.FindActiveStreamByDevice(deviceID)
	if err != nil {
		writeAPIError(w, r, codeInternal, "an internal error occurred", nil)
		return
	}
	if !ok {
		WriteJSON(w, http.StatusOK, stopStreamResponse{Stopped: true})
		return
	}

	if err := h.Orchestrator.StopStream(r.Context(), stream.ID); err != nil && !errors.Is(err, orchestrator.ErrStreamNotFound) {
		translateError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, stopStreamResponse{Stopped: true})
}
