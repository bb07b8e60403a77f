package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"

	"bitriver-live/internal/models"
	"bitriver-live/internal/orchestrator"
	"bitriver-live/internal/sfu"
)

type streamSummaryResponse struct {
	ID            string  `json:"id"`
	DeviceID      string  `json:"deviceId"`
	State         string  `json:"state"`
	UptimeSeconds float64 `json:"uptimeSeconds"`
	StartedAt     string  `json:"startedAt"`
	LastError     string  `json:"lastError,omitempty"`
}

func newStreamSummaryResponse(s models.Stream) streamSummaryResponse {
	return streamSummaryResponse{
		ID:            s.ID,
		DeviceID:      s.DeviceID,
		State:         string(s.State),
		UptimeSeconds: s.Uptime(time.Now()).Seconds(),
		StartedAt:     s.StartedAt.UTC().Format(time.RFC3339),
		LastError:     s.LastError,
	}
}

type producerResponse struct {
	ID    string `json:"id"`
	SSRC  uint32 `json:"ssrc,omitempty"`
	State string `json:"state,omitempty"`
}

type streamDetailResponse struct {
	streamSummaryResponse
	Producer      *producerResponse `json:"producer,omitempty"`
	ConsumerCount int               `json:"consumerCount"`
}

type streamHealthResponse struct {
	IsHealthy     bool    `json:"is_healthy"`
	BitrateKbps   float64 `json:"bitrate_kbps"`
	FPS           float64 `json:"fps"`
	PacketLoss    float64 `json:"packet_loss"`
	JitterMs      float64 `json:"jitter_ms"`
	LastError     string  `json:"last_error,omitempty"`
}

type streamListResponse struct {
	Streams []streamSummaryResponse `json:"streams"`
	Limit   int                     `json:"limit"`
	Offset  int                     `json:"offset"`
	Total   int                     `json:"total"`
}

// Streams implements GET /v2/streams, filtering by state/camera_id and
// paginating with limit/offset (spec.md §6).
func (h *Handler) Streams(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := h.requireScope(w, r, models.ScopeStreamsRead); !ok {
		return
	}

	all, err := h.Store.ListStreams()
	if err != nil {
		writeAPIError(w, r, codeInternal, "an internal error occurred", nil)
		return
	}

	stateFilter := r.URL.Query().Get("state")
	cameraFilter := r.URL.Query().Get("camera_id")

	filtered := make([]streamSummaryResponse, 0, len(all))
	for _, s := range all {
		if stateFilter != "" && !strings.EqualFold(string(s.State), stateFilter) {
			continue
		}
		if cameraFilter != "" && s.DeviceID != cameraFilter {
			continue
		}
		filtered = append(filtered, newStreamSummaryResponse(s))
	}

	limit, offset := parsePagination(r)
	WriteJSON(w, http.StatusOK, streamListResponse{
		Streams: paginateStreams(filtered, limit, offset),
		Limit:   limit,
		Offset:  offset,
		Total:   len(filtered),
	})
}

// StreamByID routes every /v2/streams/{id}/... sub-resource.
func (h *Handler) StreamByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v2/streams/")
	parts := strings.Split(path, "/")
	for len(parts) > 1 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	if len(parts) == 0 || parts[0] == "" {
		writeAPIError(w, r, codeResourceNotFound, "stream id missing", nil)
		return
	}
	streamID := parts[0]

	switch {
	case len(parts) == 1:
		h.streamDetail(w, r, streamID)
	case len(parts) == 2 && parts[1] == "health":
		h.streamHealth(w, r, streamID)
	case len(parts) == 2 && parts[1] == "router-capabilities":
		h.streamRouterCapabilities(w, r, streamID)
	case len(parts) == 2 && parts[1] == "consume":
		h.streamConsume(w, r, streamID)
	case len(parts) == 2 && parts[1] == "snapshots":
		h.createSnapshot(w, r, streamID)
	case len(parts) == 2 && parts[1] == "bookmarks":
		h.createBookmark(w, r, streamID)
	case len(parts) >= 2 && parts[1] == "hls":
		h.hlsRoute(w, r, streamID, parts[2:])
	case len(parts) == 3 && parts[1] == "consumers":
		h.consumerByID(w, r, streamID, parts[2])
	case len(parts) == 4 && parts[1] == "consumers" && parts[3] == "connect":
		h.connectConsumer(w, r, streamID, parts[2])
	default:
		writeAPIError(w, r, codeResourceNotFound, "unknown stream route", nil)
	}
}

func (h *Handler) streamDetail(w http.ResponseWriter, r *http.Request, streamID string) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := h.requireScope(w, r, models.ScopeStreamsRead); !ok {
		return
	}
	stream, ok, err := h.Store.GetStream(streamID)
	if err != nil {
		writeAPIError(w, r, codeInternal, "an internal error occurred", nil)
		return
	}
	if !ok {
		writeAPIError(w, r, codeResourceNotFound, "stream not found", nil)
		return
	}

	detail := streamDetailResponse{
		streamSummaryResponse: newStreamSummaryResponse(stream),
		ConsumerCount:         h.Orchestrator.ConsumerCount(streamID),
	}
	if producer, ok, err := h.Store.GetProducerByStream(streamID); err == nil && ok {
		detail.Producer = &producerResponse{ID: producer.ID, SSRC: producer.SSRC, State: producer.State}
	}
	WriteJSON(w, http.StatusOK, detail)
}

func (h *Handler) streamHealth(w http.ResponseWriter, r *http.Request, streamID string) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := h.requireScope(w, r, models.ScopeStreamsRead); !ok {
		return
	}
	stream, ok, err := h.Store.GetStream(streamID)
	if err != nil {
		writeAPIError(w, r, codeInternal, "an internal error occurred", nil)
		return
	}
	if !ok {
		writeAPIError(w, r, codeResourceNotFound, "stream not found", nil)
		return
	}

	resp := streamHealthResponse{IsHealthy: stream.State == models.StreamLive && stream.LastError == "", LastError: stream.LastError}
	if producer, ok, err := h.Store.GetProducerByStream(streamID); err == nil && ok && h.SFU != nil {
		var stats sfu.ProducerStats
		if err := h.SFU.Call(r.Context(), sfu.MethodGetProducerStats, struct {
			ProducerID string `json:"producerId"`
		}{ProducerID: producer.ID}, &stats); err == nil {
			resp.PacketLoss = stats.PacketLossPercent
			resp.JitterMs = stats.JitterMs
			resp.BitrateKbps = float64(stats.RTPBytesReceived*8) / 1000
		} else {
			resp.IsHealthy = false
		}
	}
	WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) streamRouterCapabilities(w http.ResponseWriter, r *http.Request, streamID string) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := h.requireScope(w, r, models.ScopeStreamsRead); !ok {
		return
	}
	if _, ok, err := h.Store.GetStream(streamID); err != nil || !ok {
		writeAPIError(w, r, codeResourceNotFound, "stream not found", nil)
		return
	}
	var caps sfu.RouterRTPCapabilities
	if err := h.SFU.Call(r.Context(), sfu.MethodGetRouterRTPCapabilities, struct {
		RoomID string `json:"roomId"`
	}{RoomID: streamID}, &caps); err != nil {
		writeAPIError(w, r, codeSFUUnavailable, "router capabilities are unavailable", nil)
		return
	}
	WriteJSON(w, http.StatusOK, caps)
}

type consumeWireRequest struct {
	ClientID        string                      `json:"client_id"`
	RTPCapabilities []webrtc.RTPCodecCapability `json:"rtp_capabilities"`
}

type consumeResponse struct {
	Consumer  consumerResponse         `json:"consumer"`
	Transport webRTCTransportResponse  `json:"transport"`
}

type consumerResponse struct {
	ID       string `json:"id"`
	StreamID string `json:"streamId"`
	ClientID string `json:"clientId"`
	State    string `json:"state"`
}

func newConsumerResponse(c models.Consumer) consumerResponse {
	return consumerResponse{ID: c.ID, StreamID: c.StreamID, ClientID: c.ClientID, State: string(c.State)}
}

type webRTCTransportResponse struct {
	TransportID    string                 `json:"transportId"`
	ICEParameters  webrtc.ICEParameters   `json:"iceParameters"`
	ICECandidates  []webrtc.ICECandidate  `json:"iceCandidates"`
	DTLSParameters webrtc.DTLSParameters  `json:"dtlsParameters"`
}

func newWebRTCTransportResponse(info sfu.WebRTCTransportInfo) webRTCTransportResponse {
	return webRTCTransportResponse{
		TransportID:    info.TransportID,
		ICEParameters:  info.ICEParameters,
		ICECandidates:  info.ICECandidates,
		DTLSParameters: info.DTLSParameters,
	}
}

func (h *Handler) streamConsume(w http.ResponseWriter, r *http.Request, streamID string) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, r, http.MethodPost)
		return
	}
	_, ok := h.requireScope(w, r, models.ScopeStreamsConsume)
	if !ok {
		return
	}

	var req consumeWireRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.ClientID == "" {
		writeAPIError(w, r, codeValidationError, "client_id is required", nil)
		return
	}

	params := sfu.CreateConsumerParams{RTPCapabilities: req.RTPCapabilities}
	consumer, transport, err := h.Orchestrator.AttachConsumer(r.Context(), streamID, req.ClientID, params)
	if err != nil {
		if errors.Is(err, orchestrator.ErrStreamNotFound) {
			writeAPIError(w, r, codeResourceNotFound, err.Error(), nil)
			return
		}
		translateError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, consumeResponse{
		Consumer:  newConsumerResponse(consumer),
		Transport: newWebRTCTransportResponse(transport),
	})
}

func (h *Handler) connectConsumer(w http.ResponseWriter, r *http.Request, streamID, consumerID string) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, r, http.MethodPost)
		return
	}
	if _, ok := h.requireScope(w, r, models.ScopeStreamsConsume); !ok {
		return
	}
	var wire struct {
		DTLSParameters webrtc.DTLSParameters `json:"dtlsParameters"`
	}
	if !decodeJSONBody(w, r, &wire) {
		return
	}

	consumer, err := h.Orchestrator.ConnectConsumer(r.Context(), consumerID, sfu.ConnectWebRTCTransportParams{DTLSParameters: wire.DTLSParameters})
	if err != nil {
		translateError(w, r, err)
		return
	}
	if consumer.StreamID != streamID {
		writeAPIError(w, r, codeResourceNotFound, "consumer does not belong to this stream", nil)
		return
	}
	WriteJSON(w, http.StatusOK, newConsumerResponse(consumer))
}

func (h *Handler) consumerByID(w http.ResponseWriter, r *http.Request, streamID, consumerID string) {
	if r.Method != http.MethodDelete {
		writeMethodNotAllowed(w, r, http.MethodDelete)
		return
	}
	if _, ok := h.requireScope(w, r, models.ScopeStreamsConsume); !ok {
		return
	}
	if err := h.Orchestrator.DetachConsumer(r.Context(), consumerID); err != nil {
		translateError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
