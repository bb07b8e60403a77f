package api

import (
	"net/http"
	"time"
)

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Health reports liveness unconditionally: the process answering the request
// is alive by definition. It never requires a bearer token (spec.md §6).
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r, http.MethodGet)
		return
	}
	WriteJSON(w, http.StatusOK, healthResponse{Status: "ok", Timestamp: time.Now().UTC()})
}

// Ready reports readiness by pinging the backing store; used by the
// orchestration layer to gate traffic until persistence is reachable.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r, http.MethodGet)
		return
	}
	if err := h.Store.Ping(r.Context()); err != nil {
		writeAPIError(w, r, codeInternal, "storage is not reachable: "+err.Error(), nil)
		return
	}
	WriteJSON(w, http.StatusOK, healthResponse{Status: "ok", Timestamp: time.Now().UTC()})
}
