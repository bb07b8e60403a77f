package server

import (
	"net/http"

	"bitriver-live/internal/api"
)

// writeMiddlewareError normalises middleware error responses (rate limiting,
// infrastructure failures) to the same spec.md §6 JSON envelope the handler
// layer uses, via the api package's exported writers.
func writeMiddlewareError(w http.ResponseWriter, r *http.Request, status int, message string) {
	if status == http.StatusTooManyRequests {
		api.WriteRateLimited(w, r, message, 0)
		return
	}
	api.WriteInternalError(w, r, message)
}
