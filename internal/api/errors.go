package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"bitriver-live/internal/consumer"
	"bitriver-live/internal/extraction"
	"bitriver-live/internal/hls"
	"bitriver-live/internal/observability/logging"
	"bitriver-live/internal/orchestrator"
)

// apiError is an RFC-free but stable HTTP error envelope (spec.md §6):
// {error, error_description, status_code, details, request_id, timestamp}.
// The SCREAMING_CODE taxonomy below is fixed by the same section; handlers
// pick one by matching the error they got back from a collaborator rather
// than inventing new codes per endpoint.
type apiError struct {
	Code        string         `json:"error"`
	Description string         `json:"error_description"`
	StatusCode  int            `json:"status_code"`
	Details     map[string]any `json:"details,omitempty"`
	RequestID   string         `json:"request_id"`
	Timestamp   time.Time      `json:"timestamp"`
}

const (
	codeValidationError       = "VALIDATION_ERROR"
	codeInvalidToken          = "INVALID_TOKEN"
	codeTokenExpired          = "TOKEN_EXPIRED"
	codeInvalidRefreshToken   = "INVALID_REFRESH_TOKEN"
	codeInvalidCredentials    = "INVALID_CREDENTIALS"
	codeInsufficientScope     = "INSUFFICIENT_SCOPE"
	codeResourceNotFound      = "RESOURCE_NOT_FOUND"
	codeStreamNotLive         = "STREAM_NOT_LIVE"
	codeConsumerAlreadyExists = "CONSUMER_ALREADY_EXISTS"
	codeSFUUnavailable        = "SFU_UNAVAILABLE"
	codeRTSPTimeout           = "RTSP_TIMEOUT"
	codeSSRCCaptureFailed     = "SSRC_CAPTURE_FAILED"
	codeRTSPConnectionFailed  = "RTSP_CONNECTION_FAILED"
	codeTranscoderError       = "TRANSCODER_ERROR"
	codeExtractionTimeout     = "EXTRACTION_TIMEOUT"
	codeNoRecordingData       = "NO_RECORDING_DATA"
	codeDiskFull              = "DISK_FULL"
	codeBacklogged            = "BACKLOGGED"
	codeInternal              = "INTERNAL_ERROR"
	codeRateLimited           = "RATE_LIMITED"
)

var statusByCode = map[string]int{
	codeValidationError:       http.StatusBadRequest,
	codeInvalidToken:          http.StatusUnauthorized,
	codeTokenExpired:          http.StatusUnauthorized,
	codeInvalidRefreshToken:   http.StatusUnauthorized,
	codeInvalidCredentials:    http.StatusUnauthorized,
	codeInsufficientScope:     http.StatusForbidden,
	codeResourceNotFound:      http.StatusNotFound,
	codeStreamNotLive:         http.StatusConflict,
	codeConsumerAlreadyExists: http.StatusConflict,
	codeSFUUnavailable:        http.StatusServiceUnavailable,
	codeRTSPTimeout:           http.StatusGatewayTimeout,
	codeSSRCCaptureFailed:     http.StatusUnprocessableEntity,
	codeRTSPConnectionFailed:  http.StatusBadGateway,
	codeTranscoderError:       http.StatusUnprocessableEntity,
	codeExtractionTimeout:     http.StatusGatewayTimeout,
	codeNoRecordingData:       http.StatusNotFound,
	codeDiskFull:              http.StatusInsufficientStorage,
	codeBacklogged:            http.StatusServiceUnavailable,
	codeInternal:              http.StatusInternalServerError,
	codeRateLimited:           http.StatusTooManyRequests,
}

// writeAPIError emits the spec.md §6 error envelope for a fixed code and a
// human message, stamping a fresh request id (matched against the
// X-Request-Id the server middleware may have already assigned, via r).
func writeAPIError(w http.ResponseWriter, r *http.Request, code, description string, details map[string]any) {
	status, ok := statusByCode[code]
	if !ok {
		status = http.StatusInternalServerError
	}
	requestID := requestIDFromRequest(r)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiError{
		Code:        code,
		Description: description,
		StatusCode:  status,
		Details:     details,
		RequestID:   requestID,
		Timestamp:   time.Now().UTC(),
	})
}

// writeAPIErrorStatus is writeAPIError for the rare case (405, 413) where
// the HTTP status isn't one of the taxonomy codes in statusByCode.
func writeAPIErrorStatus(w http.ResponseWriter, r *http.Request, status int, code, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiError{
		Code:        code,
		Description: description,
		StatusCode:  status,
		RequestID:   requestIDFromRequest(r),
		Timestamp:   time.Now().UTC(),
	})
}

func requestIDFromRequest(r *http.Request) string {
	if r != nil {
		if id, ok := logging.RequestIDFromContext(r.Context()); ok && id != "" {
			return id
		}
	}
	return uuid.NewString()
}

// translateError maps an error surfaced by a collaborator package to the
// SCREAMING_CODE taxonomy and writes the envelope. Handlers that already
// know the code (e.g. a validation failure they detected themselves) should
// call writeAPIError directly instead.
func translateError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case err == nil:
		return
	case isNotFound(err):
		writeAPIError(w, r, codeResourceNotFound, err.Error(), nil)
	case err == orchestrator.ErrStreamNotLive, err == consumer.ErrStreamNotLive:
		writeAPIError(w, r, codeStreamNotLive, err.Error(), nil)
	case err == consumer.ErrConsumerAlreadyExists:
		writeAPIError(w, r, codeConsumerAlreadyExists, err.Error(), nil)
	case err == orchestrator.ErrSetupTimeout:
		writeAPIError(w, r, codeRTSPTimeout, err.Error(), nil)
	case err == consumer.ErrIncompatibleCapabilities, err == consumer.ErrNotPending:
		writeAPIError(w, r, codeValidationError, err.Error(), nil)
	case err == consumer.ErrDtlsFailed:
		writeAPIError(w, r, codeSFUUnavailable, err.Error(), nil)
	case err == extraction.ErrBacklogged:
		writeAPIError(w, r, codeBacklogged, err.Error(), nil)
	case err == extraction.ErrExtractionTimeout:
		writeAPIError(w, r, codeExtractionTimeout, err.Error(), nil)
	case err == extraction.ErrDiskFull:
		writeAPIError(w, r, codeDiskFull, err.Error(), nil)
	case err == extraction.ErrNoRecordingData, err == hls.ErrNoRecordingData:
		writeAPIError(w, r, codeNoRecordingData, err.Error(), nil)
	default:
		writeAPIError(w, r, codeInternal, "an internal error occurred", nil)
	}
}

func isNotFound(err error) bool {
	return err == orchestrator.ErrDeviceNotFound || err == orchestrator.ErrStreamNotFound || err == consumer.ErrNotFound
}

// WriteRateLimited emits the spec.md §6 error envelope for a request
// rejected by the server package's rate limiting middleware, which sits
// outside any Handler method and so has no access to writeAPIError directly.
func WriteRateLimited(w http.ResponseWriter, r *http.Request, description string, retryAfterSeconds float64) {
	if retryAfterSeconds > 0 {
		w.Header().Set("Retry-After", strconv.FormatFloat(retryAfterSeconds, 'f', 0, 64))
	}
	writeAPIError(w, r, codeRateLimited, description, nil)
}

// WriteInternalError emits the generic internal-error envelope for
// infrastructure failures (e.g. the rate limiter's backing store) detected
// by server package middleware rather than a Handler method.
func WriteInternalError(w http.ResponseWriter, r *http.Request, description string) {
	writeAPIError(w, r, codeInternal, description, nil)
}
