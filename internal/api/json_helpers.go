package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const maxJSONBodyBytes = 1 << 20 // 1 MiB

// WriteJSON writes a JSON payload with the provided status code.
func WriteJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

// decodeJSONBody parses a JSON payload into dest, rejecting unknown fields
// and enforcing a body size limit, and on failure writes the spec.md §6
// VALIDATION_ERROR envelope and returns false.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	if err := decodeJSON(r, dest); err != nil {
		writeAPIError(w, r, codeValidationError, err.Error(), nil)
		return false
	}
	return true
}

func decodeJSON(r *http.Request, dest interface{}) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	defer r.Body.Close()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxJSONBodyBytes+1))
	if err != nil {
		return fmt.Errorf("unable to read request body: %w", err)
	}
	if len(body) == 0 {
		return errors.New("request body is required")
	}
	if len(body) > maxJSONBodyBytes {
		return fmt.Errorf("request body must not exceed %d bytes", maxJSONBodyBytes)
	}

	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dest); err != nil {
		return classifyDecodeError(err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return classifyDecodeError(err)
	}
	return nil
}

func classifyDecodeError(err error) error {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError

	switch {
	case errors.As(err, &syntaxErr):
		return errors.New("malformed JSON")
	case errors.Is(err, io.ErrUnexpectedEOF):
		return errors.New("malformed JSON")
	case errors.As(err, &typeErr):
		if typeErr.Field != "" {
			return fmt.Errorf("invalid value for %s", typeErr.Field)
		}
		return errors.New("invalid value")
	case errors.Is(err, io.EOF):
		return errors.New("request body cannot be empty")
	case strings.HasPrefix(err.Error(), "json: unknown field "):
		return fmt.Errorf("unknown field %s", strings.TrimPrefix(err.Error(), "json: unknown field "))
	default:
		return errors.New("invalid JSON payload")
	}
}

// writeMethodNotAllowed writes a consistent 405 response with an Allow header.
func writeMethodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	if len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
	}
	writeAPIErrorStatus(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", fmt.Sprintf("method %s not allowed", r.Method))
}
