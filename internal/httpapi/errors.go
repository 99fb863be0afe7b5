package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"mnistd/internal/inference"
	"mnistd/pkg/types"
)

// Error kinds used as the predict_errors_total label.
const (
	kindShape   = "shape"
	kindBody    = "body_too_large"
	kindDecode  = "decode"
	kindTimeout = "timeout"
	kindUnavail = "unavailable"
	kindModel   = "model"
)

// classify maps a /predict failure to an HTTP status and an error kind.
// Anything not recognized is a 500 carrying the raw message.
func classify(err error, decoding bool) (int, string) {
	var mbe *http.MaxBytesError
	switch {
	case inference.IsInvalidShape(err):
		return http.StatusBadRequest, kindShape
	case errors.As(err, &mbe):
		return http.StatusRequestEntityTooLarge, kindBody
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, kindTimeout
	case inference.IsDependencyUnavailable(err):
		return http.StatusServiceUnavailable, kindUnavail
	case decoding:
		return http.StatusInternalServerError, kindDecode
	default:
		return http.StatusInternalServerError, kindModel
	}
}

// writeJSON writes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, types.ErrorResponse{Error: msg})
}
