package common

import (
	"encoding/json"
	"net/http"
)

// ErrorBody represents a consistent error payload returned by the API.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// JSON writes the provided value to the response writer as JSON.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// JSONNoStore writes a JSON response that intermediaries must not cache.
// Payment status is time-sensitive and must never be served stale.
func JSONNoStore(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Cache-Control", "no-store")
	JSON(w, status, v)
}

// JSONAppError renders an AppError using the canonical error shape.
func JSONAppError(w http.ResponseWriter, err *AppError) {
	if err == nil {
		JSONError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
		return
	}
	JSONError(w, err.HTTPStatus, err.Code, err.Message, nil)
}

// JSONAppErrorNoStore renders an AppError with caching disabled. Status
// lookups use this so a cached failure cannot mask a recovered gateway.
func JSONAppErrorNoStore(w http.ResponseWriter, err *AppError) {
	w.Header().Set("Cache-Control", "no-store")
	JSONAppError(w, err)
}

// JSONError renders an error response using the canonical error shape.
func JSONError(w http.ResponseWriter, status int, code, message string, details any) {
	JSON(w, status, map[string]any{
		"error": ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}
