// Package httputil provides shared JSON response helpers for the
// monitor's API handlers.
package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/openlook/gazeline/internal/gaze"
)

// WriteJSON writes data as a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		gaze.Diagf("encode json response: %v", err)
	}
}

// WriteJSONOK writes data as a 200 OK JSON response.
func WriteJSONOK(w http.ResponseWriter, data interface{}) {
	WriteJSON(w, http.StatusOK, data)
}

// WriteJSONError writes a JSON error body with the given status code.
func WriteJSONError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, map[string]string{"error": msg})
}
