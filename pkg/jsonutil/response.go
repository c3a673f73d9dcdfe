// Package jsonutil writes JSON HTTP responses. Every surface of the
// service, the auth middleware included, uses the same error body
// shape, so it lives here rather than in the handlers package.
package jsonutil

import (
	"encoding/json"
	"net/http"
)

// ErrorBody is the wire shape of every error response.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Write encodes data as the response body with the given status code
// and returns any encoding error. For 200 the status line is left to
// the first body write, matching net/http defaults.
func Write(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// WriteError writes an ErrorBody with a machine-readable code and a
// human-readable message.
func WriteError(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	return Write(w, statusCode, ErrorBody{Error: errorCode, Message: message})
}
