// Package httputil provides HTTP handler utilities for the JSON envelope,
// API error handling, request parsing and common middleware.
package httputil

import (
	"encoding/json"
	"net/http"
)

// M is a shorthand for envelope fields
type M map[string]interface{}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteOK writes a success envelope {ok:true, ...fields}
func WriteOK(w http.ResponseWriter, status int, fields M) error {
	body := make(M, len(fields)+1)
	for k, v := range fields {
		body[k] = v
	}
	body["ok"] = true
	return WriteJSON(w, status, body)
}

// WriteSuccess writes a 200 success envelope
func WriteSuccess(w http.ResponseWriter, fields M) error {
	return WriteOK(w, http.StatusOK, fields)
}

// WriteErrorMessage writes a failure envelope with a custom message
func WriteErrorMessage(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, M{"ok": false, "error": message})
}

// WriteMessage writes a 200 success envelope carrying only a message
func WriteMessage(w http.ResponseWriter, message string) error {
	return WriteSuccess(w, M{"message": message})
}
