package server

import (
	"encoding/json"
	"net/http"
)

// writeJSONError normalises middleware error responses to a small JSON shape.
func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
