package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// writeJSON writes v with the given status code. Errors go through
// response.WriteJSONError instead.
func writeJSON(w http.ResponseWriter, logger *slog.Logger, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Headers are already sent.
		logger.Error("failed to encode JSON response", "status_code", code, "err", err)
	}
}

// decodeJSON reads a single JSON object from the request body.
func decodeJSON(w http.ResponseWriter, r *http.Request, dest any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	return json.NewDecoder(r.Body).Decode(dest)
}
