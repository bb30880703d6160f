package httpapi

import (
	"encoding/json"
	"net/http"

	"modelswitch/internal/registry"
	"modelswitch/pkg/types"
)

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}

// statusForRegistryErr maps registry error kinds to HTTP status codes:
// a missing version is client-correctable, a failed load is operational.
func statusForRegistryErr(err error) int {
	switch {
	case registry.IsVersionNotFound(err):
		return http.StatusNotFound
	case registry.IsLoadFailed(err):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
