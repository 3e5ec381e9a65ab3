package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/lcalzada-xor/ztcore/internal/core/domain"
)

// errorBody is the JSON shape every API error takes.
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// writeJSON encodes v with status. Encoding failures are logged, not
// surfaced: the header is already out.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("response encode error: %v", err)
	}
}

// writeError maps a domain error onto the API's status and code
// taxonomy: read misses are 404, state conflicts, duplicate bindings
// and still-invalid certificates 409, refused administrative actions
// 403, anything else 500.
func writeError(w http.ResponseWriter, err error) {
	var dupMAC *domain.DuplicateMACError
	var dupID *domain.DuplicateDeviceIDError
	var attest *domain.AttestationFailedError

	switch {
	case domain.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error(), Code: "not_found"})
	case domain.IsConflict(err), errors.As(err, &dupMAC), errors.As(err, &dupID), errors.As(err, &attest):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error(), Code: "conflict"})
	case errors.Is(err, domain.ErrPolicyViolation):
		writeJSON(w, http.StatusForbidden, errorBody{Error: err.Error(), Code: "forbidden"})
	default:
		log.Printf("request failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error", Code: "internal"})
	}
}

// writeBadRequest rejects malformed input with a 400.
func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg, Code: "bad_request"})
}

// decodeJSON parses the request body into v.
func decodeJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
