package handlers

import (
	"net/http"

	"github.com/lcalzada-xor/ztcore/internal/core/ports"
)

// ThreatHandler serves honeypot threat intel and the mitigation rules
// derived from it.
type ThreatHandler struct {
	Store ports.Store
}

// NewThreatHandler creates a new ThreatHandler.
func NewThreatHandler(store ports.Store) *ThreatHandler {
	return &ThreatHandler{Store: store}
}

// HandleThreats returns all known threat entries, most recent first.
func (h *ThreatHandler) HandleThreats(w http.ResponseWriter, r *http.Request) {
	threats, err := h.Store.ListThreats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"threats": threats})
}

// HandleMitigations returns the active mitigation rules.
func (h *ThreatHandler) HandleMitigations(w http.ResponseWriter, r *http.Request) {
	rules, err := h.Store.ListMitigations(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"mitigations": rules})
}
