package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/lcalzada-xor/ztcore/internal/core/domain"
	"github.com/lcalzada-xor/ztcore/internal/core/ports"
	"github.com/lcalzada-xor/ztcore/internal/core/services/identity"
)

const defaultHistoryLimit = 50

// DeviceHandler serves the device inventory and the enrollment
// lifecycle actions.
type DeviceHandler struct {
	Inventory *identity.Service
	Control   ports.OnboardingControl
	Trust     ports.TrustScorer
	Decisions ports.DecisionProvider
}

// NewDeviceHandler creates a new DeviceHandler.
func NewDeviceHandler(inventory *identity.Service, control ports.OnboardingControl, trust ports.TrustScorer, decisions ports.DecisionProvider) *DeviceHandler {
	return &DeviceHandler{
		Inventory: inventory,
		Control:   control,
		Trust:     trust,
		Decisions: decisions,
	}
}

// HandleList returns devices, optionally narrowed by status, type or
// MAC prefix query parameters.
func (h *DeviceHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	var filter *domain.DeviceFilter

	q := r.URL.Query()
	if q.Get("status") != "" || q.Get("type") != "" || q.Get("mac_prefix") != "" {
		filter = domain.NewDeviceFilter()
		filter.Status = domain.DeviceStatus(q.Get("status"))
		filter.Type = q.Get("type")
		filter.MACPrefix = q.Get("mac_prefix")
	}

	devices, err := h.Inventory.List(r.Context(), filter)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidStatusFilter) || errors.Is(err, domain.ErrInvalidTimeRange) {
			writeBadRequest(w, err.Error())
			return
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"devices": devices})
}

// HandlePending returns devices awaiting administrator approval.
func (h *DeviceHandler) HandlePending(w http.ResponseWriter, r *http.Request) {
	devices, err := h.Inventory.Pending(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"devices": devices})
}

// HandleGet returns one device by ID.
func (h *DeviceHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	device, err := h.Inventory.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, device)
}

// HandleTrust returns a device's current score and the decision in
// force. Pending devices have no score yet; the field stays null.
func (h *DeviceHandler) HandleTrust(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	device, err := h.Inventory.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	var score *int
	if s, err := h.Trust.Get(r.Context(), id); err == nil {
		score = &s
	} else if !domain.IsNotFound(err) {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"device_id": device.DeviceID,
		"trust":     score,
		"decision":  h.Decisions.CurrentDecision(id),
	})
}

// HandleTrustHistory returns a device's trust adjustments, newest first.
func (h *DeviceHandler) HandleTrustHistory(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	limit := queryLimit(r, defaultHistoryLimit)

	events, err := h.Inventory.TrustHistory(r.Context(), id, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"device_id": id, "events": events})
}

// HandleHistory returns a device's lifecycle events, newest first.
func (h *DeviceHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	limit := queryLimit(r, defaultHistoryLimit)

	entries, err := h.Inventory.History(r.Context(), id, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"device_id": id, "history": entries})
}

// HandlePolicy returns the least-privilege policy computed at
// finalization.
func (h *DeviceHandler) HandlePolicy(w http.ResponseWriter, r *http.Request) {
	policy, err := h.Inventory.Policy(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, policy)
}

// HandleBaseline returns the behavioral baseline from profiling.
func (h *DeviceHandler) HandleBaseline(w http.ResponseWriter, r *http.Request) {
	baseline, err := h.Inventory.Baseline(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, baseline)
}

// HandleTopology returns the device rows of the network view.
func (h *DeviceHandler) HandleTopology(w http.ResponseWriter, r *http.Request) {
	nodes, err := h.Inventory.Topology(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"nodes": nodes})
}

// lifecycleNote is the optional request body of the lifecycle actions.
type lifecycleNote struct {
	Note string `json:"note"`
}

func readNote(r *http.Request) string {
	var body lifecycleNote
	if err := decodeJSON(r, &body); err != nil {
		return ""
	}
	return body.Note
}

// HandleApprove admits a pending device into profiling.
func (h *DeviceHandler) HandleApprove(w http.ResponseWriter, r *http.Request) {
	device, err := h.Control.Approve(r.Context(), mux.Vars(r)["id"], readNote(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, device)
}

// HandleReject turns a pending device away without issuing identity.
func (h *DeviceHandler) HandleReject(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.Control.Reject(r.Context(), id, readNote(r)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"device_id": id, "status": "rejected"})
}

// HandleRevoke expels a device: certificate revoked, baseline and
// policy destroyed.
func (h *DeviceHandler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.Control.Revoke(r.Context(), id, readNote(r)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"device_id": id, "status": "revoked"})
}

// HandleFinalize ends the profiling window now instead of waiting it
// out.
func (h *DeviceHandler) HandleFinalize(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.Control.Finalize(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"device_id": id, "status": "finalized"})
}

// HandleReinstate lifts a quarantine. This is the explicit
// administrator step quarantined devices need before recovery.
func (h *DeviceHandler) HandleReinstate(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.Control.Reinstate(r.Context(), id, readNote(r)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"device_id": id, "status": "reinstated"})
}

// queryLimit parses a positive ?limit= parameter, falling back to def.
func queryLimit(r *http.Request, def int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
