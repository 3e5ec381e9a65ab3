package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/lcalzada-xor/ztcore/internal/core/ports"
)

const (
	defaultAuditWindow = 24 * time.Hour
	defaultAuditLimit  = 500
)

// AuditHandler serves the decision trail and the administrative action
// log.
type AuditHandler struct {
	Service ports.AuditService
}

// NewAuditHandler creates a new AuditHandler.
func NewAuditHandler(service ports.AuditService) *AuditHandler {
	return &AuditHandler{Service: service}
}

// HandleDecisions returns decision audit records since the ?since=
// timestamp (RFC 3339 or unix seconds), defaulting to the last 24h.
func (h *AuditHandler) HandleDecisions(w http.ResponseWriter, r *http.Request) {
	since := time.Now().UTC().Add(-defaultAuditWindow)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := parseTimestamp(raw)
		if err != nil {
			writeBadRequest(w, "since must be RFC 3339 or unix seconds")
			return
		}
		since = parsed
	}

	records, err := h.Service.DecisionsSince(r.Context(), since, queryLimit(r, defaultAuditLimit))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"since":     since,
		"decisions": records,
	})
}

// HandleLogs returns the administrative action log.
func (h *AuditHandler) HandleLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := h.Service.GetLogs(r.Context(), queryLimit(r, 100))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"logs": logs})
}

// HandleVerify walks the decision hash chain and reports the first
// broken link, if any.
func (h *AuditHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	ok, brokenID, err := h.Service.VerifyDecisionChain(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	resp := map[string]interface{}{"ok": ok}
	if !ok {
		resp["broken_id"] = brokenID
	}
	writeJSON(w, http.StatusOK, resp)
}

func parseTimestamp(raw string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts, nil
	}
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(secs, 0).UTC(), nil
}
