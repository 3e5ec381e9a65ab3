package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/lcalzada-xor/ztcore/internal/core/domain"
	"github.com/lcalzada-xor/ztcore/internal/core/ports"
	reportingService "github.com/lcalzada-xor/ztcore/internal/core/services/reporting"
)

// statsCacheTTL bounds how often the posture snapshot recomputes. The
// dashboard feed and any number of polling clients share one cached
// copy per interval.
const statsCacheTTL = 2 * time.Second

// HealthHandler reports process liveness and serves the aggregated
// posture snapshot: fleet counts, verdict distribution, average trust,
// queue drops and switch session state.
type HealthHandler struct {
	Store   ports.Store
	Bus     ports.EventBus
	Posture *reportingService.Service
	Switch  ports.SwitchHealth

	startedAt time.Time

	mu     sync.Mutex
	cached domain.SystemStats
	warm   bool
}

// NewHealthHandler creates a new HealthHandler anchored at start time.
func NewHealthHandler(store ports.Store, bus ports.EventBus, posture *reportingService.Service, sw ports.SwitchHealth) *HealthHandler {
	return &HealthHandler{
		Store:     store,
		Bus:       bus,
		Posture:   posture,
		Switch:    sw,
		startedAt: time.Now(),
	}
}

// HandleHealth returns overall status. Degraded storage turns the
// response into a 503 so probes can act on it. A lost switch session
// only degrades the report: the core keeps running through outages, so
// the code stays 200.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	components := map[string]string{
		"storage":   "up",
		"event_bus": "up",
		"switch":    "up",
	}

	status := "ok"
	code := http.StatusOK

	if !h.Switch.Healthy() {
		components["switch"] = "down"
		status = "degraded"
	}

	// A point read on a reserved ID doubles as a connectivity probe:
	// NotFound still means the database answered.
	if _, err := h.Store.GetDevice(r.Context(), "__health__"); err != nil && !domain.IsNotFound(err) {
		components["storage"] = "down"
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]interface{}{
		"status":         status,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"components":     components,
		"queue_drops":    h.Bus.DroppedCounts(),
		"time":           time.Now().UTC(),
	})
}

// Snapshot returns the composed system stats, recomputing at most once
// per statsCacheTTL. The reporting service supplies the fleet numbers;
// the runtime fields come from the bus, the switch session and the
// process start time.
func (h *HealthHandler) Snapshot(ctx context.Context) (domain.SystemStats, error) {
	h.mu.Lock()
	if h.warm && !h.cached.IsStale(statsCacheTTL) {
		cached := h.cached
		h.mu.Unlock()
		return cached, nil
	}
	h.mu.Unlock()

	stats, err := h.Posture.Stats(ctx)
	if err != nil {
		return domain.SystemStats{}, err
	}
	stats.DroppedEvents = h.Bus.DroppedCounts()
	stats.SwitchHealthy = h.Switch.Healthy()
	stats.UptimeSeconds = int64(time.Since(h.startedAt).Seconds())

	h.mu.Lock()
	h.cached = stats
	h.warm = true
	h.mu.Unlock()
	return stats, nil
}

// HandleStats serves the posture snapshot to the management API.
func (h *HealthHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Snapshot(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
