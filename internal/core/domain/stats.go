package domain

import (
	"time"
)

// SystemStats represents an aggregated snapshot of the policy core state,
// served by the stats endpoint and pushed over the dashboard feed.
type SystemStats struct {
	// Summary Metrics
	DeviceCount  int `json:"device_count"`
	PendingCount int `json:"pending_count"`
	AlertCount   int `json:"alert_count"`
	ThreatCount  int `json:"threat_count"`

	// Distributions
	StatusBreakdown   map[DeviceStatus]int `json:"status_breakdown"`
	DecisionBreakdown map[Decision]int     `json:"decision_breakdown"`

	// Health
	AverageTrust  float64          `json:"average_trust"`
	DroppedEvents map[string]int64 `json:"dropped_events,omitempty"` // per subscriber
	SwitchHealthy bool             `json:"switch_healthy"`
	UptimeSeconds int64            `json:"uptime_seconds"`

	// Metadata
	LastUpdated time.Time `json:"updated_at"`
}

// NewSystemStats initializes a new stats object with empty maps to prevent nil access.
func NewSystemStats() SystemStats {
	return SystemStats{
		StatusBreakdown:   make(map[DeviceStatus]int),
		DecisionBreakdown: make(map[Decision]int),
		DroppedEvents:     make(map[string]int64),
		LastUpdated:       time.Now(),
	}
}

// IsStale returns true if the stats haven't been updated within the given TTL.
func (s *SystemStats) IsStale(ttl time.Duration) bool {
	return time.Since(s.LastUpdated) > ttl
}
