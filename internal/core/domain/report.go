package domain

import "time"

// ReportData aggregates everything the security report renders.
type ReportData struct {
	GeneratedAt     time.Time
	GeneratedBy     string // Username
	Window          time.Duration
	Stats           ReportStats
	Devices         []TopologyEntry
	Alerts          []Alert
	Threats         []Threat
	Mitigations     []MitigationRule
	Decisions       []DecisionAudit
	TopRisks        []RiskItem
	Recommendations []Recommendation
}

// ReportStats holds summary statistics for the report header.
type ReportStats struct {
	TotalDevices      int
	ActiveDevices     int
	ProfilingDevices  int
	PendingDevices    int
	QuarantinedCount  int
	RevokedCount      int
	AvgTrust          float64
	LowTrustDevices   int // trust < 50
	AlertsBySeverity  map[Severity]int
	DecisionBreakdown map[Decision]int
	ActiveThreats     int
	PermanentBlocks   int
}

// RiskScore condenses the stats into a 0–10 posture score for the
// report cover. Higher is worse.
func (s ReportStats) RiskScore() float64 {
	if s.TotalDevices == 0 {
		return 0
	}
	score := 0.0
	score += 4 * float64(s.QuarantinedCount) / float64(s.TotalDevices)
	score += 3 * float64(s.LowTrustDevices) / float64(s.TotalDevices)
	if s.ActiveThreats > 0 {
		score += 2
	}
	if n := s.AlertsBySeverity[SeverityCritical] + s.AlertsBySeverity[SeverityHigh]; n > 0 {
		score += 1
	}
	if score > 10 {
		score = 10
	}
	return score
}

// RiskLevel labels the risk score for display.
func (s ReportStats) RiskLevel() string {
	switch score := s.RiskScore(); {
	case score >= 8:
		return "Critical"
	case score >= 6:
		return "High"
	case score >= 4:
		return "Moderate"
	case score >= 2:
		return "Elevated"
	default:
		return "Low"
	}
}

// TopologyEntry is one row of the management topology view.
type TopologyEntry struct {
	DeviceID  string       `json:"device_id"`
	MAC       string       `json:"mac"`
	Status    DeviceStatus `json:"status"`
	LastSeen  time.Time    `json:"last_seen"`
	Trust     int          `json:"trust"`
	Decision  Decision     `json:"decision"`
	Connected bool         `json:"connected"`
}

// RiskItem is one ranked row of the report's top-risk table: a device
// that needs operator attention, with the signals that put it there.
type RiskItem struct {
	Rank     int      `json:"rank"`
	DeviceID string   `json:"device_id"`
	MAC      string   `json:"mac"`
	Trust    int      `json:"trust"`
	Decision Decision `json:"decision"`
	Severity Severity `json:"severity,omitempty"` // worst signal in the window
	Score    float64  `json:"score"`
	Reason   string   `json:"reason"`
}

// Recommendation is one prioritized action item for the operator.
type Recommendation struct {
	Priority        string   `json:"priority"` // critical, high, medium, low
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	Actions         []string `json:"actions"`
	EstimatedEffort string   `json:"estimated_effort,omitempty"`
}
