package domain

import "time"

// Decision is the orchestrator's verdict for a device.
type Decision string

// Decisions, most permissive first.
const (
	DecisionAllow      Decision = "ALLOW"
	DecisionRedirect   Decision = "REDIRECT"
	DecisionDeny       Decision = "DENY"
	DecisionQuarantine Decision = "QUARANTINE"
)

// Rank orders decisions by restrictiveness; higher is more restrictive.
func (d Decision) Rank() int {
	switch d {
	case DecisionAllow:
		return 0
	case DecisionRedirect:
		return 1
	case DecisionDeny:
		return 2
	case DecisionQuarantine:
		return 3
	}
	return -1
}

// DecisionAudit records one orchestrator decision for the audit trail.
// ChainHash links each record to its predecessor so tampering with the
// trail is detectable.
type DecisionAudit struct {
	ID            int64     `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	DeviceID      string    `json:"device_id"`
	Trust         int       `json:"trust"`
	ThreatLevel   Severity  `json:"threat_level,omitempty"`
	Decision      Decision  `json:"decision"`
	Reason        string    `json:"reason"`
	PrevDecision  Decision  `json:"prev_decision,omitempty"`
	CorrelationID string    `json:"correlation_id"`
	ChainHash     string    `json:"chain_hash,omitempty"`
}
