package domain

import "time"

// Severity grades alerts and threats.
type Severity string

// Alert severities, weakest first.
const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank maps a severity onto an ordinal scale for comparisons.
// Unknown severities rank below low.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// AtLeast reports whether s is at least as severe as other.
func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() >= other.Rank()
}

// MaxSeverity returns the more severe of a and b.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// AlertKind identifies what fired an alert.
type AlertKind string

// Alert kinds
const (
	AlertDoS             AlertKind = "dos"
	AlertVolume          AlertKind = "volume"
	AlertNetworkScan     AlertKind = "network_scan"
	AlertPortScan        AlertKind = "port_scan"
	AlertAttestationFail AlertKind = "attestation_fail"
	AlertHoneypotHit     AlertKind = "honeypot_hit"
)

// Alert is an immutable security finding about a device.
type Alert struct {
	ID            string    `json:"id"`
	DeviceID      string    `json:"device_id"`
	Kind          AlertKind `json:"kind"`
	Severity      Severity  `json:"severity"`
	ObservedStats FlowStats `json:"observed_stats,omitempty"`
	Detail        string    `json:"detail,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}
