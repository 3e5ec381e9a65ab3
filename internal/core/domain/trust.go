package domain

import "time"

// Trust score bounds and the default starting score.
const (
	TrustMin     = 0
	TrustMax     = 100
	TrustInitial = 70
)

// TrustEvent is one append-only row of a device's trust history.
type TrustEvent struct {
	DeviceID   string    `json:"device_id"`
	ScoreAfter int       `json:"score_after"`
	Delta      int       `json:"delta"`
	Reason     string    `json:"reason"`
	Timestamp  time.Time `json:"timestamp"`
}

// TrustEventSource names the signal class feeding a trust adjustment.
type TrustEventSource string

// Trust adjustment sources
const (
	SourceBehavioralAnomaly TrustEventSource = "behavioral_anomaly"
	SourceSecurityAlert     TrustEventSource = "security_alert"
	SourceAttestationFail   TrustEventSource = "attestation_fail"
	SourceHoneypotHit       TrustEventSource = "honeypot_hit"
	SourcePositiveTick      TrustEventSource = "positive_tick"
)

// TrustDelta is the single source of truth mapping an event source and
// severity onto a score delta. Unknown combinations yield 0.
func TrustDelta(source TrustEventSource, severity Severity) int {
	switch source {
	case SourceBehavioralAnomaly:
		switch severity {
		case SeverityLow:
			return -5
		case SeverityMedium:
			return -15
		case SeverityHigh:
			return -30
		}
	case SourceSecurityAlert:
		switch severity {
		case SeverityLow:
			return -10
		case SeverityMedium:
			return -20
		case SeverityHigh:
			return -40
		}
	case SourceAttestationFail:
		return -20 // severity ignored
	case SourceHoneypotHit:
		switch severity {
		case SeverityMedium:
			return -20
		case SeverityHigh:
			return -40
		case SeverityCritical:
			return -60
		}
	case SourcePositiveTick:
		return 2
	}
	return 0
}

// ClampTrust bounds a score to [TrustMin, TrustMax].
func ClampTrust(score int) int {
	if score < TrustMin {
		return TrustMin
	}
	if score > TrustMax {
		return TrustMax
	}
	return score
}
