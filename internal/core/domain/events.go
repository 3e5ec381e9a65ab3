package domain

import "time"

// Topic names the event classes carried by the in-process bus.
type Topic string

// Bus topics
const (
	TopicFlowSample    Topic = "flow.sample"
	TopicAlert         Topic = "alert"
	TopicTrustChanged  Topic = "trust.changed"
	TopicThreatUpdated Topic = "threat.updated"
	TopicPolicyReplace Topic = "policy.replaced"
	TopicDeviceStatus  Topic = "device.status"
	TopicDecision      Topic = "decision.applied"
	TopicOperatorAlert Topic = "operator.alert"
)

// Event is the envelope published on the bus. Payload holds one of the
// typed event structs below (or a FlowSample / Alert).
type Event struct {
	Topic     Topic       `json:"topic"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// TrustChanged is published when a device's score crosses a threshold in
// either direction (hysteresis applied on the way up).
type TrustChanged struct {
	DeviceID  string    `json:"device_id"`
	OldScore  int       `json:"old_score"`
	NewScore  int       `json:"new_score"`
	Threshold int       `json:"threshold"`
	Upward    bool      `json:"upward"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// ThreatUpdated is published when honeypot intel changes a threat entry.
type ThreatUpdated struct {
	SourceIP  string    `json:"source_ip"`
	Severity  Severity  `json:"severity"`
	Expired   bool      `json:"expired,omitempty"` // TTL age-out
	Timestamp time.Time `json:"timestamp"`
}

// PolicyReplaced is published when a device's stored policy changes.
type PolicyReplaced struct {
	DeviceID  string    `json:"device_id"`
	Timestamp time.Time `json:"timestamp"`
}

// DeviceStatusChanged is published on lifecycle transitions.
type DeviceStatusChanged struct {
	DeviceID  string       `json:"device_id"`
	Old       DeviceStatus `json:"old"`
	New       DeviceStatus `json:"new"`
	Timestamp time.Time    `json:"timestamp"`
}

// OperatorAlert asks a human to look at something the core cannot fix.
type OperatorAlert struct {
	DeviceID  string    `json:"device_id,omitempty"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}
