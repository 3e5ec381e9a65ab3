package domain

import "time"

// HoneypotEventKind classifies a single honeypot log record.
type HoneypotEventKind string

// Honeypot event kinds
const (
	EventLoginSuccess   HoneypotEventKind = "login_success"
	EventFileDownload   HoneypotEventKind = "file_download"
	EventMalwareExec    HoneypotEventKind = "malware_exec"
	EventCommandExec    HoneypotEventKind = "command_execution"
	EventRepeatedLogins HoneypotEventKind = "repeated_login_attempts"
	EventLoginAttempt   HoneypotEventKind = "login_attempt"
	EventPortProbe      HoneypotEventKind = "port_probe"
)

// HoneypotEventSeverity maps an event kind to its severity grade.
func HoneypotEventSeverity(kind HoneypotEventKind) Severity {
	switch kind {
	case EventLoginSuccess, EventFileDownload, EventMalwareExec:
		return SeverityHigh
	case EventCommandExec, EventRepeatedLogins:
		return SeverityMedium
	case EventLoginAttempt, EventPortProbe:
		return SeverityLow
	}
	return SeverityLow
}

// HoneypotEvent is one parsed record from the honeypot's NDJSON stream.
type HoneypotEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	Kind      HoneypotEventKind `json:"kind"`
	EventID   string            `json:"eventid"` // raw honeypot event identifier
	SrcIP     string            `json:"src_ip"`
	Command   string            `json:"command,omitempty"`
	Username  string            `json:"username,omitempty"`
	Password  string            `json:"password,omitempty"`
}

// Threat aggregates honeypot activity from one source address. It is
// mutable only to extend LastSeen and accumulate event kinds.
type Threat struct {
	SourceIP   string              `json:"source_ip"`
	FirstSeen  time.Time           `json:"first_seen"`
	LastSeen   time.Time           `json:"last_seen"`
	EventKinds []HoneypotEventKind `json:"event_kinds"`
	Severity   Severity            `json:"severity"` // maximum seen
	EventCount int                 `json:"event_count"`
}

// HasKind reports whether the threat already records the given kind.
func (t *Threat) HasKind(kind HoneypotEventKind) bool {
	for _, k := range t.EventKinds {
		if k == kind {
			return true
		}
	}
	return false
}
