package domain

import "time"

// MitigationRule is a cross-device forwarding rule derived from confirmed
// threat intelligence. Permanent rules survive restarts; non-permanent
// rules expire when their source threat ages out.
type MitigationRule struct {
	ID        string     `json:"id"`
	Match     Match      `json:"match"`
	Action    RuleAction `json:"action"`
	Priority  int        `json:"priority"`
	Reason    string     `json:"reason"`
	SourceIP  string     `json:"source_ip"` // origin threat key
	Permanent bool       `json:"permanent"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Forwarding converts the mitigation into the rule the switch installs.
func (m *MitigationRule) Forwarding(honeypotPort int) ForwardingRule {
	fr := ForwardingRule{
		RuleID:   m.ID,
		Match:    m.Match,
		Action:   m.Action,
		Priority: m.Priority,
	}
	if m.Action == RuleRedirect {
		fr.OutPort = honeypotPort
	}
	return fr
}
