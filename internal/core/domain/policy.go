package domain

import "time"

// RuleAction is what a forwarding rule does with matching traffic.
type RuleAction string

// Rule actions
const (
	RuleAllow    RuleAction = "allow"
	RuleDeny     RuleAction = "deny"
	RuleRedirect RuleAction = "redirect"
	RuleMonitor  RuleAction = "monitor"
)

// Rank orders actions for conflict resolution at equal priority:
// deny > redirect > monitor > allow.
func (a RuleAction) Rank() int {
	switch a {
	case RuleDeny:
		return 4
	case RuleRedirect:
		return 3
	case RuleMonitor:
		return 2
	case RuleAllow:
		return 1
	}
	return 0
}

// Match is the predicate of a forwarding rule. Empty fields are wildcards.
// Device-scoped rules match on EthSrc (the switch knows MACs, not device
// IDs); mitigation rules match on SrcIP and cross-cut devices.
type Match struct {
	EthSrc   string `json:"eth_src,omitempty"`
	SrcIP    string `json:"src_ip,omitempty"`
	DstIP    string `json:"dst_ip,omitempty"`
	DstPort  int    `json:"dst_port,omitempty"`
	Protocol string `json:"protocol,omitempty"`
}

// PolicyRule is one entry of a device policy.
type PolicyRule struct {
	Match    Match      `json:"match"`
	Action   RuleAction `json:"action"`
	Priority int        `json:"priority"` // 0 is lowest
}

// Policy is the ordered per-device rule list generated at onboarding
// finalization. It always terminates with a default deny at priority 0.
type Policy struct {
	DeviceID    string       `json:"device_id"`
	Rules       []PolicyRule `json:"rules"`
	GeneratedAt time.Time    `json:"generated_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// DefaultDenyRule is the mandatory terminal rule of every policy.
func DefaultDenyRule() PolicyRule {
	return PolicyRule{Match: Match{}, Action: RuleDeny, Priority: 0}
}

// EndsWithDefaultDeny reports whether the policy satisfies its terminal
// default-deny invariant.
func (p *Policy) EndsWithDefaultDeny() bool {
	if len(p.Rules) == 0 {
		return false
	}
	last := p.Rules[len(p.Rules)-1]
	return last.Action == RuleDeny && last.Priority == 0 && last.Match == (Match{})
}

// ForwardingRule is the abstract rule the orchestrator hands to the
// switch adapter. OutPort is only meaningful for redirect actions.
type ForwardingRule struct {
	RuleID   string     `json:"rule_id"`
	Match    Match      `json:"match"`
	Action   RuleAction `json:"action"`
	OutPort  int        `json:"out_port,omitempty"`
	Priority int        `json:"priority"`
}
