package reporting

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lcalzada-xor/ztcore/internal/core/domain"
)

// Risk weights. Trust deficit contributes its raw size; the rest are
// flat bumps per signal class so a quarantined, alerted, threat-linked
// device outranks one that is merely low on trust.
const (
	weightDecision = 15 // per decision rank step
	weightAlert    = 10 // per severity rank of the worst window alert
	weightThreat   = 20 // live threat entry at the device address
)

// RiskCalculator ranks devices by how urgently they need operator
// attention.
type RiskCalculator struct{}

// NewRiskCalculator creates a risk calculator.
func NewRiskCalculator() *RiskCalculator {
	return &RiskCalculator{}
}

// TopRisks scores every admitted device and returns the worst, ranked.
// Healthy devices (full decision, no window signals, trust at or above
// the initial score) are left out, so a clean fleet yields an empty
// table. Pending and revoked devices never appear: the former are not
// admitted yet, the latter are already ejected.
func (rc *RiskCalculator) TopRisks(
	devices []domain.Device,
	scores map[string]int,
	decisions map[string]domain.Decision,
	alerts []domain.Alert,
	threats []domain.Threat,
	limit int,
) []domain.RiskItem {
	worstAlert := make(map[string]domain.Severity)
	for _, a := range alerts {
		worstAlert[a.DeviceID] = domain.MaxSeverity(worstAlert[a.DeviceID], a.Severity)
	}
	threatAt := make(map[string]domain.Severity, len(threats))
	for _, t := range threats {
		threatAt[t.SourceIP] = domain.MaxSeverity(threatAt[t.SourceIP], t.Severity)
	}

	var risks []domain.RiskItem
	for _, dev := range devices {
		if dev.Status == domain.StatusPending || dev.Status == domain.StatusRevoked {
			continue
		}

		trust := scores[dev.DeviceID]
		decision, decided := decisions[dev.DeviceID]
		if !decided {
			// Same default the orchestrator reports for devices it has
			// never decided.
			decision = domain.DecisionDeny
		}
		alertSev, alerted := worstAlert[dev.DeviceID]
		threatSev, hostile := threatAt[dev.IP]
		if dev.IP == "" {
			hostile = false
		}

		if decision == domain.DecisionAllow && !alerted && !hostile &&
			trust >= domain.TrustInitial && dev.Status != domain.StatusQuarantined {
			continue
		}

		score := float64(domain.TrustMax - trust)
		score += weightDecision * float64(decision.Rank())
		if alerted {
			score += weightAlert * float64(alertSev.Rank())
		}
		if hostile {
			score += weightThreat + weightAlert*float64(threatSev.Rank())
		}

		sev := alertSev
		if hostile {
			sev = domain.MaxSeverity(sev, threatSev)
		}

		risks = append(risks, domain.RiskItem{
			DeviceID: dev.DeviceID,
			MAC:      dev.MAC,
			Trust:    trust,
			Decision: decision,
			Severity: sev,
			Score:    score,
			Reason:   rc.reason(dev, trust, decision, alertSev, alerted, hostile),
		})
	}

	// Score descending, device ID as the deterministic tiebreak.
	sort.Slice(risks, func(i, j int) bool {
		if risks[i].Score != risks[j].Score {
			return risks[i].Score > risks[j].Score
		}
		return risks[i].DeviceID < risks[j].DeviceID
	})

	if limit > 0 && len(risks) > limit {
		risks = risks[:limit]
	}
	for i := range risks {
		risks[i].Rank = i + 1
	}
	return risks
}

// reason names the signals that put the device on the list.
func (rc *RiskCalculator) reason(
	dev domain.Device,
	trust int,
	decision domain.Decision,
	alertSev domain.Severity,
	alerted, hostile bool,
) string {
	var parts []string
	if dev.Status == domain.StatusQuarantined {
		parts = append(parts, "quarantined")
	} else if decision != domain.DecisionAllow {
		parts = append(parts, strings.ToLower(string(decision))+" in force")
	}
	if trust < domain.TrustInitial {
		parts = append(parts, fmt.Sprintf("trust down to %d", trust))
	}
	if alerted {
		parts = append(parts, string(alertSev)+" alert in window")
	}
	if hostile {
		parts = append(parts, "threat intelligence at "+dev.IP)
	}
	if len(parts) == 0 {
		parts = append(parts, fmt.Sprintf("trust %d", trust))
	}
	return strings.Join(parts, "; ")
}
