package reporting

import (
	"fmt"

	"github.com/lcalzada-xor/ztcore/internal/core/domain"
)

// Bounds on the recommendation list.
const (
	minRecommendations = 3
	maxRecommendations = 5
)

// RecommendationEngine turns report statistics into prioritized action
// items for the operator.
type RecommendationEngine struct{}

// NewRecommendationEngine creates a recommendation engine.
func NewRecommendationEngine() *RecommendationEngine {
	return &RecommendationEngine{}
}

// Recommendations derives action items from the posture the stats
// describe, most urgent first. Short lists are padded with standing
// hygiene items so the report never ends on an empty section.
func (re *RecommendationEngine) Recommendations(stats domain.ReportStats) []domain.Recommendation {
	var recs []domain.Recommendation

	if stats.QuarantinedCount > 0 {
		recs = append(recs, domain.Recommendation{
			Priority: "critical",
			Title:    "Triage quarantined devices",
			Description: fmt.Sprintf("%d device(s) are quarantined and isolated from the network. "+
				"Quarantine never lifts on its own: each device stays cut off until an administrator reinstates it.",
				stats.QuarantinedCount),
			Actions: []string{
				"Review each device's trust history and recent alerts",
				"Update firmware or reset devices that misbehaved",
				"Reinstate devices that check out clean",
				"Revoke devices that cannot be trusted again",
			},
			EstimatedEffort: "15-30 minutes per device",
		})
	}

	if stats.ActiveThreats > 0 {
		desc := fmt.Sprintf("The honeypot recorded activity from %d distinct source(s).", stats.ActiveThreats)
		if stats.PermanentBlocks > 0 {
			desc += fmt.Sprintf(" %d source(s) are already blocked permanently.", stats.PermanentBlocks)
		}
		recs = append(recs, domain.Recommendation{
			Priority:    "high",
			Title:       "Act on honeypot intelligence",
			Description: desc,
			Actions: []string{
				"Review the threat table and identify which devices the sources map to",
				"Rotate any credentials the honeypot captured",
				"Keep permanent blocks for confirmed hostile sources",
				"Check perimeter firewall rules for the listed addresses",
			},
			EstimatedEffort: "1-2 hours",
		})
	}

	if n := stats.AlertsBySeverity[domain.SeverityCritical] + stats.AlertsBySeverity[domain.SeverityHigh]; n > 0 {
		recs = append(recs, domain.Recommendation{
			Priority: "high",
			Title:    "Investigate high-severity alerts",
			Description: fmt.Sprintf("%d high or critical alert(s) fired in the reporting window. "+
				"Each one already cost the device trust; repeated hits will quarantine it.", n),
			Actions: []string{
				"Correlate alerts with the top-risk table",
				"Confirm whether the traffic was legitimate (scans, backups, firmware checks)",
				"Re-profile devices whose normal behavior has genuinely changed",
			},
			EstimatedEffort: "30-60 minutes",
		})
	}

	if stats.PendingDevices > 0 {
		recs = append(recs, domain.Recommendation{
			Priority: "medium",
			Title:    "Clear the enrollment queue",
			Description: fmt.Sprintf("%d device(s) are waiting for approval. "+
				"Until approved they carry no identity and all their traffic is denied.",
				stats.PendingDevices),
			Actions: []string{
				"Approve hardware you recognize and expected to join",
				"Reject MACs nobody can account for",
			},
			EstimatedEffort: "5 minutes per device",
		})
	}

	if stats.LowTrustDevices > 0 {
		recs = append(recs, domain.Recommendation{
			Priority: "medium",
			Title:    "Recover low-trust devices",
			Description: fmt.Sprintf("%d device(s) sit below the deny threshold and have lost network access. "+
				"Trust recovers slowly on its own only while the device stays quiet.",
				stats.LowTrustDevices),
			Actions: []string{
				"Check the devices for stale firmware or misconfiguration",
				"Factory-reset and re-onboard units that keep misbehaving",
				"Verify their baselines still match how they are actually used",
			},
			EstimatedEffort: "30 minutes per device",
		})
	}

	if len(recs) < minRecommendations {
		recs = append(recs, re.standingRecommendations()...)
	}
	if len(recs) > maxRecommendations {
		recs = recs[:maxRecommendations]
	}
	return recs
}

// standingRecommendations are the hygiene items that apply to every
// deployment regardless of current posture.
func (re *RecommendationEngine) standingRecommendations() []domain.Recommendation {
	return []domain.Recommendation{
		{
			Priority: "low",
			Title:    "Re-profile devices after planned changes",
			Description: "Firmware updates and configuration changes legitimately shift a device's traffic shape. " +
				"A stale baseline turns that shift into anomaly alerts.",
			Actions: []string{
				"Revoke and re-onboard devices after major firmware updates",
				"Let the profiling window cover a full usage cycle before finalizing",
			},
			EstimatedEffort: "Ongoing",
		},
		{
			Priority: "low",
			Title:    "Verify the decision audit trail",
			Description: "The decision log is hash-chained so tampering is detectable. " +
				"Verification only helps if somebody runs it.",
			Actions: []string{
				"Run the chain verification monthly",
				"Archive the audit database before pruning old records",
			},
			EstimatedEffort: "10 minutes",
		},
		{
			Priority: "low",
			Title:    "Review device policies",
			Description: "Least-privilege policies are derived once from the profiling baseline. " +
				"Devices gaining new duties need a fresh profile, not a loosened rule.",
			Actions: []string{
				"Compare installed policies against what each device actually does today",
				"Schedule re-profiling for devices with repurposed roles",
			},
			EstimatedEffort: "1 hour per quarter",
		},
	}
}
