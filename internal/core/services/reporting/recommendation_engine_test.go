package reporting

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lcalzada-xor/ztcore/internal/core/domain"
)

func TestRecommendationsFollowPosture(t *testing.T) {
	re := NewRecommendationEngine()

	stats := domain.ReportStats{
		TotalDevices:     6,
		QuarantinedCount: 2,
		ActiveThreats:    1,
		PermanentBlocks:  1,
		AlertsBySeverity: map[domain.Severity]int{
			domain.SeverityCritical: 1,
			domain.SeverityLow:      4,
		},
	}

	recs := re.Recommendations(stats)

	require.NotEmpty(t, recs)
	assert.Equal(t, "critical", recs[0].Priority)
	assert.Equal(t, "Triage quarantined devices", recs[0].Title)
	assert.Contains(t, recs[0].Description, "2 device(s)")

	titles := make([]string, len(recs))
	for i, r := range recs {
		titles[i] = r.Title
	}
	assert.Contains(t, titles, "Act on honeypot intelligence")
	assert.Contains(t, titles, "Investigate high-severity alerts")
	assert.LessOrEqual(t, len(recs), maxRecommendations)

	for _, r := range recs {
		assert.NotEmpty(t, r.Actions, "every recommendation carries concrete actions")
	}
}

func TestRecommendationsPaddedWhenQuiet(t *testing.T) {
	re := NewRecommendationEngine()

	recs := re.Recommendations(domain.ReportStats{TotalDevices: 4})

	require.GreaterOrEqual(t, len(recs), minRecommendations)
	for _, r := range recs {
		assert.Equal(t, "low", r.Priority, "a quiet fleet only gets standing hygiene items")
	}
}

func TestRecommendationsCappedAtFive(t *testing.T) {
	re := NewRecommendationEngine()

	stats := domain.ReportStats{
		TotalDevices:     20,
		PendingDevices:   3,
		QuarantinedCount: 2,
		LowTrustDevices:  4,
		ActiveThreats:    2,
		AlertsBySeverity: map[domain.Severity]int{domain.SeverityHigh: 5},
	}

	recs := re.Recommendations(stats)
	assert.Len(t, recs, maxRecommendations)
}
