package reporting

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lcalzada-xor/ztcore/internal/core/domain"
)

func TestTopRisksRanking(t *testing.T) {
	rc := NewRiskCalculator()

	devices := []domain.Device{
		{DeviceID: "quarantined", MAC: "aa:bb:cc:00:00:01", IP: "10.0.0.1", Status: domain.StatusQuarantined},
		{DeviceID: "denied", MAC: "aa:bb:cc:00:00:02", IP: "10.0.0.2", Status: domain.StatusActive},
		{DeviceID: "healthy", MAC: "aa:bb:cc:00:00:03", IP: "10.0.0.3", Status: domain.StatusActive},
		{DeviceID: "waiting", MAC: "aa:bb:cc:00:00:04", Status: domain.StatusPending},
		{DeviceID: "ejected", MAC: "aa:bb:cc:00:00:05", Status: domain.StatusRevoked},
	}
	scores := map[string]int{"quarantined": 20, "denied": 45, "healthy": 85, "ejected": 5}
	decisions := map[string]domain.Decision{
		"quarantined": domain.DecisionQuarantine,
		"denied":      domain.DecisionDeny,
		"healthy":     domain.DecisionAllow,
	}
	alerts := []domain.Alert{
		{DeviceID: "quarantined", Severity: domain.SeverityCritical},
	}

	risks := rc.TopRisks(devices, scores, decisions, alerts, nil, 5)

	require.Len(t, risks, 2, "healthy, pending and revoked devices stay off the list")
	assert.Equal(t, "quarantined", risks[0].DeviceID)
	assert.Equal(t, 1, risks[0].Rank)
	assert.Contains(t, risks[0].Reason, "quarantined")
	assert.Contains(t, risks[0].Reason, "critical alert in window")
	assert.Equal(t, domain.SeverityCritical, risks[0].Severity)

	assert.Equal(t, "denied", risks[1].DeviceID)
	assert.Equal(t, 2, risks[1].Rank)
	assert.Contains(t, risks[1].Reason, "deny in force")
	assert.Contains(t, risks[1].Reason, "trust down to 45")
	assert.Greater(t, risks[0].Score, risks[1].Score)
}

func TestTopRisksThreatLinkage(t *testing.T) {
	rc := NewRiskCalculator()

	// Trust and decision say healthy; the threat table says otherwise.
	devices := []domain.Device{
		{DeviceID: "sleeper", MAC: "aa:bb:cc:00:00:10", IP: "10.0.0.50", Status: domain.StatusActive},
	}
	scores := map[string]int{"sleeper": 90}
	decisions := map[string]domain.Decision{"sleeper": domain.DecisionAllow}
	threats := []domain.Threat{
		{SourceIP: "10.0.0.50", Severity: domain.SeverityHigh},
	}

	risks := rc.TopRisks(devices, scores, decisions, nil, threats, 5)

	require.Len(t, risks, 1)
	assert.Equal(t, "sleeper", risks[0].DeviceID)
	assert.Contains(t, risks[0].Reason, "threat intelligence at 10.0.0.50")
	assert.Equal(t, domain.SeverityHigh, risks[0].Severity)
}

func TestTopRisksLimitAndTiebreak(t *testing.T) {
	rc := NewRiskCalculator()

	devices := []domain.Device{
		{DeviceID: "b-dev", MAC: "aa:bb:cc:00:00:21", Status: domain.StatusActive},
		{DeviceID: "a-dev", MAC: "aa:bb:cc:00:00:22", Status: domain.StatusActive},
		{DeviceID: "c-dev", MAC: "aa:bb:cc:00:00:23", Status: domain.StatusActive},
	}
	scores := map[string]int{"a-dev": 40, "b-dev": 40, "c-dev": 10}
	decisions := map[string]domain.Decision{
		"a-dev": domain.DecisionDeny,
		"b-dev": domain.DecisionDeny,
		"c-dev": domain.DecisionDeny,
	}

	risks := rc.TopRisks(devices, scores, decisions, nil, nil, 2)

	require.Len(t, risks, 2)
	assert.Equal(t, "c-dev", risks[0].DeviceID)
	assert.Equal(t, "a-dev", risks[1].DeviceID, "equal scores break ties by device ID")
}

func TestTopRisksUndecidedDefaultsToDeny(t *testing.T) {
	rc := NewRiskCalculator()

	devices := []domain.Device{
		{DeviceID: "limbo", MAC: "aa:bb:cc:00:00:30", Status: domain.StatusProfiling},
	}
	scores := map[string]int{"limbo": 70}

	risks := rc.TopRisks(devices, scores, map[string]domain.Decision{}, nil, nil, 5)

	require.Len(t, risks, 1)
	assert.Equal(t, domain.DecisionDeny, risks[0].Decision)
}
