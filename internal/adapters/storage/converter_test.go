package storage

import (
	"reflect"
	"testing"
	"time"

	"github.com/lcalzada-xor/ztcore/internal/core/domain"
)

func TestPolicyModelRoundTrip(t *testing.T) {
	now := time.Now().Truncate(time.Second)

	p := &domain.Policy{
		DeviceID: "dev-1",
		Rules: []domain.PolicyRule{
			{Match: domain.Match{EthSrc: "aa:bb:cc:dd:ee:ff", DstIP: "10.0.0.9", DstPort: 8883, Protocol: "tcp"}, Action: domain.RuleAllow, Priority: 100},
			domain.DefaultDenyRule(),
		},
		GeneratedAt: now,
		UpdatedAt:   now,
	}

	model := toPolicyModel(p)
	if model.Rules == "" {
		t.Fatalf("Expected rules to be encoded, got empty string")
	}

	restored := toPolicyDomain(model)
	if !reflect.DeepEqual(restored.Rules, p.Rules) {
		t.Errorf("Restored rules mismatch: got %+v, want %+v", restored.Rules, p.Rules)
	}
	if !restored.EndsWithDefaultDeny() {
		t.Errorf("Restored policy lost default deny")
	}
}

func TestThreatModelRoundTrip(t *testing.T) {
	now := time.Now().Truncate(time.Second)

	th := &domain.Threat{
		SourceIP:   "203.0.113.4",
		FirstSeen:  now.Add(-time.Hour),
		LastSeen:   now,
		EventKinds: []domain.HoneypotEventKind{domain.EventLoginAttempt, domain.EventCommandExec},
		Severity:   domain.SeverityMedium,
		EventCount: 7,
	}

	restored := toThreatDomain(toThreatModel(th))
	if !reflect.DeepEqual(restored.EventKinds, th.EventKinds) {
		t.Errorf("Restored event kinds mismatch: got %v, want %v", restored.EventKinds, th.EventKinds)
	}
	if restored.Severity != domain.SeverityMedium {
		t.Errorf("Restored severity mismatch: got %v", restored.Severity)
	}
	if !restored.HasKind(domain.EventCommandExec) {
		t.Errorf("Restored threat lost command_execution kind")
	}
}

func TestMitigationModelRoundTrip(t *testing.T) {
	r := &domain.MitigationRule{
		ID:       "mit-9",
		Match:    domain.Match{SrcIP: "198.51.100.2"},
		Action:   domain.RuleRedirect,
		Priority: 150,
		SourceIP: "198.51.100.2",
	}

	restored := toMitigationDomain(toMitigationModel(r))
	if restored.Match.SrcIP != "198.51.100.2" {
		t.Errorf("Restored match mismatch: got %+v", restored.Match)
	}
	if restored.Action != domain.RuleRedirect {
		t.Errorf("Restored action mismatch: got %v", restored.Action)
	}
}
