package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/lcalzada-xor/ztcore/internal/core/domain"
)

// TestStatePersistence verifies that device state, baselines, policies
// and trust history survive closing and reopening the database file.
func TestStatePersistence(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "persistence.db")

	store, err := NewSQLiteAdapter(path)
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}

	dev, err := store.RegisterPending(ctx, "aa:bb:cc:dd:ee:ff", "front-door-cam", "camera")
	if err != nil {
		t.Fatalf("Failed to register device: %v", err)
	}
	started := time.Now().UTC().Truncate(time.Second)
	dev.Status = domain.StatusProfiling
	dev.ProfilingStartedAt = &started
	dev.CertPath = "/var/lib/ztcore/ca/front-door-cam.crt"
	if err := store.UpdateDevice(ctx, dev); err != nil {
		t.Fatalf("Failed to update device: %v", err)
	}

	baseline := &domain.Baseline{
		DeviceID:      dev.DeviceID,
		AvgPPS:        3.2,
		AvgBPS:        2400,
		DstIPs:        []string{"10.0.0.5"},
		DstPorts:      []int{443},
		Protocols:     []string{"tcp"},
		UniqueDstIPs:  1,
		EstablishedAt: time.Now().UTC(),
	}
	if err := store.PutBaseline(ctx, baseline); err != nil {
		t.Fatalf("Failed to save baseline: %v", err)
	}

	policy := &domain.Policy{
		DeviceID: dev.DeviceID,
		Rules: []domain.PolicyRule{
			{Match: domain.Match{EthSrc: dev.MAC, DstIP: "10.0.0.5", DstPort: 443, Protocol: "tcp"}, Action: domain.RuleAllow, Priority: 100},
			domain.DefaultDenyRule(),
		},
		GeneratedAt: time.Now().UTC(),
	}
	if err := store.PutPolicy(ctx, policy); err != nil {
		t.Fatalf("Failed to save policy: %v", err)
	}

	if err := store.AppendTrustEvent(ctx, domain.TrustEvent{
		DeviceID: dev.DeviceID, ScoreAfter: 70, Delta: 0, Reason: "initialized", Timestamp: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("Failed to append trust event: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("Failed to close storage: %v", err)
	}

	// Reopen from the same file, simulating a restart.
	store2, err := NewSQLiteAdapter(path)
	if err != nil {
		t.Fatalf("Failed to reopen storage: %v", err)
	}
	defer store2.Close()

	loaded, err := store2.GetDevice(ctx, dev.DeviceID)
	if err != nil {
		t.Fatalf("Failed to load device: %v", err)
	}
	if loaded.Status != domain.StatusProfiling {
		t.Errorf("Status mismatch: got %v, want %v", loaded.Status, domain.StatusProfiling)
	}
	if loaded.ProfilingStartedAt == nil || !loaded.ProfilingStartedAt.Equal(started) {
		t.Errorf("ProfilingStartedAt mismatch: got %v, want %v", loaded.ProfilingStartedAt, started)
	}
	if loaded.CertPath != dev.CertPath {
		t.Errorf("CertPath mismatch: got %v, want %v", loaded.CertPath, dev.CertPath)
	}

	b, err := store2.GetBaseline(ctx, dev.DeviceID)
	if err != nil {
		t.Fatalf("Failed to load baseline: %v", err)
	}
	if b.AvgPPS != baseline.AvgPPS {
		t.Errorf("AvgPPS mismatch: got %v, want %v", b.AvgPPS, baseline.AvgPPS)
	}

	p, err := store2.GetPolicy(ctx, dev.DeviceID)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	if !p.EndsWithDefaultDeny() {
		t.Errorf("Restored policy lost its default deny terminal rule")
	}

	score, err := store2.CurrentTrust(ctx, dev.DeviceID)
	if err != nil {
		t.Fatalf("Failed to load trust score: %v", err)
	}
	if score != 70 {
		t.Errorf("Trust score mismatch: got %d, want 70", score)
	}
}
