package honeypot

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lcalzada-xor/ztcore/internal/core/domain"
	"github.com/lcalzada-xor/ztcore/internal/core/ports"
)

// Service turns parsed honeypot events into threat intelligence. One
// threat row per attacker IP: last_seen extends, event kinds
// accumulate, severity only ratchets up (maximum seen). Every change
// publishes ThreatUpdated so the mitigation generator and orchestrator
// can react. When the attacker IP belongs to a known device, that
// device's trust pays the honeypot_hit penalty too.
type Service struct {
	store ports.Store
	trust ports.TrustScorer
	bus   ports.EventBus
	clock clockwork.Clock
	ttl   time.Duration
}

// NewService creates the threat intelligence service. ttl is how long a
// silent threat survives before age-out.
func NewService(store ports.Store, trust ports.TrustScorer, bus ports.EventBus, ttl time.Duration, clock clockwork.Clock) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Service{store: store, trust: trust, bus: bus, clock: clock, ttl: ttl}
}

// HandleEvent folds one honeypot record into the threat table.
func (s *Service) HandleEvent(ctx context.Context, ev domain.HoneypotEvent) error {
	if ev.SrcIP == "" {
		return nil
	}
	severity := domain.HoneypotEventSeverity(ev.Kind)

	at := ev.Timestamp
	if at.IsZero() {
		at = s.clock.Now().UTC()
	}

	threat, err := s.store.GetThreat(ctx, ev.SrcIP)
	if err != nil {
		if !domain.IsNotFound(err) {
			return err
		}
		threat = &domain.Threat{SourceIP: ev.SrcIP, FirstSeen: at}
	}

	if at.After(threat.LastSeen) {
		threat.LastSeen = at
	}
	if !threat.HasKind(ev.Kind) {
		threat.EventKinds = append(threat.EventKinds, ev.Kind)
	}
	threat.Severity = domain.MaxSeverity(threat.Severity, severity)
	threat.EventCount++

	if err := s.store.UpsertThreat(ctx, threat); err != nil {
		return err
	}

	s.bus.Publish(domain.TopicThreatUpdated, domain.ThreatUpdated{
		SourceIP:  threat.SourceIP,
		Severity:  threat.Severity,
		Timestamp: s.clock.Now().UTC(),
	})

	s.penalizeSourceDevice(ctx, ev.SrcIP, severity)
	return nil
}

// penalizeSourceDevice charges the honeypot hit to the device owning
// the attacker IP, when there is one. Most honeypot traffic comes from
// outside; a LAN match means a compromised device.
func (s *Service) penalizeSourceDevice(ctx context.Context, srcIP string, severity domain.Severity) {
	devices, err := s.store.ListDevices(ctx)
	if err != nil {
		slog.Error("device lookup for honeypot hit failed", "src_ip", srcIP, "error", err)
		return
	}
	for _, dev := range devices {
		if dev.IP != srcIP || dev.Status == domain.StatusRevoked {
			continue
		}
		if _, err := s.trust.RecordAlert(ctx, dev.DeviceID, domain.SourceHoneypotHit, severity); err != nil {
			slog.Error("honeypot trust penalty failed", "device", dev.DeviceID, "error", err)
		}
		return
	}
}

// AgeOut expires threats silent for longer than the TTL. Each expiry is
// published with Expired set; the mitigation generator reacts by
// withdrawing the threat's non-permanent rule. Meant to run from the
// scheduler.
func (s *Service) AgeOut(ctx context.Context) error {
	cutoff := s.clock.Now().Add(-s.ttl)
	expired, err := s.store.DeleteThreatsBefore(ctx, cutoff)
	if err != nil {
		return err
	}

	for _, ip := range expired {
		s.bus.Publish(domain.TopicThreatUpdated, domain.ThreatUpdated{
			SourceIP:  ip,
			Expired:   true,
			Timestamp: s.clock.Now().UTC(),
		})
	}
	return nil
}

// Threats lists the current threat table, most recent first.
func (s *Service) Threats(ctx context.Context) ([]domain.Threat, error) {
	return s.store.ListThreats(ctx)
}
