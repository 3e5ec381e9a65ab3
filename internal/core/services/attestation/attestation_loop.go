package attestation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/lcalzada-xor/ztcore/internal/core/domain"
	"github.com/lcalzada-xor/ztcore/internal/core/ports"
)

// Loop re-verifies every active device each interval: the certificate
// must validate, the device must have been seen within twice the
// interval, and heartbeat-expected devices must have produced packets
// within the last interval. The three checks pass or fail as a unit; a
// partial failure is a failure and costs the fixed attestation penalty.
//
// Failures that break identity itself (revoked certificate, foreign
// issuer, subject mismatch) quarantine the device immediately. An
// expired certificate or a silent device degrades trust instead, so a
// flaky sensor walks down the decision ladder rather than vanishing.
type Loop struct {
	store    ports.Store
	ca       ports.CertAuthority
	trust    ports.TrustScorer
	bus      ports.EventBus
	clock    clockwork.Clock
	interval time.Duration

	mu           sync.Mutex
	lastActivity map[string]time.Time
}

// NewLoop creates the attestation loop.
func NewLoop(store ports.Store, ca ports.CertAuthority, trust ports.TrustScorer, bus ports.EventBus, interval time.Duration, clock clockwork.Clock) *Loop {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Loop{
		store:        store,
		ca:           ca,
		trust:        trust,
		bus:          bus,
		clock:        clock,
		interval:     interval,
		lastActivity: make(map[string]time.Time),
	}
}

// ObserveSample records packet activity for the liveness check.
func (l *Loop) ObserveSample(sample domain.FlowSample) {
	if sample.Stats.Packets == 0 {
		return
	}
	l.mu.Lock()
	l.lastActivity[sample.DeviceID] = l.clock.Now()
	l.mu.Unlock()
}

// Run feeds flow samples into the activity tracker until the context is
// cancelled or the subscription closes. Sweeps are driven separately by
// the scheduler.
func (l *Loop) Run(ctx context.Context, sub ports.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if sample, ok := ev.Payload.(domain.FlowSample); ok {
				l.ObserveSample(sample)
			}
		}
	}
}

// Sweep attests every active device once.
func (l *Loop) Sweep(ctx context.Context) error {
	devices, err := l.store.ListDevicesByStatus(ctx, domain.StatusActive)
	if err != nil {
		return err
	}
	for i := range devices {
		if err := l.attest(ctx, &devices[i]); err != nil {
			slog.Error("attestation failed to record", "device", devices[i].DeviceID, "error", err)
		}
	}
	return nil
}

func (l *Loop) attest(ctx context.Context, dev *domain.Device) error {
	now := l.clock.Now()

	if result := l.ca.Validate(ctx, dev); !result.Valid {
		if isHardFail(result.Reason) {
			return l.quarantine(ctx, dev, result.Reason)
		}
		return l.fail(ctx, dev, fmt.Sprintf("certificate invalid: %s", result.Reason))
	}

	if now.Sub(dev.LastSeen) > 2*l.interval {
		return l.fail(ctx, dev, fmt.Sprintf("silent for %s", now.Sub(dev.LastSeen).Truncate(time.Second)))
	}

	if dev.HeartbeatExpected {
		l.mu.Lock()
		seen, ok := l.lastActivity[dev.DeviceID]
		l.mu.Unlock()
		if !ok || now.Sub(seen) > l.interval {
			return l.fail(ctx, dev, "no packet activity within heartbeat interval")
		}
	}

	return nil
}

// isHardFail reports whether the validation reason voids the device's
// identity outright.
func isHardFail(reason domain.AttestationReason) bool {
	switch reason {
	case domain.ReasonRevoked, domain.ReasonUnknownIssuer, domain.ReasonSubjectMismatch:
		return true
	}
	return false
}

// fail applies the fixed penalty and raises a low-severity alert. The
// alert is informational: escalation happens through the trust score,
// one -20 step per failed sweep.
func (l *Loop) fail(ctx context.Context, dev *domain.Device, detail string) error {
	if _, err := l.trust.RecordAttestationFailure(ctx, dev.DeviceID); err != nil {
		return err
	}
	l.publishAlert(dev.DeviceID, domain.SeverityLow, detail)
	return nil
}

// quarantine takes the device out of the network immediately.
func (l *Loop) quarantine(ctx context.Context, dev *domain.Device, reason domain.AttestationReason) error {
	if _, err := l.trust.RecordAttestationFailure(ctx, dev.DeviceID); err != nil {
		return err
	}

	detail := fmt.Sprintf("identity failure: %s", reason)
	if err := l.store.SetStatus(ctx, dev.DeviceID, domain.StatusQuarantined); err != nil {
		return err
	}
	if err := l.store.AppendDeviceHistory(ctx, dev.DeviceID, "quarantined", detail); err != nil {
		return err
	}

	l.publishAlert(dev.DeviceID, domain.SeverityHigh, detail)
	l.bus.Publish(domain.TopicDeviceStatus, domain.DeviceStatusChanged{
		DeviceID:  dev.DeviceID,
		Old:       dev.Status,
		New:       domain.StatusQuarantined,
		Timestamp: l.clock.Now().UTC(),
	})
	return nil
}

func (l *Loop) publishAlert(deviceID string, severity domain.Severity, detail string) {
	l.bus.Publish(domain.TopicAlert, domain.Alert{
		ID:        uuid.NewString(),
		DeviceID:  deviceID,
		Kind:      domain.AlertAttestationFail,
		Severity:  severity,
		Detail:    detail,
		Timestamp: l.clock.Now().UTC(),
	})
}
