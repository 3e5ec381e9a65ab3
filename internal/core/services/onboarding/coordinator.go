// Package onboarding drives the device enrollment state machine, from
// discovery through the profiling window to an active least-privilege
// policy.
package onboarding

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lcalzada-xor/ztcore/internal/core/domain"
	"github.com/lcalzada-xor/ztcore/internal/core/ports"
	"github.com/lcalzada-xor/ztcore/internal/core/services/baseline"
	"github.com/lcalzada-xor/ztcore/internal/telemetry"
)

// Coordinator owns the lifecycle transitions of a device. It never talks
// to the switch itself: transitions publish DeviceStatusChanged and
// PolicyReplaced, and the orchestrator, as the single switch writer,
// turns those into rule installs.
type Coordinator struct {
	store      ports.Store
	ca         ports.CertAuthority
	trust      ports.TrustScorer
	acc        *baseline.Accumulator
	bus        ports.EventBus
	sink       ports.MitigationSink
	clock      clockwork.Clock
	window     time.Duration
	minPackets int
}

// NewCoordinator creates the enrollment coordinator. window is the
// profiling duration; minPackets is the threshold below which a
// finalized baseline is marked sparse. sink may be nil when no switch
// is wired; Reinstate then skips rule withdrawal.
func NewCoordinator(store ports.Store, ca ports.CertAuthority, trust ports.TrustScorer, acc *baseline.Accumulator, bus ports.EventBus, sink ports.MitigationSink, window time.Duration, minPackets int, clock clockwork.Clock) *Coordinator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Coordinator{
		store:      store,
		ca:         ca,
		trust:      trust,
		acc:        acc,
		bus:        bus,
		sink:       sink,
		clock:      clock,
		window:     window,
		minPackets: minPackets,
	}
}

// RegisterPending records a newly discovered device and asks an operator
// to look at it. Malformed identifiers are rejected here, before they
// can become row keys; duplicate MACs are rejected by the store.
func (c *Coordinator) RegisterPending(ctx context.Context, mac, suggestedID, deviceType string) (*domain.Device, error) {
	if !domain.IsValidMAC(mac) {
		return nil, fmt.Errorf("register: invalid MAC %q", mac)
	}
	if suggestedID != "" && !domain.IsValidDeviceID(suggestedID) {
		return nil, fmt.Errorf("register: invalid device ID %q", suggestedID)
	}

	dev, err := c.store.RegisterPending(ctx, mac, suggestedID, deviceType)
	if err != nil {
		return nil, err
	}
	if err := c.store.AppendDeviceHistory(ctx, dev.DeviceID, "registered", fmt.Sprintf("discovered at %s", dev.MAC)); err != nil {
		return nil, err
	}

	c.bus.Publish(domain.TopicOperatorAlert, domain.OperatorAlert{
		DeviceID:  dev.DeviceID,
		Severity:  domain.SeverityLow,
		Message:   fmt.Sprintf("new device %s (%s) awaiting approval", dev.DeviceID, dev.MAC),
		Timestamp: c.clock.Now().UTC(),
	})
	slog.Info("device registered", "device", dev.DeviceID, "mac", dev.MAC, "type", deviceType)
	return dev, nil
}

// Approve moves a pending device into its profiling window: certificate
// issued, identity bound, trust initialized, accumulator started. The
// observation rule follows from the published status change.
//
// If certificate issuance fails the device stays pending and the
// operator gets an alert; nothing else has happened yet.
func (c *Coordinator) Approve(ctx context.Context, deviceID, adminNote string) (*domain.Device, error) {
	dev, err := c.store.GetDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if dev.Status != domain.StatusPending {
		return nil, domain.Conflict("approve: device %s is %s, not pending", deviceID, dev.Status)
	}

	cert, err := c.ca.Issue(ctx, dev.DeviceID, dev.MAC)
	if err != nil {
		c.historyBestEffort(ctx, deviceID, "approve_failed", fmt.Sprintf("certificate issuance: %v", err))
		c.bus.Publish(domain.TopicOperatorAlert, domain.OperatorAlert{
			DeviceID:  deviceID,
			Severity:  domain.SeverityMedium,
			Message:   fmt.Sprintf("onboarding aborted for %s: certificate issuance failed", deviceID),
			Timestamp: c.clock.Now().UTC(),
		})
		return nil, fmt.Errorf("issue certificate for %s: %w", deviceID, err)
	}

	now := c.clock.Now().UTC()
	dev.Status = domain.StatusProfiling
	dev.CertPath = cert.CertPath
	dev.KeyPath = cert.KeyPath
	dev.OnboardedAt = now
	dev.ProfilingStartedAt = &now
	if err := c.store.UpdateDevice(ctx, dev); err != nil {
		return nil, err
	}

	if err := c.trust.Initialize(ctx, deviceID); err != nil {
		return nil, err
	}
	c.acc.Start(dev.DeviceID, dev.MAC)

	if err := c.store.AppendDeviceHistory(ctx, deviceID, "approved", adminNote); err != nil {
		return nil, err
	}
	c.publishStatus(deviceID, domain.StatusPending, domain.StatusProfiling)
	slog.Info("device approved", "device", deviceID, "profiling_window", c.window)
	return dev, nil
}

// Reject turns a pending device away without ever issuing a certificate.
func (c *Coordinator) Reject(ctx context.Context, deviceID, adminNote string) error {
	dev, err := c.store.GetDevice(ctx, deviceID)
	if err != nil {
		return err
	}
	if dev.Status != domain.StatusPending {
		return domain.Conflict("reject: device %s is %s, not pending", deviceID, dev.Status)
	}

	if err := c.store.SetStatus(ctx, deviceID, domain.StatusRevoked); err != nil {
		return err
	}
	if err := c.store.AppendDeviceHistory(ctx, deviceID, "rejected", adminNote); err != nil {
		return err
	}
	c.publishStatus(deviceID, domain.StatusPending, domain.StatusRevoked)
	return nil
}

// Finalize closes the profiling window now: baseline computed, the
// least-privilege policy generated and persisted, device set active.
// The watcher calls this when the window elapses; an administrator can
// call it early.
func (c *Coordinator) Finalize(ctx context.Context, deviceID string) error {
	dev, err := c.store.GetDevice(ctx, deviceID)
	if err != nil {
		return err
	}
	if dev.Status != domain.StatusProfiling {
		return domain.Conflict("finalize: device %s is %s, not profiling", deviceID, dev.Status)
	}

	b := c.acc.Finalize(deviceID, c.minPackets)
	if err := c.store.PutBaseline(ctx, &b); err != nil {
		return err
	}

	policy := leastPrivilegePolicy(deviceID, &b, c.clock.Now().UTC())
	if err := c.store.PutPolicy(ctx, policy); err != nil {
		return err
	}

	// Policy and baseline are durable before the status flips, so the
	// orchestrator's reaction to the status change always finds them.
	if err := c.store.SetStatus(ctx, deviceID, domain.StatusActive); err != nil {
		return err
	}

	note := fmt.Sprintf("baseline established, %d rules", len(policy.Rules))
	if b.Sparse {
		note = fmt.Sprintf("sparse baseline, %d rules", len(policy.Rules))
	}
	if err := c.store.AppendDeviceHistory(ctx, deviceID, "finalized", note); err != nil {
		return err
	}

	c.bus.Publish(domain.TopicPolicyReplace, domain.PolicyReplaced{
		DeviceID:  deviceID,
		Timestamp: c.clock.Now().UTC(),
	})
	c.publishStatus(deviceID, domain.StatusProfiling, domain.StatusActive)
	telemetry.OnboardingFinalized.Inc()
	slog.Info("profiling finalized", "device", deviceID, "sparse", b.Sparse, "rules", len(policy.Rules))
	return nil
}

// Revoke takes a device out of the network permanently: certificate on
// the revocation list, baseline and policy destroyed, row retained for
// audit.
func (c *Coordinator) Revoke(ctx context.Context, deviceID, adminNote string) error {
	dev, err := c.store.GetDevice(ctx, deviceID)
	if err != nil {
		return err
	}
	if dev.Status == domain.StatusRevoked {
		return domain.Conflict("revoke: device %s is already revoked", deviceID)
	}

	// Pending devices have no certificate yet; that is not an error.
	if err := c.ca.Revoke(ctx, deviceID, "device revoked"); err != nil && !domain.IsNotFound(err) {
		return err
	}
	c.acc.Discard(deviceID)

	if err := c.store.DeleteBaseline(ctx, deviceID); err != nil && !domain.IsNotFound(err) {
		return err
	}
	if err := c.store.DeletePolicy(ctx, deviceID); err != nil && !domain.IsNotFound(err) {
		return err
	}

	if err := c.store.SetStatus(ctx, deviceID, domain.StatusRevoked); err != nil {
		return err
	}
	if err := c.store.AppendDeviceHistory(ctx, deviceID, "revoked", adminNote); err != nil {
		return err
	}
	c.publishStatus(deviceID, dev.Status, domain.StatusRevoked)
	slog.Info("device revoked", "device", deviceID, "was", dev.Status)
	return nil
}

// Reinstate is the explicit administrator exit from quarantine. The
// certificate must still validate: a revoked or expired cert would land
// the device right back in quarantine on the next attestation sweep.
// Trust is reset to the initial score: leaving it below the quarantine
// threshold would re-quarantine the device on the next decision and
// make the action meaningless. For the same reason, threat intel and
// mitigation rules keyed by the device's own address are cleared; the
// admin is vouching that the device has been dealt with.
func (c *Coordinator) Reinstate(ctx context.Context, deviceID, adminNote string) error {
	dev, err := c.store.GetDevice(ctx, deviceID)
	if err != nil {
		return err
	}
	if dev.Status != domain.StatusQuarantined {
		return domain.Conflict("reinstate: device %s is %s, not quarantined", deviceID, dev.Status)
	}

	// A device whose certificate is still invalid would be quarantined
	// again on the next attestation sweep; it needs re-enrollment, not
	// reinstatement.
	if res := c.ca.Validate(ctx, dev); !res.Valid {
		return domain.AttestationFailed(res.Reason)
	}

	current, err := c.trust.Get(ctx, deviceID)
	if err != nil {
		if !domain.IsNotFound(err) {
			return err
		}
		current = 0
	}
	if delta := domain.TrustInitial - current; delta != 0 {
		if _, err := c.trust.Adjust(ctx, deviceID, delta, "reinstated"); err != nil {
			return err
		}
	}

	if err := c.clearOwnIntel(ctx, dev); err != nil {
		return err
	}

	if err := c.store.SetStatus(ctx, deviceID, domain.StatusActive); err != nil {
		return err
	}
	if err := c.store.AppendDeviceHistory(ctx, deviceID, "reinstated", adminNote); err != nil {
		return err
	}
	c.publishStatus(deviceID, domain.StatusQuarantined, domain.StatusActive)
	slog.Info("device reinstated", "device", deviceID)
	return nil
}

// clearOwnIntel drops threat and mitigation state keyed by the device's
// own LAN address. Without this a reinstated device would be denied by
// its old source-IP mitigation no matter what the orchestrator decides.
func (c *Coordinator) clearOwnIntel(ctx context.Context, dev *domain.Device) error {
	if dev.IP == "" {
		return nil
	}

	if err := c.store.DeleteThreat(ctx, dev.IP); err != nil && !domain.IsNotFound(err) {
		return err
	}

	rule, err := c.store.GetMitigationBySource(ctx, dev.IP)
	if err == nil {
		if err := c.store.DeleteMitigation(ctx, rule.ID); err != nil {
			return err
		}
		if c.sink != nil {
			if err := c.sink.WithdrawMitigation(ctx, *rule); err != nil {
				return err
			}
		}
	} else if !domain.IsNotFound(err) {
		return err
	}

	c.bus.Publish(domain.TopicThreatUpdated, domain.ThreatUpdated{
		SourceIP:  dev.IP,
		Expired:   true,
		Timestamp: c.clock.Now().UTC(),
	})
	return nil
}

// Observe feeds a profiling-window packet into the accumulator.
// Observations for devices outside profiling are dropped there.
func (c *Coordinator) Observe(obs domain.PacketObservation) {
	c.acc.Observe(obs)
}

func (c *Coordinator) publishStatus(deviceID string, old, next domain.DeviceStatus) {
	c.bus.Publish(domain.TopicDeviceStatus, domain.DeviceStatusChanged{
		DeviceID:  deviceID,
		Old:       old,
		New:       next,
		Timestamp: c.clock.Now().UTC(),
	})
}

func (c *Coordinator) historyBestEffort(ctx context.Context, deviceID, event, note string) {
	if err := c.store.AppendDeviceHistory(ctx, deviceID, event, note); err != nil {
		slog.Error("history append failed", "device", deviceID, "event", event, "error", err)
	}
}

// leastPrivilegePolicy builds the post-profiling rule list: one allow
// per observed destination IP and per observed destination port, then
// the mandatory default deny. A device that produced no observations
// gets the default deny alone.
func leastPrivilegePolicy(deviceID string, b *domain.Baseline, now time.Time) *domain.Policy {
	rules := make([]domain.PolicyRule, 0, len(b.DstIPs)+len(b.DstPorts)+1)
	for _, ip := range b.DstIPs {
		rules = append(rules, domain.PolicyRule{
			Match:    domain.Match{DstIP: ip},
			Action:   domain.RuleAllow,
			Priority: 100,
		})
	}
	for _, port := range b.DstPorts {
		rules = append(rules, domain.PolicyRule{
			Match:    domain.Match{DstPort: port},
			Action:   domain.RuleAllow,
			Priority: 100,
		})
	}
	rules = append(rules, domain.DefaultDenyRule())

	return &domain.Policy{
		DeviceID:    deviceID,
		Rules:       rules,
		GeneratedAt: now,
		UpdatedAt:   now,
	}
}

// Ensure interface compliance
var _ ports.OnboardingControl = (*Coordinator)(nil)
