package orchestrator

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/lcalzada-xor/ztcore/internal/core/domain"
	"github.com/lcalzada-xor/ztcore/internal/core/ports"
	"github.com/lcalzada-xor/ztcore/internal/telemetry"
)

// Priorities of rules the orchestrator synthesizes itself. Policy rules
// carry their stored priorities verbatim.
const (
	PriorityObservation = 100
	PriorityRedirect    = 150
	PriorityDeny        = 200
	PriorityQuarantine  = 65535
)

// Orchestrator is the single decision point: it fuses device status,
// trust score, recent alerts and live threat intelligence into one of
// ALLOW, REDIRECT, DENY, QUARANTINE per device, and it is the only
// writer of device-scoped rules to the switch. Mitigation rules from
// threat intelligence go through the same component (the MitigationSink
// side), so every flow-table write funnels through here.
//
// Decisions are recomputed from observable state on every event, never
// edited incrementally; lastDecision/lastRules only exist to make
// reapplication idempotent and to know which stale rules to remove.
// Work is serialized per device: the event pump shards device IDs onto
// a fixed set of workers, and Apply holds a per-device lock while it
// computes and installs.
type Orchestrator struct {
	store ports.Store
	swctl ports.SwitchControl
	trust ports.TrustScorer
	audit ports.AuditService
	bus   ports.EventBus
	clock clockwork.Clock
	log   *slog.Logger

	honeypotPort   int
	thresholds     [3]int
	hysteresis     int
	alertWindow    time.Duration
	recoveryWindow time.Duration
	retries        int
	backoff        time.Duration
	shards         int

	mu           sync.Mutex
	locks        map[string]*sync.Mutex
	lastDecision map[string]domain.Decision
	lastRules    map[string][]domain.ForwardingRule
	dirty        map[string]bool
	forced       map[string]bool
	alerts       map[string][]alertRecord

	mitMu        sync.Mutex
	mitInstalled map[string]domain.ForwardingRule
}

var (
	_ ports.DecisionProvider = (*Orchestrator)(nil)
	_ ports.MitigationSink   = (*Orchestrator)(nil)
)

// alertRecord is one remembered alert for the severity fusion and the
// recovery gate. The ring is in-memory only: after a restart decisions
// rebuild from trust, status and the threat table.
type alertRecord struct {
	kind     domain.AlertKind
	severity domain.Severity
	at       time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock injects a test clock.
func WithClock(c clockwork.Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// WithLogger sets the orchestrator's logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

// WithThresholds overrides the descending trust thresholds.
func WithThresholds(t [3]int) Option {
	return func(o *Orchestrator) { o.thresholds = t }
}

// WithHysteresis overrides the recovery margin added to each threshold.
func WithHysteresis(h int) Option {
	return func(o *Orchestrator) { o.hysteresis = h }
}

// WithAlertWindow bounds how far back alerts feed the severity fusion.
func WithAlertWindow(d time.Duration) Option {
	return func(o *Orchestrator) { o.alertWindow = d }
}

// WithRecoveryWindow bounds how far back alerts block recovery.
func WithRecoveryWindow(d time.Duration) Option {
	return func(o *Orchestrator) { o.recoveryWindow = d }
}

// WithRetries caps how often a failed rule install is retried.
func WithRetries(n int) Option {
	return func(o *Orchestrator) { o.retries = n }
}

// WithBackoff sets the initial retry backoff; it doubles per attempt.
// Zero disables sleeping between retries.
func WithBackoff(d time.Duration) Option {
	return func(o *Orchestrator) { o.backoff = d }
}

// WithShards sets how many workers drain the event pump.
func WithShards(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.shards = n
		}
	}
}

// NewOrchestrator creates the decision point. honeypotPort is the
// switch output port for redirects; zero means redirection is
// unavailable and REDIRECT verdicts harden to DENY.
func NewOrchestrator(store ports.Store, swctl ports.SwitchControl, trust ports.TrustScorer, audit ports.AuditService, bus ports.EventBus, honeypotPort int, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:          store,
		swctl:          swctl,
		trust:          trust,
		audit:          audit,
		bus:            bus,
		clock:          clockwork.NewRealClock(),
		log:            slog.Default(),
		honeypotPort:   honeypotPort,
		thresholds:     [3]int{70, 50, 30},
		hysteresis:     5,
		alertWindow:    5 * time.Minute,
		recoveryWindow: 10 * time.Minute,
		retries:        3,
		backoff:        time.Second,
		shards:         4,
		locks:          make(map[string]*sync.Mutex),
		lastDecision:   make(map[string]domain.Decision),
		lastRules:      make(map[string][]domain.ForwardingRule),
		dirty:          make(map[string]bool),
		forced:         make(map[string]bool),
		alerts:         make(map[string][]alertRecord),
		mitInstalled:   make(map[string]domain.ForwardingRule),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run drains the subscription until the context is cancelled or the
// channel closes. Device IDs are sharded onto workers by hash, so
// events for one device apply in arrival order while different devices
// proceed in parallel.
func (o *Orchestrator) Run(ctx context.Context, sub ports.Subscription) {
	queues := make([]chan string, o.shards)
	var wg sync.WaitGroup
	for i := range queues {
		queues[i] = make(chan string, 64)
		wg.Add(1)
		go func(q <-chan string) {
			defer wg.Done()
			for deviceID := range q {
				if err := o.Apply(ctx, deviceID); err != nil {
					o.log.Error("decision apply failed", "device", deviceID, "error", err)
				}
			}
		}(queues[i])
	}
	defer func() {
		for _, q := range queues {
			close(q)
		}
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			for _, deviceID := range o.affected(ctx, ev) {
				select {
				case <-ctx.Done():
					return
				case queues[shardOf(deviceID, o.shards)] <- deviceID:
				}
			}
		}
	}
}

// affected maps one bus event onto the devices whose decision it may
// change, updating the alert ring and reinstate bookkeeping on the way.
func (o *Orchestrator) affected(ctx context.Context, ev domain.Event) []string {
	switch p := ev.Payload.(type) {
	case domain.TrustChanged:
		return []string{p.DeviceID}
	case domain.Alert:
		o.noteAlert(p)
		return []string{p.DeviceID}
	case domain.ThreatUpdated:
		return o.devicesAt(ctx, p.SourceIP)
	case domain.PolicyReplaced:
		return []string{p.DeviceID}
	case domain.DeviceStatusChanged:
		if p.Old == domain.StatusQuarantined && p.New == domain.StatusActive {
			// Reinstate: the next decision must not be gated by the
			// quarantine it just left or by the alerts that caused it.
			o.forget(p.DeviceID)
		}
		return []string{p.DeviceID}
	}
	return nil
}

// devicesAt resolves a threat source address to the devices it scores
// against. Threat intel is keyed by IP; only devices observed at that
// address are affected.
func (o *Orchestrator) devicesAt(ctx context.Context, sourceIP string) []string {
	if sourceIP == "" {
		return nil
	}
	devices, err := o.store.ListDevices(ctx)
	if err != nil {
		o.log.Error("device scan for threat update failed", "src_ip", sourceIP, "error", err)
		return nil
	}
	var ids []string
	for i := range devices {
		if devices[i].IP == sourceIP {
			ids = append(ids, devices[i].DeviceID)
		}
	}
	return ids
}

// Apply recomputes and installs the decision for one device. It is safe
// to call concurrently and redundantly; unchanged decisions with
// unchanged rule sets do not touch the switch.
func (o *Orchestrator) Apply(ctx context.Context, deviceID string) error {
	lock := o.lockFor(deviceID)
	lock.Lock()
	defer lock.Unlock()

	dev, err := o.store.GetDevice(ctx, deviceID)
	if err != nil {
		if domain.IsNotFound(err) {
			return nil
		}
		return err
	}
	if dev.Status == domain.StatusPending {
		// Not on the network yet; nothing to enforce.
		return nil
	}

	prev, oldRules, dirty, forced, havePrev := o.snapshot(deviceID)

	score, err := o.trust.Get(ctx, deviceID)
	if err != nil {
		if !domain.IsNotFound(err) {
			return o.failClosed(ctx, dev, 0, prev, havePrev, fmt.Errorf("trust read: %w", err))
		}
		score = domain.TrustInitial
	}

	sev, err := o.severityFor(ctx, dev)
	if err != nil {
		return o.failClosed(ctx, dev, score, prev, havePrev, fmt.Errorf("threat read: %w", err))
	}

	// A decision forced by a failure is infrastructure state, not a
	// behavioral verdict; recovery gating does not apply to it.
	next, reason := o.decide(dev, score, sev, prev, havePrev && !forced)

	if next == domain.DecisionQuarantine && (dev.Status == domain.StatusActive || dev.Status == domain.StatusProfiling) {
		o.quarantine(ctx, dev, reason)
	}

	desired, err := o.desiredRules(ctx, dev, next)
	if err != nil {
		if !domain.IsNotFound(err) {
			return o.failClosed(ctx, dev, score, prev, havePrev, fmt.Errorf("policy read: %w", err))
		}
		// An active device without a stored policy must not pass traffic.
		next, reason = domain.DecisionDeny, "no stored policy"
		desired = []domain.ForwardingRule{denyRule(dev)}
	}

	if havePrev && next == prev && !dirty && equalRules(oldRules, desired) {
		return nil
	}

	if err := o.installSet(ctx, desired); err != nil {
		o.forceInstall(ctx, dev, forcedVerdict(next), score, sev, prev, havePrev, err)
		return nil
	}

	// Install first, remove after: synthesized rules outrank the stale
	// permissive ones they replace, so the overlap never opens a gap.
	clean := o.removeStale(ctx, oldRules, desired)
	o.setInstalled(deviceID, next, desired, !clean)

	if !havePrev || next != prev {
		o.record(ctx, dev, score, sev, next, reason, prev, havePrev)
	}
	return nil
}

// decide fuses status, trust and severity into the verdict. gate is
// whether an installed previous decision constrains recovery.
func (o *Orchestrator) decide(dev *domain.Device, score int, sev domain.Severity, prev domain.Decision, gate bool) (domain.Decision, string) {
	if dev.Status == domain.StatusRevoked || dev.Status == domain.StatusQuarantined {
		return domain.DecisionQuarantine, "status " + string(dev.Status)
	}

	next, reason := o.ladder(score, sev, 0)
	if !gate || next.Rank() >= prev.Rank() {
		// Degradations (and fresh decisions) apply immediately.
		return o.gateRedirect(next, reason)
	}

	if prev == domain.DecisionQuarantine {
		return domain.DecisionQuarantine, "quarantine holds until reinstated"
	}
	if o.recentAlertAtLeast(dev.DeviceID, domain.SeverityMedium) {
		return prev, "recovery held by recent alert"
	}
	relaxed, relaxedReason := o.ladder(score, sev, o.hysteresis)
	if relaxed.Rank() < prev.Rank() {
		return o.gateRedirect(relaxed, relaxedReason)
	}
	return prev, fmt.Sprintf("held inside hysteresis band at trust %d", score)
}

// ladder is the first-match decision function. pad widens every trust
// threshold; recovery passes the hysteresis margin so a device must
// clear threshold+hysteresis to climb back.
func (o *Orchestrator) ladder(score int, sev domain.Severity, pad int) (domain.Decision, string) {
	t := o.thresholds
	switch {
	case sev == domain.SeverityCritical:
		return domain.DecisionQuarantine, "critical threat activity"
	case sev == domain.SeverityHigh:
		return domain.DecisionQuarantine, "high threat activity"
	case score < t[2]+pad:
		return domain.DecisionQuarantine, fmt.Sprintf("trust %d below quarantine threshold", score)
	case sev == domain.SeverityMedium:
		return domain.DecisionDeny, "medium threat activity"
	case score < t[1]+pad:
		return domain.DecisionDeny, fmt.Sprintf("trust %d below deny threshold", score)
	case score < t[0]+pad:
		return domain.DecisionRedirect, fmt.Sprintf("trust %d below allow threshold", score)
	default:
		return domain.DecisionAllow, "trust healthy"
	}
}

// gateRedirect hardens REDIRECT to DENY when no honeypot port is
// configured; traffic with nowhere to go must not pass instead.
func (o *Orchestrator) gateRedirect(d domain.Decision, reason string) (domain.Decision, string) {
	if d == domain.DecisionRedirect && o.honeypotPort <= 0 {
		return domain.DecisionDeny, "redirect unavailable: no honeypot port"
	}
	return d, reason
}

// severityFor fuses the signals that force the decision ladder: recent
// qualifying alerts plus any live threat entry at the device's address.
func (o *Orchestrator) severityFor(ctx context.Context, dev *domain.Device) (domain.Severity, error) {
	var sev domain.Severity
	now := o.clock.Now()

	o.mu.Lock()
	for _, a := range o.alerts[dev.DeviceID] {
		if now.Sub(a.at) > o.alertWindow {
			continue
		}
		if !forcesLadder(a.kind, a.severity) {
			continue
		}
		sev = domain.MaxSeverity(sev, a.severity)
	}
	o.mu.Unlock()

	if dev.IP == "" {
		return sev, nil
	}
	threat, err := o.store.GetThreat(ctx, dev.IP)
	if err != nil {
		if domain.IsNotFound(err) {
			return sev, nil
		}
		return sev, err
	}
	return domain.MaxSeverity(sev, threat.Severity), nil
}

// forcesLadder reports whether an alert feeds the severity input of the
// decision function directly. Identity and deception signals always do;
// behavioral alerts below high act through the trust score they already
// cost, so a single medium anomaly degrades stepwise instead of
// skipping the REDIRECT tier.
func forcesLadder(kind domain.AlertKind, sev domain.Severity) bool {
	switch kind {
	case domain.AlertAttestationFail, domain.AlertHoneypotHit:
		return true
	}
	return sev.AtLeast(domain.SeverityHigh)
}

// desiredRules builds the rule set one decision wants on the switch.
func (o *Orchestrator) desiredRules(ctx context.Context, dev *domain.Device, d domain.Decision) ([]domain.ForwardingRule, error) {
	switch d {
	case domain.DecisionQuarantine:
		return []domain.ForwardingRule{quarantineRule(dev)}, nil
	case domain.DecisionDeny:
		return []domain.ForwardingRule{denyRule(dev)}, nil
	case domain.DecisionRedirect:
		return []domain.ForwardingRule{redirectRule(dev, o.honeypotPort)}, nil
	}

	if dev.Status == domain.StatusProfiling {
		// Observe-everything until the window closes and a policy exists.
		return []domain.ForwardingRule{observationRule(dev)}, nil
	}
	pol, err := o.store.GetPolicy(ctx, dev.DeviceID)
	if err != nil {
		return nil, err
	}
	return policyRules(dev, pol, o.honeypotPort), nil
}

// installSet pushes the rules in order, first failure wins.
func (o *Orchestrator) installSet(ctx context.Context, rules []domain.ForwardingRule) error {
	for _, rule := range rules {
		if err := o.installRule(ctx, rule); err != nil {
			return err
		}
	}
	return nil
}

// installRule pushes one rule with bounded retries. Only transient
// failures retry: a rejected rule can never succeed, and an unavailable
// switch has already burned its reconnection budget queueing writes.
func (o *Orchestrator) installRule(ctx context.Context, rule domain.ForwardingRule) error {
	delay := o.backoff
	var err error
	for attempt := 0; attempt <= o.retries; attempt++ {
		if attempt > 0 && delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-o.clock.After(delay):
			}
			delay *= 2
		}
		err = o.swctl.InstallRule(ctx, rule)
		if err == nil || !domain.IsTransient(err) {
			return err
		}
	}
	return err
}

// removeStale deletes rules the previous decision installed that the
// new set no longer wants. Reports whether every removal succeeded; a
// failed one poisons the bookkeeping so the next event retries.
func (o *Orchestrator) removeStale(ctx context.Context, old, desired []domain.ForwardingRule) bool {
	keep := make(map[string]struct{}, len(desired))
	for _, r := range desired {
		keep[r.RuleID] = struct{}{}
	}
	clean := true
	for _, r := range old {
		if _, ok := keep[r.RuleID]; ok {
			continue
		}
		if err := o.swctl.RemoveRule(ctx, r.RuleID); err != nil {
			o.log.Warn("stale rule removal failed", "rule_id", r.RuleID, "error", err)
			clean = false
		}
	}
	return clean
}

// quarantine persists the lifecycle transition a QUARANTINE verdict
// implies for a live device. Status is what makes quarantine sticky
// across restarts and what gates recovery on an explicit reinstate.
func (o *Orchestrator) quarantine(ctx context.Context, dev *domain.Device, reason string) {
	if err := o.store.SetStatus(ctx, dev.DeviceID, domain.StatusQuarantined); err != nil {
		o.log.Error("quarantine status update failed", "device", dev.DeviceID, "error", err)
		return
	}
	if err := o.store.AppendDeviceHistory(ctx, dev.DeviceID, "quarantined", reason); err != nil {
		o.log.Warn("device history append failed", "device", dev.DeviceID, "error", err)
	}

	now := o.clock.Now().UTC()
	o.bus.Publish(domain.TopicDeviceStatus, domain.DeviceStatusChanged{
		DeviceID:  dev.DeviceID,
		Old:       dev.Status,
		New:       domain.StatusQuarantined,
		Timestamp: now,
	})
	o.bus.Publish(domain.TopicOperatorAlert, domain.OperatorAlert{
		DeviceID:  dev.DeviceID,
		Severity:  domain.SeverityHigh,
		Message:   "device quarantined: " + reason,
		Timestamp: now,
	})
	dev.Status = domain.StatusQuarantined
}

// forcedVerdict maps an intended decision onto its fail-closed form.
func forcedVerdict(intended domain.Decision) domain.Decision {
	if intended == domain.DecisionQuarantine {
		return domain.DecisionQuarantine
	}
	return domain.DecisionDeny
}

// failClosed handles failures that left the true decision unknowable:
// the device goes dark and the original error propagates to the caller.
func (o *Orchestrator) failClosed(ctx context.Context, dev *domain.Device, score int, prev domain.Decision, havePrev bool, cause error) error {
	forced := domain.DecisionDeny
	if dev.Status == domain.StatusRevoked || dev.Status == domain.StatusQuarantined {
		forced = domain.DecisionQuarantine
	}
	o.forceInstall(ctx, dev, forced, score, "", prev, havePrev, cause)
	return cause
}

// forceInstall is the fail-closed tail shared by storage failures and
// exhausted installs: best-effort drop rule, poisoned bookkeeping so
// resync reconverges, one audit record and one operator alert per
// forcing transition.
func (o *Orchestrator) forceInstall(ctx context.Context, dev *domain.Device, forced domain.Decision, score int, sev domain.Severity, prev domain.Decision, havePrev bool, cause error) {
	rule := denyRule(dev)
	if forced == domain.DecisionQuarantine {
		rule = quarantineRule(dev)
	}
	if err := o.swctl.InstallRule(ctx, rule); err != nil {
		o.log.Error("fail-closed install did not reach the switch", "device", dev.DeviceID, "error", err)
	}
	o.noteForced(dev.DeviceID, forced, rule)

	if havePrev && prev == forced {
		return
	}
	o.record(ctx, dev, score, sev, forced, "fail-closed: "+cause.Error(), prev, havePrev)
	o.bus.Publish(domain.TopicOperatorAlert, domain.OperatorAlert{
		DeviceID:  dev.DeviceID,
		Severity:  domain.SeverityHigh,
		Message:   fmt.Sprintf("device forced to %s: %v", forced, cause),
		Timestamp: o.clock.Now().UTC(),
	})
}

// record appends the decision to the chained audit trail and announces
// it. Enforcement already happened; a failed append is logged, never
// rolled back.
func (o *Orchestrator) record(ctx context.Context, dev *domain.Device, score int, sev domain.Severity, next domain.Decision, reason string, prev domain.Decision, havePrev bool) {
	rec := domain.DecisionAudit{
		Timestamp:     o.clock.Now().UTC(),
		DeviceID:      dev.DeviceID,
		Trust:         score,
		ThreatLevel:   sev,
		Decision:      next,
		Reason:        reason,
		CorrelationID: uuid.NewString(),
	}
	if havePrev {
		rec.PrevDecision = prev
	}
	stored, err := o.audit.RecordDecision(ctx, rec)
	if err != nil {
		o.log.Error("decision record failed", "device", dev.DeviceID, "error", err)
		stored = &rec
	}
	o.bus.Publish(domain.TopicDecision, *stored)
	telemetry.DecisionsApplied.WithLabelValues(string(next)).Inc()
}

// SubmitMitigation installs a cross-device mitigation rule. Submissions
// that match what is already installed are no-ops, so threat replays
// and startup resyncs cost one switch write and one audit entry total.
func (o *Orchestrator) SubmitMitigation(ctx context.Context, rule domain.MitigationRule) error {
	fr := rule.Forwarding(o.honeypotPort)
	if fr.Action == domain.RuleRedirect && o.honeypotPort <= 0 {
		fr.Action = domain.RuleDeny
		fr.OutPort = 0
	}

	o.mitMu.Lock()
	prev, known := o.mitInstalled[fr.RuleID]
	o.mitMu.Unlock()
	if known && prev == fr {
		return nil
	}

	if err := o.installRule(ctx, fr); err != nil {
		return err
	}
	o.mitMu.Lock()
	o.mitInstalled[fr.RuleID] = fr
	o.mitMu.Unlock()

	o.auditLog(ctx, domain.ActionMitigationApplied, rule.SourceIP,
		fmt.Sprintf("%s rule %s at priority %d", fr.Action, fr.RuleID, fr.Priority))
	return nil
}

// WithdrawMitigation removes an expired or superseded mitigation rule.
func (o *Orchestrator) WithdrawMitigation(ctx context.Context, rule domain.MitigationRule) error {
	if err := o.swctl.RemoveRule(ctx, rule.ID); err != nil {
		return err
	}
	o.mitMu.Lock()
	delete(o.mitInstalled, rule.ID)
	o.mitMu.Unlock()

	o.auditLog(ctx, domain.ActionMitigationCleared, rule.SourceIP, "rule "+rule.ID+" withdrawn")
	return nil
}

// ResyncAll re-derives every device decision and resets mitigation
// bookkeeping so persisted mitigations can be replayed through the
// sink. Runs at startup and after a switch session is re-established:
// writes parked through an outage may have been refused, so nothing
// already installed is assumed.
func (o *Orchestrator) ResyncAll(ctx context.Context) error {
	o.mitMu.Lock()
	o.mitInstalled = make(map[string]domain.ForwardingRule)
	o.mitMu.Unlock()

	devices, err := o.store.ListDevices(ctx)
	if err != nil {
		return err
	}
	var firstErr error
	for i := range devices {
		o.markDirty(devices[i].DeviceID)
		if err := o.Apply(ctx, devices[i].DeviceID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// CurrentDecision returns the last installed decision, defaulting to
// DENY for devices never decided.
func (o *Orchestrator) CurrentDecision(deviceID string) domain.Decision {
	o.mu.Lock()
	defer o.mu.Unlock()
	if d, ok := o.lastDecision[deviceID]; ok {
		return d
	}
	return domain.DecisionDeny
}

// AllDecisions snapshots the last installed decision per device.
func (o *Orchestrator) AllDecisions() map[string]domain.Decision {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]domain.Decision, len(o.lastDecision))
	for id, d := range o.lastDecision {
		out[id] = d
	}
	return out
}

func (o *Orchestrator) auditLog(ctx context.Context, action domain.AuditAction, target, details string) {
	if err := o.audit.Log(ctx, action, target, details); err != nil {
		o.log.Warn("audit log failed", "action", action, "target", target, "error", err)
	}
}

// noteAlert appends to the device's alert ring, pruning entries past
// the recovery window (the longer of the two lookback horizons).
func (o *Orchestrator) noteAlert(a domain.Alert) {
	ts := a.Timestamp
	if ts.IsZero() {
		ts = o.clock.Now().UTC()
	}
	cutoff := o.clock.Now().Add(-o.recoveryWindow)

	o.mu.Lock()
	defer o.mu.Unlock()
	kept := o.alerts[a.DeviceID][:0]
	for _, r := range o.alerts[a.DeviceID] {
		if r.at.After(cutoff) {
			kept = append(kept, r)
		}
	}
	o.alerts[a.DeviceID] = append(kept, alertRecord{kind: a.Kind, severity: a.Severity, at: ts})
}

// recentAlertAtLeast reports whether any alert of at least min severity
// fell inside the recovery window.
func (o *Orchestrator) recentAlertAtLeast(deviceID string, min domain.Severity) bool {
	now := o.clock.Now()
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, a := range o.alerts[deviceID] {
		if now.Sub(a.at) <= o.recoveryWindow && a.severity.AtLeast(min) {
			return true
		}
	}
	return false
}

func (o *Orchestrator) lockFor(deviceID string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	lock, ok := o.locks[deviceID]
	if !ok {
		lock = &sync.Mutex{}
		o.locks[deviceID] = lock
	}
	return lock
}

func (o *Orchestrator) snapshot(deviceID string) (prev domain.Decision, rules []domain.ForwardingRule, dirty, forced, havePrev bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	prev, havePrev = o.lastDecision[deviceID]
	rules = o.lastRules[deviceID]
	dirty = o.dirty[deviceID]
	forced = o.forced[deviceID]
	return prev, rules, dirty, forced, havePrev
}

func (o *Orchestrator) setInstalled(deviceID string, d domain.Decision, rules []domain.ForwardingRule, dirty bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lastDecision[deviceID] = d
	o.lastRules[deviceID] = rules
	if dirty {
		o.dirty[deviceID] = true
	} else {
		delete(o.dirty, deviceID)
	}
	delete(o.forced, deviceID)
}

// noteForced records a fail-closed install. The forced rule joins the
// bookkeeping alongside whatever was installed before, because either
// may be on the switch when resync cleans up.
func (o *Orchestrator) noteForced(deviceID string, d domain.Decision, rule domain.ForwardingRule) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lastDecision[deviceID] = d
	replaced := false
	for i, r := range o.lastRules[deviceID] {
		if r.RuleID == rule.RuleID {
			o.lastRules[deviceID][i] = rule
			replaced = true
			break
		}
	}
	if !replaced {
		o.lastRules[deviceID] = append(o.lastRules[deviceID], rule)
	}
	o.dirty[deviceID] = true
	o.forced[deviceID] = true
}

func (o *Orchestrator) markDirty(deviceID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dirty[deviceID] = true
}

// forget clears the decision and alert history of a reinstated device
// but keeps its rule bookkeeping, so the quarantine drop still on the
// switch is removed once the fresh decision installs.
func (o *Orchestrator) forget(deviceID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.lastDecision, deviceID)
	delete(o.forced, deviceID)
	delete(o.alerts, deviceID)
	o.dirty[deviceID] = true
}

func shardOf(deviceID string, shards int) int {
	h := fnv.New32a()
	h.Write([]byte(deviceID))
	return int(h.Sum32() % uint32(shards))
}

func equalRules(a, b []domain.ForwardingRule) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// observationRule admits all of a profiling device's traffic so its
// baseline can form.
func observationRule(dev *domain.Device) domain.ForwardingRule {
	return domain.ForwardingRule{
		RuleID:   "obs-" + dev.DeviceID,
		Match:    domain.Match{EthSrc: domain.NormalizeMAC(dev.MAC)},
		Action:   domain.RuleAllow,
		Priority: PriorityObservation,
	}
}

// redirectRule steers all of a device's traffic to the honeypot port.
func redirectRule(dev *domain.Device, honeypotPort int) domain.ForwardingRule {
	return domain.ForwardingRule{
		RuleID:   "red-" + dev.DeviceID,
		Match:    domain.Match{EthSrc: domain.NormalizeMAC(dev.MAC)},
		Action:   domain.RuleRedirect,
		OutPort:  honeypotPort,
		Priority: PriorityRedirect,
	}
}

// denyRule drops all of a device's traffic.
func denyRule(dev *domain.Device) domain.ForwardingRule {
	return domain.ForwardingRule{
		RuleID:   "deny-" + dev.DeviceID,
		Match:    domain.Match{EthSrc: domain.NormalizeMAC(dev.MAC)},
		Action:   domain.RuleDeny,
		Priority: PriorityDeny,
	}
}

// quarantineRule drops all of a device's traffic at the top of the
// table, above any mitigation or policy rule that could shadow it.
func quarantineRule(dev *domain.Device) domain.ForwardingRule {
	return domain.ForwardingRule{
		RuleID:   "quar-" + dev.DeviceID,
		Match:    domain.Match{EthSrc: domain.NormalizeMAC(dev.MAC)},
		Action:   domain.RuleDeny,
		Priority: PriorityQuarantine,
	}
}

// policyRules translates the device's stored policy verbatim, scoping
// every match to the device's MAC. Rule IDs are positional, so a
// replaced policy with fewer rules leaves removable stale IDs behind.
func policyRules(dev *domain.Device, pol *domain.Policy, honeypotPort int) []domain.ForwardingRule {
	mac := domain.NormalizeMAC(dev.MAC)
	rules := make([]domain.ForwardingRule, 0, len(pol.Rules))
	for i, r := range pol.Rules {
		match := r.Match
		match.EthSrc = mac
		fr := domain.ForwardingRule{
			RuleID:   fmt.Sprintf("dev-%s-%d", dev.DeviceID, i),
			Match:    match,
			Action:   r.Action,
			Priority: r.Priority,
		}
		if r.Action == domain.RuleRedirect {
			fr.OutPort = honeypotPort
		}
		rules = append(rules, fr)
	}
	return rules
}
