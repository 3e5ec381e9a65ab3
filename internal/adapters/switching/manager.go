package switching

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lcalzada-xor/ztcore/internal/core/domain"
	"github.com/lcalzada-xor/ztcore/internal/core/ports"
	"github.com/lcalzada-xor/ztcore/internal/telemetry"
)

// Manager fronts a southbound Driver with reconnection and write
// queueing. While the session is up, writes go straight through; while
// it is down, installs and removals are parked and replayed in order on
// reconnect, so short switch outages stay invisible to callers. Once
// the queue limit or the disconnect budget is exceeded the outage stops
// being transient and writes fail with ErrSwitchUnavailable.
//
// Manager is the only component that talks to the driver; everything
// above it sees ports.SwitchControl.
type Manager struct {
	driver Driver
	clock  clockwork.Clock
	log    *slog.Logger

	opTimeout     time.Duration
	maxQueue      int
	maxDisconnect time.Duration

	mu        sync.Mutex
	connected bool
	downSince time.Time
	queue     []pendingOp

	obsMu  sync.RWMutex
	obsFns []ports.ObservationFunc

	upMu sync.Mutex
	onUp []func()
}

var _ ports.SwitchControl = (*Manager)(nil)

// pendingOp is one parked write. Exactly one of rule/ruleID is set.
type pendingOp struct {
	install bool
	rule    domain.ForwardingRule
	ruleID  string
}

func (op pendingOp) id() string {
	if op.install {
		return op.rule.RuleID
	}
	return op.ruleID
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock injects a test clock.
func WithClock(c clockwork.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithLogger sets the manager's logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithQueueLimit caps how many writes may park during an outage.
func WithQueueLimit(n int) Option {
	return func(m *Manager) { m.maxQueue = n }
}

// WithDisconnectBudget caps how long an outage may last before writes
// surface ErrSwitchUnavailable.
func WithDisconnectBudget(d time.Duration) Option {
	return func(m *Manager) { m.maxDisconnect = d }
}

// WithOpTimeout bounds every driver call.
func WithOpTimeout(d time.Duration) Option {
	return func(m *Manager) { m.opTimeout = d }
}

// NewManager wraps driver. The manager starts disconnected; call
// Connect once at startup and schedule Reconnect periodically.
func NewManager(driver Driver, opts ...Option) *Manager {
	m := &Manager{
		driver:        driver,
		clock:         clockwork.NewRealClock(),
		log:           slog.Default(),
		opTimeout:     5 * time.Second,
		maxQueue:      1000,
		maxDisconnect: 60 * time.Second,
	}
	for _, opt := range opts {
		opt(m)
	}
	// The disconnect budget runs from construction until the first
	// successful Connect.
	m.downSince = m.clock.Now()
	return m
}

// Connect establishes the switch session and replays queued writes in
// their original order. Safe to call repeatedly.
func (m *Manager) Connect(ctx context.Context) error {
	cctx, cancel := context.WithTimeout(ctx, m.opTimeout)
	err := m.driver.Connect(cctx)
	cancel()
	if err != nil {
		return &domain.TransientError{Cause: err}
	}

	m.mu.Lock()
	wasDown := !m.connected
	m.connected = true
	m.downSince = time.Time{}
	queued := m.queue
	m.queue = nil
	m.mu.Unlock()
	telemetry.SwitchQueueDepth.Set(0)

	if len(queued) > 0 {
		m.log.Info("replaying queued switch writes", "driver", m.driver.Name(), "count", len(queued))
	}
	if !m.replay(ctx, queued) {
		return &domain.TransientError{Cause: errors.New("session lost during replay")}
	}

	if wasDown {
		m.log.Info("switch session established", "driver", m.driver.Name())
		m.notifyUp()
	}
	return nil
}

// Reconnect probes a down session once. Meant for the scheduler; a
// healthy session makes it a no-op.
func (m *Manager) Reconnect(ctx context.Context) error {
	m.mu.Lock()
	connected := m.connected
	m.mu.Unlock()
	if connected {
		return nil
	}
	return m.Connect(ctx)
}

// replay pushes parked writes through the live session. A transient
// failure mid-replay re-parks the remainder at the front and marks the
// session down again; rejected rules are logged and skipped. Reports
// whether the session survived.
func (m *Manager) replay(ctx context.Context, ops []pendingOp) bool {
	for i, op := range ops {
		var err error
		if op.install {
			err = m.callInstall(ctx, op.rule)
		} else {
			err = m.callRemove(ctx, op.ruleID)
		}
		if err == nil {
			if op.install {
				telemetry.RuleInstalls.WithLabelValues("ok").Inc()
			}
			continue
		}
		var rej *domain.SwitchRuleRejectedError
		if errors.As(err, &rej) {
			telemetry.RuleInstalls.WithLabelValues("rejected").Inc()
			m.log.Warn("queued rule rejected on replay", "rule_id", op.id(), "reason", rej.Reason)
			continue
		}
		m.markDown(err)
		m.requeueFront(ops[i:])
		return false
	}
	return true
}

// InstallRule installs or replaces a forwarding rule by its RuleID.
func (m *Manager) InstallRule(ctx context.Context, rule domain.ForwardingRule) error {
	if m.Healthy() {
		err := m.callInstall(ctx, rule)
		if err == nil {
			telemetry.RuleInstalls.WithLabelValues("ok").Inc()
			return nil
		}
		var rej *domain.SwitchRuleRejectedError
		if errors.As(err, &rej) {
			telemetry.RuleInstalls.WithLabelValues("rejected").Inc()
			return err
		}
		m.markDown(err)
	}
	return m.enqueue(pendingOp{install: true, rule: rule})
}

// RemoveRule deletes a rule. Removing an unknown rule is not an error.
func (m *Manager) RemoveRule(ctx context.Context, ruleID string) error {
	if m.Healthy() {
		err := m.callRemove(ctx, ruleID)
		if err == nil {
			return nil
		}
		var rej *domain.SwitchRuleRejectedError
		if errors.As(err, &rej) {
			return err
		}
		m.markDown(err)
	}
	return m.enqueue(pendingOp{ruleID: ruleID})
}

// ListRules returns the switch's installed rules. Unlike FlowStats this
// needs a live session: stale rule listings would feed the
// orchestrator's resync wrong data.
func (m *Manager) ListRules(ctx context.Context) ([]domain.ForwardingRule, error) {
	if !m.Healthy() {
		if m.exhausted() {
			return nil, domain.ErrSwitchUnavailable
		}
		return nil, &domain.TransientError{Cause: errors.New("switch session down")}
	}

	cctx, cancel := context.WithTimeout(ctx, m.opTimeout)
	defer cancel()
	rules, err := m.driver.ListRules(cctx)
	if err != nil {
		m.markDown(err)
		return nil, &domain.TransientError{Cause: err}
	}
	return rules, nil
}

// FlowStats returns cumulative per-MAC counters. A missing switch
// yields no entries, not an error: the flow poller treats silence as a
// zero cycle.
func (m *Manager) FlowStats(ctx context.Context) ([]domain.SwitchFlowEntry, error) {
	if !m.Healthy() {
		return nil, nil
	}

	cctx, cancel := context.WithTimeout(ctx, m.opTimeout)
	defer cancel()
	entries, err := m.driver.FlowStats(cctx)
	if err != nil {
		m.markDown(err)
		return nil, nil
	}
	return entries, nil
}

// RecordObservation registers fn for packet summaries. Sources push
// through Observe.
func (m *Manager) RecordObservation(fn ports.ObservationFunc) {
	m.obsMu.Lock()
	defer m.obsMu.Unlock()
	m.obsFns = append(m.obsFns, fn)
}

// Observe fans one packet summary out to every registered callback.
// Capture sources (the memory switch, the sniffer, the flow agent) call
// this on their own goroutines; callbacks must not block.
func (m *Manager) Observe(obs domain.PacketObservation) {
	m.obsMu.RLock()
	fns := m.obsFns
	m.obsMu.RUnlock()
	for _, fn := range fns {
		fn(obs)
	}
}

// Healthy reports whether the switch session is up.
func (m *Manager) Healthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// QueueDepth reports how many writes are parked.
func (m *Manager) QueueDepth() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// OnReconnect registers fn to run after a session is established and
// the queue is drained. The orchestrator uses this to re-derive
// decisions that failed closed while the switch was away.
func (m *Manager) OnReconnect(fn func()) {
	m.upMu.Lock()
	defer m.upMu.Unlock()
	m.onUp = append(m.onUp, fn)
}

// Close releases the driver session.
func (m *Manager) Close() error {
	return m.driver.Close()
}

func (m *Manager) callInstall(ctx context.Context, rule domain.ForwardingRule) error {
	cctx, cancel := context.WithTimeout(ctx, m.opTimeout)
	defer cancel()
	return m.driver.InstallRule(cctx, rule)
}

func (m *Manager) callRemove(ctx context.Context, ruleID string) error {
	cctx, cancel := context.WithTimeout(ctx, m.opTimeout)
	defer cancel()
	return m.driver.RemoveRule(cctx, ruleID)
}

func (m *Manager) markDown(err error) {
	m.mu.Lock()
	wasUp := m.connected
	if wasUp {
		m.connected = false
		m.downSince = m.clock.Now()
	}
	m.mu.Unlock()
	if wasUp {
		m.log.Warn("switch session lost", "driver", m.driver.Name(), "error", err)
	}
}

// enqueue parks a write for replay. An install supersedes any queued
// write for the same rule ID, so a flapping decision costs one slot.
func (m *Manager) enqueue(op pendingOp) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.budgetExceededLocked() {
		telemetry.RuleInstalls.WithLabelValues("unavailable").Inc()
		return domain.ErrSwitchUnavailable
	}

	for i, q := range m.queue {
		if q.id() == op.id() {
			m.queue[i] = op
			telemetry.RuleInstalls.WithLabelValues("queued").Inc()
			return nil
		}
	}

	if len(m.queue) >= m.maxQueue {
		telemetry.RuleInstalls.WithLabelValues("unavailable").Inc()
		return domain.ErrSwitchUnavailable
	}
	m.queue = append(m.queue, op)
	telemetry.SwitchQueueDepth.Set(float64(len(m.queue)))
	telemetry.RuleInstalls.WithLabelValues("queued").Inc()
	return nil
}

// requeueFront puts writes that failed mid-replay back at the head of
// the queue. These were already accepted, so the queue cap does not
// apply to them; it only gates new writes.
func (m *Manager) requeueFront(ops []pendingOp) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(append([]pendingOp{}, ops...), m.queue...)
	telemetry.SwitchQueueDepth.Set(float64(len(m.queue)))
}

func (m *Manager) exhausted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.budgetExceededLocked()
}

func (m *Manager) budgetExceededLocked() bool {
	return !m.downSince.IsZero() && m.clock.Since(m.downSince) > m.maxDisconnect
}

func (m *Manager) notifyUp() {
	m.upMu.Lock()
	fns := m.onUp
	m.upMu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
