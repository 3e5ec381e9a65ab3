// Package tests wires the full service graph together the way the
// application does and drives it end to end: real SQLite stores, the
// real bus with its worker loops, the embedded CA and the memory switch
// behind the reconnecting manager. Only the clock is fake.
package tests

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	auditrepo "github.com/lcalzada-xor/ztcore/internal/adapters/audit"
	"github.com/lcalzada-xor/ztcore/internal/adapters/storage"
	"github.com/lcalzada-xor/ztcore/internal/adapters/switching"
	"github.com/lcalzada-xor/ztcore/internal/bus"
	"github.com/lcalzada-xor/ztcore/internal/core/domain"
	"github.com/lcalzada-xor/ztcore/internal/core/services/anomaly"
	"github.com/lcalzada-xor/ztcore/internal/core/services/attestation"
	auditsvc "github.com/lcalzada-xor/ztcore/internal/core/services/audit"
	"github.com/lcalzada-xor/ztcore/internal/core/services/baseline"
	"github.com/lcalzada-xor/ztcore/internal/core/services/ca"
	"github.com/lcalzada-xor/ztcore/internal/core/services/honeypot"
	"github.com/lcalzada-xor/ztcore/internal/core/services/mitigation"
	"github.com/lcalzada-xor/ztcore/internal/core/services/onboarding"
	"github.com/lcalzada-xor/ztcore/internal/core/services/orchestrator"
	"github.com/lcalzada-xor/ztcore/internal/core/services/trust"
)

const (
	profilingWindow     = 300 * time.Second
	profilingMinPackets = 5
	anomalyWindow       = 60 * time.Second
	attestationInterval = 300 * time.Second
	threatTTL           = 24 * time.Hour
	honeypotPort        = 7
	trustHysteresis     = 5

	convergeWait = 3 * time.Second
	convergeTick = 10 * time.Millisecond
)

var trustThresholds = [3]int{70, 50, 30}

// countingDriver wraps the memory switch and counts installs per rule
// ID, so "installed exactly once" is checkable after a resync.
type countingDriver struct {
	*switching.MemorySwitch
	mu       sync.Mutex
	installs map[string]int
}

func newCountingDriver() *countingDriver {
	return &countingDriver{
		MemorySwitch: switching.NewMemorySwitch(),
		installs:     make(map[string]int),
	}
}

func (d *countingDriver) InstallRule(ctx context.Context, rule domain.ForwardingRule) error {
	d.mu.Lock()
	d.installs[rule.RuleID]++
	d.mu.Unlock()
	return d.MemorySwitch.InstallRule(ctx, rule)
}

func (d *countingDriver) installCount(ruleID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.installs[ruleID]
}

// coreFixture is one running policy core over a temp directory.
type coreFixture struct {
	t   *testing.T
	dir string

	clock     *clockwork.FakeClock
	bus       *bus.Bus
	store     *storage.SQLiteAdapter
	repo      *auditrepo.SQLiteRepository
	authority *ca.Authority
	sw        *countingDriver
	mgr       *switching.Manager

	trust       *trust.Service
	acc         *baseline.Accumulator
	baselines   *baseline.Service
	coord       *onboarding.Coordinator
	watcher     *onboarding.Watcher
	detector    *anomaly.Detector
	attestation *attestation.Loop
	honeypot    *honeypot.Service
	mitigations *mitigation.Generator
	orch        *orchestrator.Orchestrator
	audit       *auditsvc.AuditService

	cancel context.CancelFunc
}

func newCore(t *testing.T) *coreFixture {
	return newCoreAt(t, t.TempDir(), nil)
}

// newCoreAt builds and starts a core over dir. Passing the previous
// fixture's clock keeps certificate validity windows coherent across a
// simulated restart.
func newCoreAt(t *testing.T, dir string, clk *clockwork.FakeClock) *coreFixture {
	t.Helper()

	if clk == nil {
		clk = clockwork.NewFakeClockAt(time.Now())
	}

	store, err := storage.NewSQLiteAdapter(filepath.Join(dir, "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	repo, err := auditrepo.NewSQLiteRepository(filepath.Join(dir, "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	authority, err := ca.NewAuthority(filepath.Join(dir, "ca"), ca.WithClock(clk))
	require.NoError(t, err)

	eventBus := bus.New(bus.DefaultQueueSize)
	t.Cleanup(eventBus.Close)

	sw := newCountingDriver()
	mgr := switching.NewManager(sw, switching.WithClock(clk))

	tr := trust.NewService(store, eventBus, domain.TrustInitial, trustThresholds, trustHysteresis,
		trust.WithClock(clk))
	acc := baseline.NewAccumulator(clk)
	baselines := baseline.NewService(store, 0.1, clk)
	auditSvc := auditsvc.NewAuditService(repo)

	orch := orchestrator.NewOrchestrator(store, mgr, tr, auditSvc, eventBus, honeypotPort,
		orchestrator.WithClock(clk),
		orchestrator.WithBackoff(0),
	)

	coord := onboarding.NewCoordinator(store, authority, tr, acc, eventBus, orch,
		profilingWindow, profilingMinPackets, clk)
	finalizer := onboarding.NewWatcher(store, coord, profilingWindow, clk)

	det := anomaly.NewDetector(baselines, tr, eventBus, anomalyWindow, clk)
	att := attestation.NewLoop(store, authority, tr, eventBus, attestationInterval, clk)
	hp := honeypot.NewService(store, tr, eventBus, threatTTL, clk)
	mit := mitigation.NewGenerator(store, orch, clk)

	mgr.RecordObservation(coord.Observe)
	mgr.OnReconnect(func() {
		rctx, rcancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer rcancel()
		require.NoError(t, orch.ResyncAll(rctx))
		require.NoError(t, mit.Resync(rctx))
	})

	f := &coreFixture{
		t:           t,
		dir:         dir,
		clock:       clk,
		bus:         eventBus,
		store:       store,
		repo:        repo,
		authority:   authority,
		sw:          sw,
		mgr:         mgr,
		trust:       tr,
		acc:         acc,
		baselines:   baselines,
		coord:       coord,
		watcher:     finalizer,
		detector:    det,
		attestation: att,
		honeypot:    hp,
		mitigations: mit,
		orch:        orch,
		audit:       auditSvc,
	}
	f.start()
	return f
}

// start launches the event-driven workers and connects the switch.
// Subscriptions go live before the connect so the resync it triggers is
// observed in full, same as the application's startup order.
func (f *coreFixture) start() {
	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	f.t.Cleanup(cancel)

	go f.orch.Run(ctx, f.bus.Subscribe("orchestrator",
		domain.TopicTrustChanged, domain.TopicAlert, domain.TopicThreatUpdated,
		domain.TopicPolicyReplace, domain.TopicDeviceStatus))
	go f.detector.Run(ctx, f.bus.Subscribe("anomaly", domain.TopicFlowSample))
	go f.attestation.Run(ctx, f.bus.Subscribe("attestation", domain.TopicFlowSample))
	go f.mitigations.Run(ctx, f.bus.Subscribe("mitigation", domain.TopicThreatUpdated))

	require.NoError(f.t, f.mgr.Connect(ctx))
}

// restart tears the running core down and brings a fresh one up over
// the same directory, as a process restart would.
func (f *coreFixture) restart() *coreFixture {
	f.t.Helper()
	f.cancel()
	time.Sleep(50 * time.Millisecond) // let workers drain before the files close
	f.bus.Close()
	f.store.Close()
	f.repo.Close()
	return newCoreAt(f.t, f.dir, f.clock)
}

// onboard walks a device through the full admission path: register,
// approve, profile against one destination, finalize, converge to
// ALLOW. Observations run through the switch adapter's fan-out exactly
// like capture traffic.
func (f *coreFixture) onboard(id, mac string) *domain.Device {
	f.t.Helper()
	ctx := context.Background()

	_, err := f.coord.RegisterPending(ctx, mac, id, "camera")
	require.NoError(f.t, err)
	_, err = f.coord.Approve(ctx, id, "lab admission")
	require.NoError(f.t, err)

	for i := 0; i < 100; i++ {
		f.mgr.Observe(domain.PacketObservation{
			MAC:       mac,
			DstIP:     "10.0.0.10",
			DstPort:   443,
			Protocol:  "tcp",
			Size:      120,
			Timestamp: f.clock.Now(),
		})
	}

	f.clock.Advance(profilingWindow)
	require.NoError(f.t, f.watcher.Sweep(ctx))
	f.waitDecision(id, domain.DecisionAllow)

	dev, err := f.store.GetDevice(ctx, id)
	require.NoError(f.t, err)
	return dev
}

func (f *coreFixture) waitDecision(id string, want domain.Decision) {
	f.t.Helper()
	require.Eventually(f.t, func() bool {
		return f.orch.CurrentDecision(id) == want
	}, convergeWait, convergeTick, "device %s never converged to %s", id, want)
}

func (f *coreFixture) waitRule(ruleID string) domain.ForwardingRule {
	f.t.Helper()
	require.Eventually(f.t, func() bool {
		_, ok := f.sw.Rule(ruleID)
		return ok
	}, convergeWait, convergeTick, "rule %s never reached the switch", ruleID)
	rule, _ := f.sw.Rule(ruleID)
	return rule
}

func (f *coreFixture) waitRuleGone(ruleID string) {
	f.t.Helper()
	require.Eventually(f.t, func() bool {
		_, ok := f.sw.Rule(ruleID)
		return !ok
	}, convergeWait, convergeTick, "rule %s never left the switch", ruleID)
}

// macRules lists the installed rule IDs scoped to one device MAC.
func (f *coreFixture) macRules(mac string) []string {
	f.t.Helper()
	rules, err := f.sw.MemorySwitch.ListRules(context.Background())
	require.NoError(f.t, err)
	var ids []string
	for _, r := range rules {
		if r.Match.EthSrc == domain.NormalizeMAC(mac) {
			ids = append(ids, r.RuleID)
		}
	}
	return ids
}

func (f *coreFixture) score(id string) int {
	f.t.Helper()
	score, err := f.trust.Get(context.Background(), id)
	require.NoError(f.t, err)
	return score
}

// publishSample injects one flow sample on the bus, standing in for a
// poller cycle.
func (f *coreFixture) publishSample(id, mac string, stats domain.FlowStats) {
	f.bus.Publish(domain.TopicFlowSample, domain.FlowSample{
		DeviceID:  id,
		MAC:       mac,
		Stats:     stats,
		Timestamp: f.clock.Now(),
	})
}

// portScanStats is a window that trips the port-scan rule (15 unique
// ports against a single-port baseline) and the low DoS tier (3x the
// baseline packet rate), nothing else.
func portScanStats() domain.FlowStats {
	return domain.FlowStats{
		Packets:        60,
		Bytes:          2400,
		PPS:            1.0,
		BPS:            40,
		UniqueDstIPs:   1,
		UniqueDstPorts: 15,
		WindowSeconds:  60,
	}
}
