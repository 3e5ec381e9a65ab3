package onboarding

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lcalzada-xor/ztcore/internal/adapters/storage"
	"github.com/lcalzada-xor/ztcore/internal/core/domain"
	"github.com/lcalzada-xor/ztcore/internal/core/ports"
	"github.com/lcalzada-xor/ztcore/internal/core/services/baseline"
	"github.com/lcalzada-xor/ztcore/internal/core/services/ca"
	"github.com/lcalzada-xor/ztcore/internal/core/services/trust"
)

const testMAC = "aa:bb:cc:00:00:01"

// captureBus records published events so tests can assert on them.
type captureBus struct {
	mu     sync.Mutex
	events []domain.Event
}

func (b *captureBus) Publish(topic domain.Topic, payload interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, domain.Event{Topic: topic, Payload: payload})
}

func (b *captureBus) Subscribe(name string, topics ...domain.Topic) ports.Subscription {
	return nil
}

func (b *captureBus) DroppedCounts() map[string]int64 { return nil }

func (b *captureBus) statusChanges() []domain.DeviceStatusChanged {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.DeviceStatusChanged
	for _, e := range b.events {
		if sc, ok := e.Payload.(domain.DeviceStatusChanged); ok {
			out = append(out, sc)
		}
	}
	return out
}

func (b *captureBus) operatorAlerts() []domain.OperatorAlert {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.OperatorAlert
	for _, e := range b.events {
		if oa, ok := e.Payload.(domain.OperatorAlert); ok {
			out = append(out, oa)
		}
	}
	return out
}

func (b *captureBus) policyReplacements() []domain.PolicyReplaced {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.PolicyReplaced
	for _, e := range b.events {
		if pr, ok := e.Payload.(domain.PolicyReplaced); ok {
			out = append(out, pr)
		}
	}
	return out
}

type fixture struct {
	coord *Coordinator
	store *storage.SQLiteAdapter
	ca    *ca.Authority
	trust *trust.Service
	acc   *baseline.Accumulator
	bus   *captureBus
	clock *clockwork.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.NewSQLiteAdapter(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	authority, err := ca.NewAuthority(t.TempDir())
	require.NoError(t, err)

	clock := clockwork.NewFakeClockAt(time.Now())
	bus := &captureBus{}
	trustSvc := trust.NewService(store, bus, 70, [3]int{70, 50, 30}, 5, trust.WithClock(clock))
	acc := baseline.NewAccumulator(clock)

	coord := NewCoordinator(store, authority, trustSvc, acc, bus, nil, 300*time.Second, 5, clock)
	return &fixture{coord: coord, store: store, ca: authority, trust: trustSvc, acc: acc, bus: bus, clock: clock}
}

func (f *fixture) register(t *testing.T) *domain.Device {
	t.Helper()
	dev, err := f.coord.RegisterPending(context.Background(), testMAC, "", "camera")
	require.NoError(t, err)
	return dev
}

func (f *fixture) approve(t *testing.T, deviceID string) *domain.Device {
	t.Helper()
	dev, err := f.coord.Approve(context.Background(), deviceID, "looks legit")
	require.NoError(t, err)
	return dev
}

func (f *fixture) observe(n int, dstIP string, dstPort int) {
	for i := 0; i < n; i++ {
		f.coord.Observe(domain.PacketObservation{
			MAC:      testMAC,
			DstIP:    dstIP,
			DstPort:  dstPort,
			Protocol: "tcp",
			Size:     120,
		})
	}
}

func TestRegisterPending(t *testing.T) {
	f := newFixture(t)
	dev := f.register(t)

	assert.Equal(t, domain.StatusPending, dev.Status)
	assert.Equal(t, testMAC, dev.MAC)

	alerts := f.bus.operatorAlerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, domain.SeverityLow, alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, dev.DeviceID)

	history, err := f.store.DeviceHistory(context.Background(), dev.DeviceID, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "registered", history[0].Event)
}

func TestRegisterPending_DuplicateMAC(t *testing.T) {
	f := newFixture(t)
	f.register(t)

	_, err := f.coord.RegisterPending(context.Background(), testMAC, "", "camera")
	var dup *domain.DuplicateMACError
	require.ErrorAs(t, err, &dup)
}

func TestRegisterPending_RejectsMalformedInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.coord.RegisterPending(ctx, "not-a-mac", "", "camera")
	assert.ErrorContains(t, err, "invalid MAC")

	_, err = f.coord.RegisterPending(ctx, testMAC, "../../etc/passwd", "camera")
	assert.ErrorContains(t, err, "invalid device ID")

	devices, lerr := f.store.ListDevices(ctx)
	require.NoError(t, lerr)
	assert.Empty(t, devices, "rejected registrations must leave no rows")
}

func TestApprove(t *testing.T) {
	f := newFixture(t)
	dev := f.register(t)
	approved := f.approve(t, dev.DeviceID)

	assert.Equal(t, domain.StatusProfiling, approved.Status)
	assert.FileExists(t, approved.CertPath)
	assert.FileExists(t, approved.KeyPath)
	require.NotNil(t, approved.ProfilingStartedAt)
	assert.False(t, approved.OnboardedAt.IsZero())

	score, err := f.trust.Get(context.Background(), dev.DeviceID)
	require.NoError(t, err)
	assert.Equal(t, 70, score)

	// No baseline exists until the window is finalized.
	_, err = f.store.GetBaseline(context.Background(), dev.DeviceID)
	assert.True(t, domain.IsNotFound(err))

	changes := f.bus.statusChanges()
	require.Len(t, changes, 1)
	assert.Equal(t, domain.StatusPending, changes[0].Old)
	assert.Equal(t, domain.StatusProfiling, changes[0].New)

	// Profiling start is durable, so a restarted watcher can still
	// close the window.
	stored, err := f.store.GetDevice(context.Background(), dev.DeviceID)
	require.NoError(t, err)
	require.NotNil(t, stored.ProfilingStartedAt)
}

func TestApprove_NotPending(t *testing.T) {
	f := newFixture(t)
	dev := f.register(t)
	f.approve(t, dev.DeviceID)

	_, err := f.coord.Approve(context.Background(), dev.DeviceID, "again")
	assert.True(t, domain.IsConflict(err))
}

// failingCA refuses issuance; everything else is inert.
type failingCA struct{}

func (failingCA) Issue(ctx context.Context, deviceID, mac string) (*domain.CertificateRecord, error) {
	return nil, errors.New("hsm unreachable")
}

func (failingCA) Validate(ctx context.Context, device *domain.Device) domain.ValidationResult {
	return domain.ValidationResult{Valid: false, Reason: domain.ReasonUnknownIssuer}
}

func (failingCA) Revoke(ctx context.Context, deviceID, reason string) error { return nil }

func (failingCA) Revocations(ctx context.Context) ([]domain.RevocationEntry, error) {
	return nil, nil
}

func (failingCA) RootCertPEM() []byte { return nil }

func TestApprove_CertIssuanceFailureStaysPending(t *testing.T) {
	f := newFixture(t)
	dev := f.register(t)

	coord := NewCoordinator(f.store, failingCA{}, f.trust, f.acc, f.bus, nil, 300*time.Second, 5, f.clock)
	_, err := coord.Approve(context.Background(), dev.DeviceID, "try")
	require.Error(t, err)

	stored, err := f.store.GetDevice(context.Background(), dev.DeviceID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, stored.Status)

	alerts := f.bus.operatorAlerts()
	require.Len(t, alerts, 2) // registration + failure
	assert.Equal(t, domain.SeverityMedium, alerts[1].Severity)

	history, err := f.store.DeviceHistory(context.Background(), dev.DeviceID, 10)
	require.NoError(t, err)
	assert.Equal(t, "approve_failed", history[0].Event)
}

func TestReject(t *testing.T) {
	f := newFixture(t)
	dev := f.register(t)

	require.NoError(t, f.coord.Reject(context.Background(), dev.DeviceID, "unknown vendor"))

	stored, err := f.store.GetDevice(context.Background(), dev.DeviceID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRevoked, stored.Status)
	assert.Empty(t, stored.CertPath)
}

func TestReject_OnlyPending(t *testing.T) {
	f := newFixture(t)
	dev := f.register(t)
	f.approve(t, dev.DeviceID)

	err := f.coord.Reject(context.Background(), dev.DeviceID, "late")
	assert.True(t, domain.IsConflict(err))
}

func TestFinalize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dev := f.register(t)
	f.approve(t, dev.DeviceID)

	f.observe(100, "10.0.0.10", 443)
	f.clock.Advance(300 * time.Second)

	require.NoError(t, f.coord.Finalize(ctx, dev.DeviceID))

	stored, err := f.store.GetDevice(ctx, dev.DeviceID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, stored.Status)

	b, err := f.store.GetBaseline(ctx, dev.DeviceID)
	require.NoError(t, err)
	assert.False(t, b.Sparse)
	assert.Greater(t, b.AvgBPS, 0.0)
	assert.Equal(t, []string{"10.0.0.10"}, b.DstIPs)
	assert.Equal(t, []int{443}, b.DstPorts)
	assert.Equal(t, []string{"tcp"}, b.Protocols)

	policy, err := f.store.GetPolicy(ctx, dev.DeviceID)
	require.NoError(t, err)
	require.Len(t, policy.Rules, 3)
	assert.Equal(t, domain.PolicyRule{Match: domain.Match{DstIP: "10.0.0.10"}, Action: domain.RuleAllow, Priority: 100}, policy.Rules[0])
	assert.Equal(t, domain.PolicyRule{Match: domain.Match{DstPort: 443}, Action: domain.RuleAllow, Priority: 100}, policy.Rules[1])
	assert.True(t, policy.EndsWithDefaultDeny())

	require.Len(t, f.bus.policyReplacements(), 1)
	changes := f.bus.statusChanges()
	require.Len(t, changes, 2)
	assert.Equal(t, domain.StatusActive, changes[1].New)
}

func TestFinalize_SparseBelowMinPackets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dev := f.register(t)
	f.approve(t, dev.DeviceID)

	f.observe(2, "10.0.0.10", 443)
	f.clock.Advance(300 * time.Second)

	require.NoError(t, f.coord.Finalize(ctx, dev.DeviceID))

	b, err := f.store.GetBaseline(ctx, dev.DeviceID)
	require.NoError(t, err)
	assert.True(t, b.Sparse)

	policy, err := f.store.GetPolicy(ctx, dev.DeviceID)
	require.NoError(t, err)
	assert.Len(t, policy.Rules, 3) // the two observed allows still count
}

func TestFinalize_NoObservationsYieldsDenyOnlyPolicy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dev := f.register(t)
	f.approve(t, dev.DeviceID)
	f.clock.Advance(300 * time.Second)

	require.NoError(t, f.coord.Finalize(ctx, dev.DeviceID))

	policy, err := f.store.GetPolicy(ctx, dev.DeviceID)
	require.NoError(t, err)
	require.Len(t, policy.Rules, 1)
	assert.Equal(t, domain.DefaultDenyRule(), policy.Rules[0])
}

func TestFinalize_RequiresProfiling(t *testing.T) {
	f := newFixture(t)
	dev := f.register(t)

	err := f.coord.Finalize(context.Background(), dev.DeviceID)
	assert.True(t, domain.IsConflict(err))
}

func TestRevoke(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dev := f.register(t)
	f.approve(t, dev.DeviceID)
	f.observe(10, "10.0.0.10", 443)
	f.clock.Advance(300 * time.Second)
	require.NoError(t, f.coord.Finalize(ctx, dev.DeviceID))

	require.NoError(t, f.coord.Revoke(ctx, dev.DeviceID, "sold on ebay"))

	stored, err := f.store.GetDevice(ctx, dev.DeviceID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRevoked, stored.Status)

	_, err = f.store.GetBaseline(ctx, dev.DeviceID)
	assert.True(t, domain.IsNotFound(err))
	_, err = f.store.GetPolicy(ctx, dev.DeviceID)
	assert.True(t, domain.IsNotFound(err))

	revs, err := f.ca.Revocations(ctx)
	require.NoError(t, err)
	require.Len(t, revs, 1)
	assert.Equal(t, dev.DeviceID, revs[0].DeviceID)
}

func TestRevoke_PendingDeviceHasNoCertificate(t *testing.T) {
	f := newFixture(t)
	dev := f.register(t)

	require.NoError(t, f.coord.Revoke(context.Background(), dev.DeviceID, "never approved"))

	revs, err := f.ca.Revocations(context.Background())
	require.NoError(t, err)
	assert.Empty(t, revs)
}

func TestRevoke_AlreadyRevoked(t *testing.T) {
	f := newFixture(t)
	dev := f.register(t)
	require.NoError(t, f.coord.Revoke(context.Background(), dev.DeviceID, "first"))

	err := f.coord.Revoke(context.Background(), dev.DeviceID, "second")
	assert.True(t, domain.IsConflict(err))
}

func TestReinstate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dev := f.register(t)
	f.approve(t, dev.DeviceID)
	f.clock.Advance(300 * time.Second)
	require.NoError(t, f.coord.Finalize(ctx, dev.DeviceID))

	// Walk the device into quarantine the way the orchestrator would.
	_, err := f.trust.Adjust(ctx, dev.DeviceID, -50, "honeypot_hit:high")
	require.NoError(t, err)
	require.NoError(t, f.store.SetStatus(ctx, dev.DeviceID, domain.StatusQuarantined))

	require.NoError(t, f.coord.Reinstate(ctx, dev.DeviceID, "firmware reflashed"))

	stored, err := f.store.GetDevice(ctx, dev.DeviceID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, stored.Status)

	score, err := f.trust.Get(ctx, dev.DeviceID)
	require.NoError(t, err)
	assert.Equal(t, domain.TrustInitial, score)

	history, err := f.store.DeviceHistory(ctx, dev.DeviceID, 10)
	require.NoError(t, err)
	assert.Equal(t, "reinstated", history[0].Event)
}

func TestReinstate_RefusesRevokedCertificate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dev := f.register(t)
	f.approve(t, dev.DeviceID)
	f.clock.Advance(300 * time.Second)
	require.NoError(t, f.coord.Finalize(ctx, dev.DeviceID))

	require.NoError(t, f.ca.Revoke(ctx, dev.DeviceID, "compromised"))
	require.NoError(t, f.store.SetStatus(ctx, dev.DeviceID, domain.StatusQuarantined))

	err := f.coord.Reinstate(ctx, dev.DeviceID, "please come back")
	var attest *domain.AttestationFailedError
	require.ErrorAs(t, err, &attest)
	assert.Equal(t, domain.ReasonRevoked, attest.Reason)

	stored, err := f.store.GetDevice(ctx, dev.DeviceID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusQuarantined, stored.Status, "a refused reinstate changes nothing")
}

// withdrawRecorder captures mitigation withdrawals handed to the sink.
type withdrawRecorder struct {
	mu        sync.Mutex
	withdrawn []domain.MitigationRule
}

func (r *withdrawRecorder) SubmitMitigation(ctx context.Context, rule domain.MitigationRule) error {
	return nil
}

func (r *withdrawRecorder) WithdrawMitigation(ctx context.Context, rule domain.MitigationRule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.withdrawn = append(r.withdrawn, rule)
	return nil
}

func TestReinstate_ClearsOwnThreatIntel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dev := f.register(t)
	f.approve(t, dev.DeviceID)
	f.clock.Advance(300 * time.Second)
	require.NoError(t, f.coord.Finalize(ctx, dev.DeviceID))

	// The device attacked the honeypot: its address carries a threat
	// row and a permanent deny mitigation.
	stored, err := f.store.GetDevice(ctx, dev.DeviceID)
	require.NoError(t, err)
	stored.IP = "192.168.1.23"
	require.NoError(t, f.store.UpdateDevice(ctx, stored))
	require.NoError(t, f.store.UpsertThreat(ctx, &domain.Threat{
		SourceIP:  "192.168.1.23",
		Severity:  domain.SeverityHigh,
		FirstSeen: f.clock.Now(),
		LastSeen:  f.clock.Now(),
	}))
	require.NoError(t, f.store.SaveMitigation(ctx, &domain.MitigationRule{
		ID:        "mit-192-168-1-23",
		Match:     domain.Match{SrcIP: "192.168.1.23"},
		Action:    domain.RuleDeny,
		Priority:  200,
		SourceIP:  "192.168.1.23",
		Permanent: true,
	}))
	require.NoError(t, f.store.SetStatus(ctx, dev.DeviceID, domain.StatusQuarantined))

	sink := &withdrawRecorder{}
	coord := NewCoordinator(f.store, f.ca, f.trust, f.acc, f.bus, sink, 300*time.Second, 5, f.clock)
	require.NoError(t, coord.Reinstate(ctx, dev.DeviceID, "reflashed"))

	_, err = f.store.GetThreat(ctx, "192.168.1.23")
	assert.True(t, domain.IsNotFound(err))
	_, err = f.store.GetMitigationBySource(ctx, "192.168.1.23")
	assert.True(t, domain.IsNotFound(err))
	require.Len(t, sink.withdrawn, 1)
	assert.Equal(t, "mit-192-168-1-23", sink.withdrawn[0].ID)
}

func TestReinstate_RequiresQuarantine(t *testing.T) {
	f := newFixture(t)
	dev := f.register(t)

	err := f.coord.Reinstate(context.Background(), dev.DeviceID, "nothing to do")
	assert.True(t, domain.IsConflict(err))
}
