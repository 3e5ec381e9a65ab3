package flow

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
)

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

func (b *captureBus) samples() []domain.FlowSample {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.FlowSample
	for _, e := range b.events {
		if s, ok := e.Payload.(domain.FlowSample); ok {
			out = append(out, s)
		}
	}
	return out
}

func (b *captureBus) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = nil
}

type fakeSwitch struct {
	mu      sync.Mutex
	entries []domain.SwitchFlowEntry
	err     error
}

func (f *fakeSwitch) set(entries []domain.SwitchFlowEntry, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = entries
	f.err = err
}

func (f *fakeSwitch) InstallRule(ctx context.Context, rule domain.ForwardingRule) error { return nil }
func (f *fakeSwitch) RemoveRule(ctx context.Context, ruleID string) error              { return nil }
func (f *fakeSwitch) ListRules(ctx context.Context) ([]domain.ForwardingRule, error)   { return nil, nil }
func (f *fakeSwitch) RecordObservation(fn ports.ObservationFunc)                       {}
func (f *fakeSwitch) Healthy() bool                                                    { return true }

func (f *fakeSwitch) FlowStats(ctx context.Context) ([]domain.SwitchFlowEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.entries, f.err
}

type fixture struct {
	poller *Poller
	store  *storage.SQLiteAdapter
	sw     *fakeSwitch
	bus    *captureBus
	clock  *clockwork.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.NewSQLiteAdapter(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	clock := clockwork.NewFakeClockAt(time.Now())
	sw := &fakeSwitch{}
	bus := &captureBus{}
	return &fixture{
		poller: NewPoller(store, sw, bus, clock),
		store:  store,
		sw:     sw,
		bus:    bus,
		clock:  clock,
	}
}

func (f *fixture) addDevice(t *testing.T, mac string, status domain.DeviceStatus) *domain.Device {
	t.Helper()
	dev, err := f.store.RegisterPending(context.Background(), mac, "", "camera")
	require.NoError(t, err)
	if status != domain.StatusPending {
		require.NoError(t, f.store.SetStatus(context.Background(), dev.DeviceID, status))
	}
	return dev
}

func TestPoll_FirstCycleSeedsWithZeroSample(t *testing.T) {
	f := newFixture(t)
	f.addDevice(t, "aa:bb:cc:dd:ee:ff", domain.StatusActive)
	f.sw.set([]domain.SwitchFlowEntry{{MAC: "aa:bb:cc:dd:ee:ff", Packets: 5000, Bytes: 100000}}, nil)

	require.NoError(t, f.poller.Poll(context.Background()))

	samples := f.bus.samples()
	require.Len(t, samples, 1)
	assert.Zero(t, samples[0].Stats.Packets)
	assert.Zero(t, samples[0].Stats.PPS)
}

func TestPoll_ComputesDeltaRates(t *testing.T) {
	f := newFixture(t)
	dev := f.addDevice(t, "aa:bb:cc:dd:ee:ff", domain.StatusActive)

	f.sw.set([]domain.SwitchFlowEntry{{MAC: "aa:bb:cc:dd:ee:ff", Packets: 1000, Bytes: 50000}}, nil)
	require.NoError(t, f.poller.Poll(context.Background()))
	f.bus.reset()

	f.clock.Advance(10 * time.Second)
	f.sw.set([]domain.SwitchFlowEntry{{
		MAC:      "aa:bb:cc:dd:ee:ff",
		Packets:  1500,
		Bytes:    100000,
		DstIPs:   []string{"192.168.1.10", "192.168.1.11"},
		DstPorts: []int{443},
		Protos:   []string{"tcp"},
	}}, nil)
	require.NoError(t, f.poller.Poll(context.Background()))

	samples := f.bus.samples()
	require.Len(t, samples, 1)
	s := samples[0]
	assert.Equal(t, dev.DeviceID, s.DeviceID)
	assert.Equal(t, uint64(500), s.Stats.Packets)
	assert.Equal(t, uint64(50000), s.Stats.Bytes)
	assert.InDelta(t, 50.0, s.Stats.PPS, 0.001)
	assert.InDelta(t, 5000.0, s.Stats.BPS, 0.001)
	assert.Equal(t, 2, s.Stats.UniqueDstIPs)
	assert.Equal(t, 1, s.Stats.UniqueDstPorts)
	assert.Equal(t, []string{"tcp"}, s.Stats.Protocols)
	assert.InDelta(t, 10.0, s.Stats.WindowSeconds, 0.001)
}

func TestPoll_UnreportedDeviceYieldsZeroSample(t *testing.T) {
	f := newFixture(t)
	f.addDevice(t, "aa:bb:cc:dd:ee:ff", domain.StatusActive)
	f.sw.set(nil, nil)

	require.NoError(t, f.poller.Poll(context.Background()))

	samples := f.bus.samples()
	require.Len(t, samples, 1)
	assert.Zero(t, samples[0].Stats.Packets)
}

func TestPoll_SwitchErrorIsAZeroCycleNotAFailure(t *testing.T) {
	f := newFixture(t)
	f.addDevice(t, "aa:bb:cc:dd:ee:ff", domain.StatusActive)

	// Seed real counters, then lose the switch.
	f.sw.set([]domain.SwitchFlowEntry{{MAC: "aa:bb:cc:dd:ee:ff", Packets: 1000, Bytes: 50000}}, nil)
	require.NoError(t, f.poller.Poll(context.Background()))
	f.bus.reset()

	f.clock.Advance(10 * time.Second)
	f.sw.set(nil, errors.New("connection refused"))
	require.NoError(t, f.poller.Poll(context.Background()))
	require.Len(t, f.bus.samples(), 1)
	assert.Zero(t, f.bus.samples()[0].Stats.Packets)
	f.bus.reset()

	// Recovery must diff against the pre-outage counters, not zero.
	f.clock.Advance(10 * time.Second)
	f.sw.set([]domain.SwitchFlowEntry{{MAC: "aa:bb:cc:dd:ee:ff", Packets: 1200, Bytes: 60000}}, nil)
	require.NoError(t, f.poller.Poll(context.Background()))

	samples := f.bus.samples()
	require.Len(t, samples, 1)
	assert.Equal(t, uint64(200), samples[0].Stats.Packets)
}

func TestPoll_CounterResetRestartsFromZero(t *testing.T) {
	f := newFixture(t)
	f.addDevice(t, "aa:bb:cc:dd:ee:ff", domain.StatusActive)

	f.sw.set([]domain.SwitchFlowEntry{{MAC: "aa:bb:cc:dd:ee:ff", Packets: 1000, Bytes: 50000}}, nil)
	require.NoError(t, f.poller.Poll(context.Background()))
	f.bus.reset()

	f.clock.Advance(10 * time.Second)
	f.sw.set([]domain.SwitchFlowEntry{{MAC: "aa:bb:cc:dd:ee:ff", Packets: 200, Bytes: 8000}}, nil)
	require.NoError(t, f.poller.Poll(context.Background()))

	samples := f.bus.samples()
	require.Len(t, samples, 1)
	assert.Equal(t, uint64(200), samples[0].Stats.Packets)
	assert.Equal(t, uint64(8000), samples[0].Stats.Bytes)
}

func TestPoll_ActivityUpdatesLastSeen(t *testing.T) {
	f := newFixture(t)
	dev := f.addDevice(t, "aa:bb:cc:dd:ee:ff", domain.StatusActive)

	f.sw.set([]domain.SwitchFlowEntry{{MAC: "aa:bb:cc:dd:ee:ff", Packets: 1000}}, nil)
	require.NoError(t, f.poller.Poll(context.Background()))

	f.clock.Advance(10 * time.Second)
	f.sw.set([]domain.SwitchFlowEntry{{MAC: "aa:bb:cc:dd:ee:ff", Packets: 1100}}, nil)
	require.NoError(t, f.poller.Poll(context.Background()))

	got, err := f.store.GetDevice(context.Background(), dev.DeviceID)
	require.NoError(t, err)
	assert.WithinDuration(t, f.clock.Now(), got.LastSeen, time.Second)
}

func TestPoll_SkipsPendingAndRevoked(t *testing.T) {
	f := newFixture(t)
	f.addDevice(t, "aa:bb:cc:dd:ee:01", domain.StatusPending)
	f.addDevice(t, "aa:bb:cc:dd:ee:02", domain.StatusRevoked)
	active := f.addDevice(t, "aa:bb:cc:dd:ee:03", domain.StatusActive)
	f.sw.set(nil, nil)

	require.NoError(t, f.poller.Poll(context.Background()))

	samples := f.bus.samples()
	require.Len(t, samples, 1)
	assert.Equal(t, active.DeviceID, samples[0].DeviceID)
}
