package baseline

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lcalzada-xor/ztcore/internal/adapters/storage"
	"github.com/lcalzada-xor/ztcore/internal/core/domain"
)

func observe(acc *Accumulator, mac, dstIP string, dstPort int, proto string, size int) {
	acc.Observe(domain.PacketObservation{
		MAC:      mac,
		DstIP:    dstIP,
		DstPort:  dstPort,
		Protocol: proto,
		Size:     size,
	})
}

func TestAccumulator_FinalizeComputesRates(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Now())
	acc := NewAccumulator(clock)

	acc.Start("dev-cam-01", "aa:bb:cc:dd:ee:ff")
	for i := 0; i < 50; i++ {
		observe(acc, "aa:bb:cc:dd:ee:ff", "192.168.1.10", 443, "tcp", 100)
	}
	clock.Advance(10 * time.Second)

	b := acc.Finalize("dev-cam-01", 5)
	assert.Equal(t, "dev-cam-01", b.DeviceID)
	assert.InDelta(t, 5.0, b.AvgPPS, 0.001)
	assert.InDelta(t, 500.0, b.AvgBPS, 0.001)
	assert.Equal(t, []string{"192.168.1.10"}, b.DstIPs)
	assert.Equal(t, []int{443}, b.DstPorts)
	assert.Equal(t, []string{"tcp"}, b.Protocols)
	assert.False(t, b.Sparse)
	assert.Equal(t, 1, b.UniqueDstIPs)
	assert.Equal(t, 1, b.UniqueDstPorts)
}

func TestAccumulator_TopListsAreCappedAndDeterministic(t *testing.T) {
	acc := NewAccumulator(clockwork.NewFakeClockAt(time.Now()))
	acc.Start("dev-cam-01", "aa:bb:cc:dd:ee:ff")

	// 15 distinct destinations; .0 seen most often, then .1, and so on.
	for i := 0; i < 15; i++ {
		for n := 0; n <= 15-i; n++ {
			observe(acc, "aa:bb:cc:dd:ee:ff", fmt.Sprintf("10.0.0.%d", i), 8000+i, "tcp", 60)
		}
	}

	b := acc.Finalize("dev-cam-01", 5)
	require.Len(t, b.DstIPs, TopN)
	require.Len(t, b.DstPorts, TopN)
	assert.Equal(t, "10.0.0.0", b.DstIPs[0])
	assert.Equal(t, 8000, b.DstPorts[0])
	assert.Equal(t, 15, b.UniqueDstIPs)
	assert.Equal(t, 15, b.UniqueDstPorts)
}

func TestAccumulator_SparseBelowMinPackets(t *testing.T) {
	acc := NewAccumulator(clockwork.NewFakeClockAt(time.Now()))
	acc.Start("dev-plug-02", "11:22:33:44:55:66")

	observe(acc, "11:22:33:44:55:66", "192.168.1.1", 53, "udp", 80)
	observe(acc, "11:22:33:44:55:66", "192.168.1.1", 53, "udp", 80)

	b := acc.Finalize("dev-plug-02", 5)
	assert.True(t, b.Sparse)
	assert.Equal(t, []string{"192.168.1.1"}, b.DstIPs)
}

func TestAccumulator_NoSessionYieldsEmptySparse(t *testing.T) {
	acc := NewAccumulator(clockwork.NewFakeClockAt(time.Now()))

	b := acc.Finalize("dev-ghost", 5)
	assert.True(t, b.Sparse)
	assert.Zero(t, b.AvgPPS)
	assert.Empty(t, b.DstIPs)
}

func TestAccumulator_DropsObservationsForOtherMACs(t *testing.T) {
	acc := NewAccumulator(clockwork.NewFakeClockAt(time.Now()))
	acc.Start("dev-cam-01", "aa:bb:cc:dd:ee:ff")

	observe(acc, "ff:ee:dd:cc:bb:aa", "192.168.1.10", 443, "tcp", 100)
	assert.Zero(t, acc.Packets("dev-cam-01"))
}

func TestAccumulator_RestartResetsSession(t *testing.T) {
	acc := NewAccumulator(clockwork.NewFakeClockAt(time.Now()))
	acc.Start("dev-cam-01", "aa:bb:cc:dd:ee:ff")
	observe(acc, "aa:bb:cc:dd:ee:ff", "192.168.1.10", 443, "tcp", 100)

	acc.Start("dev-cam-01", "aa:bb:cc:dd:ee:ff")
	assert.Zero(t, acc.Packets("dev-cam-01"))
}

func TestAccumulator_Discard(t *testing.T) {
	acc := NewAccumulator(clockwork.NewFakeClockAt(time.Now()))
	acc.Start("dev-cam-01", "aa:bb:cc:dd:ee:ff")
	observe(acc, "aa:bb:cc:dd:ee:ff", "192.168.1.10", 443, "tcp", 100)

	acc.Discard("dev-cam-01")

	// Finalizing after a discard behaves like a missing session.
	b := acc.Finalize("dev-cam-01", 5)
	assert.True(t, b.Sparse)
	assert.Zero(t, b.UniqueDstIPs)
}

func newTestService(t *testing.T, clock clockwork.Clock) *Service {
	t.Helper()
	store, err := storage.NewSQLiteAdapter(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewService(store, 0.1, clock)
}

func TestService_ApplySampleEMA(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(time.Now())
	svc := newTestService(t, clock)

	require.NoError(t, svc.Establish(ctx, domain.Baseline{
		DeviceID:       "dev-cam-01",
		AvgPPS:         10,
		AvgBPS:         1000,
		UniqueDstIPs:   2,
		UniqueDstPorts: 2,
		Protocols:      []string{"tcp"},
		EstablishedAt:  clock.Now().UTC(),
		UpdatedAt:      clock.Now().UTC(),
	}))

	clock.Advance(time.Minute)
	require.NoError(t, svc.ApplySample(ctx, domain.FlowSample{
		DeviceID: "dev-cam-01",
		Stats: domain.FlowStats{
			Packets:        200,
			PPS:            20,
			BPS:            2000,
			UniqueDstIPs:   4,
			UniqueDstPorts: 2,
			Protocols:      []string{"tcp", "udp"},
		},
	}))

	b, err := svc.Get(ctx, "dev-cam-01")
	require.NoError(t, err)
	assert.InDelta(t, 11.0, b.AvgPPS, 0.001)
	assert.InDelta(t, 1100.0, b.AvgBPS, 0.001)
	assert.Equal(t, 2, b.UniqueDstIPs) // round(2*0.9 + 4*0.1) = round(2.2)
	assert.Equal(t, []string{"tcp", "udp"}, b.Protocols)
	assert.True(t, b.UpdatedAt.After(b.EstablishedAt))
}

func TestService_ApplySampleSkipsEmptySamples(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, clockwork.NewFakeClockAt(time.Now()))

	require.NoError(t, svc.Establish(ctx, domain.Baseline{DeviceID: "dev-cam-01", AvgPPS: 10}))
	require.NoError(t, svc.ApplySample(ctx, domain.FlowSample{DeviceID: "dev-cam-01"}))

	b, err := svc.Get(ctx, "dev-cam-01")
	require.NoError(t, err)
	assert.InDelta(t, 10.0, b.AvgPPS, 0.001)
}

func TestService_ApplySampleWithoutBaselineIsNoop(t *testing.T) {
	svc := newTestService(t, clockwork.NewFakeClockAt(time.Now()))

	err := svc.ApplySample(context.Background(), domain.FlowSample{
		DeviceID: "dev-unknown",
		Stats:    domain.FlowStats{Packets: 10, PPS: 1},
	})
	assert.NoError(t, err)
}
