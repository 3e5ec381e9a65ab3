package flow

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lcalzada-xor/ztcore/internal/core/domain"
	"github.com/lcalzada-xor/ztcore/internal/core/ports"
)

// Poller reads cumulative per-MAC counters from the switch layer,
// derives window deltas and rates, and publishes one FlowSample per
// onboarded device per cycle. Devices the switches did not report, and
// cycles with no switch at all, yield zero samples rather than errors:
// downstream consumers treat silence as data.
type Poller struct {
	store    ports.Store
	switches ports.SwitchControl
	bus      ports.EventBus
	clock    clockwork.Clock

	mu   sync.Mutex
	last map[string]counterState // keyed by MAC
}

type counterState struct {
	packets uint64
	bytes   uint64
	at      time.Time
}

// NewPoller creates the flow poller.
func NewPoller(store ports.Store, sw ports.SwitchControl, bus ports.EventBus, clock clockwork.Clock) *Poller {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Poller{
		store:    store,
		switches: sw,
		bus:      bus,
		clock:    clock,
		last:     make(map[string]counterState),
	}
}

// Poll runs one cycle. Meant to be scheduled at the flow poll interval.
func (p *Poller) Poll(ctx context.Context) error {
	devices, err := p.store.ListDevices(ctx)
	if err != nil {
		return err
	}

	entries, err := p.switches.FlowStats(ctx)
	if err != nil {
		// An unreachable switch is a zero cycle, not a failure.
		entries = nil
	}
	byMAC := make(map[string]domain.SwitchFlowEntry, len(entries))
	for _, e := range entries {
		byMAC[domain.NormalizeMAC(e.MAC)] = e
	}

	now := p.clock.Now()
	for _, dev := range devices {
		if dev.Status == domain.StatusPending || dev.Status == domain.StatusRevoked {
			continue
		}

		entry, reported := byMAC[dev.MAC]
		stats := p.computeStats(dev.MAC, entry, reported, now)
		if stats.Packets > 0 {
			if err := p.store.SetLastSeen(ctx, dev.DeviceID, now); err != nil && !domain.IsNotFound(err) {
				return err
			}
		}

		p.bus.Publish(domain.TopicFlowSample, domain.FlowSample{
			DeviceID:  dev.DeviceID,
			MAC:       dev.MAC,
			Stats:     stats,
			Timestamp: now.UTC(),
		})
	}
	return nil
}

// computeStats turns one cumulative counter reading into window deltas.
// The first sighting of a MAC seeds the state and reports zero; a
// counter that went backwards (switch reboot) restarts from zero. An
// unreported MAC leaves the saved counters alone so the next real
// reading does not look like a burst.
func (p *Poller) computeStats(mac string, entry domain.SwitchFlowEntry, reported bool, now time.Time) domain.FlowStats {
	if !reported {
		return domain.FlowStats{}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	prev, seen := p.last[mac]
	p.last[mac] = counterState{packets: entry.Packets, bytes: entry.Bytes, at: now}

	if !seen {
		return domain.FlowStats{}
	}

	window := now.Sub(prev.at).Seconds()
	if window <= 0 {
		window = 1
	}

	dPackets := entry.Packets
	dBytes := entry.Bytes
	if entry.Packets >= prev.packets {
		dPackets = entry.Packets - prev.packets
	}
	if entry.Bytes >= prev.bytes {
		dBytes = entry.Bytes - prev.bytes
	}

	return domain.FlowStats{
		Packets:        dPackets,
		Bytes:          dBytes,
		PPS:            float64(dPackets) / window,
		BPS:            float64(dBytes) / window,
		UniqueDstIPs:   len(entry.DstIPs),
		UniqueDstPorts: len(entry.DstPorts),
		Protocols:      entry.Protos,
		WindowSeconds:  window,
	}
}
