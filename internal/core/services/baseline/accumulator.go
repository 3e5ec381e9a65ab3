package baseline

import (
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lcalzada-xor/ztcore/internal/core/domain"
)

// TopN caps the destination IP and port lists kept in a baseline.
const TopN = 10

// Accumulator gathers per-packet observations for devices in their
// profiling window. Sessions live in memory only: after a crash the
// finalization watcher still closes the window, it just produces an
// empty sparse baseline.
type Accumulator struct {
	clock clockwork.Clock

	mu       sync.Mutex
	sessions map[string]*session // keyed by device ID
	byMAC    map[string]string   // MAC → device ID
}

type session struct {
	mac        string
	startedAt  time.Time
	packets    int
	bytes      int64
	ipCounts   map[string]int
	portCounts map[int]int
	protocols  map[string]struct{}
}

// NewAccumulator creates an empty accumulator.
func NewAccumulator(clock clockwork.Clock) *Accumulator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Accumulator{
		clock:    clock,
		sessions: make(map[string]*session),
		byMAC:    make(map[string]string),
	}
}

// Start opens a profiling session for the device. Starting again resets
// any previous session for the same device.
func (a *Accumulator) Start(deviceID, mac string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if old, ok := a.sessions[deviceID]; ok {
		delete(a.byMAC, old.mac)
	}
	a.sessions[deviceID] = &session{
		mac:        mac,
		startedAt:  a.clock.Now(),
		ipCounts:   make(map[string]int),
		portCounts: make(map[int]int),
		protocols:  make(map[string]struct{}),
	}
	a.byMAC[mac] = deviceID
}

// Observe routes a packet observation to the session owning its source
// MAC. Observations for devices not in profiling are dropped.
func (a *Accumulator) Observe(obs domain.PacketObservation) {
	a.mu.Lock()
	defer a.mu.Unlock()

	deviceID, ok := a.byMAC[obs.MAC]
	if !ok {
		return
	}
	s := a.sessions[deviceID]

	s.packets++
	s.bytes += int64(obs.Size)
	if obs.DstIP != "" {
		s.ipCounts[obs.DstIP]++
	}
	if obs.DstPort > 0 {
		s.portCounts[obs.DstPort]++
	}
	if obs.Protocol != "" {
		s.protocols[obs.Protocol] = struct{}{}
	}
}

// ObserveAggregate folds a pre-aggregated window report into the
// session owning the MAC. Counters add wholesale; each destination and
// port counts once per report, so for agent-fed devices the baseline
// ranking means "seen in the most windows" rather than raw packets.
func (a *Accumulator) ObserveAggregate(mac string, packets, bytes uint64, dstIPs []string, dstPorts []int, protocols []string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	deviceID, ok := a.byMAC[mac]
	if !ok {
		return
	}
	s := a.sessions[deviceID]

	s.packets += int(packets)
	s.bytes += int64(bytes)
	for _, ip := range dstIPs {
		if ip != "" {
			s.ipCounts[ip]++
		}
	}
	for _, port := range dstPorts {
		if port > 0 {
			s.portCounts[port]++
		}
	}
	for _, proto := range protocols {
		if proto != "" {
			s.protocols[proto] = struct{}{}
		}
	}
}

// Packets returns how many observations the device's session holds.
func (a *Accumulator) Packets(deviceID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.sessions[deviceID]
	if !ok {
		return 0
	}
	return s.packets
}

// Discard drops the session without producing a baseline.
func (a *Accumulator) Discard(deviceID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok := a.sessions[deviceID]; ok {
		delete(a.byMAC, s.mac)
		delete(a.sessions, deviceID)
	}
}

// Finalize closes the session and builds the baseline. Rates divide by
// the real elapsed time, so a watcher that runs late still yields
// correct averages. A device without a session (crash during profiling)
// gets an empty sparse baseline.
func (a *Accumulator) Finalize(deviceID string, minPackets int) domain.Baseline {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.clock.Now().UTC()
	s, ok := a.sessions[deviceID]
	if !ok {
		return domain.Baseline{
			DeviceID:      deviceID,
			Sparse:        true,
			EstablishedAt: now,
			UpdatedAt:     now,
		}
	}
	delete(a.byMAC, s.mac)
	delete(a.sessions, deviceID)

	elapsed := now.Sub(s.startedAt).Seconds()
	if elapsed <= 0 {
		elapsed = 1
	}

	b := domain.Baseline{
		DeviceID:       deviceID,
		AvgPPS:         float64(s.packets) / elapsed,
		AvgBPS:         float64(s.bytes) / elapsed,
		DstIPs:         topIPs(s.ipCounts),
		DstPorts:       topPorts(s.portCounts),
		Protocols:      sortedKeys(s.protocols),
		Sparse:         s.packets < minPackets,
		UniqueDstIPs:   len(s.ipCounts),
		UniqueDstPorts: len(s.portCounts),
		EstablishedAt:  now,
		UpdatedAt:      now,
	}
	return b
}

// topIPs ranks by observation count, ties broken lexicographically so
// the result is deterministic.
func topIPs(counts map[string]int) []string {
	ips := make([]string, 0, len(counts))
	for ip := range counts {
		ips = append(ips, ip)
	}
	sort.Slice(ips, func(i, j int) bool {
		if counts[ips[i]] != counts[ips[j]] {
			return counts[ips[i]] > counts[ips[j]]
		}
		return ips[i] < ips[j]
	})
	if len(ips) > TopN {
		ips = ips[:TopN]
	}
	return ips
}

func topPorts(counts map[int]int) []int {
	ports := make([]int, 0, len(counts))
	for p := range counts {
		ports = append(ports, p)
	}
	sort.Slice(ports, func(i, j int) bool {
		if counts[ports[i]] != counts[ports[j]] {
			return counts[ports[i]] > counts[ports[j]]
		}
		return ports[i] < ports[j]
	})
	if len(ports) > TopN {
		ports = ports[:TopN]
	}
	return ports
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
