package sniffer

import (
	"sort"
	"sync"

	"github.com/lcalzada-xor/ztcore/internal/core/domain"
)

// WindowStats is one device's aggregate over a reporting window, the
// shape the agent streams to the core.
type WindowStats struct {
	MAC       string
	SrcIP     string
	Packets   uint64
	Bytes     uint64
	DstIPs    []string
	DstPorts  []int
	Protocols []string
}

// Aggregator folds observations into per-MAC window totals. The agent
// drains it once per reporting interval; draining resets the window.
type Aggregator struct {
	mu    sync.Mutex
	byMAC map[string]*windowAgg
}

type windowAgg struct {
	srcIP   string
	packets uint64
	bytes   uint64
	ips     map[string]struct{}
	ports   map[int]struct{}
	protos  map[string]struct{}
}

// NewAggregator creates an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{byMAC: make(map[string]*windowAgg)}
}

// Add folds one observation into its MAC's window.
func (a *Aggregator) Add(obs domain.PacketObservation) {
	if obs.MAC == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	w, ok := a.byMAC[obs.MAC]
	if !ok {
		w = &windowAgg{
			ips:    make(map[string]struct{}),
			ports:  make(map[int]struct{}),
			protos: make(map[string]struct{}),
		}
		a.byMAC[obs.MAC] = w
	}

	w.packets++
	w.bytes += uint64(obs.Size)
	if obs.SrcIP != "" {
		w.srcIP = obs.SrcIP
	}
	if obs.DstIP != "" {
		w.ips[obs.DstIP] = struct{}{}
	}
	if obs.DstPort > 0 {
		w.ports[obs.DstPort] = struct{}{}
	}
	if obs.Protocol != "" {
		w.protos[obs.Protocol] = struct{}{}
	}
}

// Drain returns the closed window per device, sorted by MAC, and starts
// a fresh one. An empty window drains to nil.
func (a *Aggregator) Drain() []WindowStats {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.byMAC) == 0 {
		return nil
	}

	out := make([]WindowStats, 0, len(a.byMAC))
	for mac, w := range a.byMAC {
		out = append(out, WindowStats{
			MAC:       mac,
			SrcIP:     w.srcIP,
			Packets:   w.packets,
			Bytes:     w.bytes,
			DstIPs:    sortedStrings(w.ips),
			DstPorts:  sortedInts(w.ports),
			Protocols: sortedStrings(w.protos),
		})
	}
	a.byMAC = make(map[string]*windowAgg)

	sort.Slice(out, func(i, j int) bool { return out[i].MAC < out[j].MAC })
	return out
}

func sortedStrings(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedInts(set map[int]struct{}) []int {
	if len(set) == 0 {
		return nil
	}
	out := make([]int, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}
