package domain

import "time"

// FlowStats is a per-device traffic summary over one observation window.
// Rates are derived from counter deltas by the flow poller.
type FlowStats struct {
	Packets        uint64   `json:"packets"`
	Bytes          uint64   `json:"bytes"`
	PPS            float64  `json:"pps"`
	BPS            float64  `json:"bps"`
	UniqueDstIPs   int      `json:"unique_dst_ips"`
	UniqueDstPorts int      `json:"unique_dst_ports"`
	Protocols      []string `json:"protocols,omitempty"`
	WindowSeconds  float64  `json:"window_seconds"`
}

// FlowSample is published on the bus for every poll cycle per device.
type FlowSample struct {
	DeviceID  string    `json:"device_id"`
	MAC       string    `json:"mac"`
	Stats     FlowStats `json:"stats"`
	Timestamp time.Time `json:"timestamp"`
}

// PacketObservation is a single packet summary delivered through the
// switch adapter's recording channel or the passive sniffer while a
// device is profiling.
type PacketObservation struct {
	MAC       string    `json:"mac"`
	SrcIP     string    `json:"src_ip,omitempty"`
	DstIP     string    `json:"dst_ip,omitempty"`
	DstPort   int       `json:"dst_port,omitempty"`
	SrcPort   int       `json:"src_port,omitempty"`
	Protocol  string    `json:"protocol,omitempty"` // e.g. "tcp", "udp", "icmp"
	Size      int       `json:"size"`
	Timestamp time.Time `json:"timestamp"`
}

// SwitchFlowEntry is one row of the per-device counters a switch reports.
type SwitchFlowEntry struct {
	MAC      string
	Packets  uint64
	Bytes    uint64
	DstIPs   []string
	DstPorts []int
	Protos   []string
	Window   time.Duration
}
