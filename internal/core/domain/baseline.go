package domain

import "time"

// Baseline is the per-device "normal traffic" profile established at the
// end of the profiling window and adapted afterwards by EMA.
type Baseline struct {
	DeviceID string  `json:"device_id"`
	AvgPPS   float64 `json:"avg_pps"`
	AvgBPS   float64 `json:"avg_bps"`

	// Top destinations observed during profiling, capped at 10 each.
	DstIPs   []string `json:"dst_ips,omitempty"`
	DstPorts []int    `json:"dst_ports,omitempty"`

	Protocols []string `json:"protocols,omitempty"`

	// Sparse marks a baseline finalized with fewer than the minimum
	// packet count; scoring still works but its ratios start from 1.
	Sparse bool `json:"sparse,omitempty"`

	UniqueDstIPs   int `json:"unique_dst_ips"`
	UniqueDstPorts int `json:"unique_dst_ports"`

	EstablishedAt time.Time `json:"established_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Ratio helpers treat zero baselines as 1 so multiplier rules stay defined.

// PPSOrOne returns the baseline packet rate, never zero.
func (b *Baseline) PPSOrOne() float64 {
	if b.AvgPPS <= 0 {
		return 1
	}
	return b.AvgPPS
}

// BPSOrOne returns the baseline byte rate, never zero.
func (b *Baseline) BPSOrOne() float64 {
	if b.AvgBPS <= 0 {
		return 1
	}
	return b.AvgBPS
}

// DstIPsOrOne returns the baseline unique destination count, never zero.
func (b *Baseline) DstIPsOrOne() float64 {
	if b.UniqueDstIPs <= 0 {
		return 1
	}
	return float64(b.UniqueDstIPs)
}

// DstPortsOrOne returns the baseline unique port count, never zero.
func (b *Baseline) DstPortsOrOne() float64 {
	if b.UniqueDstPorts <= 0 {
		return 1
	}
	return float64(b.UniqueDstPorts)
}
