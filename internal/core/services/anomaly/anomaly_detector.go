package anomaly

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/lcalzada-xor/ztcore/internal/core/domain"
	"github.com/lcalzada-xor/ztcore/internal/core/ports"
)

// Multipliers and floors for the four detection rules.
const (
	dosHighFactor   = 10
	dosMediumFactor = 5
	dosLowFactor    = 2

	volumeFactor = 10

	netScanFactor = 5
	netScanFloor  = 20

	portScanFactor = 3
	portScanFloor  = 10
)

// BaselineSource is the slice of the baseline service the detector
// needs: read the profile, and adapt it after clean windows.
type BaselineSource interface {
	Get(ctx context.Context, deviceID string) (*domain.Baseline, error)
	ApplySample(ctx context.Context, sample domain.FlowSample) error
}

// RuleMatch is one detection rule firing against a sample.
type RuleMatch struct {
	Kind     domain.AlertKind
	Severity domain.Severity
	Detail   string
}

// Detector compares flow samples against baselines. Each rule fires at
// most once per device per window; a window in which any rule condition
// held (even a suppressed repeat) is never learned into the baseline.
type Detector struct {
	baselines BaselineSource
	trust     ports.TrustScorer
	bus       ports.EventBus
	clock     clockwork.Clock
	window    time.Duration

	mu        sync.Mutex
	lastFired map[string]time.Time // deviceID+"/"+kind
}

// NewDetector creates the detector. window is the per-rule-per-device
// alert suppression interval.
func NewDetector(baselines BaselineSource, trust ports.TrustScorer, bus ports.EventBus, window time.Duration, clock clockwork.Clock) *Detector {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Detector{
		baselines: baselines,
		trust:     trust,
		bus:       bus,
		clock:     clock,
		window:    window,
		lastFired: make(map[string]time.Time),
	}
}

// Evaluate applies the four rules to one window. Pure: no state, no
// suppression. DoS reports only its highest matching severity.
func Evaluate(stats domain.FlowStats, b *domain.Baseline) []RuleMatch {
	var matches []RuleMatch

	ppsRatio := stats.PPS / b.PPSOrOne()
	switch {
	case ppsRatio >= dosHighFactor:
		matches = append(matches, RuleMatch{domain.AlertDoS, domain.SeverityHigh,
			fmt.Sprintf("pps %.1f is %.1fx baseline %.1f", stats.PPS, ppsRatio, b.PPSOrOne())})
	case ppsRatio >= dosMediumFactor:
		matches = append(matches, RuleMatch{domain.AlertDoS, domain.SeverityMedium,
			fmt.Sprintf("pps %.1f is %.1fx baseline %.1f", stats.PPS, ppsRatio, b.PPSOrOne())})
	case ppsRatio >= dosLowFactor:
		matches = append(matches, RuleMatch{domain.AlertDoS, domain.SeverityLow,
			fmt.Sprintf("pps %.1f is %.1fx baseline %.1f", stats.PPS, ppsRatio, b.PPSOrOne())})
	}

	if bpsRatio := stats.BPS / b.BPSOrOne(); bpsRatio >= volumeFactor {
		matches = append(matches, RuleMatch{domain.AlertVolume, domain.SeverityHigh,
			fmt.Sprintf("bps %.1f is %.1fx baseline %.1f", stats.BPS, bpsRatio, b.BPSOrOne())})
	}

	if float64(stats.UniqueDstIPs) >= netScanFactor*b.DstIPsOrOne() && stats.UniqueDstIPs >= netScanFloor {
		matches = append(matches, RuleMatch{domain.AlertNetworkScan, domain.SeverityMedium,
			fmt.Sprintf("%d unique dst ips vs baseline %.0f", stats.UniqueDstIPs, b.DstIPsOrOne())})
	}

	if float64(stats.UniqueDstPorts) >= portScanFactor*b.DstPortsOrOne() && stats.UniqueDstPorts >= portScanFloor {
		matches = append(matches, RuleMatch{domain.AlertPortScan, domain.SeverityMedium,
			fmt.Sprintf("%d unique dst ports vs baseline %.0f", stats.UniqueDstPorts, b.DstPortsOrOne())})
	}

	return matches
}

// HandleSample scores one flow sample. Devices without a baseline are
// skipped (still profiling, or never finalized). Returns the alerts
// actually published, after suppression.
func (d *Detector) HandleSample(ctx context.Context, sample domain.FlowSample) ([]domain.Alert, error) {
	b, err := d.baselines.Get(ctx, sample.DeviceID)
	if err != nil {
		if domain.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	matches := Evaluate(sample.Stats, b)
	if len(matches) == 0 {
		return nil, d.baselines.ApplySample(ctx, sample)
	}

	var published []domain.Alert
	for _, m := range matches {
		if !d.shouldFire(sample.DeviceID, m.Kind) {
			continue
		}
		alert := domain.Alert{
			ID:            uuid.NewString(),
			DeviceID:      sample.DeviceID,
			Kind:          m.Kind,
			Severity:      m.Severity,
			ObservedStats: sample.Stats,
			Detail:        m.Detail,
			Timestamp:     d.clock.Now().UTC(),
		}
		d.bus.Publish(domain.TopicAlert, alert)
		if _, err := d.trust.RecordAlert(ctx, sample.DeviceID, domain.SourceBehavioralAnomaly, m.Severity); err != nil {
			return published, err
		}
		published = append(published, alert)
	}
	return published, nil
}

// Run consumes flow samples from the subscription until the context is
// cancelled or the channel closes.
func (d *Detector) Run(ctx context.Context, sub ports.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			sample, ok := ev.Payload.(domain.FlowSample)
			if !ok {
				continue
			}
			if _, err := d.HandleSample(ctx, sample); err != nil {
				slog.Error("anomaly detection failed", "device", sample.DeviceID, "error", err)
			}
		}
	}
}

func (d *Detector) shouldFire(deviceID string, kind domain.AlertKind) bool {
	key := deviceID + "/" + string(kind)
	now := d.clock.Now()

	d.mu.Lock()
	defer d.mu.Unlock()
	if last, ok := d.lastFired[key]; ok && now.Sub(last) < d.window {
		return false
	}
	d.lastFired[key] = now
	return true
}
