package baseline

import (
	"context"
	"math"

	"github.com/jonboulle/clockwork"

	"github.com/lcalzada-xor/ztcore/internal/core/domain"
	"github.com/lcalzada-xor/ztcore/internal/core/ports"
)

// Service persists baselines and adapts them to post-profiling traffic
// with an exponential moving average.
type Service struct {
	store ports.Store
	alpha float64
	clock clockwork.Clock
}

// NewService creates the baseline service. alpha is the EMA weight of
// the newest sample.
func NewService(store ports.Store, alpha float64, clock clockwork.Clock) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Service{store: store, alpha: alpha, clock: clock}
}

// Establish stores a freshly computed baseline, replacing any previous
// one for the device.
func (s *Service) Establish(ctx context.Context, b domain.Baseline) error {
	return s.store.PutBaseline(ctx, &b)
}

// Get returns the device's baseline.
func (s *Service) Get(ctx context.Context, deviceID string) (*domain.Baseline, error) {
	return s.store.GetBaseline(ctx, deviceID)
}

// Delete removes the device's baseline.
func (s *Service) Delete(ctx context.Context, deviceID string) error {
	return s.store.DeleteBaseline(ctx, deviceID)
}

// ApplySample folds a clean flow sample into the baseline. The anomaly
// detector only calls this when no rule fired, so attack traffic never
// drags the profile toward itself. Devices without a baseline and empty
// samples (device idle or switch unreachable) are skipped: an absent
// observation is not an observation.
func (s *Service) ApplySample(ctx context.Context, sample domain.FlowSample) error {
	if sample.Stats.Packets == 0 {
		return nil
	}

	b, err := s.store.GetBaseline(ctx, sample.DeviceID)
	if err != nil {
		if domain.IsNotFound(err) {
			return nil
		}
		return err
	}

	b.AvgPPS = s.ema(b.AvgPPS, sample.Stats.PPS)
	b.AvgBPS = s.ema(b.AvgBPS, sample.Stats.BPS)
	b.UniqueDstIPs = int(math.Round(s.ema(float64(b.UniqueDstIPs), float64(sample.Stats.UniqueDstIPs))))
	b.UniqueDstPorts = int(math.Round(s.ema(float64(b.UniqueDstPorts), float64(sample.Stats.UniqueDstPorts))))
	b.Protocols = mergeProtocols(b.Protocols, sample.Stats.Protocols)
	b.UpdatedAt = s.clock.Now().UTC()

	return s.store.PutBaseline(ctx, b)
}

func (s *Service) ema(old, observed float64) float64 {
	return (1-s.alpha)*old + s.alpha*observed
}

func mergeProtocols(known, observed []string) []string {
	seen := make(map[string]struct{}, len(known))
	for _, p := range known {
		seen[p] = struct{}{}
	}
	for _, p := range observed {
		if _, ok := seen[p]; !ok {
			seen[p] = struct{}{}
			known = append(known, p)
		}
	}
	return known
}
