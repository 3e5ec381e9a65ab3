package trust

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lcalzada-xor/ztcore/internal/core/domain"
	"github.com/lcalzada-xor/ztcore/internal/core/ports"
)

// UneventfulWindow is how long a device must go without a negative
// adjustment before the optional positive tick applies.
const UneventfulWindow = time.Hour

// Service maintains per-device trust scores. Every adjustment for a
// device runs under that device's lock: read current, apply delta,
// clamp, append the history row, then publish threshold crossings. The
// persisted history is the source of truth; the in-memory tier map only
// remembers which side of each threshold a device is on so hysteresis
// can gate upward crossings.
type Service struct {
	store ports.Store
	bus   ports.EventBus
	clock clockwork.Clock

	initial      int
	thresholds   [3]int
	hysteresis   int
	positiveTick bool

	mu           sync.Mutex
	locks        map[string]*sync.Mutex
	tiers        map[string]int
	lastNegative map[string]time.Time
}

// Option is a functional argument for the trust service.
type Option func(*Service)

// WithClock overrides the clock, used in tests.
func WithClock(clock clockwork.Clock) Option {
	return func(s *Service) {
		s.clock = clock
	}
}

// WithPositiveTick enables the +2 per uneventful hour reward.
func WithPositiveTick(enabled bool) Option {
	return func(s *Service) {
		s.positiveTick = enabled
	}
}

// NewService creates the trust scorer. Thresholds are descending.
func NewService(store ports.Store, bus ports.EventBus, initial int, thresholds [3]int, hysteresis int, opts ...Option) *Service {
	s := &Service{
		store:        store,
		bus:          bus,
		clock:        clockwork.NewRealClock(),
		initial:      initial,
		thresholds:   thresholds,
		hysteresis:   hysteresis,
		locks:        make(map[string]*sync.Mutex),
		tiers:        make(map[string]int),
		lastNegative: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initialize sets the device's score to the configured initial value.
// A device that already has a score is left untouched.
func (s *Service) Initialize(ctx context.Context, deviceID string) error {
	lock := s.lockFor(deviceID)
	lock.Lock()
	defer lock.Unlock()

	_, err := s.store.CurrentTrust(ctx, deviceID)
	if err == nil {
		return nil
	}
	if !domain.IsNotFound(err) {
		return err
	}

	if err := s.store.AppendTrustEvent(ctx, domain.TrustEvent{
		DeviceID:   deviceID,
		ScoreAfter: s.initial,
		Delta:      0,
		Reason:     "initialized",
		Timestamp:  s.clock.Now().UTC(),
	}); err != nil {
		return err
	}

	s.mu.Lock()
	s.tiers[deviceID] = s.tierOf(s.initial)
	s.mu.Unlock()
	return nil
}

// Adjust applies a delta under the device lock, appends the history
// row, and publishes a TrustChanged event per threshold crossed. A
// device with no score yet starts from the initial value.
func (s *Service) Adjust(ctx context.Context, deviceID string, delta int, reason string) (int, error) {
	lock := s.lockFor(deviceID)
	lock.Lock()
	defer lock.Unlock()

	current, err := s.store.CurrentTrust(ctx, deviceID)
	if err != nil {
		if !domain.IsNotFound(err) {
			return 0, err
		}
		current = s.initial
	}

	next := domain.ClampTrust(current + delta)
	if err := s.store.AppendTrustEvent(ctx, domain.TrustEvent{
		DeviceID:   deviceID,
		ScoreAfter: next,
		Delta:      delta,
		Reason:     reason,
		Timestamp:  s.clock.Now().UTC(),
	}); err != nil {
		return current, err
	}

	if delta < 0 {
		s.mu.Lock()
		s.lastNegative[deviceID] = s.clock.Now()
		s.mu.Unlock()
	}

	for _, crossing := range s.crossings(deviceID, current, next, reason) {
		s.bus.Publish(domain.TopicTrustChanged, crossing)
	}
	return next, nil
}

// RecordAlert translates a signal source and severity into a delta via
// the table and adjusts. Combinations outside the table are no-ops.
func (s *Service) RecordAlert(ctx context.Context, deviceID string, source domain.TrustEventSource, severity domain.Severity) (int, error) {
	delta := domain.TrustDelta(source, severity)
	if delta == 0 {
		return s.Get(ctx, deviceID)
	}
	return s.Adjust(ctx, deviceID, delta, fmt.Sprintf("%s:%s", source, severity))
}

// RecordAttestationFailure applies the fixed attestation penalty.
func (s *Service) RecordAttestationFailure(ctx context.Context, deviceID string) (int, error) {
	delta := domain.TrustDelta(domain.SourceAttestationFail, "")
	return s.Adjust(ctx, deviceID, delta, string(domain.SourceAttestationFail))
}

// Get returns the device's current score.
func (s *Service) Get(ctx context.Context, deviceID string) (int, error) {
	return s.store.CurrentTrust(ctx, deviceID)
}

// AllScores returns the current score of every device with history.
func (s *Service) AllScores(ctx context.Context) (map[string]int, error) {
	return s.store.AllTrustScores(ctx)
}

// PositiveTick rewards every scored device that saw no negative
// adjustment within the last hour with +2. No-op unless enabled. Meant
// to run from the scheduler once per hour.
func (s *Service) PositiveTick(ctx context.Context) error {
	if !s.positiveTick {
		return nil
	}

	scores, err := s.store.AllTrustScores(ctx)
	if err != nil {
		return err
	}

	now := s.clock.Now()
	for deviceID, score := range scores {
		if score >= domain.TrustMax {
			continue
		}
		s.mu.Lock()
		last, seen := s.lastNegative[deviceID]
		s.mu.Unlock()
		if seen && now.Sub(last) < UneventfulWindow {
			continue
		}
		if _, err := s.Adjust(ctx, deviceID, domain.TrustDelta(domain.SourcePositiveTick, ""), string(domain.SourcePositiveTick)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) lockFor(deviceID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[deviceID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[deviceID] = lock
	}
	return lock
}

// tierOf places a score below its plain thresholds: 0 is the top band,
// len(thresholds) the bottom.
func (s *Service) tierOf(score int) int {
	for i, t := range s.thresholds {
		if score >= t {
			return i
		}
	}
	return len(s.thresholds)
}

// recoveryTierOf is tierOf with hysteresis added to each threshold, so
// a device must clear threshold+hysteresis to count as recovered.
func (s *Service) recoveryTierOf(score int) int {
	for i, t := range s.thresholds {
		if score >= t+s.hysteresis {
			return i
		}
	}
	return len(s.thresholds)
}

// crossings computes the TrustChanged events one adjustment produces.
// Downward crossings fire at the plain threshold; upward crossings only
// once the score clears threshold+hysteresis. The tier map keeps a
// device that dipped below a threshold from flapping events while it
// hovers inside the hysteresis band.
func (s *Service) crossings(deviceID string, oldScore, newScore int, reason string) []domain.TrustChanged {
	s.mu.Lock()
	defer s.mu.Unlock()

	tier, known := s.tiers[deviceID]
	if !known {
		tier = s.tierOf(oldScore)
	}

	now := s.clock.Now().UTC()
	var events []domain.TrustChanged
	if down := s.tierOf(newScore); down > tier {
		for i := tier; i < down; i++ {
			events = append(events, domain.TrustChanged{
				DeviceID:  deviceID,
				OldScore:  oldScore,
				NewScore:  newScore,
				Threshold: s.thresholds[i],
				Upward:    false,
				Reason:    reason,
				Timestamp: now,
			})
		}
		tier = down
	} else if up := s.recoveryTierOf(newScore); up < tier {
		for i := tier - 1; i >= up; i-- {
			events = append(events, domain.TrustChanged{
				DeviceID:  deviceID,
				OldScore:  oldScore,
				NewScore:  newScore,
				Threshold: s.thresholds[i],
				Upward:    true,
				Reason:    reason,
				Timestamp: now,
			})
		}
		tier = up
	}
	s.tiers[deviceID] = tier
	return events
}

// Ensure interface compliance
var _ ports.TrustScorer = (*Service)(nil)
