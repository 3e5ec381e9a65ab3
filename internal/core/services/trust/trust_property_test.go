//go:build property
// +build property

package trust

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/lcalzada-xor/ztcore/internal/core/domain"
)

// Property: no adjustment sequence, whatever its deltas, can push a
// score outside [TrustMin, TrustMax] at any intermediate step.
func TestAdjustWalkStaysBounded(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("every step of a walk stays in bounds", prop.ForAll(
		func(deltas []int) bool {
			deviceID := uuid.NewString()
			if err := svc.Initialize(ctx, deviceID); err != nil {
				return false
			}
			for _, d := range deltas {
				score, err := svc.Adjust(ctx, deviceID, d, "walk")
				if err != nil {
					return false
				}
				if score < domain.TrustMin || score > domain.TrustMax {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(-60, 25)),
	))

	properties.TestingRun(t)
}

// Property: the service folds deltas with clamping applied at every
// step, not once at the end. A -100/+30 walk must end at 30, never 0.
func TestAdjustWalkMatchesClampedFold(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("service walk equals per-step clamped fold", prop.ForAll(
		func(deltas []int) bool {
			deviceID := uuid.NewString()
			if err := svc.Initialize(ctx, deviceID); err != nil {
				return false
			}
			want := domain.TrustInitial
			got := domain.TrustInitial
			for _, d := range deltas {
				want = domain.ClampTrust(want + d)
				score, err := svc.Adjust(ctx, deviceID, d, "walk")
				if err != nil {
					return false
				}
				got = score
			}
			return got == want
		},
		gen.SliceOf(gen.IntRange(-120, 120)),
	))

	properties.TestingRun(t)
}

// Property: the delta table never rewards an alert; only the positive
// tick moves a score upward.
func TestDeltaTableOnlyPenalizesAlerts(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("alert deltas are never positive", prop.ForAll(
		func(source domain.TrustEventSource, severity domain.Severity) bool {
			return domain.TrustDelta(source, severity) <= 0
		},
		gen.OneConstOf(
			domain.SourceBehavioralAnomaly,
			domain.SourceSecurityAlert,
			domain.SourceAttestationFail,
			domain.SourceHoneypotHit,
		),
		gen.OneConstOf(
			domain.Severity(""),
			domain.SeverityLow,
			domain.SeverityMedium,
			domain.SeverityHigh,
			domain.SeverityCritical,
		),
	))

	properties.TestingRun(t)
}
