package ports

import (
	"context"

	"github.com/lcalzada-xor/ztcore/internal/core/domain"
)

// TrustScorer maintains the per-device trust score. Adjustments for the
// same device are applied atomically and in serial order.
type TrustScorer interface {
	// Initialize sets a device's score to the configured initial value.
	// Idempotent: an existing score is left untouched.
	Initialize(ctx context.Context, deviceID string) error

	// Adjust applies a delta, clamps to [0,100], appends history, and
	// publishes TrustChanged when a threshold is crossed.
	Adjust(ctx context.Context, deviceID string, delta int, reason string) (int, error)

	// RecordAlert translates an alert into a delta via the severity
	// table, then adjusts.
	RecordAlert(ctx context.Context, deviceID string, source domain.TrustEventSource, severity domain.Severity) (int, error)

	// RecordAttestationFailure applies the fixed attestation penalty.
	RecordAttestationFailure(ctx context.Context, deviceID string) (int, error)

	// Get returns the current score.
	Get(ctx context.Context, deviceID string) (int, error)

	// AllScores returns every known device score.
	AllScores(ctx context.Context) (map[string]int, error)
}

// DecisionProvider exposes the orchestrator's current verdicts to the
// management surface without letting callers mutate them.
type DecisionProvider interface {
	// CurrentDecision returns the last installed decision for a device,
	// defaulting to DENY for devices never decided.
	CurrentDecision(deviceID string) domain.Decision

	// AllDecisions snapshots the last installed decision per device.
	AllDecisions() map[string]domain.Decision
}

// MitigationSink accepts mitigation rules for switch installation. The
// orchestrator implements it; it stays the only switch writer.
type MitigationSink interface {
	// SubmitMitigation installs (or replaces) a mitigation rule.
	SubmitMitigation(ctx context.Context, rule domain.MitigationRule) error

	// WithdrawMitigation removes an expired or superseded rule.
	WithdrawMitigation(ctx context.Context, rule domain.MitigationRule) error
}

// OnboardingControl is the administrative surface of the enrollment
// state machine.
type OnboardingControl interface {
	// RegisterPending records a newly discovered device awaiting approval.
	RegisterPending(ctx context.Context, mac, suggestedID, deviceType string) (*domain.Device, error)

	// Approve transitions pending→profiling: issues a certificate, binds
	// identity, installs the observation rule, starts the window.
	Approve(ctx context.Context, deviceID, adminNote string) (*domain.Device, error)

	// Reject transitions pending→revoked without issuing a certificate.
	Reject(ctx context.Context, deviceID, adminNote string) error

	// Finalize ends the profiling window now, computing the baseline and
	// least-privilege policy.
	Finalize(ctx context.Context, deviceID string) error

	// Revoke transitions any state→revoked, revokes the certificate and
	// destroys baseline and policy.
	Revoke(ctx context.Context, deviceID, adminNote string) error

	// Reinstate is the explicit administrator action a quarantined
	// device needs before it can recover.
	Reinstate(ctx context.Context, deviceID, adminNote string) error
}
