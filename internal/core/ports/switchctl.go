package ports

import (
	"context"

	"github.com/lcalzada-xor/ztcore/internal/core/domain"
)

// ObservationFunc receives per-packet summaries recorded by the switch
// while a device is profiling.
type ObservationFunc func(obs domain.PacketObservation)

// SwitchControl abstracts one or more programmable switches. The switch
// knows MAC addresses, never device IDs; every match the orchestrator
// builds carries eth_src or src_ip.
//
// Install and remove return typed errors: TransientError for conditions
// worth retrying, SwitchRuleRejectedError for rules the switch refuses
// permanently, ErrSwitchUnavailable once the adapter's reconnection
// window is exhausted.
type SwitchControl interface {
	// InstallRule installs or replaces a forwarding rule by its RuleID.
	InstallRule(ctx context.Context, rule domain.ForwardingRule) error

	// RemoveRule deletes a rule. Removing an unknown rule is not an error.
	RemoveRule(ctx context.Context, ruleID string) error

	// ListRules returns the currently installed rules.
	ListRules(ctx context.Context) ([]domain.ForwardingRule, error)

	// FlowStats returns per-device aggregated counters across all
	// switches. A missing switch yields no entries, not an error.
	FlowStats(ctx context.Context) ([]domain.SwitchFlowEntry, error)

	// RecordObservation registers a callback invoked for each packet
	// summary observed on ports carrying profiling devices.
	RecordObservation(fn ObservationFunc)

	// Healthy reports whether the adapter currently has a switch session.
	Healthy() bool
}

// SwitchHealth is the read-only slice of SwitchControl handed to
// surfaces that report session state but must never touch rules.
type SwitchHealth interface {
	Healthy() bool
}
