package switching

import (
	"context"

	"github.com/lcalzada-xor/ztcore/internal/core/domain"
)

// Driver is one southbound switch session. Implementations translate
// abstract forwarding rules into whatever the switch actually speaks;
// the Manager above them owns reconnection, queueing, and timeouts, so
// drivers stay thin and fail fast.
//
// A driver error that is not a SwitchRuleRejectedError is read as a
// lost session.
type Driver interface {
	// Name identifies the driver in logs.
	Name() string

	// Connect (re)establishes the switch session.
	Connect(ctx context.Context) error

	// InstallRule installs or replaces a rule by its RuleID.
	InstallRule(ctx context.Context, rule domain.ForwardingRule) error

	// RemoveRule deletes a rule. Unknown rule IDs are not an error.
	RemoveRule(ctx context.Context, ruleID string) error

	// ListRules returns the installed rules.
	ListRules(ctx context.Context) ([]domain.ForwardingRule, error)

	// FlowStats returns cumulative per-MAC counters.
	FlowStats(ctx context.Context) ([]domain.SwitchFlowEntry, error)

	// Close releases the session.
	Close() error
}
