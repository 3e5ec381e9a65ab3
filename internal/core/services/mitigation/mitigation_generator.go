package mitigation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jonboulle/clockwork"

	"github.com/lcalzada-xor/ztcore/internal/core/domain"
	"github.com/lcalzada-xor/ztcore/internal/core/ports"
)

// Priorities of generated rules by severity tier.
const (
	PriorityDeny     = 200
	PriorityRedirect = 150
	PriorityMonitor  = 100
)

// Generator turns threat updates into mitigation rules and hands them
// to the orchestrator. One rule per attacker IP with a deterministic
// ID, so escalations replace instead of stacking, and a threat that
// ages out withdraws its rule. Severity only ratchets up in the threat
// table, so a generated rule never downgrades; if a stored rule is
// already at least as restrictive, the update is a no-op.
type Generator struct {
	store ports.Store
	sink  ports.MitigationSink
	clock clockwork.Clock
}

// NewGenerator creates the mitigation generator.
func NewGenerator(store ports.Store, sink ports.MitigationSink, clock clockwork.Clock) *Generator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Generator{store: store, sink: sink, clock: clock}
}

// RuleFor maps a threat severity onto the mitigation shape. Pure.
func RuleFor(sourceIP string, severity domain.Severity) domain.MitigationRule {
	rule := domain.MitigationRule{
		ID:       RuleID(sourceIP),
		Match:    domain.Match{SrcIP: sourceIP},
		SourceIP: sourceIP,
		Reason:   fmt.Sprintf("honeypot intelligence: %s activity from %s", severity, sourceIP),
	}
	switch severity {
	case domain.SeverityHigh, domain.SeverityCritical:
		rule.Action = domain.RuleDeny
		rule.Priority = PriorityDeny
		rule.Permanent = true
	case domain.SeverityMedium:
		rule.Action = domain.RuleRedirect
		rule.Priority = PriorityRedirect
	default:
		rule.Action = domain.RuleMonitor
		rule.Priority = PriorityMonitor
	}
	return rule
}

// RuleID derives the stable rule identifier for an attacker IP.
func RuleID(sourceIP string) string {
	return "mit-" + strings.NewReplacer(":", "-", ".", "-").Replace(sourceIP)
}

// HandleThreatUpdated processes one threat table change.
func (g *Generator) HandleThreatUpdated(ctx context.Context, ev domain.ThreatUpdated) error {
	if ev.Expired {
		return g.withdraw(ctx, ev.SourceIP)
	}

	rule := RuleFor(ev.SourceIP, ev.Severity)
	now := g.clock.Now().UTC()

	existing, err := g.store.GetMitigationBySource(ctx, ev.SourceIP)
	switch {
	case err == nil:
		// deny > redirect > monitor > allow; equal rank at equal
		// priority means nothing changed.
		if existing.Action.Rank() >= rule.Action.Rank() && existing.Priority >= rule.Priority {
			return nil
		}
		rule.CreatedAt = existing.CreatedAt
	case domain.IsNotFound(err):
		rule.CreatedAt = now
	default:
		return err
	}
	rule.UpdatedAt = now

	if err := g.store.SaveMitigation(ctx, &rule); err != nil {
		return err
	}
	return g.sink.SubmitMitigation(ctx, rule)
}

// withdraw removes the aged-out threat's rule. Permanent rules (deny,
// from high/critical intel) survive threat expiry; only an operator
// removes those.
func (g *Generator) withdraw(ctx context.Context, sourceIP string) error {
	rule, err := g.store.GetMitigationBySource(ctx, sourceIP)
	if err != nil {
		if domain.IsNotFound(err) {
			return nil
		}
		return err
	}
	if rule.Permanent {
		return nil
	}

	if err := g.store.DeleteMitigation(ctx, rule.ID); err != nil {
		return err
	}
	return g.sink.WithdrawMitigation(ctx, *rule)
}

// Resync pushes every persisted mitigation back to the orchestrator,
// used at startup to restore switch state.
func (g *Generator) Resync(ctx context.Context) error {
	rules, err := g.store.ListMitigations(ctx)
	if err != nil {
		return err
	}
	for _, rule := range rules {
		if err := g.sink.SubmitMitigation(ctx, rule); err != nil {
			return err
		}
	}
	return nil
}

// Run consumes threat updates from the subscription until the context
// is cancelled or the channel closes.
func (g *Generator) Run(ctx context.Context, sub ports.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			update, ok := ev.Payload.(domain.ThreatUpdated)
			if !ok {
				continue
			}
			if err := g.HandleThreatUpdated(ctx, update); err != nil {
				slog.Error("mitigation handling failed", "src_ip", update.SourceIP, "error", err)
			}
		}
	}
}
