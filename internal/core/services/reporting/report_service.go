package reporting

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lcalzada-xor/ztcore/internal/core/domain"
	"github.com/lcalzada-xor/ztcore/internal/core/ports"
)

// Reporting defaults.
const (
	// DefaultWindow is the look-back window when the caller does not
	// pick one.
	DefaultWindow = 24 * time.Hour

	// DefaultStaleAfter is how long a device may stay silent and still
	// count as connected, matching the live topology view's window.
	DefaultStaleAfter = 60 * time.Second

	// lowTrustBelow matches the default deny threshold: devices under
	// it have lost network access.
	lowTrustBelow = 50

	// decisionLimit caps how many decision records one report pulls.
	decisionLimit = 500

	// topRiskLimit is how many devices the risk table shows.
	topRiskLimit = 5
)

// Service assembles the security posture report: fleet state, trust
// distribution, window activity, ranked risks and recommendations. It
// only reads; generating a report never changes system state.
type Service struct {
	store       ports.Store
	decisions   ports.DecisionProvider
	audit       ports.AuditService
	journal     *Journal
	riskCalc    *RiskCalculator
	recommender *RecommendationEngine
	clock       clockwork.Clock
	staleAfter  time.Duration
}

// Option configures the report service.
type Option func(*Service)

// WithClock replaces the wall clock, for tests.
func WithClock(c clockwork.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithStaleAfter sets the silence span after which a device stops
// counting as connected.
func WithStaleAfter(d time.Duration) Option {
	return func(s *Service) { s.staleAfter = d }
}

// NewService creates the report service. journal may be nil; the report
// then simply carries no alerts.
func NewService(
	store ports.Store,
	decisions ports.DecisionProvider,
	audit ports.AuditService,
	journal *Journal,
	opts ...Option,
) *Service {
	s := &Service{
		store:       store,
		decisions:   decisions,
		audit:       audit,
		journal:     journal,
		riskCalc:    NewRiskCalculator(),
		recommender: NewRecommendationEngine(),
		clock:       clockwork.NewRealClock(),
		staleAfter:  DefaultStaleAfter,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Generate builds the report over the given look-back window. A
// non-positive window selects DefaultWindow. The acting user from the
// context is recorded as the report's author.
func (s *Service) Generate(ctx context.Context, window time.Duration) (*domain.ReportData, error) {
	if window <= 0 {
		window = DefaultWindow
	}
	now := s.clock.Now().UTC()
	since := now.Add(-window)

	devices, err := s.store.ListDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	scores, err := s.store.AllTrustScores(ctx)
	if err != nil {
		return nil, fmt.Errorf("trust scores: %w", err)
	}
	threats, err := s.store.ListThreats(ctx)
	if err != nil {
		return nil, fmt.Errorf("list threats: %w", err)
	}
	mitigations, err := s.store.ListMitigations(ctx)
	if err != nil {
		return nil, fmt.Errorf("list mitigations: %w", err)
	}
	decisions, err := s.audit.DecisionsSince(ctx, since, decisionLimit)
	if err != nil {
		return nil, fmt.Errorf("decision trail: %w", err)
	}

	var alerts []domain.Alert
	if s.journal != nil {
		alerts = s.journal.Recent(since)
	}
	current := s.decisions.AllDecisions()

	stats := s.buildStats(devices, scores, alerts, decisions, threats, mitigations)
	entries := s.topology(devices, scores, current, now)
	risks := s.riskCalc.TopRisks(devices, scores, current, alerts, threats, topRiskLimit)

	generatedBy := "system"
	if u := domain.AuditUserFrom(ctx); u != nil {
		generatedBy = u.Username
	}

	return &domain.ReportData{
		GeneratedAt:     now,
		GeneratedBy:     generatedBy,
		Window:          window,
		Stats:           stats,
		Devices:         entries,
		Alerts:          alerts,
		Threats:         threats,
		Mitigations:     mitigations,
		Decisions:       decisions,
		TopRisks:        risks,
		Recommendations: s.recommender.Recommendations(stats),
	}, nil
}

// Stats assembles the live posture snapshot behind the stats endpoint
// and the dashboard's periodic push. Unlike Generate it reads only
// current state: no decision trail, no risk ranking, no look-back
// beyond the alert journal's own retention. The runtime fields
// (queue drops, switch session, uptime) stay zero here; the serving
// layer owns them.
func (s *Service) Stats(ctx context.Context) (domain.SystemStats, error) {
	devices, err := s.store.ListDevices(ctx)
	if err != nil {
		return domain.SystemStats{}, fmt.Errorf("list devices: %w", err)
	}
	scores, err := s.store.AllTrustScores(ctx)
	if err != nil {
		return domain.SystemStats{}, fmt.Errorf("trust scores: %w", err)
	}
	threats, err := s.store.ListThreats(ctx)
	if err != nil {
		return domain.SystemStats{}, fmt.Errorf("list threats: %w", err)
	}

	stats := domain.NewSystemStats()
	stats.DeviceCount = len(devices)
	stats.ThreatCount = len(threats)

	// Same averaging rule as the report header: pending devices carry
	// no score yet and revoked ones no longer count.
	var trustSum, trustCount int
	for _, dev := range devices {
		stats.StatusBreakdown[dev.Status]++
		switch dev.Status {
		case domain.StatusPending:
			stats.PendingCount++
			continue
		case domain.StatusRevoked:
			continue
		}
		trustSum += scores[dev.DeviceID]
		trustCount++
	}
	if trustCount > 0 {
		stats.AverageTrust = float64(trustSum) / float64(trustCount)
	}

	for _, d := range s.decisions.AllDecisions() {
		stats.DecisionBreakdown[d]++
	}
	if s.journal != nil {
		stats.AlertCount = len(s.journal.Recent(time.Time{}))
	}
	stats.LastUpdated = s.clock.Now().UTC()
	return stats, nil
}

// buildStats folds the collected slices into the report's header
// numbers. Trust averages cover admitted devices only: pending devices
// carry no score yet and revoked ones no longer count.
func (s *Service) buildStats(
	devices []domain.Device,
	scores map[string]int,
	alerts []domain.Alert,
	decisions []domain.DecisionAudit,
	threats []domain.Threat,
	mitigations []domain.MitigationRule,
) domain.ReportStats {
	stats := domain.ReportStats{
		TotalDevices:      len(devices),
		AlertsBySeverity:  make(map[domain.Severity]int),
		DecisionBreakdown: make(map[domain.Decision]int),
		ActiveThreats:     len(threats),
	}

	var trustSum, trustCount int
	for _, dev := range devices {
		switch dev.Status {
		case domain.StatusActive:
			stats.ActiveDevices++
		case domain.StatusProfiling:
			stats.ProfilingDevices++
		case domain.StatusPending:
			stats.PendingDevices++
		case domain.StatusQuarantined:
			stats.QuarantinedCount++
		case domain.StatusRevoked:
			stats.RevokedCount++
		}
		if dev.Status == domain.StatusPending || dev.Status == domain.StatusRevoked {
			continue
		}
		trust := scores[dev.DeviceID]
		trustSum += trust
		trustCount++
		if trust < lowTrustBelow {
			stats.LowTrustDevices++
		}
	}
	if trustCount > 0 {
		stats.AvgTrust = float64(trustSum) / float64(trustCount)
	}

	for _, a := range alerts {
		stats.AlertsBySeverity[a.Severity]++
	}
	for _, d := range decisions {
		stats.DecisionBreakdown[d.Decision]++
	}
	for _, m := range mitigations {
		if m.Permanent {
			stats.PermanentBlocks++
		}
	}
	return stats
}

// topology builds one row per device. Revoked devices stay listed but
// are never reported connected, whatever their last-seen time says.
func (s *Service) topology(
	devices []domain.Device,
	scores map[string]int,
	current map[string]domain.Decision,
	now time.Time,
) []domain.TopologyEntry {
	entries := make([]domain.TopologyEntry, 0, len(devices))
	for _, dev := range devices {
		decision, ok := current[dev.DeviceID]
		if !ok {
			decision = domain.DecisionDeny
		}
		connected := dev.Status != domain.StatusRevoked &&
			!dev.LastSeen.IsZero() &&
			now.Sub(dev.LastSeen) <= s.staleAfter
		entries = append(entries, domain.TopologyEntry{
			DeviceID:  dev.DeviceID,
			MAC:       dev.MAC,
			Status:    dev.Status,
			LastSeen:  dev.LastSeen,
			Trust:     scores[dev.DeviceID],
			Decision:  decision,
			Connected: connected,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].DeviceID < entries[j].DeviceID
	})
	return entries
}
