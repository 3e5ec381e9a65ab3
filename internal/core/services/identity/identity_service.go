package identity

import (
	"context"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lcalzada-xor/ztcore/internal/core/domain"
	"github.com/lcalzada-xor/ztcore/internal/core/ports"
)

// Service answers the management API's read questions about the device
// inventory: filtered listings, per-device detail, and the topology
// view that joins lifecycle state with the orchestrator's current
// verdict. It owns no state of its own.
type Service struct {
	store     ports.Store
	decisions ports.DecisionProvider
	clock     clockwork.Clock

	connectedWindow time.Duration
}

// TopologyNode is one device row of the network view. TrustScore is
// nil for devices that have not been scored yet (pending).
type TopologyNode struct {
	DeviceID   string              `json:"device_id"`
	MAC        string              `json:"mac"`
	Type       string              `json:"type,omitempty"`
	IP         string              `json:"ip,omitempty"`
	Status     domain.DeviceStatus `json:"status"`
	LastSeen   time.Time           `json:"last_seen"`
	TrustScore *int                `json:"trust_score,omitempty"`
	Decision   domain.Decision     `json:"decision"`
	Connected  bool                `json:"connected"`
}

// Option configures the service.
type Option func(*Service)

// WithClock injects a test clock.
func WithClock(c clockwork.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithConnectedWindow sets how recent last_seen must be for a device to
// count as connected in the topology.
func WithConnectedWindow(d time.Duration) Option {
	return func(s *Service) { s.connectedWindow = d }
}

// NewService creates the inventory read service.
func NewService(store ports.Store, decisions ports.DecisionProvider, opts ...Option) *Service {
	s := &Service{
		store:           store,
		decisions:       decisions,
		clock:           clockwork.NewRealClock(),
		connectedWindow: 60 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// List returns devices matching the filter, newest first. A nil filter
// matches everything.
func (s *Service) List(ctx context.Context, filter *domain.DeviceFilter) ([]domain.Device, error) {
	if filter != nil {
		if err := filter.Validate(); err != nil {
			return nil, err
		}
	}

	devices, err := s.store.ListDevices(ctx)
	if err != nil {
		return nil, err
	}

	out := devices[:0]
	for i := range devices {
		if filter == nil || filter.Matches(&devices[i]) {
			out = append(out, devices[i])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FirstSeen.After(out[j].FirstSeen) })
	return out, nil
}

// Pending returns devices awaiting administrator approval.
func (s *Service) Pending(ctx context.Context) ([]domain.Device, error) {
	return s.store.ListDevicesByStatus(ctx, domain.StatusPending)
}

// Get returns one device by ID.
func (s *Service) Get(ctx context.Context, deviceID string) (*domain.Device, error) {
	return s.store.GetDevice(ctx, deviceID)
}

// Baseline returns a device's behavioral baseline.
func (s *Service) Baseline(ctx context.Context, deviceID string) (*domain.Baseline, error) {
	if _, err := s.store.GetDevice(ctx, deviceID); err != nil {
		return nil, err
	}
	return s.store.GetBaseline(ctx, deviceID)
}

// Policy returns a device's least-privilege policy.
func (s *Service) Policy(ctx context.Context, deviceID string) (*domain.Policy, error) {
	if _, err := s.store.GetDevice(ctx, deviceID); err != nil {
		return nil, err
	}
	return s.store.GetPolicy(ctx, deviceID)
}

// TrustHistory returns a device's trust event trail, newest first.
func (s *Service) TrustHistory(ctx context.Context, deviceID string, limit int) ([]domain.TrustEvent, error) {
	if _, err := s.store.GetDevice(ctx, deviceID); err != nil {
		return nil, err
	}
	return s.store.TrustHistory(ctx, deviceID, limit)
}

// History returns a device's lifecycle audit entries, newest first.
func (s *Service) History(ctx context.Context, deviceID string, limit int) ([]domain.DeviceHistoryEntry, error) {
	if _, err := s.store.GetDevice(ctx, deviceID); err != nil {
		return nil, err
	}
	return s.store.DeviceHistory(ctx, deviceID, limit)
}

// Topology joins every device with its trust score and the
// orchestrator's current decision. Revoked devices appear but are
// never reported connected, regardless of traffic timestamps.
func (s *Service) Topology(ctx context.Context) ([]TopologyNode, error) {
	devices, err := s.store.ListDevices(ctx)
	if err != nil {
		return nil, err
	}
	scores, err := s.store.AllTrustScores(ctx)
	if err != nil {
		return nil, err
	}
	decisions := s.decisions.AllDecisions()

	now := s.clock.Now()
	nodes := make([]TopologyNode, 0, len(devices))
	for _, dev := range devices {
		decision, ok := decisions[dev.DeviceID]
		if !ok {
			decision = domain.DecisionDeny
		}

		connected := dev.Status != domain.StatusRevoked &&
			!dev.LastSeen.IsZero() &&
			now.Sub(dev.LastSeen) <= s.connectedWindow

		node := TopologyNode{
			DeviceID:  dev.DeviceID,
			MAC:       dev.MAC,
			Type:      dev.Type,
			IP:        dev.IP,
			Status:    dev.Status,
			LastSeen:  dev.LastSeen,
			Decision:  decision,
			Connected: connected,
		}
		if score, ok := scores[dev.DeviceID]; ok {
			node.TrustScore = &score
		}
		nodes = append(nodes, node)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].DeviceID < nodes[j].DeviceID })
	return nodes, nil
}
