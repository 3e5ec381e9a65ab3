package ports

import (
	"context"
	"time"

	"github.com/lcalzada-xor/ztcore/internal/core/domain"
)

// Store defines the behavior of the identity store: the single durable
// owner of devices, baselines, policies, trust history, threats and
// mitigation rules. All state-changing operations are atomic per device;
// reads never observe a partial write.
type Store interface {
	// RegisterPending creates a pending device. The suggested ID may be
	// empty, in which case one is derived from the MAC. Fails with
	// DuplicateMACError if the MAC belongs to a non-revoked device.
	RegisterPending(ctx context.Context, mac, suggestedID, deviceType string) (*domain.Device, error)

	// GetDevice retrieves a device by its identifier.
	GetDevice(ctx context.Context, deviceID string) (*domain.Device, error)

	// GetDeviceByMAC retrieves the non-revoked device bound to a MAC.
	GetDeviceByMAC(ctx context.Context, mac string) (*domain.Device, error)

	// ListDevices returns all devices, revoked included.
	ListDevices(ctx context.Context) ([]domain.Device, error)

	// ListDevicesByStatus returns devices in one lifecycle state.
	ListDevicesByStatus(ctx context.Context, status domain.DeviceStatus) ([]domain.Device, error)

	// UpdateDevice persists mutable device fields.
	UpdateDevice(ctx context.Context, device *domain.Device) error

	// SetStatus transitions a device's lifecycle state.
	SetStatus(ctx context.Context, deviceID string, status domain.DeviceStatus) error

	// SetLastSeen refreshes the liveness timestamp.
	SetLastSeen(ctx context.Context, deviceID string, seen time.Time) error

	// AppendDeviceHistory records a lifecycle event for audit purposes.
	AppendDeviceHistory(ctx context.Context, deviceID, event, note string) error

	// DeviceHistory returns a device's lifecycle events, newest first.
	DeviceHistory(ctx context.Context, deviceID string, limit int) ([]domain.DeviceHistoryEntry, error)

	// Baselines
	PutBaseline(ctx context.Context, baseline *domain.Baseline) error
	GetBaseline(ctx context.Context, deviceID string) (*domain.Baseline, error)
	DeleteBaseline(ctx context.Context, deviceID string) error

	// Policies
	PutPolicy(ctx context.Context, policy *domain.Policy) error
	GetPolicy(ctx context.Context, deviceID string) (*domain.Policy, error)
	DeletePolicy(ctx context.Context, deviceID string) error

	// Trust history. AppendTrustEvent is the only writer of score state.
	AppendTrustEvent(ctx context.Context, event domain.TrustEvent) error
	CurrentTrust(ctx context.Context, deviceID string) (int, error)
	TrustHistory(ctx context.Context, deviceID string, limit int) ([]domain.TrustEvent, error)
	AllTrustScores(ctx context.Context) (map[string]int, error)

	// Threat intelligence
	UpsertThreat(ctx context.Context, threat *domain.Threat) error
	GetThreat(ctx context.Context, sourceIP string) (*domain.Threat, error)
	ListThreats(ctx context.Context) ([]domain.Threat, error)
	// DeleteThreat removes one threat row, used when an administrator
	// clears intel about a reinstated device's address.
	DeleteThreat(ctx context.Context, sourceIP string) error
	// DeleteThreatsBefore removes threats idle since before the cutoff
	// and returns their source IPs so dependents can expire with them.
	DeleteThreatsBefore(ctx context.Context, cutoff time.Time) ([]string, error)

	// Mitigation rules
	SaveMitigation(ctx context.Context, rule *domain.MitigationRule) error
	GetMitigationBySource(ctx context.Context, sourceIP string) (*domain.MitigationRule, error)
	ListMitigations(ctx context.Context) ([]domain.MitigationRule, error)
	DeleteMitigation(ctx context.Context, id string) error

	// Close closes the storage connection.
	Close() error
}

// UserRepository defines the persistence layer for management API users.
type UserRepository interface {
	// SaveUser creates or updates a user.
	SaveUser(ctx context.Context, user *domain.User) error
	// GetUserByUsername retrieves a user by their username.
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
	// CountUsers returns the number of stored users.
	CountUsers(ctx context.Context) (int64, error)
}
