package storage

import (
	"context"
	"errors"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/lcalzada-xor/ztcore/internal/core/domain"
	"github.com/lcalzada-xor/ztcore/internal/core/ports"
)

// SQLiteAdapter implements ports.Store using GORM and SQLite.
type SQLiteAdapter struct {
	db *gorm.DB
}

// DeviceModel is the GORM model for devices.
type DeviceModel struct {
	DeviceID           string `gorm:"primaryKey"`
	MAC                string `gorm:"index"`
	Type               string
	Fingerprint        string
	Status             string `gorm:"index"`
	IP                 string `gorm:"index"`
	CertPath           string
	KeyPath            string
	FirstSeen          time.Time
	OnboardedAt        time.Time
	LastSeen           time.Time
	ProfilingStartedAt *time.Time
	HeartbeatExpected  bool
	Info               string
}

// DeviceHistoryModel stores lifecycle events per device.
type DeviceHistoryModel struct {
	ID        uint   `gorm:"primaryKey"`
	DeviceID  string `gorm:"index"`
	Event     string
	Note      string
	Timestamp time.Time
}

// BaselineModel is the GORM model for behavioral baselines.
type BaselineModel struct {
	DeviceID       string `gorm:"primaryKey"`
	AvgPPS         float64
	AvgBPS         float64
	DstIPs         string // JSON encoded []string
	DstPorts       string // JSON encoded []int
	Protocols      string // JSON encoded []string
	Sparse         bool
	UniqueDstIPs   int
	UniqueDstPorts int
	EstablishedAt  time.Time
	UpdatedAt      time.Time
}

// PolicyModel is the GORM model for per-device policies.
type PolicyModel struct {
	DeviceID    string `gorm:"primaryKey"`
	Rules       string // JSON encoded []domain.PolicyRule
	GeneratedAt time.Time
	UpdatedAt   time.Time
}

// TrustEventModel is one append-only trust history row. The rowid gives
// total order within a device; the latest row carries the current score.
type TrustEventModel struct {
	ID         uint   `gorm:"primaryKey"`
	DeviceID   string `gorm:"index"`
	ScoreAfter int
	Delta      int
	Reason     string
	Timestamp  time.Time
}

// ThreatModel is the GORM model for honeypot-derived threats.
type ThreatModel struct {
	SourceIP   string `gorm:"primaryKey"`
	FirstSeen  time.Time
	LastSeen   time.Time `gorm:"index"`
	EventKinds string    // JSON encoded []string
	Severity   string
	EventCount int
}

// MitigationModel is the GORM model for mitigation rules.
type MitigationModel struct {
	ID        string `gorm:"primaryKey"`
	SourceIP  string `gorm:"index"`
	Match     string // JSON encoded domain.Match
	Action    string
	Priority  int
	Reason    string
	Permanent bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewSQLiteAdapter initializes the database and migrates schema.
func NewSQLiteAdapter(path string) (*SQLiteAdapter, error) {
	db, err := gorm.Open(sqlite.Open(path+"?_busy_timeout=5000"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return nil, err
	}

	// Auto Migrate
	if err := db.AutoMigrate(
		&DeviceModel{},
		&DeviceHistoryModel{},
		&BaselineModel{},
		&PolicyModel{},
		&TrustEventModel{},
		&ThreatModel{},
		&MitigationModel{},
		&domain.User{},
	); err != nil {
		return nil, err
	}

	// Create Indices for Performance
	db.Exec("CREATE INDEX IF NOT EXISTS idx_devices_mac_status ON device_models(mac, status)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_trust_events_device ON trust_event_models(device_id, id)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_history_device ON device_history_models(device_id, id)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_mitigations_source ON mitigation_models(source_ip)")

	return &SQLiteAdapter{db: db}, nil
}

// RegisterPending creates a pending device, deriving an identifier when
// none is suggested. MAC and ID uniqueness are checked inside one
// transaction so concurrent registrations cannot race past each other.
func (a *SQLiteAdapter) RegisterPending(ctx context.Context, mac, suggestedID, deviceType string) (*domain.Device, error) {
	mac = domain.NormalizeMAC(mac)
	now := time.Now().UTC()

	dev := &domain.Device{
		DeviceID:  suggestedID,
		MAC:       mac,
		Type:      deviceType,
		Status:    domain.StatusPending,
		FirstSeen: now,
		LastSeen:  now,
	}
	if dev.DeviceID == "" {
		dev.DeviceID = domain.NewDeviceID(mac)
	}
	dev.Fingerprint = domain.Fingerprint(mac, deviceType, now)

	err := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&DeviceModel{}).
			Where("mac = ? AND status <> ?", mac, string(domain.StatusRevoked)).
			Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return &domain.DuplicateMACError{MAC: mac}
		}
		if err := tx.Model(&DeviceModel{}).
			Where("device_id = ?", dev.DeviceID).
			Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return &domain.DuplicateDeviceIDError{DeviceID: dev.DeviceID}
		}
		model := toDeviceModel(dev)
		return tx.Create(&model).Error
	})
	if err != nil {
		return nil, domain.WrapStorage(err)
	}
	return dev, nil
}

// GetDevice retrieves a device by its identifier.
func (a *SQLiteAdapter) GetDevice(ctx context.Context, deviceID string) (*domain.Device, error) {
	var model DeviceModel
	if err := a.db.WithContext(ctx).First(&model, "device_id = ?", deviceID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NotFound("device", deviceID)
		}
		return nil, domain.WrapStorage(err)
	}
	return toDeviceDomain(model), nil
}

// GetDeviceByMAC retrieves the non-revoked device bound to a MAC. A MAC
// may appear on several revoked rows; at most one live row exists.
func (a *SQLiteAdapter) GetDeviceByMAC(ctx context.Context, mac string) (*domain.Device, error) {
	mac = domain.NormalizeMAC(mac)
	var model DeviceModel
	err := a.db.WithContext(ctx).
		Where("mac = ? AND status <> ?", mac, string(domain.StatusRevoked)).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NotFound("device", mac)
		}
		return nil, domain.WrapStorage(err)
	}
	return toDeviceDomain(model), nil
}

// ListDevices retrieves all devices, revoked included.
func (a *SQLiteAdapter) ListDevices(ctx context.Context) ([]domain.Device, error) {
	var models []DeviceModel
	if err := a.db.WithContext(ctx).Order("first_seen").Find(&models).Error; err != nil {
		return nil, domain.WrapStorage(err)
	}
	devices := make([]domain.Device, len(models))
	for i, m := range models {
		devices[i] = *toDeviceDomain(m)
	}
	return devices, nil
}

// ListDevicesByStatus retrieves devices in one lifecycle state.
func (a *SQLiteAdapter) ListDevicesByStatus(ctx context.Context, status domain.DeviceStatus) ([]domain.Device, error) {
	var models []DeviceModel
	err := a.db.WithContext(ctx).
		Where("status = ?", string(status)).
		Order("first_seen").
		Find(&models).Error
	if err != nil {
		return nil, domain.WrapStorage(err)
	}
	devices := make([]domain.Device, len(models))
	for i, m := range models {
		devices[i] = *toDeviceDomain(m)
	}
	return devices, nil
}

// UpdateDevice persists mutable device fields.
func (a *SQLiteAdapter) UpdateDevice(ctx context.Context, device *domain.Device) error {
	model := toDeviceModel(device)
	return domain.WrapStorage(a.db.WithContext(ctx).Save(&model).Error)
}

// SetStatus transitions a device's lifecycle state.
func (a *SQLiteAdapter) SetStatus(ctx context.Context, deviceID string, status domain.DeviceStatus) error {
	res := a.db.WithContext(ctx).Model(&DeviceModel{}).
		Where("device_id = ?", deviceID).
		Update("status", string(status))
	if res.Error != nil {
		return domain.WrapStorage(res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.NotFound("device", deviceID)
	}
	return nil
}

// SetLastSeen refreshes the liveness timestamp.
func (a *SQLiteAdapter) SetLastSeen(ctx context.Context, deviceID string, seen time.Time) error {
	res := a.db.WithContext(ctx).Model(&DeviceModel{}).
		Where("device_id = ?", deviceID).
		Update("last_seen", seen)
	if res.Error != nil {
		return domain.WrapStorage(res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.NotFound("device", deviceID)
	}
	return nil
}

// AppendDeviceHistory records a lifecycle event for audit purposes.
func (a *SQLiteAdapter) AppendDeviceHistory(ctx context.Context, deviceID, event, note string) error {
	entry := DeviceHistoryModel{
		DeviceID:  deviceID,
		Event:     event,
		Note:      note,
		Timestamp: time.Now().UTC(),
	}
	return domain.WrapStorage(a.db.WithContext(ctx).Create(&entry).Error)
}

// DeviceHistory returns a device's lifecycle events, newest first.
func (a *SQLiteAdapter) DeviceHistory(ctx context.Context, deviceID string, limit int) ([]domain.DeviceHistoryEntry, error) {
	q := a.db.WithContext(ctx).Where("device_id = ?", deviceID).Order("id desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var models []DeviceHistoryModel
	if err := q.Find(&models).Error; err != nil {
		return nil, domain.WrapStorage(err)
	}
	entries := make([]domain.DeviceHistoryEntry, len(models))
	for i, m := range models {
		entries[i] = domain.DeviceHistoryEntry{
			DeviceID:  m.DeviceID,
			Event:     m.Event,
			Note:      m.Note,
			Timestamp: m.Timestamp,
		}
	}
	return entries, nil
}

func (a *SQLiteAdapter) Close() error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ensure interface compliance
var _ ports.Store = (*SQLiteAdapter)(nil)
