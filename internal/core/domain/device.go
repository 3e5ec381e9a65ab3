package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DeviceStatus is the lifecycle state of a device in the identity store.
type DeviceStatus string

// Device lifecycle states
const (
	StatusPending     DeviceStatus = "pending"
	StatusProfiling   DeviceStatus = "profiling"
	StatusActive      DeviceStatus = "active"
	StatusRevoked     DeviceStatus = "revoked"
	StatusQuarantined DeviceStatus = "quarantined"
)

// Valid reports whether s is one of the known lifecycle states.
func (s DeviceStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProfiling, StatusActive, StatusRevoked, StatusQuarantined:
		return true
	}
	return false
}

// Device represents an IoT device known to the policy core.
type Device struct {
	DeviceID    string       `json:"device_id"`
	MAC         string       `json:"mac"`
	Type        string       `json:"type,omitempty"` // e.g. "camera", "thermostat", "speaker"
	Fingerprint string       `json:"fingerprint"`    // SHA-256 over MAC:type:first_seen
	Status      DeviceStatus `json:"status"`

	// IP is the device's last observed LAN address, learned from traffic.
	// Threat intelligence is keyed by IP, so this is what ties a honeypot
	// hit back to the device that caused it.
	IP string `json:"ip,omitempty"`

	CertPath string `json:"cert_path,omitempty"`
	KeyPath  string `json:"key_path,omitempty"`

	FirstSeen   time.Time `json:"first_seen"`
	OnboardedAt time.Time `json:"onboarded_at,omitempty"`
	LastSeen    time.Time `json:"last_seen"`

	// ProfilingStartedAt is persisted so the finalization watcher can
	// recover profiling windows across a restart.
	ProfilingStartedAt *time.Time `json:"profiling_started_at,omitempty"`

	// HeartbeatExpected marks devices that are supposed to emit traffic
	// continuously; attestation treats silence from them as a failure.
	HeartbeatExpected bool `json:"heartbeat_expected,omitempty"`

	Info string `json:"info,omitempty"` // free-form operator notes
}

// DeviceHistoryEntry is one lifecycle event in a device's audit trail,
// e.g. an approval, a quarantine or a certificate rotation.
type DeviceHistoryEntry struct {
	DeviceID  string    `json:"device_id"`
	Event     string    `json:"event"`
	Note      string    `json:"note,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewDeviceID derives an identifier from the MAC vendor prefix plus a
// random suffix, e.g. "dev-aabbcc-1f2e3d4c". Administrator-chosen IDs
// bypass this and are used verbatim.
func NewDeviceID(mac string) string {
	prefix := strings.ToLower(strings.ReplaceAll(mac, ":", ""))
	if len(prefix) > 6 {
		prefix = prefix[:6]
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("dev-%s-%s", prefix, suffix)
}

// Fingerprint computes the stable physical-identity hash for a device.
func Fingerprint(mac, deviceType string, firstSeen time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%d", strings.ToLower(mac), deviceType, firstSeen.Unix())))
	return hex.EncodeToString(sum[:])
}

// NormalizeMAC lowercases a MAC address so lookups are canonical.
func NormalizeMAC(mac string) string {
	return strings.ToLower(strings.TrimSpace(mac))
}
