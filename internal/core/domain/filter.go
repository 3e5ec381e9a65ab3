package domain

import (
	"errors"
	"strings"
	"time"
)

// Domain errors for filtering
var (
	ErrInvalidStatusFilter = errors.New("unknown device status in filter")
	ErrInvalidTimeRange    = errors.New("SeenAfter cannot be later than SeenBefore")
)

// DeviceFilter defines criteria for querying the device inventory.
// It follows the Specification Pattern by providing a Matches method to
// keep API queries and in-memory filtering consistent.
type DeviceFilter struct {
	Status    DeviceStatus `json:"status"`     // "" = any
	Type      string       `json:"type"`       // exact, case-insensitive; "" = any
	MACPrefix string       `json:"mac_prefix"` // normalized prefix match; "" = any

	SeenAfter  time.Time `json:"seen_after"`  // devices seen after this time
	SeenBefore time.Time `json:"seen_before"` // devices seen before this time

	HeartbeatExpected *bool `json:"heartbeat_expected"` // nil = any
}

// NewDeviceFilter initializes an empty match-anything filter.
func NewDeviceFilter() *DeviceFilter {
	return &DeviceFilter{}
}

// --- Builder Pattern Methods ---

func (f *DeviceFilter) WithStatus(s DeviceStatus) *DeviceFilter {
	f.Status = s
	return f
}

func (f *DeviceFilter) WithType(t string) *DeviceFilter {
	f.Type = t
	return f
}

func (f *DeviceFilter) WithMACPrefix(prefix string) *DeviceFilter {
	f.MACPrefix = NormalizeMAC(prefix)
	return f
}

// Validate ensures the filter criteria are logically valid.
func (f *DeviceFilter) Validate() error {
	if f.Status != "" && !f.Status.Valid() {
		return ErrInvalidStatusFilter
	}
	if !f.SeenAfter.IsZero() && !f.SeenBefore.IsZero() && f.SeenAfter.After(f.SeenBefore) {
		return ErrInvalidTimeRange
	}
	return nil
}

// Matches reports whether the device satisfies every set criterion.
func (f *DeviceFilter) Matches(d *Device) bool {
	if d == nil {
		return false
	}

	if f.Status != "" && d.Status != f.Status {
		return false
	}

	if f.Type != "" && !strings.EqualFold(d.Type, f.Type) {
		return false
	}

	if f.MACPrefix != "" && !strings.HasPrefix(NormalizeMAC(d.MAC), f.MACPrefix) {
		return false
	}

	if !f.SeenAfter.IsZero() && d.LastSeen.Before(f.SeenAfter) {
		return false
	}
	if !f.SeenBefore.IsZero() && d.LastSeen.After(f.SeenBefore) {
		return false
	}

	if f.HeartbeatExpected != nil && d.HeartbeatExpected != *f.HeartbeatExpected {
		return false
	}

	return true
}
