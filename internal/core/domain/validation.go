package domain

import (
	"net"
	"regexp"
)

// Validation Helpers

var (
	macRegex      = regexp.MustCompile(`^([0-9A-Fa-f]{2}[:-]){5}([0-9A-Fa-f]{2})$`)
	deviceIDRegex = regexp.MustCompile(`^[a-zA-Z0-9\-_.]+$`)
)

// IsValidMAC checks if the string is a valid MAC address
func IsValidMAC(mac string) bool {
	return macRegex.MatchString(mac)
}

// IsValidDeviceID checks if the string is a safe device identifier
// (alphanumeric plus - _ .), bounded to a sane length.
func IsValidDeviceID(id string) bool {
	if len(id) == 0 || len(id) > 64 {
		return false
	}
	return deviceIDRegex.MatchString(id)
}

// IsValidIP checks if the string parses as an IPv4 or IPv6 address.
func IsValidIP(ip string) bool {
	return net.ParseIP(ip) != nil
}
