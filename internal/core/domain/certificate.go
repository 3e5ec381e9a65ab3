package domain

import "time"

// CertificateRecord describes one issued device certificate. The PEM
// material itself lives on disk under the CA directory; the record keeps
// only handles and validity metadata.
type CertificateRecord struct {
	DeviceID     string    `json:"device_id"`
	SerialNumber string    `json:"serial_number"`
	Subject      string    `json:"subject"`
	NotBefore    time.Time `json:"not_before"`
	NotAfter     time.Time `json:"not_after"`
	CertPath     string    `json:"cert_path"`
	KeyPath      string    `json:"key_path"`
}

// RevocationEntry is one row of the CA's revocation list. A revoked
// certificate must never validate again.
type RevocationEntry struct {
	DeviceID     string    `json:"device_id"`
	SerialNumber string    `json:"serial_number"`
	Reason       string    `json:"reason"`
	RevokedAt    time.Time `json:"revoked_at"`
}

// ValidationResult is the outcome of certificate validation. Reason is
// set only when Valid is false.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Reason AttestationReason `json:"reason,omitempty"`
}
