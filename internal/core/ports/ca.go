package ports

import (
	"context"

	"github.com/lcalzada-xor/ztcore/internal/core/domain"
)

// CertAuthority issues and validates device certificates against the
// single self-signed root.
type CertAuthority interface {
	// Issue creates a certificate and key pair for the device, writes
	// the PEM files under the CA directory, and returns their record.
	// A device has at most one non-revoked certificate; issuing again
	// revokes the previous one first.
	Issue(ctx context.Context, deviceID, mac string) (*domain.CertificateRecord, error)

	// Validate checks the device's stored certificate: root signature,
	// validity window, revocation set, and subject against the device
	// record. The result reason is enumerable (§ErrAttestation reasons).
	Validate(ctx context.Context, device *domain.Device) domain.ValidationResult

	// Revoke adds the device's certificate to the revocation list.
	// Revoked certificates never validate again.
	Revoke(ctx context.Context, deviceID, reason string) error

	// Revocations returns the current revocation list.
	Revocations(ctx context.Context) ([]domain.RevocationEntry, error)

	// RootCertPEM exposes the root certificate for distribution.
	RootCertPEM() []byte
}
