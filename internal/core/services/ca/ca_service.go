package ca

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lcalzada-xor/ztcore/internal/core/domain"
	"github.com/lcalzada-xor/ztcore/internal/core/ports"
)

const (
	rootCertFile   = "ca_cert.pem"
	rootKeyFile    = "ca_key.pem"
	revocationFile = "revoked.json"
	devicesSubdir  = "devices"

	rsaKeyBits = 2048

	// RootValidity is the lifetime of the self-signed root.
	RootValidity = 10 * 365 * 24 * time.Hour
	// DeviceCertValidity is the lifetime of issued device certificates.
	DeviceCertValidity = 365 * 24 * time.Hour
)

// Authority is the embedded certificate authority. It keeps one
// self-signed root under its directory, issues per-device certificates
// with the device ID as subject CN, and maintains a JSON revocation
// list. All state lives on disk so a restart changes nothing.
type Authority struct {
	dir   string
	clock clockwork.Clock

	caCert  *x509.Certificate
	caKey   *rsa.PrivateKey
	rootPEM []byte

	mu      sync.RWMutex
	revoked map[string]domain.RevocationEntry // keyed by serial number
}

// Option is a functional argument for the authority.
type Option func(*Authority)

// WithClock overrides the clock, used to test validity windows.
func WithClock(clock clockwork.Clock) Option {
	return func(a *Authority) {
		a.clock = clock
	}
}

// NewAuthority loads the root pair from dir, generating it on first run.
func NewAuthority(dir string, opts ...Option) (*Authority, error) {
	a := &Authority{
		dir:     dir,
		clock:   clockwork.NewRealClock(),
		revoked: make(map[string]domain.RevocationEntry),
	}
	for _, opt := range opts {
		opt(a)
	}

	if err := os.MkdirAll(filepath.Join(dir, devicesSubdir), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create CA directory: %w", err)
	}

	if err := a.loadOrCreateRoot(); err != nil {
		return nil, err
	}
	if err := a.loadRevocations(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Authority) loadOrCreateRoot() error {
	certPath := filepath.Join(a.dir, rootCertFile)
	keyPath := filepath.Join(a.dir, rootKeyFile)

	certPEM, certErr := os.ReadFile(certPath)
	keyPEM, keyErr := os.ReadFile(keyPath)
	if certErr == nil && keyErr == nil {
		cert, err := parseCertificatePEM(certPEM)
		if err != nil {
			return fmt.Errorf("failed to parse root certificate: %w", err)
		}
		key, err := parseRSAKeyPEM(keyPEM)
		if err != nil {
			return fmt.Errorf("failed to parse root key: %w", err)
		}
		a.caCert = cert
		a.caKey = key
		a.rootPEM = certPEM
		return nil
	}

	key, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return fmt.Errorf("failed to generate root key: %w", err)
	}
	serial, err := randomSerial()
	if err != nil {
		return err
	}

	now := a.clock.Now().UTC()
	template := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   "ZTCore Root CA",
			Organization: []string{"ztcore"},
			SerialNumber: serial.String(),
		},
		NotBefore:             now,
		NotAfter:              now.Add(RootValidity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return fmt.Errorf("failed to create root certificate: %w", err)
	}

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	if err := os.WriteFile(certPath, certPEM, 0o644); err != nil {
		return fmt.Errorf("failed to write root certificate: %w", err)
	}
	if err := os.WriteFile(keyPath, keyPEM, 0o600); err != nil {
		return fmt.Errorf("failed to write root key: %w", err)
	}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return fmt.Errorf("failed to reparse root certificate: %w", err)
	}
	a.caCert = cert
	a.caKey = key
	a.rootPEM = certPEM
	return nil
}

// Issue creates a certificate and key pair for the device. Issuing for a
// device that already holds a certificate revokes the old one first, so
// at most one live certificate exists per device.
func (a *Authority) Issue(ctx context.Context, deviceID, mac string) (*domain.CertificateRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	certPath := a.deviceCertPath(deviceID)
	keyPath := a.deviceKeyPath(deviceID)

	if prevPEM, err := os.ReadFile(certPath); err == nil {
		if prev, err := parseCertificatePEM(prevPEM); err == nil {
			a.revokeSerialLocked(deviceID, prev.SerialNumber.String(), "reissued")
		}
	}

	key, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate device key: %w", err)
	}
	serial, err := randomSerial()
	if err != nil {
		return nil, err
	}

	now := a.clock.Now().UTC()
	template := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   deviceID,
			Organization: []string{"ztcore"},
		},
		NotBefore:   now,
		NotAfter:    now.Add(DeviceCertValidity),
		KeyUsage:    x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, a.caCert, &key.PublicKey, a.caKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign device certificate: %w", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	if err := os.WriteFile(certPath, certPEM, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write device certificate: %w", err)
	}
	if err := os.WriteFile(keyPath, keyPEM, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write device key: %w", err)
	}

	if err := a.persistRevocationsLocked(); err != nil {
		return nil, err
	}

	return &domain.CertificateRecord{
		DeviceID:     deviceID,
		SerialNumber: serial.String(),
		Subject:      deviceID,
		NotBefore:    template.NotBefore,
		NotAfter:     template.NotAfter,
		CertPath:     certPath,
		KeyPath:      keyPath,
	}, nil
}

// Validate checks the device's stored certificate. The reason reported
// for an invalid certificate is enumerable: a certificate that cannot be
// read or was signed elsewhere is UnknownIssuer, then the validity
// window, the revocation list and the subject CN are checked in order.
func (a *Authority) Validate(ctx context.Context, device *domain.Device) domain.ValidationResult {
	certPath := device.CertPath
	if certPath == "" {
		certPath = a.deviceCertPath(device.DeviceID)
	}

	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return domain.ValidationResult{Valid: false, Reason: domain.ReasonUnknownIssuer}
	}
	cert, err := parseCertificatePEM(certPEM)
	if err != nil {
		return domain.ValidationResult{Valid: false, Reason: domain.ReasonUnknownIssuer}
	}
	if err := cert.CheckSignatureFrom(a.caCert); err != nil {
		return domain.ValidationResult{Valid: false, Reason: domain.ReasonUnknownIssuer}
	}

	now := a.clock.Now()
	if now.Before(cert.NotBefore) || now.After(cert.NotAfter) {
		return domain.ValidationResult{Valid: false, Reason: domain.ReasonExpiredCert}
	}

	a.mu.RLock()
	_, isRevoked := a.revoked[cert.SerialNumber.String()]
	a.mu.RUnlock()
	if isRevoked {
		return domain.ValidationResult{Valid: false, Reason: domain.ReasonRevoked}
	}

	if cert.Subject.CommonName != device.DeviceID {
		return domain.ValidationResult{Valid: false, Reason: domain.ReasonSubjectMismatch}
	}

	return domain.ValidationResult{Valid: true}
}

// Revoke adds the device's current certificate to the revocation list.
// A device with no certificate on disk is already effectively revoked,
// so that case is a no-op.
func (a *Authority) Revoke(ctx context.Context, deviceID, reason string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	certPEM, err := os.ReadFile(a.deviceCertPath(deviceID))
	if err != nil {
		return nil
	}
	cert, err := parseCertificatePEM(certPEM)
	if err != nil {
		return nil
	}

	a.revokeSerialLocked(deviceID, cert.SerialNumber.String(), reason)
	return a.persistRevocationsLocked()
}

// Revocations returns the current revocation list.
func (a *Authority) Revocations(ctx context.Context) ([]domain.RevocationEntry, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	entries := make([]domain.RevocationEntry, 0, len(a.revoked))
	for _, e := range a.revoked {
		entries = append(entries, e)
	}
	return entries, nil
}

// RootCertPEM exposes the root certificate for distribution to devices.
func (a *Authority) RootCertPEM() []byte {
	return a.rootPEM
}

func (a *Authority) revokeSerialLocked(deviceID, serial, reason string) {
	if _, exists := a.revoked[serial]; exists {
		return
	}
	a.revoked[serial] = domain.RevocationEntry{
		DeviceID:     deviceID,
		SerialNumber: serial,
		Reason:       reason,
		RevokedAt:    a.clock.Now().UTC(),
	}
}

func (a *Authority) loadRevocations() error {
	data, err := os.ReadFile(filepath.Join(a.dir, revocationFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read revocation list: %w", err)
	}
	var entries []domain.RevocationEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("failed to parse revocation list: %w", err)
	}
	for _, e := range entries {
		a.revoked[e.SerialNumber] = e
	}
	return nil
}

func (a *Authority) persistRevocationsLocked() error {
	entries := make([]domain.RevocationEntry, 0, len(a.revoked))
	for _, e := range a.revoked {
		entries = append(entries, e)
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode revocation list: %w", err)
	}
	if err := os.WriteFile(filepath.Join(a.dir, revocationFile), data, 0o644); err != nil {
		return fmt.Errorf("failed to write revocation list: %w", err)
	}
	return nil
}

func (a *Authority) deviceCertPath(deviceID string) string {
	return filepath.Join(a.dir, devicesSubdir, deviceID+".crt")
}

func (a *Authority) deviceKeyPath(deviceID string) string {
	return filepath.Join(a.dir, devicesSubdir, deviceID+".key")
}

func randomSerial() (*big.Int, error) {
	limit := new(big.Int).Lsh(big.NewInt(1), 128)
	serial, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}
	return serial, nil
}

func parseCertificatePEM(data []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("expected PEM-encoded block")
	}
	return x509.ParseCertificate(block.Bytes)
}

func parseRSAKeyPEM(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("expected PEM-encoded block")
	}
	return x509.ParsePKCS1PrivateKey(block.Bytes)
}

// Ensure interface compliance
var _ ports.CertAuthority = (*Authority)(nil)
