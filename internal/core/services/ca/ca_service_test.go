package ca

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lcalzada-xor/ztcore/internal/core/domain"
)

func newTestAuthority(t *testing.T, opts ...Option) *Authority {
	t.Helper()
	a, err := NewAuthority(t.TempDir(), opts...)
	require.NoError(t, err)
	return a
}

func TestNewAuthority_CreatesRoot(t *testing.T) {
	dir := t.TempDir()
	a, err := NewAuthority(dir)
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(dir, "ca_cert.pem"))
	assert.FileExists(t, filepath.Join(dir, "ca_key.pem"))

	cert, err := parseCertificatePEM(a.RootCertPEM())
	require.NoError(t, err)
	assert.True(t, cert.IsCA)
	assert.Equal(t, "ZTCore Root CA", cert.Subject.CommonName)
}

func TestIssueAndValidate(t *testing.T) {
	a := newTestAuthority(t)

	rec, err := a.Issue(context.Background(), "dev-cam-01", "aa:bb:cc:dd:ee:ff")
	require.NoError(t, err)
	assert.Equal(t, "dev-cam-01", rec.DeviceID)
	assert.Equal(t, "dev-cam-01", rec.Subject)
	assert.NotEmpty(t, rec.SerialNumber)
	assert.FileExists(t, rec.CertPath)
	assert.FileExists(t, rec.KeyPath)

	result := a.Validate(context.Background(), &domain.Device{
		DeviceID: "dev-cam-01",
		CertPath: rec.CertPath,
	})
	assert.True(t, result.Valid)
}

func TestValidate_ExpiredCert(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Now())
	a := newTestAuthority(t, WithClock(clock))

	rec, err := a.Issue(context.Background(), "dev-cam-01", "aa:bb:cc:dd:ee:ff")
	require.NoError(t, err)

	clock.Advance(366 * 24 * time.Hour)

	result := a.Validate(context.Background(), &domain.Device{
		DeviceID: "dev-cam-01",
		CertPath: rec.CertPath,
	})
	assert.False(t, result.Valid)
	assert.Equal(t, domain.ReasonExpiredCert, result.Reason)
}

func TestValidate_Revoked(t *testing.T) {
	a := newTestAuthority(t)

	rec, err := a.Issue(context.Background(), "dev-cam-01", "aa:bb:cc:dd:ee:ff")
	require.NoError(t, err)
	require.NoError(t, a.Revoke(context.Background(), "dev-cam-01", "compromised"))

	result := a.Validate(context.Background(), &domain.Device{
		DeviceID: "dev-cam-01",
		CertPath: rec.CertPath,
	})
	assert.False(t, result.Valid)
	assert.Equal(t, domain.ReasonRevoked, result.Reason)

	entries, err := a.Revocations(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, rec.SerialNumber, entries[0].SerialNumber)
	assert.Equal(t, "compromised", entries[0].Reason)
}

func TestValidate_SubjectMismatch(t *testing.T) {
	a := newTestAuthority(t)

	rec, err := a.Issue(context.Background(), "dev-cam-01", "aa:bb:cc:dd:ee:ff")
	require.NoError(t, err)

	result := a.Validate(context.Background(), &domain.Device{
		DeviceID: "dev-plug-02",
		CertPath: rec.CertPath,
	})
	assert.False(t, result.Valid)
	assert.Equal(t, domain.ReasonSubjectMismatch, result.Reason)
}

func TestValidate_UnknownIssuer(t *testing.T) {
	a := newTestAuthority(t)
	foreign := newTestAuthority(t)

	rec, err := foreign.Issue(context.Background(), "dev-cam-01", "aa:bb:cc:dd:ee:ff")
	require.NoError(t, err)

	result := a.Validate(context.Background(), &domain.Device{
		DeviceID: "dev-cam-01",
		CertPath: rec.CertPath,
	})
	assert.False(t, result.Valid)
	assert.Equal(t, domain.ReasonUnknownIssuer, result.Reason)
}

func TestValidate_MissingCert(t *testing.T) {
	a := newTestAuthority(t)

	result := a.Validate(context.Background(), &domain.Device{DeviceID: "dev-ghost"})
	assert.False(t, result.Valid)
	assert.Equal(t, domain.ReasonUnknownIssuer, result.Reason)
}

func TestIssue_RevokesPreviousCertificate(t *testing.T) {
	a := newTestAuthority(t)

	first, err := a.Issue(context.Background(), "dev-cam-01", "aa:bb:cc:dd:ee:ff")
	require.NoError(t, err)
	second, err := a.Issue(context.Background(), "dev-cam-01", "aa:bb:cc:dd:ee:ff")
	require.NoError(t, err)
	assert.NotEqual(t, first.SerialNumber, second.SerialNumber)

	entries, err := a.Revocations(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, first.SerialNumber, entries[0].SerialNumber)
	assert.Equal(t, "reissued", entries[0].Reason)

	result := a.Validate(context.Background(), &domain.Device{
		DeviceID: "dev-cam-01",
		CertPath: second.CertPath,
	})
	assert.True(t, result.Valid)
}

func TestRevoke_WithoutCertificateIsNoop(t *testing.T) {
	a := newTestAuthority(t)

	require.NoError(t, a.Revoke(context.Background(), "dev-never-issued", "gone"))

	entries, err := a.Revocations(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAuthority_StatePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	a, err := NewAuthority(dir)
	require.NoError(t, err)
	rec, err := a.Issue(context.Background(), "dev-cam-01", "aa:bb:cc:dd:ee:ff")
	require.NoError(t, err)
	require.NoError(t, a.Revoke(context.Background(), "dev-cam-01", "stolen"))
	rootPEM := a.RootCertPEM()

	reopened, err := NewAuthority(dir)
	require.NoError(t, err)
	assert.Equal(t, rootPEM, reopened.RootCertPEM())

	result := reopened.Validate(context.Background(), &domain.Device{
		DeviceID: "dev-cam-01",
		CertPath: rec.CertPath,
	})
	assert.False(t, result.Valid)
	assert.Equal(t, domain.ReasonRevoked, result.Reason)

	entries, err := reopened.Revocations(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "stolen", entries[0].Reason)
}

func TestIssue_KeyFilePermissions(t *testing.T) {
	a := newTestAuthority(t)

	rec, err := a.Issue(context.Background(), "dev-cam-01", "aa:bb:cc:dd:ee:ff")
	require.NoError(t, err)

	info, err := os.Stat(rec.KeyPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}
