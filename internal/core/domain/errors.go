package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for conditions that carry no extra context.
var (
	ErrSwitchUnavailable = errors.New("switch unavailable")
	ErrPolicyViolation   = errors.New("administrative action refused")
)

// NotFoundError reports a read miss. Callers may treat it as empty.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.ID)
}

// NotFound builds a NotFoundError for the given entity and key.
func NotFound(entity, id string) error {
	return &NotFoundError{Entity: entity, ID: id}
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// ConflictError reports a state violation, e.g. approving a revoked device.
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict: %s", e.Reason)
}

// Conflict builds a ConflictError with a formatted reason.
func Conflict(format string, args ...interface{}) error {
	return &ConflictError{Reason: fmt.Sprintf(format, args...)}
}

// IsConflict reports whether err is (or wraps) a ConflictError.
func IsConflict(err error) bool {
	var c *ConflictError
	return errors.As(err, &c)
}

// DuplicateMACError rejects registration of an already-bound MAC.
type DuplicateMACError struct {
	MAC string
}

func (e *DuplicateMACError) Error() string {
	return fmt.Sprintf("mac %s already registered to a non-revoked device", e.MAC)
}

// DuplicateDeviceIDError rejects reuse of an existing device ID.
type DuplicateDeviceIDError struct {
	DeviceID string
}

func (e *DuplicateDeviceIDError) Error() string {
	return fmt.Sprintf("device id %s already exists", e.DeviceID)
}

// AttestationReason enumerates why certificate validation failed.
type AttestationReason string

// Attestation failure reasons
const (
	ReasonExpiredCert     AttestationReason = "ExpiredCert"
	ReasonUnknownIssuer   AttestationReason = "UnknownIssuer"
	ReasonRevoked         AttestationReason = "Revoked"
	ReasonSubjectMismatch AttestationReason = "SubjectMismatch"
)

// AttestationFailedError carries the enumerable validation failure reason.
type AttestationFailedError struct {
	Reason AttestationReason
}

func (e *AttestationFailedError) Error() string {
	return fmt.Sprintf("attestation failed: %s", e.Reason)
}

// AttestationFailed builds an AttestationFailedError.
func AttestationFailed(reason AttestationReason) error {
	return &AttestationFailedError{Reason: reason}
}

// SwitchRuleRejectedError reports a rule the switch refused permanently;
// retrying the same install cannot succeed.
type SwitchRuleRejectedError struct {
	Reason string
}

func (e *SwitchRuleRejectedError) Error() string {
	return fmt.Sprintf("switch rejected rule: %s", e.Reason)
}

// StorageError wraps an underlying database failure.
type StorageError struct {
	Cause error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error: %v", e.Cause)
}

func (e *StorageError) Unwrap() error { return e.Cause }

// WrapStorage wraps err as a StorageError unless it already carries a
// typed meaning (NotFound, Conflict, duplicates pass through).
func WrapStorage(err error) error {
	if err == nil {
		return nil
	}
	var nf *NotFoundError
	var c *ConflictError
	var dm *DuplicateMACError
	var dd *DuplicateDeviceIDError
	if errors.As(err, &nf) || errors.As(err, &c) || errors.As(err, &dm) || errors.As(err, &dd) {
		return err
	}
	return &StorageError{Cause: err}
}

// ConfigError is fatal at startup: a recognized key holds a bad value.
type ConfigError struct {
	Key    string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Key, e.Reason)
}

// TransientError marks a failure worth retrying at its origin. It never
// surfaces to the management API.
type TransientError struct {
	Cause error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %v", e.Cause)
}

func (e *TransientError) Unwrap() error { return e.Cause }

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}
