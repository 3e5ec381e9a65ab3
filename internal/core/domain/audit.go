package domain

import (
	"errors"
	"time"
)

// AuditAction represents a type-safe action identifier for the audit log.
type AuditAction string

// System Audit Actions
const (
	ActionLogin             AuditAction = "LOGIN"
	ActionLogout            AuditAction = "LOGOUT"
	ActionDeviceApproved    AuditAction = "DEVICE_APPROVED"
	ActionDeviceRejected    AuditAction = "DEVICE_REJECTED"
	ActionDeviceRevoked     AuditAction = "DEVICE_REVOKED"
	ActionDeviceReinstated  AuditAction = "DEVICE_REINSTATED"
	ActionOnboardFinalized  AuditAction = "ONBOARDING_FINALIZED"
	ActionCertRevoked       AuditAction = "CERT_REVOKED"
	ActionMitigationApplied AuditAction = "MITIGATION_APPLIED"
	ActionMitigationCleared AuditAction = "MITIGATION_CLEARED"
	ActionInfo              AuditAction = "INFO"
)

// Domain Errors
var (
	ErrInvalidAction = errors.New("invalid audit action")
	ErrMissingUser   = errors.New("user identification is required for auditing")
)

// AuditLog represents a record of an administrative action taken through
// the management API. Orchestrator decisions are recorded separately as
// DecisionAudit rows; this log covers the human side.
type AuditLog struct {
	ID        uint        `json:"id"`
	UserID    string      `json:"user_id"`
	Username  string      `json:"username"` // Denormalized for display/reporting
	Action    AuditAction `json:"action"`
	Target    string      `json:"target"` // The resource affected (device_id, MAC, src_ip)
	Details   string      `json:"details"`
	IPAddress string      `json:"ip_address"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewAuditLog is the designated factory for creating valid AuditLog entities.
// It ensures that all required invariant rules are satisfied.
func NewAuditLog(userID, username string, action AuditAction, target, details, ip string) (*AuditLog, error) {
	if userID == "" && username == "" {
		return nil, ErrMissingUser
	}

	if !isValidAction(action) {
		return nil, ErrInvalidAction
	}

	return &AuditLog{
		UserID:    userID,
		Username:  username,
		Action:    action,
		Target:    target,
		Details:   details,
		IPAddress: ip,
		Timestamp: time.Now().UTC(),
	}, nil
}

func isValidAction(a AuditAction) bool {
	switch a {
	case ActionLogin, ActionLogout, ActionDeviceApproved, ActionDeviceRejected,
		ActionDeviceRevoked, ActionDeviceReinstated, ActionOnboardFinalized,
		ActionCertRevoked, ActionMitigationApplied, ActionMitigationCleared, ActionInfo:
		return true
	}
	return false
}
