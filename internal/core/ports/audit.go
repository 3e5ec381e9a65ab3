package ports

import (
	"context"
	"time"

	"github.com/lcalzada-xor/ztcore/internal/core/domain"
)

// AuditService handles the high-level business requirement for action tracking.
type AuditService interface {
	// Log records an administrative or security-sensitive action.
	Log(ctx context.Context, action domain.AuditAction, target, details string) error

	// GetLogs retrieves historical audit records.
	GetLogs(ctx context.Context, limit int) ([]domain.AuditLog, error)

	// RecordDecision appends an orchestrator decision to the chained
	// decision trail and returns the stored record.
	RecordDecision(ctx context.Context, rec domain.DecisionAudit) (*domain.DecisionAudit, error)

	// DecisionsSince retrieves decision records at or after the timestamp.
	DecisionsSince(ctx context.Context, since time.Time, limit int) ([]domain.DecisionAudit, error)

	// VerifyDecisionChain recomputes the hash chain and reports the
	// first broken link, if any.
	VerifyDecisionChain(ctx context.Context) (ok bool, brokenID int64, err error)
}

// AuditRepository handles the low-level persistence of audit data.
type AuditRepository interface {
	// SaveAuditLog persists a single administrative audit entry.
	SaveAuditLog(ctx context.Context, log domain.AuditLog) error

	// ListAuditLogs retrieves audit entries with a result limit.
	ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error)

	// AppendDecision persists a decision record, computing its chain hash
	// from the previous record.
	AppendDecision(ctx context.Context, rec *domain.DecisionAudit) error

	// ListDecisionsSince retrieves decision records since a timestamp.
	ListDecisionsSince(ctx context.Context, since time.Time, limit int) ([]domain.DecisionAudit, error)

	// LastDecision returns the newest decision record, or NotFound.
	LastDecision(ctx context.Context) (*domain.DecisionAudit, error)

	// VerifyChain walks the decision trail validating hash links.
	VerifyChain(ctx context.Context) (ok bool, brokenID int64, err error)

	// Close closes the audit store.
	Close() error
}
